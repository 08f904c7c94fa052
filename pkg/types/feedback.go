package types

import "time"

// Feedback is a free-form message submitted by a user.
type Feedback struct {
	ID      string `json:"id"`
	UserID  string `json:"userID"`
	Email   string `json:"email"`
	Message string `json:"message"`
	// Page is the in-app location the feedback was sent from.
	Page string    `json:"page,omitempty"`
	Time time.Time `json:"time"`
}
