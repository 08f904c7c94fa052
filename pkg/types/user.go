package types

// User is an authenticated dashboard account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	// UsagePoints are the delivery points this account may read.
	UsagePoints []UserUsagePoint `json:"usagePoints"`
	// Admin grants access to the admin endpoints. Never persisted; derived
	// from the admin-emails flag at request time.
	Admin bool `json:"admin,omitempty"`
}

// UserUsagePoint is one metering delivery point (PDL) attached to a user.
type UserUsagePoint struct {
	// ID is the 14-digit delivery point identifier.
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
