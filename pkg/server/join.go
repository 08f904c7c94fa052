package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/loadcurve/loadcurve/pkg/log"
	"github.com/loadcurve/loadcurve/pkg/types"
)

// maxUsagePointsPerUser caps how many delivery points one account can
// attach.
const maxUsagePointsPerUser = 5

// usagePointIDRe matches a PDL, the 14-digit delivery point identifier
// printed on the bill.
var usagePointIDRe = regexp.MustCompile(`^\d{14}$`)

// handleJoin registers the authenticated user on first contact and attaches
// a usage point to their account.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		UsagePointID string `json:"usagePointID"`
		Name         string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// since we failed to read, don't return JSON error
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if !usagePointIDRe.MatchString(req.UsagePointID) {
		writeJSONError(w, "usagePointID must be the 14-digit PDL", http.StatusBadRequest)
		return
	}

	if s.singleUsagePoint != "" {
		writeJSONError(w, "cannot attach usage points in single-user mode", http.StatusForbidden)
		return
	}

	// Get the authenticated user from context (either existing or new-to-register)
	var userID, email string
	if user := s.getUser(r); user.ID != "" {
		userID = user.ID
		email = user.Email
	} else if userToRegister, ok := ctx.Value(userToRegisterContextKey).(types.User); ok {
		userID = userToRegister.ID
		email = userToRegister.Email
	}

	if userID == "" {
		writeJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	if req.Name == "" {
		req.Name = req.UsagePointID
	}

	isNewUser := false
	if _, ok := ctx.Value(userToRegisterContextKey).(types.User); ok {
		isNewUser = true
	}

	if isNewUser {
		newUser := types.User{
			ID:    userID,
			Email: email,
			UsagePoints: []types.UserUsagePoint{
				{
					ID:   req.UsagePointID,
					Name: req.Name,
				},
			},
		}
		if err := s.storage.CreateUser(ctx, newUser); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "join: failed to create user", slog.String("userID", userID), slog.Any("error", err))
			writeJSONError(w, "failed to create user", http.StatusInternalServerError)
			return
		}
		s.ensureInitialSettings(ctx, req.UsagePointID, req.Name)
		log.Ctx(ctx).InfoContext(ctx, "user registered with usage point", slog.String("usagePointID", req.UsagePointID))
		w.WriteHeader(http.StatusOK)
		return
	}

	// Existing user, add the usage point to their list if not already there
	existingUser, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "join: failed to get user", slog.Any("error", err))
		writeJSONError(w, "failed to attach usage point", http.StatusInternalServerError)
		return
	}

	hasPoint := false
	nameChanged := false
	for i := range existingUser.UsagePoints {
		if existingUser.UsagePoints[i].ID == req.UsagePointID {
			if existingUser.UsagePoints[i].Name != req.Name {
				existingUser.UsagePoints[i].Name = req.Name
				nameChanged = true
			}
			hasPoint = true
			break
		}
	}

	if !hasPoint {
		if len(existingUser.UsagePoints) >= maxUsagePointsPerUser {
			writeJSONError(w, "maximum of 5 usage points reached", http.StatusForbidden)
			return
		}
		existingUser.UsagePoints = append(existingUser.UsagePoints, types.UserUsagePoint{
			ID:   req.UsagePointID,
			Name: req.Name,
		})
	}

	if !hasPoint || nameChanged {
		if err := s.storage.UpdateUser(ctx, existingUser); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "join: failed to update user", slog.Any("error", err))
			writeJSONError(w, "failed to attach usage point", http.StatusInternalServerError)
			return
		}
	}
	if !hasPoint {
		s.ensureInitialSettings(ctx, req.UsagePointID, req.Name)
	}

	log.Ctx(ctx).InfoContext(ctx, "user attached usage point", slog.String("usagePointID", req.UsagePointID))
	w.WriteHeader(http.StatusOK)
}

// ensureInitialSettings writes default settings for a freshly attached usage
// point so the settings page has something to show. Failures are only
// logged; the point was already attached.
func (s *Server) ensureInitialSettings(ctx context.Context, usagePointID, name string) {
	if _, _, err := s.storage.GetSettings(ctx, usagePointID); err == nil {
		return
	}
	settings := defaultSettings()
	settings.Name = name
	if err := s.storage.SetSettings(ctx, usagePointID, settings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to write initial settings", slog.String("usagePointID", usagePointID), slog.Any("error", err))
	}
}
