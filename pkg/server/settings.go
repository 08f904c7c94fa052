package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loadcurve/loadcurve/pkg/log"
	"github.com/loadcurve/loadcurve/pkg/storage"
	"github.com/loadcurve/loadcurve/pkg/types"
)

type settingsWithVersion struct {
	types.Settings
	version int
}

// defaultSettings is what a usage point gets before its first settings save.
func defaultSettings() types.Settings {
	return types.Settings{
		Provider:          "enedis",
		MinReadingsPerDay: types.DefaultMinReadingsPerDay,
	}
}

func (s *Server) getSettingsWithMigration(ctx context.Context, usagePointID string) (settingsWithVersion, types.Credentials, error) {
	settings, version, err := s.storage.GetSettings(ctx, usagePointID)
	if err != nil {
		if errors.Is(err, storage.ErrSettingsNotFound) {
			return settingsWithVersion{
				Settings: defaultSettings(),
				version:  types.CurrentSettingsVersion,
			}, types.Credentials{}, nil
		}
		return settingsWithVersion{}, types.Credentials{}, err
	}
	sv := settingsWithVersion{
		Settings: settings,
		version:  version,
	}

	// Check for migration
	if version < types.CurrentSettingsVersion {
		log.Ctx(ctx).InfoContext(ctx, "migrating settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
		newSettings, changed, err := types.MigrateSettings(settings, version)
		if err != nil {
			// Log error but return settings as is (best effort)
			log.Ctx(ctx).ErrorContext(ctx, "failed to migrate settings", slog.Int("currentVersion", version), slog.Any("error", err))
		} else if changed {
			sv.Settings = newSettings
			sv.version = types.CurrentSettingsVersion
			if err := s.storage.SetSettings(ctx, usagePointID, newSettings, types.CurrentSettingsVersion); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to save migrated settings", slog.Any("error", err))
				// Return migrated settings even if save failed, so current request works with new defaults
			} else {
				log.Ctx(ctx).InfoContext(ctx, "saved migrated settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
			}
		}
	}

	var creds types.Credentials
	if len(sv.EncryptedCredentials) > 0 {
		creds, err = s.decryptCredentials(ctx, sv.EncryptedCredentials)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt credentials", slog.Any("error", err))
			return settingsWithVersion{}, types.Credentials{}, err
		}
	}

	return sv, creds, nil
}

// offpeakRanges parses the stored off-peak notation leniently: bad entries
// are skipped with a warning so one malformed window never takes down the
// whole view.
func offpeakRanges(ctx context.Context, settings types.Settings) []types.OffpeakRange {
	if settings.OffpeakHours == "" {
		return nil
	}
	ranges, err := types.ParseOffpeakHours(settings.OffpeakHours)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "skipping malformed offpeak windows", slog.String("offpeakHours", settings.OffpeakHours), slog.Any("error", err))
	}
	return ranges
}

// SettingsRes is the response type for GetSettings
type SettingsRes struct {
	types.Settings
	HasCredentials map[string]bool `json:"hasCredentials"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	usagePointID := s.getUsagePointID(r)
	settings, creds, err := s.getSettingsWithMigration(ctx, usagePointID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	// remove encrypted credentials from response
	settings.EncryptedCredentials = nil

	resp := SettingsRes{
		Settings:       settings.Settings,
		HasCredentials: creds.Has(),
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	usagePointID := s.getUsagePointID(r)

	// Validate Authentication from Context (set by authMiddleware)
	user := s.getUser(r)
	if user.ID == "" && !s.bypassAuth {
		writeJSONError(w, "missing authentication", http.StatusUnauthorized)
		return
	}

	if !user.Admin {
		log.Ctx(ctx).WarnContext(ctx, "unauthorized for settings update", slog.String("userID", user.ID), slog.String("email", user.Email))
		writeJSONError(w, "unauthorized", http.StatusForbidden)
		return
	}

	var req struct {
		types.Settings
		Credentials *types.Credentials `json:"credentials,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode settings", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	newSettings := req.Settings

	// an update with a bad off-peak notation is rejected outright; only
	// already-stored strings get the lenient treatment
	if newSettings.OffpeakHours != "" {
		if _, err := types.ParseOffpeakHours(newSettings.OffpeakHours); err != nil {
			writeJSONError(w, fmt.Sprintf("invalid offpeak hours: %v", err), http.StatusBadRequest)
			return
		}
	}
	if newSettings.MinReadingsPerDay < 1 || newSettings.MinReadingsPerDay > 48 {
		writeJSONError(w, "minimum readings per day must be between 1 and 48", http.StatusBadRequest)
		return
	}
	if !newSettings.ActivationDate.IsZero() && newSettings.ActivationDate.After(time.Now()) {
		writeJSONError(w, "activation date cannot be in the future", http.StatusBadRequest)
		return
	}
	if _, err := s.meters.Provider(newSettings.Provider); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "invalid metering provider", slog.String("provider", newSettings.Provider), slog.Any("error", err))
		writeJSONError(w, fmt.Sprintf("invalid metering provider: %v", err), http.StatusBadRequest)
		return
	}

	// Get existing credentials to preserve other fields
	existing, _, err := s.storage.GetSettings(ctx, usagePointID)
	if err != nil && !errors.Is(err, storage.ErrSettingsNotFound) {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	// Handle credentials update
	if req.Credentials != nil {
		var existingCreds types.Credentials
		if len(existing.EncryptedCredentials) > 0 {
			existingCreds, err = s.decryptCredentials(ctx, existing.EncryptedCredentials)
			if err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt credentials", slog.Any("error", err))
				writeJSONError(w, "failed to decrypt credentials", http.StatusInternalServerError)
				return
			}
		}

		// update the provided credentials in-place so other providers'
		// tokens survive a partial update
		if req.Credentials.Enedis != nil {
			existingCreds.Enedis = req.Credentials.Enedis
		}

		encrypted, err := s.encryptCredentials(ctx, existingCreds)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to encrypt credentials", slog.Any("error", err))
			writeJSONError(w, "failed to encrypt credentials", http.StatusInternalServerError)
			return
		}
		newSettings.EncryptedCredentials = encrypted
	} else {
		// Preserve existing encrypted credentials if not updating
		newSettings.EncryptedCredentials = existing.EncryptedCredentials
	}

	if err := s.storage.SetSettings(ctx, usagePointID, newSettings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", slog.Any("error", err))
		writeJSONError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "settings updated")

	w.WriteHeader(http.StatusOK)
}
