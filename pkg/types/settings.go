package types

import (
	"fmt"
	"time"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 3

// DefaultMinReadingsPerDay is the completeness threshold for a day assembled
// from sub-daily readings, on a nominal 48-per-day half-hour schedule.
const DefaultMinReadingsPerDay = 40

// Settings is the per-usage-point configuration stored in the database.
// These are dynamic settings that can be changed without redeploying.
type Settings struct {
	// Name is a user-facing label for the usage point.
	Name string `json:"name"`

	// Provider is the metering data provider ID (see pkg/meter).
	Provider string `json:"provider"`

	// OffpeakHours is the distributor notation for the off-peak windows of
	// this usage point, e.g. "HC (22H30-6H30);HC (12H00-14H00)". Parsed with
	// ParseOffpeakHours; windows may wrap midnight.
	OffpeakHours string `json:"offpeakHours"`

	// MinReadingsPerDay is the number of sub-daily readings a day needs
	// before it counts as complete in day-level views.
	MinReadingsPerDay int `json:"minReadingsPerDay"`

	// ActivationDate is the contract activation day. The provider has no
	// data before it, so sync walks stop there.
	ActivationDate time.Time `json:"activationDate"`

	// Credentials for the metering provider (encrypted)
	EncryptedCredentials []byte `json:"encryptedCredentials,omitempty"`
}

// Credentials for metering providers
type Credentials struct {
	Enedis *EnedisCredentials `json:"enedis,omitempty"`
}

// Credentials for an Enedis-style consumption gateway
type EnedisCredentials struct {
	// AccessToken is the consent-scoped bearer token for this usage point.
	AccessToken string `json:"accessToken,omitempty"`
}

// Has reports, per provider, whether credentials are present. Used by the
// settings endpoint so tokens never leave the server.
func (c Credentials) Has() map[string]bool {
	return map[string]bool{
		"enedis": c.Enedis != nil && c.Enedis.AccessToken != "",
	}
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	// Loop through versions to apply migrations sequentially
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if s.MinReadingsPerDay == 0 {
				s.MinReadingsPerDay = DefaultMinReadingsPerDay
				migrated = true
			}
		case 2:
			// version 2: add provider
			if s.Provider == "" {
				s.Provider = "enedis"
				migrated = true
			}
		case 3:
			// version 3: canonicalize the off-peak notation; earlier versions
			// stored whatever the distributor sent (lowercase h, stray spaces)
			if s.OffpeakHours != "" {
				if ranges, err := ParseOffpeakHours(s.OffpeakHours); err == nil && len(ranges) > 0 {
					if canonical := FormatOffpeakHours(ranges); canonical != s.OffpeakHours {
						s.OffpeakHours = canonical
						migrated = true
					}
				}
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
