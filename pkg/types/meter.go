package types

// MeterProviderInfo describes a metering data provider for display in the
// settings UI.
type MeterProviderInfo struct {
	// ID is the stable identifier stored in Settings.Provider.
	ID string `json:"id"`
	// Name is the user-facing name.
	Name string `json:"name"`
	// Hidden providers are omitted from lists by default (e.g. the mock
	// provider outside of development).
	Hidden bool `json:"hidden,omitempty"`
}
