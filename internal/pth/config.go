package pth

import "github.com/maatthc/jgandert-qmk-modules/internal/event"

// KeySettings are the per-tap-hold-key compile-time constants: tapping
// term override, substitute hold code, and forced-choice timeout. Looked
// up by position, since a release must resolve the same settings its
// press did even if the keymap layer changed underneath it.
type KeySettings struct {
	// TappingTermMS, if non-zero, makes this key bypass prediction and
	// decide on the plain elapsed-time threshold. Zero means the
	// predictive machinery decides.
	TappingTermMS uint16

	// AltTapCode is a basic keycode registered instead of the native
	// hold action when the decision is hold. A key carrying one never
	// holds instantly. HasAltTapCode distinguishes "code 0" from unset.
	AltTapCode    uint16
	HasAltTapCode bool

	// ForcedChoiceTimeoutMS: 0 decides immediately on press; negative
	// never forces; positive is the housekeeping timeout in ms.
	ForcedChoiceTimeoutMS int

	// UserBits carries the hold-difficulty factor plus consumer
	// extension bits, independent of the side table's encoding of the
	// same value (a key's settings and its side descriptor are looked up
	// separately but agree on this field).
	UserBits uint8
}

// DefaultKeySettings returns the defaults: predictive decision (tapping
// term 0), no substitute hold code, 700ms forced-choice timeout, neutral
// hold-difficulty factor.
func DefaultKeySettings() KeySettings {
	return KeySettings{ForcedChoiceTimeoutMS: 700}
}

// KeySettingsLookup resolves the per-position compile-time configuration.
// A real firmware build generates this from the keymap; tests and tools
// may use a simple map-backed implementation (see internal/keymap).
type KeySettingsLookup interface {
	SettingsFor(pos event.Position) KeySettings
}

// Config bundles the engine-wide feature flags. Plain struct, constructed
// once via DefaultConfig with selective overrides, passed into NewEngine.
type Config struct {
	ResetImmediatelyWhenTapChosen bool
	FastStreakTapEnable           bool
	FastStreakTapResetImmediately bool

	// NeutralizationKey is the keycode tapped to defeat a lone
	// modifier's host-side semantics. Defaults to F23, a function key no
	// host binds by default.
	NeutralizationKey uint16
}

// DefaultConfig fills the documented defaults.
func DefaultConfig() Config {
	return Config{
		NeutralizationKey: 0x72, // F23 HID usage ID
	}
}
