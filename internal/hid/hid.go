// Package hid defines the narrow interfaces PTH uses to talk to the
// firmware services it depends on: the HID report transport, the
// keymap/layer lookup, the layer query, and the modifier state reader.
// PTH never implements these itself; it only calls them.
package hid

import "github.com/maatthc/jgandert-qmk-modules/internal/event"

// Sink is the HID report transport. Implementations are expected to be
// synchronous from PTH's point of view even though the real firmware may
// batch reports internally.
type Sink interface {
	// Register reports a keycode (basic or composite, e.g. a modifier
	// mask combined with a layer action) as pressed.
	Register(code uint16)
	// Unregister reports a keycode as released.
	Unregister(code uint16)
	// TapCode16 is the register+guard-wait+unregister convenience used
	// for synthetic taps (e.g. mod neutralization).
	TapCode16(code uint16)
	// Wait enforces the minimum duration between a register and its
	// paired unregister so the host accepts the event. Implementations
	// may no-op in tests that don't care about host timing.
	Wait()
}

// KeymapLookup resolves a position's keycode on a given layer, used to
// re-resolve a captured second/third keycode after a layer-tap's hold/tap
// decision changes which layer is active.
type KeymapLookup interface {
	KeycodeAt(layer uint8, pos event.Position) event.Keycode
}

// LayerQuery reports the currently active layer for a position.
type LayerQuery interface {
	CurrentLayerFor(pos event.Position) uint8
}

// ModifierReader exposes read access to the 8-bit active modifier mask,
// including one-shot mods where supported.
type ModifierReader interface {
	ActiveMods() uint8
}

// Modifier bit assignments (standard USB HID modifier byte layout),
// exported so policies can test for e.g. GUI/Ctrl/Shift without every
// caller redefining the bitmask.
const (
	ModLeftCtrl   uint8 = 1 << 0
	ModLeftShift  uint8 = 1 << 1
	ModLeftAlt    uint8 = 1 << 2
	ModLeftGUI    uint8 = 1 << 3
	ModRightCtrl  uint8 = 1 << 4
	ModRightShift uint8 = 1 << 5
	ModRightAlt   uint8 = 1 << 6
	ModRightGUI   uint8 = 1 << 7
)

// ModsCtrl/Shift/GUI are the combined left|right masks used by the
// default neutralization and instant-hold policies.
const (
	ModsCtrl  = ModLeftCtrl | ModRightCtrl
	ModsShift = ModLeftShift | ModRightShift
	ModsGUI   = ModLeftGUI | ModRightGUI
)
