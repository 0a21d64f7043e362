// Package keymap is a static row x col lookup table standing in for the
// real firmware's generated keymap, layer state, and side layout: fields
// populated once at construction, read many times at lookup. It exists
// for the trace-replaying tools and the test suites; a firmware build
// wires its own generated tables instead.
package keymap

import (
	"github.com/maatthc/jgandert-qmk-modules/internal/event"
	"github.com/maatthc/jgandert-qmk-modules/internal/hid"
	"github.com/maatthc/jgandert-qmk-modules/internal/pth"
	"github.com/maatthc/jgandert-qmk-modules/internal/side"
)

// Entry is one position's compile-time definition: its keycode on every
// layer it's reachable from, its side descriptor, and (for tap-hold
// positions) its PTH key settings.
type Entry struct {
	Keycodes map[uint8]event.Keycode // layer -> keycode; layer 0 ("base") must be present
	Side     side.Descriptor
	Settings pth.KeySettings
}

// Map is a static keymap/side/settings table addressed by matrix position.
// It implements hid.KeymapLookup, hid.LayerQuery, hid.ModifierReader (via
// an embedded mutable mod state), and pth.KeySettingsLookup, so a single
// value wires every external-collaborator interface pth.Engine needs for
// tests and the trace-replaying tools.
type Map struct {
	entries map[event.Position]Entry
	layer   uint8
	mods    uint8
	capsWord bool
}

// New builds an empty Map; callers populate it with Set before use.
func New() *Map {
	return &Map{entries: make(map[event.Position]Entry)}
}

// Set defines (or replaces) one position's entry.
func (m *Map) Set(pos event.Position, e Entry) {
	if e.Keycodes == nil {
		e.Keycodes = map[uint8]event.Keycode{}
	}
	m.entries[pos] = e
}

// KeycodeAt implements hid.KeymapLookup: the keycode at pos on layer, with
// fallback to the highest defined layer at or below `layer`, then to base.
func (m *Map) KeycodeAt(layer uint8, pos event.Position) event.Keycode {
	e, ok := m.entries[pos]
	if !ok {
		return event.Keycode{}
	}
	if kc, ok := e.Keycodes[layer]; ok {
		return kc
	}
	for l := int(layer) - 1; l >= 0; l-- {
		if kc, ok := e.Keycodes[uint8(l)]; ok {
			return kc
		}
	}
	return event.Keycode{}
}

// SideAt returns the side descriptor for a position, used to build the
// side.Table the engine consults directly.
func (m *Map) SideAt(pos event.Position) side.Descriptor {
	return m.entries[pos].Side
}

// SettingsFor implements pth.KeySettingsLookup.
func (m *Map) SettingsFor(pos event.Position) pth.KeySettings {
	e, ok := m.entries[pos]
	if !ok {
		return pth.DefaultKeySettings()
	}
	return e.Settings
}

// CurrentLayerFor implements hid.LayerQuery. The map tracks a single
// globally active layer shared across all positions — sufficient for
// trace replay and tests, which never model per-position layer stacks.
func (m *Map) CurrentLayerFor(event.Position) uint8 { return m.layer }

// SetLayer changes the globally active layer, e.g. in response to a
// layer-tap hold committing (a real firmware's layer state is owned by the
// keymap/layer subsystem, which pth.Engine only ever queries).
func (m *Map) SetLayer(layer uint8) { m.layer = layer }

// ActiveMods implements hid.ModifierReader.
func (m *Map) ActiveMods() uint8 { return m.mods }

// SetMods replaces the active modifier mask, e.g. as registered by a
// ModTap hold or basic modifier key elsewhere in the keymap.
func (m *Map) SetMods(mods uint8) { m.mods = mods }

// AddMods/RemoveMods adjust individual modifier bits.
func (m *Map) AddMods(bits uint8)    { m.mods |= bits }
func (m *Map) RemoveMods(bits uint8) { m.mods &^= bits }

// CapsWordOn reports whether caps-word mode is currently active, consulted
// by the default ShouldHoldInstantly policy.
func (m *Map) CapsWordOn() bool { return m.capsWord }

// SetCapsWord toggles caps-word mode.
func (m *Map) SetCapsWord(on bool) { m.capsWord = on }

var _ hid.KeymapLookup = (*Map)(nil)
var _ hid.LayerQuery = (*Map)(nil)
var _ hid.ModifierReader = (*Map)(nil)
var _ pth.KeySettingsLookup = (*Map)(nil)

// SideTable builds a side.Table covering rows 0..rows-1 and cols 0..cols-1 from
// the Map's per-position descriptors, for callers that construct
// pth.NewEngine directly against a side.Table rather than querying the
// Map on every lookup.
func (m *Map) SideTable(rows, cols uint8) side.Table {
	t := make(side.Table, rows)
	for r := uint8(0); r < rows; r++ {
		row := make([]side.Descriptor, cols)
		for c := uint8(0); c < cols; c++ {
			row[c] = m.SideAt(event.Position{Row: r, Col: c})
		}
		t[r] = row
	}
	return t
}
