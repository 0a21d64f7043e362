// Package hold implements the instant-hold manager: the provisional
// register-as-hold emitted at PTH press, rolled back cleanly if the final
// decision turns out to be tap. The provisional state either completes
// naturally (the decision becomes hold) or is cancelled by a later event
// before it resolves.
package hold

// State tracks one active instant-hold commitment. The zero value means
// "not held instantly".
type State struct {
	active bool

	// registeredMods is the modifier set registered as the provisional
	// hold action, consulted by the neutralization policy at commit-tap
	// time.
	registeredMods uint8
	hasMods        bool

	// preLayer is the layer that was active before a layer-tap's instant
	// hold switched layers, so the second key's resolution can be
	// repeated on the correct layer if the decision becomes tap.
	preLayer    uint8
	hasPreLayer bool

	// The second key's provisional hold, tracked independently: a
	// tap-hold second key may itself be held instantly while the PTH
	// decision is still pending.
	secondActive      bool
	secondMods        uint8
	hasSecondMods     bool
	secondPreLayer    uint8
	hasSecondPreLayer bool
}

// BeginPTH marks the PTH key as held instantly, optionally recording the
// mods it registered and/or the pre-switch layer for a layer-tap.
func (s *State) BeginPTH(mods uint8, hasMods bool, preLayer uint8, hasPreLayer bool) {
	s.active = true
	s.registeredMods = mods
	s.hasMods = hasMods
	s.preLayer = preLayer
	s.hasPreLayer = hasPreLayer
}

// BeginSecond marks the second key as provisionally held, recording the
// mods its register emitted (mod-tap) or the pre-switch layer (layer-tap).
func (s *State) BeginSecond(mods uint8, hasMods bool, preLayer uint8, hasPreLayer bool) {
	s.secondActive = true
	s.secondMods = mods
	s.hasSecondMods = hasMods
	s.secondPreLayer = preLayer
	s.hasSecondPreLayer = hasPreLayer
}

// Active reports whether the PTH key is currently held instantly.
func (s *State) Active() bool { return s.active }

// SecondActive reports whether the second key is currently held instantly.
func (s *State) SecondActive() bool { return s.secondActive }

// Mods returns the modifier set registered by the PTH's instant hold, if any.
func (s *State) Mods() (mods uint8, ok bool) { return s.registeredMods, s.hasMods }

// SecondMods returns the modifier set registered by the second key's
// provisional hold, if any.
func (s *State) SecondMods() (mods uint8, ok bool) { return s.secondMods, s.hasSecondMods }

// PreLayer returns the layer active before the PTH's instant-hold layer
// switch, if the PTH was a layer-tap.
func (s *State) PreLayer() (layer uint8, ok bool) { return s.preLayer, s.hasPreLayer }

// SecondPreLayer mirrors PreLayer for the second key.
func (s *State) SecondPreLayer() (layer uint8, ok bool) {
	return s.secondPreLayer, s.hasSecondPreLayer
}

// Rollback clears all instant-hold state after the unregisters have been
// emitted. It does not itself emit anything — the dispatcher unregisters
// in the documented order (PTH first, then second), then calls Rollback
// to reset bookkeeping.
func (s *State) Rollback() { *s = State{} }

// ResetSecondOnly clears only the second key's provisional state, used
// when the PTH resolves to hold but the second still needs independent
// resolution.
func (s *State) ResetSecondOnly() {
	s.secondActive = false
	s.secondMods = 0
	s.hasSecondMods = false
	s.secondPreLayer = 0
	s.hasSecondPreLayer = false
}

// Reset clears all instant-hold state.
func (s *State) Reset() { *s = State{} }
