package pth

import (
	"github.com/maatthc/jgandert-qmk-modules/internal/cache"
	"github.com/maatthc/jgandert-qmk-modules/internal/event"
	"github.com/maatthc/jgandert-qmk-modules/internal/hid"
	"github.com/maatthc/jgandert-qmk-modules/internal/predict"
)

// commitTap runs the commit-tap sequence:
//
//  1. Neutralize stray modifiers if instant-hold registered a modifier
//     set the policy says must be suppressed.
//  2. If the PTH was held instantly and is a layer-tap, re-resolve the
//     cached second/third keycodes on the pre-switch layer — they were
//     captured under the provisionally activated layer.
//  3. Unregister any provisional instant-hold (PTH first, then second).
//  4. Register the PTH's tap keycode.
//  5. Replay the BeforeSecond releases, then the second/third keys' own
//     press+release in original order, then the AfterSecond releases.
//  6. Unregister the tap keycode. If the physical key already released
//     (the decision came from its own release event) this always happens
//     immediately after a guard wait. Otherwise
//     ResetImmediatelyWhenTapChosen decides whether to unregister now or
//     defer until the physical release, tracked via the tap-release set.
func (e *Engine) commitTap(a *ActivePTH, now uint16, alreadyReleased bool) {
	e.neutralizeInstantHoldMods(a)

	if a.Second != nil {
		if preLayer, ok := a.Hold.PreLayer(); ok {
			a.Second.Keycode = e.Keymap.KeycodeAt(preLayer, a.Second.Position)
			if a.Second.ThirdPressed {
				a.Second.ThirdKeycode = e.Keymap.KeycodeAt(preLayer, a.Second.thirdPosition)
			}
		}
	}

	e.rollbackInstantHold(a)

	tapCode := a.Keycode.Code
	e.Sink.Register(tapCode)

	e.replayCache(a, cache.BeforeSecond)
	e.replaySecondAndThird(a)
	e.replayCache(a, cache.AfterSecond)

	if alreadyReleased || e.Config.ResetImmediatelyWhenTapChosen {
		e.Sink.Wait()
		e.Sink.Unregister(tapCode)
	} else {
		e.tapReleases.Add(a.Position)
	}

	a.Status = DecidedTap
	e.finishDecision(a, false)
}

// commitHold runs the commit-hold sequence:
//
//  1. If the PTH was already instant-held, nothing further to register
//     for it; otherwise register its hold action now (mods or the
//     configured substitute code; a layer-tap's layer switch is left to
//     the keymap/layer collaborator and nothing is registered for it).
//  2. Replay the BeforeSecond releases, with a guard wait if the hold
//     was registered just now.
//  3. Register the second key: as its own hold if same-side and the
//     policy approves, else as tap (skipping re-registration if it was
//     already held instantly). For a layer-tap PTH the second's keycode
//     is re-resolved on the hold layer, since it was captured under the
//     wrong layer.
//  4. Replay the AfterSecond releases.
//  5. If the PTH key's own physical release is what triggered this
//     commit, unregister its hold action immediately. Otherwise the PTH
//     is still physically down — a same-side roll, the second key's own
//     release, or housekeeping decided before the PTH came back up — so
//     the code to unregister is captured in heldReleases for whenever
//     that release does arrive.
func (e *Engine) commitHold(a *ActivePTH, now uint16, alreadyReleased bool) {
	registeredNow := false
	if !a.Hold.Active() {
		e.registerHoldAction(a)
		registeredNow = true
	}

	if registeredNow && a.Cache.Len() > 0 {
		e.Sink.Wait()
	}
	e.replayCache(a, cache.BeforeSecond)

	if a.Second != nil {
		e.resolveAndRegisterSecond(a)
	}

	e.replayCache(a, cache.AfterSecond)

	if code, ok := e.heldActionCode(a); ok {
		if alreadyReleased {
			e.Sink.Unregister(code)
		} else {
			e.heldReleases.Add(a.Position, code)
		}
	}

	a.Status = DecidedHold
	e.finishDecision(a, true)
}

// heldActionCode returns the code that was (or was just) registered as
// this PTH's hold action, so it can be unregistered whenever the PTH key
// physically releases — whether that registration happened via
// instant-hold at press time or via registerHoldAction during commit. ok
// is false for a layer-tap, whose hold action is the keymap/layer
// collaborator's responsibility and is never pushed through the HID sink.
func (e *Engine) heldActionCode(a *ActivePTH) (code uint16, ok bool) {
	if a.Hold.Active() {
		if mods, hasMods := a.Hold.Mods(); hasMods {
			return uint16(mods), true
		}
		return 0, false
	}
	if a.HasAltTapCode {
		return a.AltTapCode, true
	}
	switch a.Keycode.Kind {
	case event.ModTap:
		return uint16(a.Keycode.Mods), true
	case event.LayerTap:
		return 0, false
	default:
		return a.Keycode.Code, true
	}
}

// neutralizeInstantHoldMods taps an innocuous keycode while a
// provisionally registered modifier set is still held, so the host does
// not interpret the imminent unregister as a lone modifier press (e.g.
// GUI alone opening a start menu). Must run before the instant-hold is
// rolled back — the mods need to still be active for the tap to land
// inside them.
func (e *Engine) neutralizeInstantHoldMods(a *ActivePTH) {
	mods, ok := a.Hold.Mods()
	if !ok || !e.Policies.ShouldNeutralizeMods(mods) {
		return
	}
	e.Sink.TapCode16(e.Config.NeutralizationKey)
}

// rollbackInstantHold unregisters any provisional hold registrations, PTH
// first, then second, and clears the bookkeeping.
func (e *Engine) rollbackInstantHold(a *ActivePTH) {
	if a.Hold.Active() {
		if mods, ok := a.Hold.Mods(); ok {
			e.Sink.Unregister(uint16(mods))
		}
		// A layer-tap's provisional layer reverts with the rollback;
		// nothing to unregister through the sink.
	}
	if a.Hold.SecondActive() {
		if mods, ok := a.Hold.SecondMods(); ok {
			e.Sink.Unregister(uint16(mods))
		}
	}
	a.Hold.Rollback()
}

func (e *Engine) registerHoldAction(a *ActivePTH) {
	if a.HasAltTapCode {
		// A substitute code replaces the native hold action entirely.
		e.Sink.Register(a.AltTapCode)
		return
	}
	switch a.Keycode.Kind {
	case event.ModTap:
		e.Sink.Register(uint16(a.Keycode.Mods))
	case event.LayerTap:
		// Layer activation is the keymap/layer collaborator's concern;
		// nothing goes through the sink.
	default:
		e.Sink.Register(a.Keycode.Code)
	}
}

func (e *Engine) resolveAndRegisterSecond(a *ActivePTH) {
	s := a.Second

	if a.Hold.SecondActive() {
		// The second was provisionally held at its press; its register
		// already went out, so only its eventual release needs tracking.
		if mods, ok := a.Hold.SecondMods(); ok {
			if s.Released {
				e.Sink.Wait()
				e.Sink.Unregister(uint16(mods))
			} else {
				e.heldReleases.Add(s.Position, uint16(mods))
			}
		}
		a.Hold.ResetSecondOnly()
		if s.ThirdPressed {
			e.Sink.Register(s.ThirdKeycode.Code)
		}
		return
	}

	kc := s.Keycode
	if a.Keycode.Kind == event.LayerTap {
		// The second was captured before the hold layer took effect;
		// re-resolve it on the layer the hold activates.
		kc = e.Keymap.KeycodeAt(a.Keycode.Layer, s.Position)
	}

	registerAsHold := s.SameSide && kc.IsTapHold() &&
		e.Policies.ShouldRegisterAsHoldWhenSameSide(e.secondContext(a, s.PressMS))

	if registerAsHold {
		if code, ok := e.secondHoldActionCode(kc); ok {
			e.Sink.Register(code)
			if s.Released {
				e.Sink.Wait()
				e.Sink.Unregister(code)
			} else {
				e.heldReleases.Add(s.Position, code)
			}
		}
	} else {
		e.Sink.Register(kc.Code)
		if s.Released {
			e.Sink.Wait()
			e.Sink.Unregister(kc.Code)
		} else if kc.IsTapHold() {
			e.tapReleases.Add(s.Position)
		}
	}

	if s.ThirdPressed {
		e.Sink.Register(s.ThirdKeycode.Code)
	}
}

// secondHoldActionCode mirrors heldActionCode for a same-side second key
// being registered as its own hold.
func (e *Engine) secondHoldActionCode(kc event.Keycode) (code uint16, ok bool) {
	switch kc.Kind {
	case event.ModTap:
		return uint16(kc.Mods), true
	case event.LayerTap:
		return 0, false
	default:
		return kc.Code, true
	}
}

func (e *Engine) replayCache(a *ActivePTH, phase cache.Phase) {
	for _, rec := range a.Cache.Flush(phase) {
		if rec.Pressed {
			e.Sink.Register(e.resolve(rec.Position).Code)
		} else {
			e.Sink.Unregister(e.resolve(rec.Position).Code)
		}
	}
}

func (e *Engine) replaySecondAndThird(a *ActivePTH) {
	if a.Second == nil {
		return
	}
	s := a.Second
	e.Sink.Register(s.Keycode.Code)
	if s.Released {
		e.Sink.Wait()
		e.Sink.Unregister(s.Keycode.Code)
	} else if s.Keycode.IsTapHold() {
		e.tapReleases.Add(s.Position)
	}
	if s.ThirdPressed {
		e.Sink.Register(s.ThirdKeycode.Code)
	}
}

// finishDecision records fast-streak bookkeeping and returns the active
// slot to Idle, ready for the next tap-hold press.
func (e *Engine) finishDecision(a *ActivePTH, wasHold bool) {
	e.prevWasHold = wasHold
	modsNoShift := e.Mods.ActiveMods() &^ hid.ModsShift
	e.prevEligible = predict.FastStreakEligible(a.Keycode.Code, modsNoShift)
	e.prevPressToPrevPressMS = a.Snapshot.PrevPressToPTHPressDur
	e.justDecided = &decisionOutcome{hold: wasHold, interrupted: a.Second != nil}

	a.Reset()
	e.active = nil
}
