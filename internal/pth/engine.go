// Package pth implements the predictive tap-hold dispatcher: the state
// machine that decides, for each tap-hold key, whether its eventual
// resolution is a tap or a hold, using the rolling timing statistics and
// predictors from the sibling packages. One entry point consumes one
// event and drives the state machine forward exactly one step; the whole
// decision for an event happens before the call returns, with no
// suspension points. Synthetic register/unregister emissions go straight
// to the HID sink rather than back through the dispatcher, so there is no
// reentrancy to guard against.
package pth

import (
	"go.uber.org/zap"

	"github.com/maatthc/jgandert-qmk-modules/internal/cache"
	"github.com/maatthc/jgandert-qmk-modules/internal/event"
	"github.com/maatthc/jgandert-qmk-modules/internal/hid"
	"github.com/maatthc/jgandert-qmk-modules/internal/predict"
	"github.com/maatthc/jgandert-qmk-modules/internal/side"
	"github.com/maatthc/jgandert-qmk-modules/internal/timeval"
	"github.com/maatthc/jgandert-qmk-modules/internal/timing"
)

// Engine is the dispatcher. It tracks at most one outstanding tap-hold
// key at a time; a tap-hold key pressed while another is already
// outstanding is handled as that key's second/third press rather than
// starting a nested automaton, and a fourth or later press while a
// decision is pending forces an immediate decision — the same
// degrade-gracefully rule the release cache applies past its capacity.
type Engine struct {
	Config   Config
	Policies Policies

	Sink     hid.Sink
	Keymap   hid.KeymapLookup
	Layers   hid.LayerQuery
	Mods     hid.ModifierReader
	Settings KeySettingsLookup
	Sides    side.Table

	// Log, when set, receives diagnostics for the degrade-gracefully
	// paths (cache overflow, forced nesting decisions). The hot path
	// never logs on a decision.
	Log *zap.Logger

	tracker      timing.Tracker
	active       *ActivePTH
	tapReleases  cache.TapReleaseSet
	heldReleases cache.HeldReleaseSet

	// Fast-streak-tap bookkeeping recorded by finishDecision for the most
	// recently decided PTH. fastStreakFires consults prevWasHold; the
	// previous key's eligibility and the press gap it passes come from the
	// tracker and the new PTH's snapshot.
	prevWasHold            bool
	prevEligible           bool
	prevPressToPrevPressMS uint16

	// justDecided is set by finishDecision for the duration of one
	// dispatch, letting ProcessRecord report the outcome through the
	// record's tap field.
	justDecided *decisionOutcome
}

type decisionOutcome struct {
	hold        bool
	interrupted bool
}

// NewEngine constructs an Engine with the given collaborators. cfg and
// policies are typically pth.DefaultConfig() / pth.DefaultPolicies() with
// selective overrides.
func NewEngine(cfg Config, policies Policies, sink hid.Sink, keymap hid.KeymapLookup, layers hid.LayerQuery, mods hid.ModifierReader, settings KeySettingsLookup, sides side.Table) *Engine {
	return &Engine{
		Config:   cfg,
		Policies: policies,
		Sink:     sink,
		Keymap:   keymap,
		Layers:   layers,
		Mods:     mods,
		Settings: settings,
		Sides:    sides,
	}
}

// HandleEvent is the single dispatch entry point: one physical key event
// in, the full resulting dispatch (including any commit it triggers) out.
// Firmware integrations that need the pass-through/consumed result and
// tap bookkeeping use ProcessRecord, which wraps this.
func (e *Engine) HandleEvent(ev event.Event, capsWordOn bool) {
	if ev.Pressed {
		e.onPress(ev, capsWordOn)
	} else {
		e.onRelease(ev)
	}
}

func (e *Engine) resolve(pos event.Position) event.Keycode {
	layer := e.Layers.CurrentLayerFor(pos)
	return e.Keymap.KeycodeAt(layer, pos)
}

// sideAt resolves a position's side descriptor, preferring the GetSide
// callback when one is configured over the static table.
func (e *Engine) sideAt(pos event.Position) side.Descriptor {
	if e.Policies.GetSide != nil {
		if d, ok := e.Policies.GetSide(pos); ok {
			return d
		}
	}
	return e.Sides.At(pos.Row, pos.Col)
}

func (e *Engine) onPress(ev event.Event, capsWordOn bool) {
	pos := ev.Position
	now := ev.TimeMS

	if e.tapReleases.Contains(pos) {
		// A still-physically-down committed tap key retriggering is not
		// expected for a press event; drop the stale entry instead of
		// corrupting tracker state.
		e.tapReleases.Remove(pos)
	}

	kc := e.resolve(pos)

	if e.active == nil {
		if kc.IsTapHold() {
			e.beginPTH(pos, kc, now, capsWordOn)
		} else {
			e.Sink.Register(kc.Code)
		}
		e.tracker.OnPress(now)
		e.tracker.CurPressKeycode = kc.Code
		return
	}

	switch e.active.Status {
	case Pressed:
		e.onSecondPress(pos, kc, now)
	case SecondPressed:
		e.onThirdPress(pos, kc, now)
	default:
		e.Sink.Register(kc.Code)
	}

	e.tracker.OnPress(now)
	e.tracker.CurPressKeycode = kc.Code
}

func (e *Engine) onRelease(ev event.Event) {
	pos := ev.Position
	now := ev.TimeMS

	if e.tapReleases.Contains(pos) {
		e.tapReleases.Remove(pos)
		e.Sink.Unregister(e.resolve(pos).Code)
		e.tracker.OnRelease(now)
		return
	}

	if code, ok := e.heldReleases.Take(pos); ok {
		// This position committed to hold before its own physical
		// release arrived; the code to unregister was captured at
		// decision time rather than re-resolved now (re-resolving would
		// give the tap side of a mod-tap, not the hold action that was
		// registered).
		e.Sink.Unregister(code)
		e.tracker.OnRelease(now)
		return
	}

	if e.active == nil {
		e.Sink.Unregister(e.resolve(pos).Code)
		e.tracker.OnRelease(now)
		return
	}

	a := e.active

	switch {
	case pos == a.Position:
		e.onPTHRelease(now)
	case a.Second != nil && pos == a.Second.Position && !a.Second.Released:
		e.onSecondRelease(now)
	case a.Second != nil && a.Second.ThirdPressed && pos == a.Second.ThirdPressPosition():
		// Third key released before any decision: cache it for replay.
		a.Cache.Add(cache.Record{Position: pos, Pressed: false, TimeMS: now, Phase: cache.AfterSecond})
	default:
		// Some other key, unrelated to the outstanding PTH/second/third,
		// released while a decision is pending: cache it so its release
		// replays in original order relative to the decision.
		phase := cache.BeforeSecond
		if a.Status == SecondPressed {
			phase = cache.AfterSecond
		}
		if !a.Cache.Add(cache.Record{Position: pos, Pressed: false, TimeMS: now, Phase: phase}) {
			// Capacity exhausted: process directly rather than drop. The
			// release may flush out of order relative to the decision.
			if e.Log != nil {
				e.Log.Warn("release cache full, processing release directly",
					zap.Uint8("row", pos.Row), zap.Uint8("col", pos.Col))
			}
			e.Sink.Unregister(e.resolve(pos).Code)
		}
	}

	e.tracker.OnRelease(now)
}

// ThirdPressPosition reports the matrix position of the cached third key,
// valid only when ThirdPressed is true.
func (r *SecondKeyRecord) ThirdPressPosition() event.Position { return r.thirdPosition }

// beginPTH starts the automaton for a freshly pressed tap-hold key.
func (e *Engine) beginPTH(pos event.Position, kc event.Keycode, now uint16, capsWordOn bool) {
	settings := e.Settings.SettingsFor(pos)

	a := &ActivePTH{
		Position: pos,
		Keycode:  kc,
		Settings: settings,
		Status:   Pressed,
		PressMS:  now,
	}
	a.AltTapCode, a.HasAltTapCode = e.Policies.GetCodeToBeRegisteredInsteadWhenHoldChosen(settings, kc)

	extraKeysDown := int(e.tracker.DownCount)
	a.Snapshot = e.tracker.SnapshotAtPTHPress(now, extraKeysDown)

	e.active = a

	if settings.TappingTermMS != 0 {
		// This key opted out of prediction. It still runs through the
		// same machine, but every decision point compares plain elapsed
		// time against the configured term instead of consulting the
		// predictors; housekeeping commits hold once the term elapses.
		return
	}

	timeout := e.Policies.GetTimeoutForForcingChoice(settings)
	switch {
	case timeout == 0:
		// Zero timeout means decide on press.
		e.forceChoice(a, now)
		return
	case timeout > 0:
		a.ForcedChoiceEnabled = true
		a.ForcedChoiceDeadline = now + uint16(timeout)
	}

	if e.Config.FastStreakTapEnable && e.fastStreakFires(kc) {
		e.commitTap(a, now, false)
		return
	}

	if !a.HasAltTapCode && e.shouldHoldInstantly(kc, capsWordOn) {
		e.beginInstantHold(a)
	}
}

// fastStreakFires consults the fast-streak-tap heuristic: an immediate
// tap decision for a PTH key pressed in the middle of a fast run of
// eligible keys, bypassing instant-hold and the predictors entirely.
func (e *Engine) fastStreakFires(kc event.Keycode) bool {
	modsNoShift := e.Mods.ActiveMods() &^ hid.ModsShift
	pthEligible := predict.FastStreakEligible(kc.Code, modsNoShift)
	// The tracker has not seen this press yet, so CurPressKeycode is still
	// the previous key's code.
	prevEligible := predict.FastStreakEligible(e.tracker.CurPressKeycode, modsNoShift)
	return e.Policies.FastStreakPredictor(e.prevWasHold, pthEligible, prevEligible, e.active.Snapshot.PrevPressToPTHPressDur)
}

func (e *Engine) shouldHoldInstantly(kc event.Keycode, capsWordOn bool) bool {
	return e.Policies.ShouldHoldInstantly(InstantHoldContext{
		Keycode:    kc,
		CapsWordOn: capsWordOn,
		ActiveMods: e.Mods.ActiveMods(),
	})
}

// beginInstantHold provisionally registers the PTH key's hold action.
func (e *Engine) beginInstantHold(a *ActivePTH) {
	switch a.Keycode.Kind {
	case event.ModTap:
		mods := a.Keycode.Mods
		e.Sink.Register(uint16(mods))
		a.Hold.BeginPTH(mods, true, 0, false)
	case event.LayerTap:
		preLayer := e.Layers.CurrentLayerFor(a.Position)
		a.Hold.BeginPTH(0, false, preLayer, true)
	default:
		a.Hold.BeginPTH(0, false, 0, false)
	}
}

func (e *Engine) onSecondPress(pos event.Position, kc event.Keycode, now uint16) {
	a := e.active
	descriptor := e.sideAt(pos)
	sameSide := side.IsSameSide(e.sideAt(a.Position), descriptor)

	a.Second = &SecondKeyRecord{
		Position:       pos,
		Keycode:        kc,
		PressMS:        now,
		SideDescriptor: descriptor,
		SameSide:       sameSide,
	}
	a.Status = SecondPressed

	if a.Settings.TappingTermMS != 0 {
		if timingDur(now, a.PressMS) >= a.Settings.TappingTermMS {
			e.commitHold(a, now, false)
		} else {
			e.commitTap(a, now, false)
		}
		return
	}

	// An instant-held layer-tap whose activated layer resolves this
	// position to the no-op sentinel: the user is typing through a hole
	// in the hold layer, so the intent must be tap. Committing tap
	// re-resolves the second on the pre-switch layer.
	if a.Keycode.Kind == event.LayerTap && a.Hold.Active() && kc.Kind == event.Basic && kc.Code == event.NoOp {
		e.commitTap(a, now, false)
		return
	}

	ctx := e.secondContext(a, now)

	if kc.IsTapHold() || !sameSide {
		minOverlap := e.Policies.MinOverlapForHold(ctx)
		a.MinOverlapArmed = true
		a.MinOverlapDeadline = now + minOverlap
	}

	if sameSide && e.Policies.ShouldChooseTapWhenSecondIsSameSidePress(ctx) {
		e.commitTap(a, now, false)
		return
	}

	if kc.IsTapHold() && e.Policies.SecondShouldHoldInstantly(ctx) {
		switch kc.Kind {
		case event.ModTap:
			e.Sink.Register(uint16(kc.Mods))
			a.Hold.BeginSecond(kc.Mods, true, 0, false)
		case event.LayerTap:
			preLayer := e.Layers.CurrentLayerFor(pos)
			a.Hold.BeginSecond(0, false, preLayer, true)
		default:
			a.Hold.BeginSecond(0, false, 0, false)
		}
	}
	// Remain SecondPressed: a release, a third press, or housekeeping's
	// min-overlap deadline will decide.
}

func (e *Engine) onThirdPress(pos event.Position, kc event.Keycode, now uint16) {
	a := e.active
	if a.Second.ThirdPressed {
		// A fourth key while a decision is still pending: force the
		// decision now rather than track arbitrary nesting.
		if e.Log != nil {
			e.Log.Warn("press nesting exceeded, forcing decision",
				zap.Uint8("row", pos.Row), zap.Uint8("col", pos.Col))
		}
		switch e.Policies.GetForcedChoiceAfterTimeout() {
		case Hold:
			e.commitHold(a, now, false)
		default:
			e.commitTap(a, now, false)
		}
		e.Sink.Register(kc.Code)
		return
	}

	a.Second.ThirdPressed = true
	a.Second.ThirdKeycode = kc
	a.Second.ThirdPressMS = now
	a.Second.thirdPosition = pos

	if a.Settings.TappingTermMS != 0 {
		if timingDur(now, a.PressMS) >= a.Settings.TappingTermMS {
			e.commitHold(a, now, false)
		} else {
			e.commitTap(a, now, false)
		}
		return
	}

	ctx := e.secondContext(a, now)
	p := e.Policies.ThirdPressPredictor(ctx)
	if p > 0.5 {
		e.commitHold(a, now, false)
	} else {
		e.commitTap(a, now, false)
	}
}

func (e *Engine) onPTHRelease(now uint16) {
	a := e.active

	if a.Settings.TappingTermMS != 0 {
		if timingDur(now, a.PressMS) >= a.Settings.TappingTermMS {
			e.commitHold(a, now, true)
		} else {
			e.commitTap(a, now, true)
		}
		return
	}

	if a.Status == Pressed {
		// Released alone, no second key ever arrived: a plain tap.
		e.commitTap(a, now, true)
		return
	}

	// A same-side second key that reached this point without deciding
	// resolves deterministically to tap.
	if a.Second.SameSide {
		e.commitTap(a, now, true)
		return
	}

	ctx := e.secondContext(a, now)

	if a.Second.Released {
		ctx.Features.PTHSecondDur = timingDur(a.Second.ReleaseMS, a.Second.PressMS)
		ctx.Features.PTHPressToSecondReleaseDur = timingDur(a.Second.ReleaseMS, a.PressMS)
		p := e.Policies.PTHReleaseAfterSecondRelease(ctx)
		if p > 0.5 {
			e.commitHold(a, now, true)
		} else {
			e.commitTap(a, now, true)
		}
		return
	}

	p := e.Policies.PTHReleaseAfterSecondPress(ctx)
	if p > 0.5 {
		e.commitHold(a, now, true)
	} else {
		e.commitTap(a, now, true)
	}
}

func (e *Engine) onSecondRelease(now uint16) {
	a := e.active
	a.Second.Released = true
	a.Second.ReleaseMS = now

	if a.Settings.TappingTermMS != 0 {
		// Term-based keys defer entirely to the PTH's own release or the
		// housekeeping term expiry.
		return
	}

	if a.Second.SameSide {
		ctx := e.secondContext(a, now)
		if e.Policies.ShouldChooseTapWhenSecondIsSameSideRelease(ctx) {
			e.commitTap(a, now, false)
		} else {
			e.commitHold(a, now, false)
		}
		return
	}
	// Opposite side: record the durations and stay pending; the imminent
	// PTH release or a third press decides.
}

func (e *Engine) secondContext(a *ActivePTH, now uint16) SecondContext {
	f := predict.Features{
		Snap:                     a.Snapshot,
		PTHPressToSecondPressDur: timingDur(a.Second.PressMS, a.PressMS),
		SameSideSecond:           a.Second.SameSide,
	}
	if a.Second.ThirdPressed {
		f.SecondPressToThirdPressDur = timingDur(a.Second.ThirdPressMS, a.Second.PressMS)
	}
	return SecondContext{
		PTH:         a.Keycode,
		PTHUserBits: a.Settings.UserBits,
		Second:      a.Second.Keycode,
		SameSide:    a.Second.SameSide,
		Features:    f,
	}
}

func timingDur(now, then uint16) uint16 {
	return timeval.Dur(now, then)
}
