package pth_test

import (
	"testing"

	"github.com/maatthc/jgandert-qmk-modules/internal/event"
	"github.com/maatthc/jgandert-qmk-modules/internal/hid"
	"github.com/maatthc/jgandert-qmk-modules/internal/keymap"
	"github.com/maatthc/jgandert-qmk-modules/internal/pth"
	"github.com/maatthc/jgandert-qmk-modules/internal/side"
	"github.com/maatthc/jgandert-qmk-modules/internal/trace"
)

// Keycodes used across scenarios:
//   Kmt = ModTap(Ctrl, A), at (0,0), Left/PTH side.
//   C   = basic 'C', at (0,5), Right/opposite side, non-tap-hold.
//   S   = basic 'S', at (0,1), Left/same side, non-tap-hold.
//   Shift = basic modifier keycode, at (1,0), side irrelevant (not tap-hold).
const (
	kcA     = 0x04
	kcC     = 0x06
	kcS     = 0x16
	kcShift = 0xE1
)

var (
	posK     = event.Position{Row: 0, Col: 0}
	posC     = event.Position{Row: 0, Col: 5}
	posS     = event.Position{Row: 0, Col: 1}
	posShift = event.Position{Row: 1, Col: 0}
)

func newTestMap() *keymap.Map {
	m := keymap.New()
	m.Set(posK, keymap.Entry{
		Keycodes: map[uint8]event.Keycode{0: {Kind: event.ModTap, Code: kcA, Mods: hid.ModLeftCtrl}},
		Side:     side.Encode(side.Left, side.Left, 0),
		Settings: pth.DefaultKeySettings(),
	})
	m.Set(posC, keymap.Entry{
		Keycodes: map[uint8]event.Keycode{0: {Kind: event.Basic, Code: kcC}},
		Side:     side.Encode(side.Left, side.Opposite, 0),
	})
	m.Set(posS, keymap.Entry{
		Keycodes: map[uint8]event.Keycode{0: {Kind: event.Basic, Code: kcS}},
		Side:     side.Encode(side.Left, side.Same, 0),
	})
	m.Set(posShift, keymap.Entry{
		Keycodes: map[uint8]event.Keycode{0: {Kind: event.Basic, Code: kcShift}},
		Side:     side.Encode(side.Left, side.Left, 0),
	})
	return m
}

func newTestEngine(m *keymap.Map) (*pth.Engine, *trace.Recorder) {
	rec := &trace.Recorder{}
	e := pth.NewEngine(pth.DefaultConfig(), pth.DefaultPolicies(), rec, m, m, m, m, m.SideTable(2, 8))
	return e, rec
}

func press(e *pth.Engine, pos event.Position, t uint16) {
	e.HandleEvent(event.Event{Position: pos, Pressed: true, TimeMS: t}, false)
}

func release(e *pth.Engine, pos event.Position, t uint16) {
	e.HandleEvent(event.Event{Position: pos, Pressed: false, TimeMS: t}, false)
}

func opsEqual(got []trace.Op, want ...trace.Op) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func reg(code uint8) trace.Op   { return trace.Op{Kind: "register", Code: uint16(code)} }
func unreg(code uint8) trace.Op { return trace.Op{Kind: "unregister", Code: uint16(code)} }

// Lone-tap invariance: a tap-hold key pressed and
// released alone, with no other key ever pressed, always resolves tap. The
// default ShouldHoldInstantly policy fires at press (no mods active yet),
// so the net trace includes the rolled-back Ctrl pair around the tap.
func TestLoneTapInvariance(t *testing.T) {
	m := newTestMap()
	e, rec := newTestEngine(m)

	press(e, posK, 100)
	release(e, posK, 180)

	want := []trace.Op{reg(hid.ModLeftCtrl), unreg(hid.ModLeftCtrl), reg(kcA), unreg(kcA)}
	if !opsEqual(rec.Ops, want...) {
		t.Fatalf("ops = %v, want %v", rec.Ops, want)
	}
}

// Same-side roll: a same-side, non-tap-hold second key pressed
// and released while the PTH is outstanding resolves the PTH to tap (the
// default ShouldChooseTapWhenSecondIsSameSidePress policy).
func TestSameSideRollIsTap(t *testing.T) {
	m := newTestMap()
	e, rec := newTestEngine(m)

	press(e, posK, 0)
	press(e, posS, 30)
	release(e, posS, 90)
	release(e, posK, 120)

	want := []trace.Op{
		reg(hid.ModLeftCtrl), unreg(hid.ModLeftCtrl),
		reg(kcA), reg(kcS), unreg(kcS), unreg(kcA),
	}
	if !opsEqual(rec.Ops, want...) {
		t.Fatalf("ops = %v, want %v", rec.Ops, want)
	}
}

// Ordering preservation through a deferred decision: a
// Shift pressed before the PTH and released while the PTH is still
// outstanding must still flush in its original position once the PTH
// commits to tap, producing an uppercase tap rather than a bare tap.
func TestReleaseReorderPreservesShiftWrap(t *testing.T) {
	m := newTestMap()
	e, rec := newTestEngine(m)

	press(e, posShift, 0)
	press(e, posK, 40)
	release(e, posShift, 60)
	release(e, posK, 120)

	want := []trace.Op{
		reg(kcShift),
		reg(hid.ModLeftCtrl), unreg(hid.ModLeftCtrl),
		reg(kcA), unreg(kcShift), unreg(kcA),
	}
	if !opsEqual(rec.Ops, want...) {
		t.Fatalf("ops = %v, want %v", rec.Ops, want)
	}
}

// Forced hold on timeout: a PTH key held with no second key arriving
// before its forced-choice timeout elapses is forced to hold by
// housekeeping's Tick.
func TestForcedChoiceOnTimeout(t *testing.T) {
	m := newTestMap()
	e, rec := newTestEngine(m)

	press(e, posK, 0)
	for now := uint16(0); now <= 750; now += 10 {
		e.Tick(now)
	}
	if !opsEqual(rec.Ops, reg(hid.ModLeftCtrl)) {
		t.Fatalf("ops after forced timeout = %v, want Ctrl down only", rec.Ops)
	}

	release(e, posK, 900)
	if !opsEqual(rec.Ops, reg(hid.ModLeftCtrl), unreg(hid.ModLeftCtrl)) {
		t.Fatalf("ops after release = %v, want Ctrl down+up", rec.Ops)
	}
}

// Instant-hold rollback is idempotent: with instant-hold
// forced on for every press, a tap decision's net HID effect after release
// must equal a plain (non-instant) tap decision's net effect.
func TestInstantHoldRollbackIdempotent(t *testing.T) {
	m := newTestMap()

	plainRec := &trace.Recorder{}
	plainPolicies := pth.DefaultPolicies()
	plainPolicies.ShouldHoldInstantly = func(pth.InstantHoldContext) bool { return false }
	plain := pth.NewEngine(pth.DefaultConfig(), plainPolicies, plainRec, m, m, m, m, m.SideTable(2, 8))
	press(plain, posK, 0)
	press(plain, posC, 10)
	release(plain, posC, 30)
	release(plain, posK, 45)

	instantRec := &trace.Recorder{}
	instantPolicies := pth.DefaultPolicies()
	instantPolicies.ShouldHoldInstantly = func(pth.InstantHoldContext) bool { return true }
	instant := pth.NewEngine(pth.DefaultConfig(), instantPolicies, instantRec, m, m, m, m, m.SideTable(2, 8))
	press(instant, posK, 0)
	press(instant, posC, 10)
	release(instant, posC, 30)
	release(instant, posK, 45)

	if !opsEqual(plainRec.Ops, reg(kcA), reg(kcC), unreg(kcC), unreg(kcA)) {
		t.Fatalf("plain ops = %v", plainRec.Ops)
	}
	if !opsEqual(instantRec.Ops,
		reg(hid.ModLeftCtrl), unreg(hid.ModLeftCtrl), reg(kcA), reg(kcC), unreg(kcC), unreg(kcA)) {
		t.Fatalf("instant ops = %v, want net effect equal to plain tap modulo the rolled-back Ctrl pair", instantRec.Ops)
	}
}

// Opposite-hand overlap held long enough to cross the predicted minimum
// overlap must resolve hold, registering the opposite key after the hold.
func TestLongOppositeOverlapIsHold(t *testing.T) {
	m := newTestMap()
	rec := &trace.Recorder{}
	policies := pth.DefaultPolicies()
	policies.MinOverlapForHold = func(pth.SecondContext) uint16 { return 80 }
	e := pth.NewEngine(pth.DefaultConfig(), policies, rec, m, m, m, m, m.SideTable(2, 8))

	press(e, posK, 0)
	press(e, posC, 50)
	release(e, posC, 400)
	release(e, posK, 450)

	want := []trace.Op{reg(hid.ModLeftCtrl), reg(kcC), unreg(kcC), unreg(hid.ModLeftCtrl)}
	if !opsEqual(rec.Ops, want...) {
		t.Fatalf("ops = %v, want %v", rec.Ops, want)
	}
}

// Fast opposite-hand roll under the minimum overlap resolves tap.
func TestFastOppositeRollIsTap(t *testing.T) {
	m := newTestMap()
	rec := &trace.Recorder{}
	policies := pth.DefaultPolicies()
	policies.MinOverlapForHold = func(pth.SecondContext) uint16 { return 80 }
	e := pth.NewEngine(pth.DefaultConfig(), policies, rec, m, m, m, m, m.SideTable(2, 8))

	press(e, posK, 0)
	press(e, posC, 10)
	release(e, posC, 30)
	release(e, posK, 45)

	want := []trace.Op{
		reg(hid.ModLeftCtrl), unreg(hid.ModLeftCtrl),
		reg(kcA), reg(kcC), unreg(kcC), unreg(kcA),
	}
	if !opsEqual(rec.Ops, want...) {
		t.Fatalf("ops = %v, want %v", rec.Ops, want)
	}
}

// Capacity bounds: ≥9 releases cached before a decision must
// not corrupt state; the release-reorder cache degrades to immediate
// processing past its 8-slot capacity, and the eventual commit still
// completes cleanly. The 9 background keys must be pressed before the PTH
// (so they're bystanders cached on release, not routed into the
// second/third tracking that a press during Pressed/SecondPressed would
// hit), and the PTH's own second key must be a genuine opposite-side,
// under-threshold press so the decision stays pending while they release.
func TestReleaseCacheOverflowDegradesGracefully(t *testing.T) {
	m := newTestMap()
	var fillers []event.Position
	for i := uint8(2); i < 11; i++ {
		pos := event.Position{Row: 1, Col: i}
		m.Set(pos, keymap.Entry{
			Keycodes: map[uint8]event.Keycode{0: {Kind: event.Basic, Code: uint16(0x20 + i)}},
			Side:     side.Encode(side.Left, side.Left, 0),
		})
		fillers = append(fillers, pos)
	}
	e, rec := newTestEngine(m)

	for i, pos := range fillers {
		press(e, pos, uint16(i))
	}
	press(e, posK, 50)
	press(e, posC, 55)
	for i, pos := range fillers {
		release(e, pos, uint16(60+i))
	}
	release(e, posC, 80)
	release(e, posK, 90)

	// The PTH's own tap must appear exactly once register+unregister in the
	// trace even though the release cache overflowed partway through.
	count := 0
	for _, op := range rec.Ops {
		if op.Code == kcA {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("kcA appeared %d times in ops %v, want register+unregister only", count, rec.Ops)
	}
}

// No re-entrancy corruption: forcing a hold via Tick (which commits
// through the same Sink the dispatcher uses for a real event; here the
// Ctrl register itself came from the instant hold at press) must not
// leave the engine in a state that mis-handles the PTH's own subsequent
// release.
func TestHousekeepingForceDoesNotCorruptState(t *testing.T) {
	m := newTestMap()
	e, rec := newTestEngine(m)

	press(e, posK, 0)
	e.Tick(700)
	release(e, posK, 750)

	want := []trace.Op{reg(hid.ModLeftCtrl), unreg(hid.ModLeftCtrl)}
	if !opsEqual(rec.Ops, want...) {
		t.Fatalf("ops = %v, want %v", rec.Ops, want)
	}

	// Engine must be back at Idle and ready to run the exact same
	// scenario again without leftover state.
	rec.Ops = nil
	press(e, posK, 1000)
	e.Tick(1700)
	release(e, posK, 1750)
	if !opsEqual(rec.Ops, want...) {
		t.Fatalf("second run ops = %v, want %v", rec.Ops, want)
	}
}

// Housekeeping commits hold once the second key has stayed down past the
// predicted minimum overlap, without waiting for any release.
func TestMinOverlapDeadlineCommitsHold(t *testing.T) {
	m := newTestMap()
	rec := &trace.Recorder{}
	policies := pth.DefaultPolicies()
	policies.MinOverlapForHold = func(pth.SecondContext) uint16 { return 80 }
	e := pth.NewEngine(pth.DefaultConfig(), policies, rec, m, m, m, m, m.SideTable(2, 8))

	press(e, posK, 0)
	press(e, posC, 50)
	for now := uint16(50); now <= 200; now += 10 {
		e.Tick(now)
	}

	// Hold committed at the deadline: the instant-held Ctrl stays down and
	// the second key registers under it.
	if !opsEqual(rec.Ops, reg(hid.ModLeftCtrl), reg(kcC)) {
		t.Fatalf("ops after deadline = %v, want Ctrl down then C down", rec.Ops)
	}

	release(e, posC, 400)
	release(e, posK, 450)
	want := []trace.Op{reg(hid.ModLeftCtrl), reg(kcC), unreg(kcC), unreg(hid.ModLeftCtrl)}
	if !opsEqual(rec.Ops, want...) {
		t.Fatalf("ops = %v, want %v", rec.Ops, want)
	}
}

// A second key resolving to the no-op sentinel on an instant-held
// layer-tap's layer commits tap, and the second re-resolves on the
// pre-switch layer.
func TestLayerTapNoOpSecondCommitsTap(t *testing.T) {
	const (
		kcB = 0x05
		kcN = 0x11
	)
	posL := event.Position{Row: 1, Col: 1}
	posN := event.Position{Row: 1, Col: 2}

	m := newTestMap()
	m.Set(posL, keymap.Entry{
		Keycodes: map[uint8]event.Keycode{0: {Kind: event.LayerTap, Code: kcB, Layer: 1}},
		Side:     side.Encode(side.Left, side.Left, 0),
		Settings: pth.DefaultKeySettings(),
	})
	m.Set(posN, keymap.Entry{
		Keycodes: map[uint8]event.Keycode{
			0: {Kind: event.Basic, Code: kcN},
			1: {Kind: event.Basic, Code: event.NoOp},
		},
		Side: side.Encode(side.Left, side.Opposite, 0),
	})
	e, rec := newTestEngine(m)

	press(e, posL, 0)
	// The layer collaborator activates the hold layer for the instant hold.
	m.SetLayer(1)
	press(e, posN, 30)
	// Tap was chosen; the collaborator reverts the layer.
	m.SetLayer(0)
	release(e, posN, 60)
	release(e, posL, 90)

	want := []trace.Op{reg(kcB), reg(kcN), unreg(kcN), unreg(kcB)}
	if !opsEqual(rec.Ops, want...) {
		t.Fatalf("ops = %v, want %v", rec.Ops, want)
	}
}

// A configured substitute code replaces the native hold action when the
// decision is hold, and disables instant hold at press.
func TestAltTapCodeReplacesHoldAction(t *testing.T) {
	const kcX = 0x1F
	m := newTestMap()
	settings := pth.DefaultKeySettings()
	settings.AltTapCode = kcX
	settings.HasAltTapCode = true
	m.Set(posK, keymap.Entry{
		Keycodes: map[uint8]event.Keycode{0: {Kind: event.ModTap, Code: kcA, Mods: hid.ModLeftCtrl}},
		Side:     side.Encode(side.Left, side.Left, 0),
		Settings: settings,
	})
	e, rec := newTestEngine(m)

	press(e, posK, 0)
	if len(rec.Ops) != 0 {
		t.Fatalf("instant hold must be disabled for a substitute-code key, got %v", rec.Ops)
	}
	for now := uint16(0); now <= 750; now += 10 {
		e.Tick(now)
	}
	release(e, posK, 900)

	want := []trace.Op{reg(kcX), unreg(kcX)}
	if !opsEqual(rec.Ops, want...) {
		t.Fatalf("ops = %v, want %v", rec.Ops, want)
	}
}

// A key with a non-zero tapping term bypasses prediction entirely and
// decides on the plain elapsed-time threshold.
func TestTappingTermKeyUsesThreshold(t *testing.T) {
	m := newTestMap()
	settings := pth.DefaultKeySettings()
	settings.TappingTermMS = 200
	m.Set(posK, keymap.Entry{
		Keycodes: map[uint8]event.Keycode{0: {Kind: event.ModTap, Code: kcA, Mods: hid.ModLeftCtrl}},
		Side:     side.Encode(side.Left, side.Left, 0),
		Settings: settings,
	})

	e, rec := newTestEngine(m)
	press(e, posK, 0)
	release(e, posK, 100)
	if !opsEqual(rec.Ops, reg(kcA), unreg(kcA)) {
		t.Fatalf("under-term release ops = %v, want plain tap", rec.Ops)
	}

	e2, rec2 := newTestEngine(m)
	press(e2, posK, 0)
	release(e2, posK, 250)
	if !opsEqual(rec2.Ops, reg(hid.ModLeftCtrl), unreg(hid.ModLeftCtrl)) {
		t.Fatalf("over-term release ops = %v, want hold", rec2.Ops)
	}
}

// ProcessRecord passes non-matrix events through untouched and reports
// the decision outcome through the record's tap field.
func TestProcessRecordTapBookkeeping(t *testing.T) {
	m := newTestMap()
	e, rec := newTestEngine(m)

	synthetic := &pth.Record{NonMatrix: true}
	if !e.ProcessRecord(synthetic, false) {
		t.Fatalf("non-matrix record must pass through")
	}
	if len(rec.Ops) != 0 {
		t.Fatalf("non-matrix record must not touch the sink, got %v", rec.Ops)
	}

	down := &pth.Record{Event: event.Event{Position: posK, Pressed: true, TimeMS: 0}}
	if e.ProcessRecord(down, false) {
		t.Fatalf("matrix press must be consumed")
	}
	if down.Tap.Count != 0 {
		t.Fatalf("no decision yet, Tap = %+v", down.Tap)
	}

	up := &pth.Record{Event: event.Event{Position: posK, Pressed: false, TimeMS: 60}}
	if e.ProcessRecord(up, false) {
		t.Fatalf("matrix release must be consumed")
	}
	if up.Tap.Count != 1 || up.Tap.Interrupted {
		t.Fatalf("lone tap decision should set Count=1, Interrupted=false, got %+v", up.Tap)
	}
}
