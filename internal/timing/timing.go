// Package timing maintains the rolling press-to-press and overlap
// statistics that back every PTH decision. The tracker updates on every
// event regardless of PTH status; the predictors only ever see a
// snapshot captured at the moment a tap-hold key goes down.
package timing

import "github.com/maatthc/jgandert-qmk-modules/internal/timeval"

// Tracker holds the rolling timing state. The zero value is a valid,
// freshly reset tracker.
type Tracker struct {
	DownCount uint8

	PressToPressTimer    uint16
	CurPressToPressDur   uint16
	PrevPressToPressDur  uint16

	OverlapTimer    uint16
	CurOverlapDur   uint16
	PrevOverlapDur  uint16

	ReleaseTimer uint16

	PrevPressKeycode uint16
	CurPressKeycode  uint16

	// exceeded flags: once a timer's elapsed time has reached MaxDur it is
	// saturated until restarted (housekeeping sets these; see
	// internal/pth's tick).
	pressToPressExceeded bool
	overlapExceeded      bool

	// validity: a sample is only meaningful once its event has happened at
	// least twice; an invalid "older" sample degenerates WeightedAvg to the
	// newer value alone.
	havePrevPressToPress bool
	havePrevOverlap      bool
}

// Snapshot is the derived state captured at PTH press.
type Snapshot struct {
	PrevPrevPressToPrevPressDur  uint16
	PrevPressToPTHPressDur       uint16
	PrevPrevOverlapDur           uint16
	PrevOverlapDur               uint16
	PressToPressWAvg             float64
	OverlapWAvg                  float64
	KeyReleaseBeforePTHToPTHPressDur uint16
}

// softmaxOld/softmaxNew are the natural-log-base weights used for the
// length-2 weighted average: 0.2689*older + 0.7311*newer (softmax over
// sample index).
const (
	softmaxOld = 0.26894142136999512 // 1/(1+e)
	softmaxNew = 0.73105857863000488 // e/(1+e)
)

// WeightedAvg combines an older and newer sample the way every PTH
// snapshot does. A negative (i.e. absent) older sample degenerates to the
// newer sample alone.
func WeightedAvg(older, newer float64) float64 {
	if older < 0 {
		return newer
	}
	return softmaxOld*older + softmaxNew*newer
}

// OnPress updates rolling state for a press event at `now`. If the
// housekeeping tick has already marked the press-to-press timer
// saturated, the captured duration clamps to timeval.MaxDur instead of
// trusting the wrapped counter.
func (t *Tracker) OnPress(now uint16) {
	if t.DownCount > 0 {
		t.havePrevPressToPress = true
	}
	t.PrevPressToPressDur = t.CurPressToPressDur
	if t.pressToPressExceeded {
		t.CurPressToPressDur = timeval.MaxDur
	} else {
		t.CurPressToPressDur = timeval.Dur(now, t.PressToPressTimer)
	}
	t.PressToPressTimer = now
	t.pressToPressExceeded = false

	t.DownCount++
	if t.DownCount == 2 {
		t.OverlapTimer = now
		t.overlapExceeded = false
	}

	t.PrevPressKeycode = t.CurPressKeycode
}

// OnRelease updates rolling state for a release event at `now`.
func (t *Tracker) OnRelease(now uint16) {
	if t.DownCount >= 2 {
		var overlap uint16
		if t.overlapExceeded {
			overlap = timeval.MaxDur
		} else {
			overlap = timeval.Dur(now, t.OverlapTimer)
		}
		if t.DownCount >= 3 || t.havePrevOverlap {
			t.havePrevOverlap = true
		}
		t.PrevOverlapDur = t.CurOverlapDur
		t.CurOverlapDur = overlap
	}
	if t.DownCount > 0 {
		t.DownCount--
	}
	t.OverlapTimer = now
	t.overlapExceeded = false
	t.ReleaseTimer = now
}

// MarkPressToPressExceeded and MarkOverlapExceeded are invoked by
// housekeeping once a timer's elapsed time reaches timeval.MaxDur; they
// persist until the corresponding timer restarts.
func (t *Tracker) MarkPressToPressExceeded() { t.pressToPressExceeded = true }
func (t *Tracker) MarkOverlapExceeded()      { t.overlapExceeded = true }

func (t *Tracker) PressToPressExceeded(now uint16) bool {
	return t.pressToPressExceeded || timeval.Exceeded(now, t.PressToPressTimer)
}

func (t *Tracker) OverlapExceeded(now uint16) bool {
	return t.overlapExceeded || timeval.Exceeded(now, t.OverlapTimer)
}

// SnapshotAtPTHPress captures the derived snapshot at the moment a
// tap-hold key is pressed. extraKeysDown is the number of keys that were
// already down besides the about-to-be-pressed PTH key (DownCount as
// observed just before OnPress runs for the PTH press). When more than
// one key was already down, the older overlap sample describes a pair
// unrelated to this press and is zeroed out.
func (t *Tracker) SnapshotAtPTHPress(now uint16, extraKeysDown int) Snapshot {
	var prevOverlap uint16
	haveOverlap := t.DownCount >= 2
	if haveOverlap {
		if t.overlapExceeded {
			prevOverlap = timeval.MaxDur
		} else {
			prevOverlap = timeval.Dur(now, t.OverlapTimer)
		}
	}

	// The PTH press has not been through OnPress yet, so the gap from the
	// previous press to this one is measured against now.
	var prevPressToPTH uint16
	if t.pressToPressExceeded {
		prevPressToPTH = timeval.MaxDur
	} else {
		prevPressToPTH = timeval.Dur(now, t.PressToPressTimer)
	}

	prevPrevOverlap := t.PrevOverlapDur
	havePrevPrevOverlap := t.havePrevOverlap
	if extraKeysDown > 1 {
		// An additional key was already in flight: the older overlap
		// sample no longer describes the pair relevant to this press.
		prevPrevOverlap = 0
		havePrevPrevOverlap = false
	}

	return Snapshot{
		PrevPrevPressToPrevPressDur:      t.CurPressToPressDur,
		PrevPressToPTHPressDur:           prevPressToPTH,
		PrevPrevOverlapDur:               prevPrevOverlap,
		PrevOverlapDur:                   prevOverlap,
		PressToPressWAvg:                 wavgUint(t.havePrevPressToPress, t.CurPressToPressDur, prevPressToPTH),
		OverlapWAvg:                      wavgUint(havePrevPrevOverlap, prevPrevOverlap, prevOverlap),
		KeyReleaseBeforePTHToPTHPressDur: timeval.Dur(now, t.ReleaseTimer),
	}
}

// wavgUint applies WeightedAvg over uint16 duration samples, treating an
// invalid older sample as absent (degenerates to the newer sample alone).
func wavgUint(haveOlder bool, older, newer uint16) float64 {
	if !haveOlder {
		return WeightedAvg(-1, float64(newer))
	}
	return WeightedAvg(float64(older), float64(newer))
}
