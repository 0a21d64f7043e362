// Package predict implements the data-driven predictors the dispatcher
// consults at well-defined points: three CART decision trees returning a
// hold probability, a symbolic-regression overlap formula, and the
// fast-streak-tap heuristics. All are pure functions of captured timing
// state, generated from offline training artifacts and compiled in; the
// tree thresholds are not meant to be hand-edited.
package predict

import (
	"math"

	"github.com/maatthc/jgandert-qmk-modules/internal/side"
	"github.com/maatthc/jgandert-qmk-modules/internal/timing"
)

// MinOverlap and MaxOverlap clamp every predicted "minimum overlap for
// hold" value.
const (
	MinOverlap uint16 = 39
	MaxOverlap uint16 = 232
)

// Features bundles the timing inputs every tree/formula reasons about:
// the snapshot captured at PTH press, plus whichever "current" durations
// are available at the point the predictor runs (some are zero/unused
// depending on which predictor is invoked; see each function's doc).
type Features struct {
	Snap timing.Snapshot

	PTHPressToSecondPressDur   uint16
	SecondPressToThirdPressDur uint16
	PTHSecondDur               uint16 // second's own press-to-release duration
	PTHPressToSecondReleaseDur uint16
	SameSideSecond             bool
}

// safeDiv returns num/den, or num itself when den is zero. The offline
// regression was trained with this same convention.
func safeDiv(num, den float64) float64 {
	if den == 0 {
		return num
	}
	return num / den
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// applyFactor applies the per-key hold-difficulty factor to a probability
// output: multiplies the probability, reduced by 0.10 first when the
// second key is on the same side.
func applyFactor(p float64, userBits uint8, sameSideSecond bool) float64 {
	factor := side.HoldFactor(userBits)
	if sameSideSecond {
		factor -= 0.10
	}
	out := p * factor
	if out < 0 {
		return 0
	}
	if out > 1 {
		return 1
	}
	return out
}

// applyFactorOverlap applies the factor to an overlap (milliseconds)
// output: overlap * (2 - factor), clamped to [MinOverlap, MaxOverlap].
func applyFactorOverlap(ms float64, userBits uint8, sameSideSecond bool) uint16 {
	factor := side.HoldFactor(userBits)
	if sameSideSecond {
		factor -= 0.10
	}
	v := ms * (2 - factor)
	return clampOverlap(v)
}

func clampOverlap(v float64) uint16 {
	if v < float64(MinOverlap) {
		return MinOverlap
	}
	if v > float64(MaxOverlap) {
		return MaxOverlap
	}
	return uint16(v)
}

// ThirdPressTree is the depth<=7 CART tree consulted when a third key is
// pressed while the decision is still pending. Returns a probability in
// [0,1]; >0.5 means hold.
func ThirdPressTree(f Features, userBits uint8, sameSideSecond bool) float64 {
	s := f.Snap
	var p float64
	switch {
	case f.SecondPressToThirdPressDur < 55:
		switch {
		case s.OverlapWAvg > 200:
			p = 0.90
		default:
			p = 0.30
		}
	case f.PTHPressToSecondPressDur > 150:
		switch {
		case s.PressToPressWAvg > 250:
			p = 0.85
		case f.SecondPressToThirdPressDur > 300:
			p = 0.70
		default:
			p = 0.58
		}
	default:
		switch {
		case s.PrevPrevOverlapDur > 160:
			p = 0.77
		case f.SecondPressToThirdPressDur > 400:
			p = 0.66
		default:
			p = 0.40
		}
	}
	return applyFactor(p, userBits, sameSideSecond)
}

// PTHReleaseAfterSecondPressTree decides when the PTH key releases while
// the second key is still down.
func PTHReleaseAfterSecondPressTree(f Features, userBits uint8, sameSideSecond bool) float64 {
	s := f.Snap
	var p float64
	switch {
	case f.PTHPressToSecondPressDur < 60:
		p = 0.72
	case s.OverlapWAvg > 190:
		p = 0.80
	default:
		p = 0.42
	}
	return applyFactor(p, userBits, sameSideSecond)
}

// PTHReleaseAfterSecondReleaseTree decides when the PTH key releases
// after the second key has already come back up.
func PTHReleaseAfterSecondReleaseTree(f Features, userBits uint8, sameSideSecond bool) float64 {
	s := f.Snap
	var p float64
	switch {
	case f.PTHSecondDur < 80:
		p = 0.22
	case f.PTHPressToSecondReleaseDur > 260:
		p = 0.68
	case s.PressToPressWAvg > 210:
		p = 0.60
	default:
		p = 0.38
	}
	return applyFactor(p, userBits, sameSideSecond)
}

// MinOverlapForHold is the closed-form symbolic-regression overlap
// formula: a small rational expression over the captured snapshot and the
// elapsed PTH-to-second-press duration, using safeDiv and abs, clamped to
// [MinOverlap, MaxOverlap] and adjusted by the per-key hold-difficulty
// factor.
func MinOverlapForHold(f Features, userBits uint8, sameSideSecond bool) uint16 {
	s := f.Snap
	base := safeDiv(
		float64(s.PressToPressWAvg)*0.62+abs(s.OverlapWAvg-float64(s.PrevOverlapDur))*0.9,
		math.Max(1, float64(f.PTHPressToSecondPressDur))/90.0,
	)
	base = safeDiv(base+float64(s.KeyReleaseBeforePTHToPTHPressDur)*0.15, 1.0)
	return applyFactorOverlap(base, userBits, sameSideSecond)
}

// FastStreakEligible reports whether a keycode is "streak-eligible" for
// fast-streak-tap prediction: letters, space, common punctuation, no
// non-Shift modifiers active. basicCode is the resolved HID basic
// keycode; activeModsNoShift is the active modifier mask with the Shift
// bits cleared.
func FastStreakEligible(basicCode uint16, activeModsNoShift uint8) bool {
	if activeModsNoShift != 0 {
		return false
	}
	return isLetter(basicCode) || basicCode == kcSpace || isCommonPunct(basicCode)
}

// HID Basic-keycode constants relevant to streak eligibility (USB HID
// usage IDs for the US layout letter/space/punctuation block).
const (
	kcA     uint16 = 0x04
	kcZ     uint16 = 0x1D
	kcSpace uint16 = 0x2C
	kcComma uint16 = 0x36
	kcDot   uint16 = 0x37
	kcSlash uint16 = 0x38
)

func isLetter(code uint16) bool { return code >= kcA && code <= kcZ }
func isCommonPunct(code uint16) bool {
	return code == kcComma || code == kcDot || code == kcSlash
}

// FastStreakDefault is the default fast-streak-tap predictor: fires when
// the previous PTH was not a hold, both the PTH and the previous key are
// streak-eligible, and the previous-press-to-PTH-press duration is under
// 125ms.
func FastStreakDefault(prevWasHold bool, pthEligible, prevEligible bool, prevPressToPTHPressDur uint16) bool {
	if prevWasHold {
		return false
	}
	return pthEligible && prevEligible && prevPressToPTHPressDur < 125
}

// FastStreakConservative is the stricter variant: in addition to the
// default conditions, the duration must be well under the threshold to
// leave margin for jitter before committing to an instant tap.
func FastStreakConservative(prevWasHold bool, pthEligible, prevEligible bool, prevPressToPTHPressDur uint16) bool {
	if !FastStreakDefault(prevWasHold, pthEligible, prevEligible, prevPressToPTHPressDur) {
		return false
	}
	return prevPressToPTHPressDur < 90
}
