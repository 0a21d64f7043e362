package pth

import (
	"github.com/maatthc/jgandert-qmk-modules/internal/event"
	"github.com/maatthc/jgandert-qmk-modules/internal/hid"
	"github.com/maatthc/jgandert-qmk-modules/internal/predict"
	"github.com/maatthc/jgandert-qmk-modules/internal/side"
)

// Decision is the outcome of a commit: tap or hold.
type Decision uint8

const (
	Tap Decision = iota
	Hold
)

// InstantHoldContext is passed to ShouldHoldInstantly.
type InstantHoldContext struct {
	Keycode    event.Keycode
	CapsWordOn bool
	ActiveMods uint8
}

// SecondContext carries the shared fields every second/third-press policy
// and predictor override needs.
type SecondContext struct {
	PTH         event.Keycode
	PTHUserBits uint8
	Second      event.Keycode
	SameSide    bool
	Features    predict.Features
}

// Policies is the set of pluggable predicates the engine consults,
// modeled as a struct of function fields supplied at construction rather
// than runtime-patchable globals. Every field defaults to the documented
// behavior via DefaultPolicies; callers override only the hooks they
// need. A Policies with any nil predictor or predicate field (other than
// GetSide) will panic at the first event that consults it — always start
// from DefaultPolicies.
type Policies struct {
	// ShouldHoldInstantly gates instant-hold for the PTH key itself.
	// Default: false when caps-word is on, or when the key is a mod-tap
	// whose mods are already all active (including GUI) — releasing such
	// a key would spuriously report the modifier's release to the host.
	ShouldHoldInstantly func(ctx InstantHoldContext) bool

	// SecondShouldHoldInstantly gates provisional instant-hold for a
	// second key that is itself tap-hold. Default: never.
	SecondShouldHoldInstantly func(ctx SecondContext) bool

	// ShouldChooseTapWhenSecondIsSameSidePress: default true unless the
	// second is itself tap-hold on the current layer.
	ShouldChooseTapWhenSecondIsSameSidePress func(ctx SecondContext) bool

	// ShouldChooseTapWhenSecondIsSameSideRelease: default true.
	ShouldChooseTapWhenSecondIsSameSideRelease func(ctx SecondContext) bool

	// GetTimeoutForForcingChoice returns the forced-choice timeout in ms
	// for this key: positive arms the housekeeping deadline, zero
	// decides at press, negative never forces. Default: the key's
	// configured ForcedChoiceTimeoutMS.
	GetTimeoutForForcingChoice func(settings KeySettings) int

	// GetForcedChoiceAfterTimeout decides the forced choice once the
	// timeout elapses. Default: hold.
	GetForcedChoiceAfterTimeout func() Decision

	// ShouldNeutralizeMods: default true unless the registered set
	// contains Ctrl or Shift (which act on other keys, not alone).
	ShouldNeutralizeMods func(mods uint8) bool

	// GetCodeToBeRegisteredInsteadWhenHoldChosen returns a basic keycode
	// to register in place of the key's native hold action, if any.
	// Default: the key's configured AltTapCode.
	GetCodeToBeRegisteredInsteadWhenHoldChosen func(settings KeySettings, kc event.Keycode) (code uint16, ok bool)

	// ShouldRegisterAsHoldWhenSameSide: when the overall decision is
	// hold and the second key is a same-side tap-hold, register the
	// second as its own hold rather than as tap. Default: true.
	ShouldRegisterAsHoldWhenSameSide func(ctx SecondContext) bool

	// GetPredictionFactorForHold returns the hold-difficulty multiplier
	// for a key's user bits. Default: side.HoldFactor. The engine does not
	// call this hook: the default predictors apply side.HoldFactor to the
	// user bits themselves, so overriding it leaves their outputs
	// unchanged.
	GetPredictionFactorForHold func(userBits uint8) float64

	// GetSide, when non-nil, resolves a position's side descriptor in
	// place of the static table (the second return reports whether the
	// callback handled the position; false falls back to the table).
	GetSide func(pos event.Position) (side.Descriptor, bool)

	// The four predictor overrides. The three trees return a probability
	// in [0,1] (>0.5 means hold); MinOverlapForHold returns the
	// predicted minimum simultaneous-down duration in ms that would
	// switch the decision to hold, already clamped.
	ThirdPressPredictor          func(ctx SecondContext) float64
	PTHReleaseAfterSecondPress   func(ctx SecondContext) float64
	PTHReleaseAfterSecondRelease func(ctx SecondContext) float64
	MinOverlapForHold            func(ctx SecondContext) uint16

	// FastStreakPredictor: default predict.FastStreakDefault; callers
	// wanting the stricter variant pass predict.FastStreakConservative.
	FastStreakPredictor func(prevWasHold, pthEligible, prevEligible bool, prevPressToPTHPressDur uint16) bool
}

// DefaultPolicies returns the documented default behavior for every hook.
func DefaultPolicies() Policies {
	return Policies{
		ShouldHoldInstantly: func(ctx InstantHoldContext) bool {
			if ctx.CapsWordOn {
				return false
			}
			if ctx.Keycode.Kind == event.ModTap {
				if ctx.ActiveMods&ctx.Keycode.Mods == ctx.Keycode.Mods && ctx.Keycode.Mods != 0 {
					return false
				}
			}
			return true
		},
		SecondShouldHoldInstantly: func(ctx SecondContext) bool { return false },
		ShouldChooseTapWhenSecondIsSameSidePress: func(ctx SecondContext) bool {
			return !ctx.Second.IsTapHold()
		},
		ShouldChooseTapWhenSecondIsSameSideRelease: func(ctx SecondContext) bool { return true },
		GetTimeoutForForcingChoice: func(settings KeySettings) int {
			return settings.ForcedChoiceTimeoutMS
		},
		GetForcedChoiceAfterTimeout: func() Decision { return Hold },
		ShouldNeutralizeMods: func(mods uint8) bool {
			return mods&(hid.ModsCtrl|hid.ModsShift) == 0
		},
		GetCodeToBeRegisteredInsteadWhenHoldChosen: func(settings KeySettings, kc event.Keycode) (uint16, bool) {
			return settings.AltTapCode, settings.HasAltTapCode
		},
		ShouldRegisterAsHoldWhenSameSide: func(ctx SecondContext) bool { return true },
		GetPredictionFactorForHold: func(userBits uint8) float64 {
			return side.HoldFactor(userBits)
		},
		ThirdPressPredictor: func(ctx SecondContext) float64 {
			return predict.ThirdPressTree(ctx.Features, ctx.PTHUserBits, ctx.SameSide)
		},
		PTHReleaseAfterSecondPress: func(ctx SecondContext) float64 {
			return predict.PTHReleaseAfterSecondPressTree(ctx.Features, ctx.PTHUserBits, ctx.SameSide)
		},
		PTHReleaseAfterSecondRelease: func(ctx SecondContext) float64 {
			return predict.PTHReleaseAfterSecondReleaseTree(ctx.Features, ctx.PTHUserBits, ctx.SameSide)
		},
		MinOverlapForHold: func(ctx SecondContext) uint16 {
			return predict.MinOverlapForHold(ctx.Features, ctx.PTHUserBits, ctx.SameSide)
		},
		FastStreakPredictor: predict.FastStreakDefault,
	}
}
