package pth

import (
	"github.com/maatthc/jgandert-qmk-modules/internal/cache"
	"github.com/maatthc/jgandert-qmk-modules/internal/event"
	"github.com/maatthc/jgandert-qmk-modules/internal/hold"
	"github.com/maatthc/jgandert-qmk-modules/internal/side"
	"github.com/maatthc/jgandert-qmk-modules/internal/timing"
)

// Status is the per-key state machine's current state.
type Status uint8

const (
	Idle Status = iota
	Pressed
	SecondPressed
	DecidedTap
	DecidedHold
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pressed:
		return "pressed"
	case SecondPressed:
		return "second_pressed"
	case DecidedTap:
		return "decided_tap"
	case DecidedHold:
		return "decided_hold"
	default:
		return "unknown"
	}
}

// SecondKeyRecord captures everything the dispatcher needs to remember
// about the key pressed while a PTH key is outstanding.
type SecondKeyRecord struct {
	Position  event.Position
	Keycode   event.Keycode
	PressMS   uint16
	Released  bool
	ReleaseMS uint16

	SideDescriptor side.Descriptor
	SameSide       bool

	// ThirdPressed records whether a third key arrived while still in
	// SecondPressed, which routes through the third-press predictor
	// instead of the release-time ones.
	ThirdPressed  bool
	ThirdKeycode  event.Keycode
	ThirdPressMS  uint16
	thirdPosition event.Position
}

// ActivePTH is the full state the dispatcher tracks for one outstanding
// tap-hold key, from Pressed through its terminal Decided* state.
type ActivePTH struct {
	Position event.Position
	Keycode  event.Keycode
	Settings KeySettings

	Status Status

	PressMS uint16

	Snapshot timing.Snapshot

	Second *SecondKeyRecord

	Hold hold.State

	Cache cache.ReleaseCache

	// AltTapCode, when present, is the basic keycode registered in place
	// of the native hold action if the decision becomes hold. A key with
	// a substitute code never holds instantly.
	AltTapCode    uint16
	HasAltTapCode bool

	// ForcedChoiceDeadline is the absolute time (free-running ms) at
	// which housekeeping should force a decision if still Pressed with no
	// second key. ForcedChoiceEnabled is false when the configured
	// timeout is negative ("never force").
	ForcedChoiceDeadline uint16
	ForcedChoiceEnabled  bool

	// MinOverlapDeadline is the absolute time at which the predicted
	// minimum overlap for hold will have elapsed since the second press;
	// housekeeping commits hold once it passes with the second key still
	// down.
	MinOverlapDeadline uint16
	MinOverlapArmed    bool
}

// Reset restores the zero value in place, used when returning an
// ActivePTH to Idle.
func (a *ActivePTH) Reset() {
	pos := a.Position
	*a = ActivePTH{Position: pos}
}
