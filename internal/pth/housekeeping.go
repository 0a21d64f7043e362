package pth

// Tick runs the periodic housekeeping pass. It must be called regularly
// (millisecond-scale, e.g. from the firmware's matrix-scan idle loop)
// with the current free-running millisecond counter; it performs no work
// of its own beyond what is time-dependent.
func (e *Engine) Tick(now uint16) {
	// Saturate any timer that has reached the duration ceiling, so later
	// snapshots see the clamp rather than a wrapped value.
	if e.tracker.PressToPressExceeded(now) {
		e.tracker.MarkPressToPressExceeded()
	}
	if e.tracker.OverlapExceeded(now) {
		e.tracker.MarkOverlapExceeded()
	}

	a := e.active
	if a == nil {
		return
	}

	if a.Settings.TappingTermMS != 0 {
		// Term-based key: hold once the configured term elapses with the
		// key still down, regardless of what else happened.
		if a.Status == Pressed || a.Status == SecondPressed {
			if timingDur(now, a.PressMS) >= a.Settings.TappingTermMS {
				e.commitHold(a, now, false)
			}
		}
		return
	}

	switch a.Status {
	case Pressed:
		if a.ForcedChoiceEnabled && elapsed(now, a.ForcedChoiceDeadline) {
			e.forceChoice(a, now)
		}
	case SecondPressed:
		if a.MinOverlapArmed && !a.Second.Released && elapsed(now, a.MinOverlapDeadline) {
			// The second key has stayed down past the predicted minimum
			// overlap for hold: commit without waiting for a release.
			e.commitHold(a, now, false)
		}
	}
}

// elapsed reports whether `now` has reached or passed `deadline` on the
// 16-bit free-running clock, tolerant of one wraparound.
func elapsed(now, deadline uint16) bool {
	return int16(now-deadline) >= 0
}

// forceChoice resolves a PTH key that has been held with no decision for
// longer than its configured timeout.
func (e *Engine) forceChoice(a *ActivePTH, now uint16) {
	switch e.Policies.GetForcedChoiceAfterTimeout() {
	case Hold:
		e.commitHold(a, now, false)
	default:
		e.commitTap(a, now, false)
	}
}
