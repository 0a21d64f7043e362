package pth

import "github.com/maatthc/jgandert-qmk-modules/internal/event"

// Record is the mutable per-event record a firmware integration hands to
// ProcessRecord. NonMatrix marks events that did not originate from the
// matrix scan (combos, tap-dance output, programmatic injection); those
// bypass the tap-hold machinery entirely.
type Record struct {
	Event     event.Event
	Tap       event.TapInfo
	NonMatrix bool
}

// ProcessRecord is the dispatch boundary for firmware integrations: it
// returns true to let downstream key processing continue normally and
// false when the event has been fully handled (or deferred) here. When
// the event completes a tap/hold decision, the record's Tap field is
// updated so downstream bookkeeping agrees with what was emitted: a zero
// Count for hold, Count 1 with Interrupted set when another key forced
// the tap.
//
// Synthetic register/unregister emissions triggered by a decision go
// straight to the HID sink and never re-enter this function, so callers
// need no reentrancy guard of their own.
func (e *Engine) ProcessRecord(rec *Record, capsWordOn bool) bool {
	if rec.NonMatrix {
		return true
	}

	e.justDecided = nil
	e.HandleEvent(rec.Event, capsWordOn)
	if d := e.justDecided; d != nil {
		if d.hold {
			rec.Tap = event.TapInfo{}
		} else {
			rec.Tap = event.TapInfo{Count: 1, Interrupted: d.interrupted}
		}
		e.justDecided = nil
	}
	return false
}
