// Package trace defines the JSON schema the tooling binaries share for
// recording and replaying a sequence of matrix events against the
// engine, plus the resulting HID register/unregister log. Traces are
// meant to be hand-authored and diffed as test fixtures, hence JSON over
// a binary encoding.
package trace

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/maatthc/jgandert-qmk-modules/internal/event"
)

// Input is one recorded matrix event: a position, press/release, and the
// millisecond timestamp it occurred at.
type Input struct {
	Row     uint8  `json:"row"`
	Col     uint8  `json:"col"`
	Pressed bool   `json:"pressed"`
	TimeMS  uint16 `json:"time_ms"`
}

func (i Input) ToEvent() event.Event {
	return event.Event{
		Position: event.Position{Row: i.Row, Col: i.Col},
		Pressed:  i.Pressed,
		TimeMS:   i.TimeMS,
	}
}

// Trace is the top-level fixture format: a name, the input sequence, and
// (optionally) the expected HID log to compare against — see
// cmd/pthtrace's "check" command.
type Trace struct {
	Name     string  `json:"name"`
	Inputs   []Input `json:"inputs"`
	Expected []Op    `json:"expected,omitempty"`

	// TickEveryMS, if non-zero, causes the replayer to also call
	// Engine.Tick at this granularity between input events, exercising
	// housekeeping (forced choice, min-overlap commit) the same way a
	// real firmware's idle loop would.
	TickEveryMS uint16 `json:"tick_every_ms,omitempty"`
}

// Op is one HID action observed (or expected) during replay.
type Op struct {
	Kind string `json:"kind"` // "register" | "unregister" | "tap"
	Code uint16 `json:"code"`
}

// Load parses a Trace from r.
func Load(r io.Reader) (Trace, error) {
	var t Trace
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return Trace{}, fmt.Errorf("trace: decode: %w", err)
	}
	return t, nil
}

// Save writes t to w as indented JSON.
func Save(w io.Writer, t Trace) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

// Recorder implements hid.Sink, appending every register/unregister/tap
// call to Ops in order, for comparison against a Trace's Expected log or
// for writing out a freshly captured trace.
type Recorder struct {
	Ops []Op
}

func (r *Recorder) Register(code uint16)   { r.Ops = append(r.Ops, Op{Kind: "register", Code: code}) }
func (r *Recorder) Unregister(code uint16) { r.Ops = append(r.Ops, Op{Kind: "unregister", Code: code}) }
func (r *Recorder) TapCode16(code uint16)  { r.Ops = append(r.Ops, Op{Kind: "tap", Code: code}) }
func (r *Recorder) Wait()                  {}

// Diff reports the first index at which got diverges from want, or -1 if
// got matches want exactly. When one slice is a strict prefix of the
// other, the result is the shorter one's length. Used by cmd/pthtrace's "check"
// subcommand to pinpoint a regression instead of just failing boolean.
func Diff(want, got []Op) int {
	for i := 0; i < len(want) && i < len(got); i++ {
		if want[i] != got[i] {
			return i
		}
	}
	if len(got) != len(want) {
		if len(got) < len(want) {
			return len(got)
		}
		return len(want)
	}
	return -1
}
