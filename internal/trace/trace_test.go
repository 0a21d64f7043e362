package trace

import (
	"bytes"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	want := Trace{
		Name:   "simple-tap",
		Inputs: []Input{{Row: 0, Col: 1, Pressed: true, TimeMS: 10}, {Row: 0, Col: 1, Pressed: false, TimeMS: 60}},
		Expected: []Op{
			{Kind: "register", Code: 0x04},
			{Kind: "unregister", Code: 0x04},
		},
	}
	var buf bytes.Buffer
	if err := Save(&buf, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != want.Name || len(got.Inputs) != len(want.Inputs) || len(got.Expected) != len(want.Expected) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestDiffIdenticalReturnsNegativeOne(t *testing.T) {
	ops := []Op{{Kind: "register", Code: 1}, {Kind: "unregister", Code: 1}}
	if idx := Diff(ops, ops); idx != -1 {
		t.Fatalf("Diff of identical slices got %d want -1", idx)
	}
}

func TestDiffFindsFirstMismatch(t *testing.T) {
	want := []Op{{Kind: "register", Code: 1}, {Kind: "unregister", Code: 1}}
	got := []Op{{Kind: "register", Code: 1}, {Kind: "unregister", Code: 2}}
	if idx := Diff(want, got); idx != 1 {
		t.Fatalf("Diff got %d want 1", idx)
	}
}

func TestDiffFindsLengthMismatch(t *testing.T) {
	want := []Op{{Kind: "register", Code: 1}, {Kind: "unregister", Code: 1}}
	got := []Op{{Kind: "register", Code: 1}}
	if idx := Diff(want, got); idx != 1 {
		t.Fatalf("Diff got %d want 1 (shorter got)", idx)
	}
}

func TestRecorderAppendsOpsInOrder(t *testing.T) {
	var r Recorder
	r.Register(0x04)
	r.Unregister(0x04)
	r.TapCode16(0x05)
	r.Wait()
	if len(r.Ops) != 3 {
		t.Fatalf("Recorder.Ops got %d entries want 3", len(r.Ops))
	}
	if r.Ops[2].Kind != "tap" || r.Ops[2].Code != 0x05 {
		t.Fatalf("Recorder.Ops[2] got %+v want tap 0x05", r.Ops[2])
	}
}
