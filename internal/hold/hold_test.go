package hold

import "testing"

func TestBeginPTHAndRollback(t *testing.T) {
	var s State
	if s.Active() {
		t.Fatalf("zero value State should not be active")
	}
	s.BeginPTH(0x02, true, 3, true)
	if !s.Active() {
		t.Fatalf("Active() should be true after BeginPTH")
	}
	mods, ok := s.Mods()
	if !ok || mods != 0x02 {
		t.Fatalf("Mods() got (%d,%v) want (0x02,true)", mods, ok)
	}
	layer, ok := s.PreLayer()
	if !ok || layer != 3 {
		t.Fatalf("PreLayer() got (%d,%v) want (3,true)", layer, ok)
	}
	s.Rollback()
	if s.Active() {
		t.Fatalf("Active() should be false after Rollback")
	}
	if _, ok := s.Mods(); ok {
		t.Fatalf("Mods() should report absent after Rollback")
	}
}

func TestBeginSecondIndependentOfPTH(t *testing.T) {
	var s State
	s.BeginPTH(0, false, 0, false)
	s.BeginSecond(0x02, true, 5, true)
	if !s.SecondActive() {
		t.Fatalf("SecondActive() should be true after BeginSecond")
	}
	mods, ok := s.SecondMods()
	if !ok || mods != 0x02 {
		t.Fatalf("SecondMods() got (%d,%v) want (0x02,true)", mods, ok)
	}
	layer, ok := s.SecondPreLayer()
	if !ok || layer != 5 {
		t.Fatalf("SecondPreLayer() got (%d,%v) want (5,true)", layer, ok)
	}
	s.ResetSecondOnly()
	if s.SecondActive() {
		t.Fatalf("SecondActive() should be false after ResetSecondOnly")
	}
	if !s.Active() {
		t.Fatalf("PTH's own Active() should survive ResetSecondOnly")
	}
}
