package common

import (
	"errors"
	"reflect"
	"testing"
)

func TestGuardNilViewPasses(t *testing.T) {
	if err := Guard(nil, "lending"); err != nil {
		t.Fatalf("nil view: %v", err)
	}
	if err := Guard(NewPauseSet("lending"), ""); err != nil {
		t.Fatalf("empty module: %v", err)
	}
}

func TestPauseSetToggle(t *testing.T) {
	set := NewPauseSet()
	if err := Guard(set, "lending.borrow"); err != nil {
		t.Fatalf("fresh set: %v", err)
	}

	if !set.SetPaused("lending.borrow", true) {
		t.Fatal("pausing reported no change")
	}
	if set.SetPaused("lending.borrow", true) {
		t.Fatal("pausing twice reported a change")
	}
	if err := Guard(set, "lending.borrow"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(set, "lending.deposit"); err != nil {
		t.Fatalf("unrelated module: %v", err)
	}
	if got := set.Modules(); !reflect.DeepEqual(got, []string{"lending.borrow"}) {
		t.Fatalf("Modules() = %v", got)
	}

	if !set.SetPaused("lending.borrow", false) {
		t.Fatal("resuming reported no change")
	}
	if err := Guard(set, "lending.borrow"); err != nil {
		t.Fatalf("after resume: %v", err)
	}
	if got := set.Modules(); len(got) != 0 {
		t.Fatalf("Modules() after resume = %v", got)
	}
}
