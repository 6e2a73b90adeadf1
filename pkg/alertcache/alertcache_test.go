package alertcache

import (
	"testing"
	"time"
)

func TestShouldAlert_SuppressesWithinWindow(t *testing.T) {
	c := New(100 * time.Millisecond)

	if !c.ShouldAlert("event-1") {
		t.Fatal("expected first alert to fire")
	}
	if c.ShouldAlert("event-1") {
		t.Fatal("expected second alert within window to be suppressed")
	}

	time.Sleep(150 * time.Millisecond)
	if !c.ShouldAlert("event-1") {
		t.Fatal("expected alert to fire again after the window elapses")
	}
}

func TestShouldAlert_DistinctKeysIndependent(t *testing.T) {
	c := New(time.Minute)
	if !c.ShouldAlert("a") || !c.ShouldAlert("b") {
		t.Fatal("expected distinct event UIDs to each alert independently")
	}
}
