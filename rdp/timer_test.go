package rdp

import (
	"testing"
	"time"
)

func TestTimerLifecycle(t *testing.T) {
	var tm timer
	now := time.Now()
	if tm.active() || tm.expired(now) {
		t.Fatal("zero timer must be inactive")
	}
	tm.arm(now, 100*time.Millisecond, 1)
	if !tm.active() {
		t.Fatal("armed timer inactive")
	}
	if tm.expired(now) {
		t.Error("expired before deadline")
	}
	if d := tm.remaining(now); d != 100*time.Millisecond {
		t.Errorf("remaining = %v, want 100ms", d)
	}
	later := now.Add(100 * time.Millisecond)
	if !tm.expired(later) {
		t.Error("not expired at deadline")
	}
	if d := tm.remaining(later.Add(time.Second)); d != 0 {
		t.Errorf("remaining past deadline = %v, want 0", d)
	}
	tm.cancel()
	if tm.active() || tm.expired(later) {
		t.Error("cancelled timer still live")
	}
}

func TestTimerFireNow(t *testing.T) {
	var tm timer
	now := time.Now()
	tm.fireNow(now)
	if tm.expired(now) {
		t.Error("fireNow on inactive timer armed it")
	}
	tm.arm(now, time.Hour, 1)
	tm.fireNow(now)
	if !tm.expired(now) {
		t.Error("fireNow did not pull deadline to now")
	}
}

func TestTimerRearmConsumesRetries(t *testing.T) {
	var tm timer
	now := time.Now()
	tm.arm(now, 10*time.Millisecond, 2)
	if !tm.rearm(now) {
		t.Fatal("rearm with retries left returned false")
	}
	if tm.rearm(now) {
		t.Fatal("rearm past budget returned true")
	}
	if tm.active() {
		t.Error("timer still active after retry exhaustion")
	}
}
