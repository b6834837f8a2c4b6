package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleRuns(t *testing.T) {
	s := New()
	done := make(chan struct{})

	s.Schedule("order-1", 10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback did not run")
	}
	if s.Pending("order-1") {
		t.Error("fired entry still pending")
	}
}

func TestCancelPreventsRun(t *testing.T) {
	s := New()
	var ran atomic.Bool

	s.Schedule("order-1", 20*time.Millisecond, func() { ran.Store(true) })
	if !s.Cancel("order-1") {
		t.Fatal("Cancel() = false, want true")
	}
	if s.Cancel("order-1") {
		t.Error("second Cancel() = true, want false")
	}

	time.Sleep(50 * time.Millisecond)
	if ran.Load() {
		t.Error("cancelled callback ran")
	}
}

func TestRescheduleReplaces(t *testing.T) {
	s := New()
	var first, second atomic.Int32
	done := make(chan struct{})

	s.Schedule("k", 20*time.Millisecond, func() { first.Add(1) })
	s.Schedule("k", 30*time.Millisecond, func() { second.Add(1); close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("replacement did not run")
	}
	time.Sleep(20 * time.Millisecond)

	if first.Load() != 0 || second.Load() != 1 {
		t.Errorf("first=%d second=%d, want 0 and 1", first.Load(), second.Load())
	}
}

func TestStopRejectsNewWork(t *testing.T) {
	s := New()
	var ran atomic.Bool

	s.Schedule("a", 20*time.Millisecond, func() { ran.Store(true) })
	s.Stop()
	s.Schedule("b", time.Millisecond, func() { ran.Store(true) })

	time.Sleep(50 * time.Millisecond)
	if ran.Load() || s.Len() != 0 {
		t.Errorf("ran=%v len=%d after Stop", ran.Load(), s.Len())
	}
}
