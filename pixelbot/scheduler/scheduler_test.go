package scheduler

import (
	"testing"
	"time"
)

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("fired %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("task %q never fired", want)
	}
}

func TestSchedule_FiresInOrder(t *testing.T) {
	s := New()
	defer s.Stop()

	fired := make(chan string, 2)
	now := time.Now()
	s.Schedule("second", now.Add(80*time.Millisecond), func() { fired <- "second" })
	s.Schedule("first", now.Add(20*time.Millisecond), func() { fired <- "first" })

	waitFor(t, fired, "first")
	waitFor(t, fired, "second")
}

func TestSchedule_ReplacesExisting(t *testing.T) {
	s := New()
	defer s.Stop()

	fired := make(chan string, 2)
	s.Schedule("task", time.Now().Add(time.Hour), func() { fired <- "old" })
	s.Schedule("task", time.Now().Add(20*time.Millisecond), func() { fired <- "new" })

	waitFor(t, fired, "new")
	select {
	case got := <-fired:
		t.Fatalf("replaced task fired anyway: %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestExtendTo(t *testing.T) {
	s := New()
	defer s.Stop()

	at := time.Now().Add(time.Hour)
	s.Schedule("task", at, func() {})

	later := at.Add(time.Minute)
	if !s.ExtendTo("task", later) {
		t.Fatal("ExtendTo() = false for pending task")
	}
	if got, ok := s.NextRun("task"); !ok || !got.Equal(later) {
		t.Errorf("NextRun() = %v, %v, want %v, true", got, ok, later)
	}

	// Deadlines only move later, never earlier.
	if !s.ExtendTo("task", at.Add(-time.Minute)) {
		t.Fatal("ExtendTo() = false for earlier deadline, want true with no move")
	}
	if got, _ := s.NextRun("task"); !got.Equal(later) {
		t.Errorf("NextRun() = %v after earlier ExtendTo, want unchanged %v", got, later)
	}

	if s.ExtendTo("missing", later) {
		t.Error("ExtendTo() = true for unknown key")
	}
}

func TestNextRun_UnknownKey(t *testing.T) {
	s := New()
	defer s.Stop()

	if _, ok := s.NextRun("missing"); ok {
		t.Error("NextRun() ok = true for unknown key")
	}
}

func TestStop_DropsPending(t *testing.T) {
	s := New()

	fired := make(chan string, 1)
	s.Schedule("task", time.Now().Add(50*time.Millisecond), func() { fired <- "task" })
	s.Stop()

	select {
	case <-fired:
		t.Error("task fired after Stop()")
	case <-time.After(150 * time.Millisecond):
	}

	// Scheduling after Stop is a no-op, not a panic.
	s.Schedule("late", time.Now(), func() { fired <- "late" })
	s.Stop()
}
