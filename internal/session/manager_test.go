package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/habitbot/internal/routine"
)

func threeSteps() []routine.Step {
	return []routine.Step{
		{ID: 1, RoutineID: 7, Order: 1, Name: "Water"},
		{ID: 2, RoutineID: 7, Order: 2, Name: "Stretch"},
		{ID: 3, RoutineID: 7, Order: 3, Name: "Plan day"},
	}
}

func startReq(userID string) StartRequest {
	return StartRequest{
		UserID:  userID,
		Routine: routine.Routine{ID: 7, UserID: userID, Name: "Morning"},
		Steps:   threeSteps(),
	}
}

func next(s *Session, now time.Time) error {
	_, err := s.Next(now)
	return err
}

func TestManagerRejectsSecondSession(t *testing.T) {
	m := NewManager(0)
	s, err := m.Start(startReq("u1"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.ID == "" || s.Status != StatusRunning || s.CurrentIndex != 0 {
		t.Fatalf("unexpected session: %+v", s)
	}
	if _, err := m.Start(startReq("u1")); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyActive", err)
	}
	if _, err := m.Start(startReq("u2")); err != nil {
		t.Fatalf("Start(u2) error = %v", err)
	}
	if got := m.ActiveCount(); got != 2 {
		t.Fatalf("ActiveCount() = %d, want 2", got)
	}
	if _, err := m.End("u1"); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := m.Start(startReq("u1")); err != nil {
		t.Fatalf("Start() after End error = %v", err)
	}
}

func TestManagerConcurrentStartsAdmitOne(t *testing.T) {
	m := NewManager(0)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Start(startReq("u1")); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("successful starts = %d, want 1", wins)
	}
}

func TestStartRejectsEmptyRoutine(t *testing.T) {
	m := NewManager(0)
	req := startReq("u1")
	req.Steps = nil
	if _, err := m.Start(req); !errors.Is(err, ErrEmptyRoutine) {
		t.Fatalf("Start() error = %v, want ErrEmptyRoutine", err)
	}
	if _, err := m.Get("u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestNextCompletesOnLastStep(t *testing.T) {
	m := NewManager(0)
	if _, err := m.Start(startReq("u1")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 1; i <= 3; i++ {
		var done bool
		s, err := m.Apply("u1", func(s *Session, now time.Time) error {
			var err error
			done, err = s.Next(now)
			return err
		})
		if err != nil {
			t.Fatalf("Next #%d error = %v", i, err)
		}
		if done != (i == 3) {
			t.Fatalf("Next #%d completed = %v", i, done)
		}
		if s.CurrentIndex != i || s.CompletedSteps != i {
			t.Fatalf("after Next #%d index=%d completed=%d", i, s.CurrentIndex, s.CompletedSteps)
		}
	}
	if _, err := m.Get("u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("completed session still held: err = %v", err)
	}
	if _, err := m.Apply("u1", next); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Apply after completion error = %v, want ErrNotFound", err)
	}
}

func TestSkipAdvancesWithoutCounting(t *testing.T) {
	now := time.Date(2026, 10, 15, 7, 0, 0, 0, time.UTC)
	s, err := newSession("s1", "u1", routine.Routine{ID: 7}, threeSteps(), 0, now)
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	if _, err := s.Next(now); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if _, err := s.Skip(now); err != nil {
		t.Fatalf("Skip() error = %v", err)
	}
	done, err := s.Next(now.Add(20 * time.Minute))
	if err != nil || !done {
		t.Fatalf("final Next() = %v, %v; want completed", done, err)
	}
	if s.CompletedSteps != 2 || s.Status != StatusCompleted {
		t.Fatalf("completed=%d status=%s, want 2 completed", s.CompletedSteps, s.Status)
	}
	if _, ok := s.CurrentStep(); ok {
		t.Fatalf("CurrentStep() should report no step after completion")
	}
	if _, err := s.Next(now); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Next() on completed error = %v, want ErrInvalidState", err)
	}
	if err := s.Abort(now); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Abort() on completed error = %v, want ErrInvalidState", err)
	}

	res := s.Result()
	if res.Status != routine.ExecutionStatusCompleted || res.Elapsed != 20*time.Minute || res.TotalSteps != 3 {
		t.Fatalf("Result() = %+v", res)
	}
}

func TestPauseResumeAreIdempotent(t *testing.T) {
	now := time.Now().UTC()
	s, _ := newSession("s1", "u1", routine.Routine{ID: 7}, threeSteps(), 0, now)

	if !s.Pause(now) {
		t.Fatalf("first Pause() should change state")
	}
	if s.Pause(now) {
		t.Fatalf("second Pause() should be a no-op")
	}
	if s.Status != StatusPaused {
		t.Fatalf("Status = %q, want %q", s.Status, StatusPaused)
	}
	if _, err := s.Next(now); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Next() while paused error = %v, want ErrInvalidState", err)
	}
	if s.CurrentIndex != 0 {
		t.Fatalf("paused session advanced to %d", s.CurrentIndex)
	}
	if !s.Resume(now) {
		t.Fatalf("Resume() from paused should change state")
	}
	if s.Resume(now) {
		t.Fatalf("Resume() on running should be a no-op")
	}
	if s.Status != StatusRunning {
		t.Fatalf("Status = %q, want %q", s.Status, StatusRunning)
	}
}

func TestAbortFromPaused(t *testing.T) {
	m := NewManager(0)
	if _, err := m.Start(startReq("u1")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_, _ = m.Apply("u1", next)
	_, _ = m.Apply("u1", func(s *Session, now time.Time) error {
		s.Pause(now)
		return nil
	})
	s, err := m.Apply("u1", func(s *Session, now time.Time) error { return s.Abort(now) })
	if err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	if s.Status != StatusAborted || s.CompletedSteps != 1 || s.EndedAt == nil {
		t.Fatalf("aborted session = %+v", s)
	}
	if got := m.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", got)
	}
}

func TestSnapshotIsolatedFromCallerSlice(t *testing.T) {
	m := NewManager(0)
	req := startReq("u1")
	if _, err := m.Start(req); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	req.Steps[0].Name = "edited"

	got, _ := m.Get("u1")
	step, ok := got.CurrentStep()
	if !ok || step.Name != "Water" {
		t.Fatalf("CurrentStep() = %+v, want original snapshot", step)
	}
	got.Steps[1].Name = "mutated"
	again, _ := m.Get("u1")
	if again.Steps[1].Name != "Stretch" {
		t.Fatalf("Get() leaked internal state")
	}
}

func TestExpireIdleAbortsStaleSessions(t *testing.T) {
	base := time.Date(2026, 10, 15, 7, 0, 0, 0, time.UTC)
	now := base
	m := NewManager(30 * time.Minute)
	m.SetClock(func() time.Time { return now })

	var hooked []*Session
	m.SetExpireHook(func(s *Session) { hooked = append(hooked, s) })

	if _, err := m.Start(startReq("u1")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	now = base.Add(20 * time.Minute)
	if _, err := m.Start(startReq("u2")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	now = base.Add(40 * time.Minute)
	expired := m.ExpireIdle()
	if len(expired) != 1 || expired[0].UserID != "u1" || expired[0].Status != StatusAborted {
		t.Fatalf("ExpireIdle() = %+v, want u1 aborted", expired)
	}
	if len(hooked) != 1 {
		t.Fatalf("expire hook calls = %d, want 1", len(hooked))
	}
	if _, err := m.Get("u2"); err != nil {
		t.Fatalf("u2 should still be active: %v", err)
	}
}

func TestJanitorDisabledWithoutTimeout(t *testing.T) {
	m := NewManager(0)
	if _, err := m.Start(startReq("u1")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	if got := m.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", got)
	}
}

func TestSubscribeFiltersByUser(t *testing.T) {
	m := NewManager(0)
	mine, cancelMine := m.Subscribe("u1")
	defer cancelMine()
	all, cancelAll := m.Subscribe("")
	defer cancelAll()

	s, _ := m.Start(startReq("u2"))
	m.Publish(NewEvent(EventSessionStarted, s, time.Now()))

	select {
	case evt := <-all:
		if evt.Type != EventSessionStarted || evt.UserID != "u2" || evt.TotalSteps != 3 {
			t.Fatalf("event = %+v", evt)
		}
	default:
		t.Fatalf("wildcard subscriber missed event")
	}
	select {
	case evt := <-mine:
		t.Fatalf("u1 subscriber received %+v", evt)
	default:
	}

	cancelMine()
	if _, ok := <-mine; ok {
		t.Fatalf("channel should be closed after cancel")
	}
}
