package session

import (
	"errors"
	"time"

	"github.com/ent0n29/habitbot/internal/routine"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

var (
	ErrNotFound      = errors.New("no active routine session")
	ErrAlreadyActive = errors.New("routine session already active; finish or stop it first")
	ErrEmptyRoutine  = errors.New("routine has no steps")
	ErrInvalidState  = errors.New("invalid session state for this action")
)

// Session is one user's live run through a routine. Steps is a private copy
// taken at start; later edits to the routine do not reach it.
type Session struct {
	ID             string         `json:"session_id"`
	UserID         string         `json:"user_id"`
	RoutineID      int64          `json:"routine_id"`
	RoutineName    string         `json:"routine_name"`
	ExecutionID    int64          `json:"execution_id,omitempty"`
	Steps          []routine.Step `json:"steps"`
	CurrentIndex   int            `json:"current_index"`
	CompletedSteps int            `json:"completed_steps"`
	Status         Status         `json:"status"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
	LastActivityAt time.Time      `json:"last_activity_at"`
}

func newSession(id, userID string, r routine.Routine, steps []routine.Step, executionID int64, now time.Time) (*Session, error) {
	if len(steps) == 0 {
		return nil, ErrEmptyRoutine
	}
	return &Session{
		ID:             id,
		UserID:         userID,
		RoutineID:      r.ID,
		RoutineName:    r.Name,
		ExecutionID:    executionID,
		Steps:          append([]routine.Step(nil), steps...),
		Status:         StatusRunning,
		StartedAt:      now,
		LastActivityAt: now,
	}, nil
}

func (s *Session) TotalSteps() int {
	return len(s.Steps)
}

// CurrentStep returns false once the index has moved past the last step.
func (s *Session) CurrentStep() (routine.Step, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Steps) {
		return routine.Step{}, false
	}
	return s.Steps[s.CurrentIndex], true
}

// Next marks the current step done and reports whether the routine finished.
func (s *Session) Next(now time.Time) (bool, error) {
	return s.advance(now, true)
}

// Skip moves past the current step without counting it as done.
func (s *Session) Skip(now time.Time) (bool, error) {
	return s.advance(now, false)
}

func (s *Session) advance(now time.Time, completed bool) (bool, error) {
	if s.Status != StatusRunning {
		return false, ErrInvalidState
	}
	if s.CurrentIndex >= len(s.Steps) {
		return false, ErrInvalidState
	}
	if completed {
		s.CompletedSteps++
	}
	s.CurrentIndex++
	s.LastActivityAt = now
	if s.CurrentIndex == len(s.Steps) {
		s.finish(StatusCompleted, now)
		return true, nil
	}
	return false, nil
}

// Pause is a no-op unless the session is running.
func (s *Session) Pause(now time.Time) bool {
	if s.Status != StatusRunning {
		return false
	}
	s.Status = StatusPaused
	s.LastActivityAt = now
	return true
}

// Resume is a no-op unless the session is paused.
func (s *Session) Resume(now time.Time) bool {
	if s.Status != StatusPaused {
		return false
	}
	s.Status = StatusRunning
	s.LastActivityAt = now
	return true
}

func (s *Session) Abort(now time.Time) error {
	if s.Status != StatusRunning && s.Status != StatusPaused {
		return ErrInvalidState
	}
	s.finish(StatusAborted, now)
	return nil
}

func (s *Session) finish(status Status, now time.Time) {
	s.Status = status
	end := now
	s.EndedAt = &end
	s.LastActivityAt = now
}

func (s *Session) Terminal() bool {
	return s.Status.Terminal()
}

// Elapsed is measured to EndedAt for finished sessions and to now otherwise.
func (s *Session) Elapsed(now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}

// Result converts a finished session into the execution record update.
func (s *Session) Result() routine.ExecutionResult {
	status := routine.ExecutionStatusRunning
	switch s.Status {
	case StatusCompleted:
		status = routine.ExecutionStatusCompleted
	case StatusAborted:
		status = routine.ExecutionStatusAborted
	}
	var elapsed time.Duration
	if s.EndedAt != nil {
		elapsed = s.Elapsed(*s.EndedAt)
	}
	return routine.ExecutionResult{
		Status:         status,
		Elapsed:        elapsed,
		CompletedSteps: s.CompletedSteps,
		TotalSteps:     len(s.Steps),
	}
}

func (s *Session) Clone() *Session {
	c := *s
	c.Steps = append([]routine.Step(nil), s.Steps...)
	if s.EndedAt != nil {
		end := *s.EndedAt
		c.EndedAt = &end
	}
	return &c
}
