package events

import (
	"context"
	"time"
)

const (
	RoutingRoutineCompleted = "routine.completed"
	RoutingRoutineAborted   = "routine.aborted"
	RoutingHabitAutoLogged  = "habit.auto_logged"
)

// Publisher delivers domain events to the message bus.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
	Close() error
}

type RoutineFinished struct {
	UserID         string    `json:"user_id"`
	SessionID      string    `json:"session_id"`
	RoutineID      int64     `json:"routine_id"`
	RoutineName    string    `json:"routine_name"`
	ExecutionID    int64     `json:"execution_id,omitempty"`
	Status         string    `json:"status"`
	CompletedSteps int       `json:"completed_steps"`
	TotalSteps     int       `json:"total_steps"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
	Reason         string    `json:"reason,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}

type HabitAutoLogged struct {
	UserID    string    `json:"user_id"`
	RoutineID int64     `json:"routine_id"`
	StepID    int64     `json:"step_id"`
	HabitID   int64     `json:"habit_id"`
	HabitName string    `json:"habit_name"`
	Streak    int       `json:"streak"`
	LoggedAt  time.Time `json:"logged_at"`
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
func (NopPublisher) Close() error                               { return nil }
