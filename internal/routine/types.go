package routine

import (
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/habitbot/internal/sheet"
)

type Category string

const (
	CategoryMorning Category = "morning"
	CategoryEvening Category = "evening"
	CategoryWork    Category = "work"
	CategoryHealth  Category = "health"
	CategoryOther   Category = "other"
)

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CategoryMorning, CategoryEvening, CategoryWork, CategoryHealth, CategoryOther:
		return c, nil
	case "":
		return CategoryOther, nil
	default:
		return "", fmt.Errorf("unknown routine category %q", s)
	}
}

type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusAborted   ExecutionStatus = "aborted"
)

// StepOutcome records how a session moved past a step.
type StepOutcome string

const (
	StepOutcomeCompleted StepOutcome = "completed"
	StepOutcomeSkipped   StepOutcome = "skipped"
)

type Routine struct {
	ID               int64            `json:"id"`
	UserID           string           `json:"user_id"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	Category         Category         `json:"category"`
	Visibility       sheet.Visibility `json:"status"`
	EstimatedMinutes int              `json:"estimated_minutes"`
	TotalExecutions  int              `json:"total_executions"`
	LastExecutedAt   *time.Time       `json:"last_executed_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

type Step struct {
	ID               int64            `json:"id"`
	RoutineID        int64            `json:"routine_id"`
	Order            int              `json:"order"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	EstimatedMinutes int              `json:"estimated_minutes"`
	Required         bool             `json:"required"`
	Visibility       sheet.Visibility `json:"status"`
}

// Execution is the durable summary of one routine run.
type Execution struct {
	ID             int64           `json:"id"`
	UserID         string          `json:"user_id"`
	RoutineID      int64           `json:"routine_id"`
	Date           string          `json:"date"`
	StartTime      string          `json:"start_time"`
	EndTime        string          `json:"end_time,omitempty"`
	ElapsedSeconds int             `json:"elapsed_seconds,omitempty"`
	Status         ExecutionStatus `json:"status"`
	CompletedSteps int             `json:"completed_steps"`
	TotalSteps     int             `json:"total_steps"`
}

// ExecutionResult closes out an open execution record.
type ExecutionResult struct {
	Status         ExecutionStatus
	Elapsed        time.Duration
	CompletedSteps int
	TotalSteps     int
}

type StepLog struct {
	ID          int64       `json:"id"`
	ExecutionID int64       `json:"execution_id"`
	StepID      int64       `json:"step_id"`
	Outcome     StepOutcome `json:"outcome"`
	Note        string      `json:"note,omitempty"`
	LoggedAt    time.Time   `json:"logged_at"`
}

type RoutineInput struct {
	Name        string
	Description string
	Category    Category
}

// RoutinePatch carries optional edits; nil fields are left untouched.
type RoutinePatch struct {
	Name        *string
	Description *string
	Category    *Category
}

type StepInput struct {
	Name             string
	Description      string
	EstimatedMinutes int
	Required         bool
}

type StepPatch struct {
	Name             *string
	Description      *string
	EstimatedMinutes *int
	Required         *bool
}

// FormatElapsed renders an elapsed duration in the legacy H:MM end-time form.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Minute) / time.Minute)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
