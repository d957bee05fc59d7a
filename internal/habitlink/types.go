package habitlink

import (
	"context"
	"time"

	"github.com/ent0n29/habitbot/internal/habit"
	"github.com/ent0n29/habitbot/internal/sheet"
)

type LinkType string

const LinkTypeCompletion LinkType = "completion"

// Link auto-logs HabitID whenever StepID of RoutineID is completed in a session.
type Link struct {
	ID         int64            `json:"id"`
	UserID     string           `json:"user_id"`
	RoutineID  int64            `json:"routine_id"`
	StepID     int64            `json:"step_id"`
	HabitID    int64            `json:"habit_id"`
	Type       LinkType         `json:"type"`
	Visibility sheet.Visibility `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Result describes what step completion did to a linked habit.
type Result struct {
	Applied       bool   `json:"applied"`
	AlreadyLogged bool   `json:"already_logged,omitempty"`
	LinkID        int64  `json:"link_id,omitempty"`
	HabitID       int64  `json:"habit_id,omitempty"`
	HabitName     string `json:"habit_name,omitempty"`
	Streak        int    `json:"streak,omitempty"`
}

type Stats struct {
	TotalLinks  int     `json:"total_links"`
	TodayLogged int     `json:"today_logged"`
	WeekLogs    int     `json:"week_logs"`
	TodayRate   float64 `json:"today_rate"`
}

// HabitStore is the slice of the habit domain the registry needs.
type HabitStore interface {
	GetHabit(ctx context.Context, habitID int64) (habit.Habit, error)
	LogsForDate(ctx context.Context, userID, date string) ([]habit.Log, error)
	LogsBetween(ctx context.Context, userID, from, to string) ([]habit.Log, error)
	AppendLog(ctx context.Context, userID string, habitID int64, date string, source habit.Source) (habit.Log, error)
	RecomputeStreak(ctx context.Context, userID string, habitID int64, today time.Time) (int, error)
}

func linkToRow(l Link) sheet.Row {
	created := l.CreatedAt
	return sheet.Row{ID: l.ID, Values: []string{
		l.UserID,
		sheet.FormatInt(l.RoutineID),
		sheet.FormatInt(l.StepID),
		sheet.FormatInt(l.HabitID),
		string(l.Type),
		string(l.Visibility),
		sheet.FormatTime(&created),
	}}
}

func linkFromRow(row sheet.Row) Link {
	v := row.Values
	l := Link{
		ID:         row.ID,
		UserID:     sheet.Cell(v, 0),
		RoutineID:  sheet.ParseInt(sheet.Cell(v, 1)),
		StepID:     sheet.ParseInt(sheet.Cell(v, 2)),
		HabitID:    sheet.ParseInt(sheet.Cell(v, 3)),
		Type:       LinkType(sheet.Cell(v, 4)),
		Visibility: sheet.ParseVisibility(sheet.Cell(v, 5)),
	}
	if l.Type == "" {
		l.Type = LinkTypeCompletion
	}
	if created := sheet.ParseTime(sheet.Cell(v, 6)); created != nil {
		l.CreatedAt = *created
	}
	return l
}
