package sheet

import (
	"context"
	"errors"
)

// Table names of the routine and habit sheets.
const (
	TableRoutines     = "routines"
	TableRoutineSteps = "routine_steps"
	TableExecutions   = "routine_executions"
	TableStepLogs     = "routine_step_logs"
	TableHabitLinks   = "habit_links"
	TableHabits       = "habits"
	TableHabitLogs    = "habit_logs"
)

var ErrRowNotFound = errors.New("row not found")

// Row is one spreadsheet row. ID is the first column, Values the rest.
type Row struct {
	ID     int64
	Values []string
}

// Store is a row-oriented, table-scoped store. Writes are last-write-wins.
type Store interface {
	NextID(ctx context.Context, table string) (int64, error)
	AppendRow(ctx context.Context, table string, row Row) error
	UpdateRow(ctx context.Context, table string, row Row) error
	Rows(ctx context.Context, table string) ([]Row, error)
	Close() error
}

func cloneRow(r Row) Row {
	out := Row{ID: r.ID}
	if r.Values != nil {
		out.Values = make([]string, len(r.Values))
		copy(out.Values, r.Values)
	}
	return out
}
