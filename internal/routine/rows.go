package routine

import (
	"strconv"
	"time"

	"github.com/ent0n29/habitbot/internal/sheet"
)

// Column layouts, after the id column.
const (
	routineColUser = iota
	routineColName
	routineColDescription
	routineColCategory
	routineColStatus
	routineColEstimated
	routineColTotalExecutions
	routineColLastExecuted
	routineColCreated
)

const (
	stepColRoutine = iota
	stepColOrder
	stepColName
	stepColDescription
	stepColEstimated
	stepColRequired
	stepColStatus
)

const (
	execColUser = iota
	execColRoutine
	execColDate
	execColStart
	execColEnd
	execColStatus
	execColCompleted
	execColTotal
	execColElapsed
)

const (
	stepLogColExecution = iota
	stepLogColStep
	stepLogColOutcome
	stepLogColNote
	stepLogColLogged
)

func routineToRow(r Routine) sheet.Row {
	created := r.CreatedAt
	return sheet.Row{ID: r.ID, Values: []string{
		r.UserID,
		r.Name,
		r.Description,
		string(r.Category),
		string(r.Visibility),
		strconv.Itoa(r.EstimatedMinutes),
		strconv.Itoa(r.TotalExecutions),
		sheet.FormatTime(r.LastExecutedAt),
		sheet.FormatTime(&created),
	}}
}

func routineFromRow(row sheet.Row) Routine {
	v := row.Values
	r := Routine{
		ID:               row.ID,
		UserID:           sheet.Cell(v, routineColUser),
		Name:             sheet.Cell(v, routineColName),
		Description:      sheet.Cell(v, routineColDescription),
		Visibility:       sheet.ParseVisibility(sheet.Cell(v, routineColStatus)),
		EstimatedMinutes: int(sheet.ParseInt(sheet.Cell(v, routineColEstimated))),
		TotalExecutions:  int(sheet.ParseInt(sheet.Cell(v, routineColTotalExecutions))),
		LastExecutedAt:   sheet.ParseTime(sheet.Cell(v, routineColLastExecuted)),
	}
	if c, err := ParseCategory(sheet.Cell(v, routineColCategory)); err == nil {
		r.Category = c
	} else {
		r.Category = CategoryOther
	}
	if created := sheet.ParseTime(sheet.Cell(v, routineColCreated)); created != nil {
		r.CreatedAt = *created
	}
	return r
}

func stepToRow(s Step) sheet.Row {
	return sheet.Row{ID: s.ID, Values: []string{
		sheet.FormatInt(s.RoutineID),
		strconv.Itoa(s.Order),
		s.Name,
		s.Description,
		strconv.Itoa(s.EstimatedMinutes),
		sheet.FormatBool(s.Required),
		string(s.Visibility),
	}}
}

func stepFromRow(row sheet.Row) Step {
	v := row.Values
	return Step{
		ID:               row.ID,
		RoutineID:        sheet.ParseInt(sheet.Cell(v, stepColRoutine)),
		Order:            int(sheet.ParseInt(sheet.Cell(v, stepColOrder))),
		Name:             sheet.Cell(v, stepColName),
		Description:      sheet.Cell(v, stepColDescription),
		EstimatedMinutes: int(sheet.ParseInt(sheet.Cell(v, stepColEstimated))),
		Required:         sheet.ParseBool(sheet.Cell(v, stepColRequired)),
		Visibility:       sheet.ParseVisibility(sheet.Cell(v, stepColStatus)),
	}
}

func executionToRow(e Execution) sheet.Row {
	return sheet.Row{ID: e.ID, Values: []string{
		e.UserID,
		sheet.FormatInt(e.RoutineID),
		e.Date,
		e.StartTime,
		e.EndTime,
		string(e.Status),
		strconv.Itoa(e.CompletedSteps),
		strconv.Itoa(e.TotalSteps),
		strconv.Itoa(e.ElapsedSeconds),
	}}
}

func executionFromRow(row sheet.Row) Execution {
	v := row.Values
	return Execution{
		ID:             row.ID,
		UserID:         sheet.Cell(v, execColUser),
		RoutineID:      sheet.ParseInt(sheet.Cell(v, execColRoutine)),
		Date:           sheet.Cell(v, execColDate),
		StartTime:      sheet.Cell(v, execColStart),
		EndTime:        sheet.Cell(v, execColEnd),
		Status:         ExecutionStatus(sheet.Cell(v, execColStatus)),
		CompletedSteps: int(sheet.ParseInt(sheet.Cell(v, execColCompleted))),
		TotalSteps:     int(sheet.ParseInt(sheet.Cell(v, execColTotal))),
		ElapsedSeconds: int(sheet.ParseInt(sheet.Cell(v, execColElapsed))),
	}
}

func stepLogToRow(l StepLog) sheet.Row {
	logged := l.LoggedAt
	return sheet.Row{ID: l.ID, Values: []string{
		sheet.FormatInt(l.ExecutionID),
		sheet.FormatInt(l.StepID),
		string(l.Outcome),
		l.Note,
		sheet.FormatTime(&logged),
	}}
}

func stepLogFromRow(row sheet.Row) StepLog {
	v := row.Values
	l := StepLog{
		ID:          row.ID,
		ExecutionID: sheet.ParseInt(sheet.Cell(v, stepLogColExecution)),
		StepID:      sheet.ParseInt(sheet.Cell(v, stepLogColStep)),
		Outcome:     StepOutcome(sheet.Cell(v, stepLogColOutcome)),
		Note:        sheet.Cell(v, stepLogColNote),
	}
	if at := sheet.ParseTime(sheet.Cell(v, stepLogColLogged)); at != nil {
		l.LoggedAt = *at
	}
	return l
}

func nowUTC() time.Time { return time.Now().UTC() }
