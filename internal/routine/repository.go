package routine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/habitbot/internal/sheet"
)

var (
	ErrNotFound  = errors.New("routine not found")
	ErrForbidden = errors.New("routine belongs to another user")
)

// Repository maps routines, steps and execution history onto sheet rows.
type Repository struct {
	// mu serializes read-modify-write sequences (counters, step renumbering).
	mu    sync.Mutex
	store sheet.Store
	now   func() time.Time
}

func NewRepository(store sheet.Store) *Repository {
	return &Repository{store: store, now: nowUTC}
}

func (r *Repository) CreateRoutine(ctx context.Context, userID string, in RoutineInput) (Routine, error) {
	userID = strings.TrimSpace(userID)
	in.Name = strings.TrimSpace(in.Name)
	if userID == "" {
		return Routine{}, errors.New("user_id is required")
	}
	if in.Name == "" {
		return Routine{}, errors.New("routine name is required")
	}
	if in.Category == "" {
		in.Category = CategoryOther
	}

	id, err := r.store.NextID(ctx, sheet.TableRoutines)
	if err != nil {
		return Routine{}, err
	}
	routine := Routine{
		ID:          id,
		UserID:      userID,
		Name:        in.Name,
		Description: strings.TrimSpace(in.Description),
		Category:    in.Category,
		Visibility:  sheet.VisibilityActive,
		CreatedAt:   r.now(),
	}
	if err := r.store.AppendRow(ctx, sheet.TableRoutines, routineToRow(routine)); err != nil {
		return Routine{}, fmt.Errorf("create routine: %w", err)
	}
	return routine, nil
}

// GetRoutine returns an active routine owned by userID.
func (r *Repository) GetRoutine(ctx context.Context, userID string, routineID int64) (Routine, error) {
	routine, err := r.findRoutine(ctx, routineID)
	if err != nil {
		return Routine{}, err
	}
	if routine.UserID != userID {
		return Routine{}, ErrForbidden
	}
	return routine, nil
}

// ListRoutines returns the active routines owned by userID, ordered by id.
func (r *Repository) ListRoutines(ctx context.Context, userID string) ([]Routine, error) {
	rows, err := r.store.Rows(ctx, sheet.TableRoutines)
	if err != nil {
		return nil, err
	}
	out := make([]Routine, 0, len(rows))
	for _, row := range rows {
		routine := routineFromRow(row)
		if routine.UserID != userID || !routine.Visibility.Visible() {
			continue
		}
		out = append(out, routine)
	}
	return out, nil
}

func (r *Repository) UpdateRoutine(ctx context.Context, userID string, routineID int64, patch RoutinePatch) (Routine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	routine, err := r.GetRoutine(ctx, userID, routineID)
	if err != nil {
		return Routine{}, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return Routine{}, errors.New("routine name is required")
		}
		routine.Name = name
	}
	if patch.Description != nil {
		routine.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Category != nil {
		routine.Category = *patch.Category
	}
	if err := r.store.UpdateRow(ctx, sheet.TableRoutines, routineToRow(routine)); err != nil {
		return Routine{}, fmt.Errorf("update routine: %w", err)
	}
	return routine, nil
}

// DeactivateRoutine soft-deletes a routine.
func (r *Repository) DeactivateRoutine(ctx context.Context, userID string, routineID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	routine, err := r.GetRoutine(ctx, userID, routineID)
	if err != nil {
		return err
	}
	routine.Visibility = sheet.VisibilityInactive
	if err := r.store.UpdateRow(ctx, sheet.TableRoutines, routineToRow(routine)); err != nil {
		return fmt.Errorf("deactivate routine: %w", err)
	}
	return nil
}

// Steps returns the active steps of a routine ordered by their 1-based order.
func (r *Repository) Steps(ctx context.Context, routineID int64) ([]Step, error) {
	rows, err := r.store.Rows(ctx, sheet.TableRoutineSteps)
	if err != nil {
		return nil, err
	}
	out := make([]Step, 0, 8)
	for _, row := range rows {
		step := stepFromRow(row)
		if step.RoutineID != routineID || !step.Visibility.Visible() {
			continue
		}
		out = append(out, step)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order == out[j].Order {
			return out[i].ID < out[j].ID
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}

func (r *Repository) AddStep(ctx context.Context, userID string, routineID int64, in StepInput) (Step, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Step{}, errors.New("step name is required")
	}
	if in.EstimatedMinutes < 0 {
		return Step{}, errors.New("estimated minutes must be >= 0")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	routine, err := r.GetRoutine(ctx, userID, routineID)
	if err != nil {
		return Step{}, err
	}
	steps, err := r.Steps(ctx, routineID)
	if err != nil {
		return Step{}, err
	}
	id, err := r.store.NextID(ctx, sheet.TableRoutineSteps)
	if err != nil {
		return Step{}, err
	}
	step := Step{
		ID:               id,
		RoutineID:        routineID,
		Order:            len(steps) + 1,
		Name:             in.Name,
		Description:      strings.TrimSpace(in.Description),
		EstimatedMinutes: in.EstimatedMinutes,
		Required:         in.Required,
		Visibility:       sheet.VisibilityActive,
	}
	if err := r.store.AppendRow(ctx, sheet.TableRoutineSteps, stepToRow(step)); err != nil {
		return Step{}, fmt.Errorf("add step: %w", err)
	}
	if err := r.refreshEstimateLocked(ctx, routine, append(steps, step)); err != nil {
		return Step{}, err
	}
	return step, nil
}

func (r *Repository) UpdateStep(ctx context.Context, userID string, routineID, stepID int64, patch StepPatch) (Step, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	routine, err := r.GetRoutine(ctx, userID, routineID)
	if err != nil {
		return Step{}, err
	}
	steps, err := r.Steps(ctx, routineID)
	if err != nil {
		return Step{}, err
	}
	idx := indexOfStep(steps, stepID)
	if idx < 0 {
		return Step{}, fmt.Errorf("step %d: %w", stepID, ErrNotFound)
	}
	step := steps[idx]
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return Step{}, errors.New("step name is required")
		}
		step.Name = name
	}
	if patch.Description != nil {
		step.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.EstimatedMinutes != nil {
		if *patch.EstimatedMinutes < 0 {
			return Step{}, errors.New("estimated minutes must be >= 0")
		}
		step.EstimatedMinutes = *patch.EstimatedMinutes
	}
	if patch.Required != nil {
		step.Required = *patch.Required
	}
	if err := r.store.UpdateRow(ctx, sheet.TableRoutineSteps, stepToRow(step)); err != nil {
		return Step{}, fmt.Errorf("update step: %w", err)
	}
	steps[idx] = step
	if err := r.refreshEstimateLocked(ctx, routine, steps); err != nil {
		return Step{}, err
	}
	return step, nil
}

// DeleteStep soft-deletes a step and renumbers the rest so order stays contiguous.
func (r *Repository) DeleteStep(ctx context.Context, userID string, routineID, stepID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	routine, err := r.GetRoutine(ctx, userID, routineID)
	if err != nil {
		return err
	}
	steps, err := r.Steps(ctx, routineID)
	if err != nil {
		return err
	}
	idx := indexOfStep(steps, stepID)
	if idx < 0 {
		return fmt.Errorf("step %d: %w", stepID, ErrNotFound)
	}
	removed := steps[idx]
	removed.Visibility = sheet.VisibilityInactive
	if err := r.store.UpdateRow(ctx, sheet.TableRoutineSteps, stepToRow(removed)); err != nil {
		return fmt.Errorf("delete step: %w", err)
	}

	remaining := append(steps[:idx:idx], steps[idx+1:]...)
	for i := range remaining {
		if remaining[i].Order == i+1 {
			continue
		}
		remaining[i].Order = i + 1
		if err := r.store.UpdateRow(ctx, sheet.TableRoutineSteps, stepToRow(remaining[i])); err != nil {
			return fmt.Errorf("renumber step %d: %w", remaining[i].ID, err)
		}
	}
	return r.refreshEstimateLocked(ctx, routine, remaining)
}

// CreateExecution appends an open execution record (no end time yet).
func (r *Repository) CreateExecution(ctx context.Context, exec Execution) (Execution, error) {
	id, err := r.store.NextID(ctx, sheet.TableExecutions)
	if err != nil {
		return Execution{}, err
	}
	exec.ID = id
	exec.EndTime = ""
	exec.ElapsedSeconds = 0
	if exec.Status == "" {
		exec.Status = ExecutionStatusRunning
	}
	if err := r.store.AppendRow(ctx, sheet.TableExecutions, executionToRow(exec)); err != nil {
		return Execution{}, fmt.Errorf("create execution: %w", err)
	}
	return exec, nil
}

// FinalizeExecution writes the outcome of a finished or aborted run.
func (r *Repository) FinalizeExecution(ctx context.Context, executionID int64, res ExecutionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exec, err := r.findExecution(ctx, executionID)
	if err != nil {
		return err
	}
	exec.Status = res.Status
	exec.EndTime = FormatElapsed(res.Elapsed)
	exec.ElapsedSeconds = int(res.Elapsed / time.Second)
	exec.CompletedSteps = res.CompletedSteps
	exec.TotalSteps = res.TotalSteps
	if err := r.store.UpdateRow(ctx, sheet.TableExecutions, executionToRow(exec)); err != nil {
		return fmt.Errorf("finalize execution: %w", err)
	}
	return nil
}

// IncrementExecutionCount bumps the routine's completed-run counter.
func (r *Repository) IncrementExecutionCount(ctx context.Context, routineID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	routine, err := r.findRoutineAnyStatus(ctx, routineID)
	if err != nil {
		return err
	}
	routine.TotalExecutions++
	at = at.UTC()
	routine.LastExecutedAt = &at
	if err := r.store.UpdateRow(ctx, sheet.TableRoutines, routineToRow(routine)); err != nil {
		return fmt.Errorf("increment execution count: %w", err)
	}
	return nil
}

// Executions lists a routine's history for its owner, newest first.
func (r *Repository) Executions(ctx context.Context, userID string, routineID int64) ([]Execution, error) {
	rows, err := r.store.Rows(ctx, sheet.TableExecutions)
	if err != nil {
		return nil, err
	}
	out := make([]Execution, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		exec := executionFromRow(rows[i])
		if exec.UserID != userID || exec.RoutineID != routineID {
			continue
		}
		out = append(out, exec)
	}
	return out, nil
}

func (r *Repository) AppendStepLog(ctx context.Context, l StepLog) (StepLog, error) {
	id, err := r.store.NextID(ctx, sheet.TableStepLogs)
	if err != nil {
		return StepLog{}, err
	}
	l.ID = id
	if l.LoggedAt.IsZero() {
		l.LoggedAt = r.now()
	}
	if err := r.store.AppendRow(ctx, sheet.TableStepLogs, stepLogToRow(l)); err != nil {
		return StepLog{}, fmt.Errorf("append step log: %w", err)
	}
	return l, nil
}

// StepLogs returns the per-step log of one execution in write order.
func (r *Repository) StepLogs(ctx context.Context, executionID int64) ([]StepLog, error) {
	rows, err := r.store.Rows(ctx, sheet.TableStepLogs)
	if err != nil {
		return nil, err
	}
	var out []StepLog
	for _, row := range rows {
		l := stepLogFromRow(row)
		if l.ExecutionID == executionID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *Repository) refreshEstimateLocked(ctx context.Context, routine Routine, steps []Step) error {
	total := 0
	for _, s := range steps {
		total += s.EstimatedMinutes
	}
	if total == routine.EstimatedMinutes {
		return nil
	}
	routine.EstimatedMinutes = total
	if err := r.store.UpdateRow(ctx, sheet.TableRoutines, routineToRow(routine)); err != nil {
		return fmt.Errorf("update routine estimate: %w", err)
	}
	return nil
}

func (r *Repository) findRoutine(ctx context.Context, routineID int64) (Routine, error) {
	routine, err := r.findRoutineAnyStatus(ctx, routineID)
	if err != nil {
		return Routine{}, err
	}
	if !routine.Visibility.Visible() {
		return Routine{}, ErrNotFound
	}
	return routine, nil
}

func (r *Repository) findRoutineAnyStatus(ctx context.Context, routineID int64) (Routine, error) {
	rows, err := r.store.Rows(ctx, sheet.TableRoutines)
	if err != nil {
		return Routine{}, err
	}
	for _, row := range rows {
		if row.ID == routineID {
			return routineFromRow(row), nil
		}
	}
	return Routine{}, ErrNotFound
}

func (r *Repository) findExecution(ctx context.Context, executionID int64) (Execution, error) {
	rows, err := r.store.Rows(ctx, sheet.TableExecutions)
	if err != nil {
		return Execution{}, err
	}
	for _, row := range rows {
		if row.ID == executionID {
			return executionFromRow(row), nil
		}
	}
	return Execution{}, fmt.Errorf("execution %d: %w", executionID, ErrNotFound)
}

func indexOfStep(steps []Step, stepID int64) int {
	for i := range steps {
		if steps[i].ID == stepID {
			return i
		}
	}
	return -1
}
