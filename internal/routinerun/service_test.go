package routinerun

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/habitbot/internal/habit"
	"github.com/ent0n29/habitbot/internal/habitlink"
	"github.com/ent0n29/habitbot/internal/routine"
	"github.com/ent0n29/habitbot/internal/session"
	"github.com/ent0n29/habitbot/internal/sheet"
)

var testNow = time.Date(2026, 10, 15, 7, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	store    sheet.Store
	routines *routine.Repository
	habits   *habit.Repository
	routine  routine.Routine
	steps    []routine.Step
}

func newFixture(t *testing.T, store sheet.Store) *fixture {
	t.Helper()
	ctx := context.Background()
	if store == nil {
		store = sheet.NewMemoryStore()
	}
	routines := routine.NewRepository(store)
	habits := habit.NewRepository(store)
	links := habitlink.NewRegistry(store, habits, nil, nil)
	links.SetClock(func() time.Time { return testNow })

	svc := New(Config{}, Deps{
		Routines: routines,
		Links:    links,
		Sessions: session.NewManager(0),
	})
	svc.SetClock(func() time.Time { return testNow })

	r, err := routines.CreateRoutine(ctx, "u1", routine.RoutineInput{Name: "Morning"})
	if err != nil {
		t.Fatalf("CreateRoutine() error = %v", err)
	}
	var steps []routine.Step
	for _, name := range []string{"Water", "Stretch", "Plan day"} {
		st, err := routines.AddStep(ctx, "u1", r.ID, routine.StepInput{Name: name, EstimatedMinutes: 5, Required: true})
		if err != nil {
			t.Fatalf("AddStep(%s) error = %v", name, err)
		}
		steps = append(steps, st)
	}
	return &fixture{svc: svc, store: store, routines: routines, habits: habits, routine: r, steps: steps}
}

func flush(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func TestRoutineRunEndToEndWithLinkedHabit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	h, err := f.habits.CreateHabit(ctx, "u1", "Stretching", "")
	if err != nil {
		t.Fatalf("CreateHabit() error = %v", err)
	}
	if _, err := f.svc.CreateLink(ctx, "u1", f.routine.ID, f.steps[1].ID, h.ID); err != nil {
		t.Fatalf("CreateLink() error = %v", err)
	}

	if _, err := f.svc.Start(ctx, "u1", f.routine.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first, err := f.svc.Next(ctx, "u1", "")
	if err != nil {
		t.Fatalf("Next #1 error = %v", err)
	}
	if first.Completed || first.Habit.Applied {
		t.Fatalf("Next #1 = %+v, want no completion and no habit", first)
	}
	second, err := f.svc.Next(ctx, "u1", "felt good")
	if err != nil {
		t.Fatalf("Next #2 error = %v", err)
	}
	if !second.Habit.Applied || second.Habit.HabitID != h.ID || second.Habit.Streak != 1 {
		t.Fatalf("Next #2 habit = %+v, want applied with streak 1", second.Habit)
	}
	third, err := f.svc.Next(ctx, "u1", "")
	if err != nil {
		t.Fatalf("Next #3 error = %v", err)
	}
	if !third.Completed || third.Summary == nil {
		t.Fatalf("Next #3 = %+v, want completed with summary", third)
	}
	if third.Summary.CompletionRate != 100 || third.Summary.CompletedSteps != 3 {
		t.Fatalf("summary = %+v", third.Summary)
	}
	if _, err := f.svc.Current("u1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Current() after completion error = %v, want ErrNotFound", err)
	}

	flush(t, f.svc)

	execs, err := f.routines.Executions(ctx, "u1", f.routine.ID)
	if err != nil {
		t.Fatalf("Executions() error = %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("executions = %d, want 1", len(execs))
	}
	exec := execs[0]
	if exec.Status != routine.ExecutionStatusCompleted || exec.CompletedSteps != 3 || exec.TotalSteps != 3 {
		t.Fatalf("execution = %+v", exec)
	}
	if exec.EndTime == "" || exec.Date != "2026-10-15" {
		t.Fatalf("execution not finalized: %+v", exec)
	}

	r, err := f.routines.GetRoutine(ctx, "u1", f.routine.ID)
	if err != nil {
		t.Fatalf("GetRoutine() error = %v", err)
	}
	if r.TotalExecutions != f.routine.TotalExecutions+1 {
		t.Fatalf("TotalExecutions = %d, want %d", r.TotalExecutions, f.routine.TotalExecutions+1)
	}

	logs, err := f.habits.LogsForDate(ctx, "u1", "2026-10-15")
	if err != nil {
		t.Fatalf("LogsForDate() error = %v", err)
	}
	if len(logs) != 1 || logs[0].HabitID != h.ID {
		t.Fatalf("habit logs = %+v, want one for habit %d", logs, h.ID)
	}

	stepLogs, err := f.routines.StepLogs(ctx, exec.ID)
	if err != nil {
		t.Fatalf("StepLogs() error = %v", err)
	}
	if len(stepLogs) != 3 {
		t.Fatalf("step logs = %d, want 3", len(stepLogs))
	}
}

func TestSkipDoesNotTriggerLink(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	h, _ := f.habits.CreateHabit(ctx, "u1", "Water", "")
	if _, err := f.svc.CreateLink(ctx, "u1", f.routine.ID, f.steps[0].ID, h.ID); err != nil {
		t.Fatalf("CreateLink() error = %v", err)
	}
	if _, err := f.svc.Start(ctx, "u1", f.routine.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	res, err := f.svc.Skip(ctx, "u1", "no time")
	if err != nil {
		t.Fatalf("Skip() error = %v", err)
	}
	if res.Habit.Applied || res.Session.CompletedSteps != 0 || res.Session.CurrentIndex != 1 {
		t.Fatalf("Skip() = %+v", res)
	}
	logs, _ := f.habits.LogsForDate(ctx, "u1", "2026-10-15")
	if len(logs) != 0 {
		t.Fatalf("habit logs = %d, want 0", len(logs))
	}
}

func TestStopAbortsWithoutCountingExecution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.svc.Start(ctx, "u1", f.routine.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := f.svc.Next(ctx, "u1", ""); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if _, changed, err := f.svc.Pause("u1"); err != nil || !changed {
		t.Fatalf("Pause() = %v, %v", changed, err)
	}
	if _, changed, err := f.svc.Pause("u1"); err != nil || changed {
		t.Fatalf("second Pause() = %v, %v; want no-op", changed, err)
	}
	if _, err := f.svc.Next(ctx, "u1", ""); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("Next() while paused error = %v, want ErrInvalidState", err)
	}

	summary, err := f.svc.Stop("u1", "interrupted")
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if summary.Status != routine.ExecutionStatusAborted || summary.CompletedSteps != 1 || summary.CompletionRate != 33 {
		t.Fatalf("summary = %+v", summary)
	}
	if _, err := f.svc.Stop("u1", ""); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("second Stop() error = %v, want ErrNotFound", err)
	}

	flush(t, f.svc)
	execs, _ := f.routines.Executions(ctx, "u1", f.routine.ID)
	if len(execs) != 1 || execs[0].Status != routine.ExecutionStatusAborted || execs[0].CompletedSteps != 1 {
		t.Fatalf("executions = %+v", execs)
	}
	r, _ := f.routines.GetRoutine(ctx, "u1", f.routine.ID)
	if r.TotalExecutions != 0 {
		t.Fatalf("TotalExecutions = %d, want 0", r.TotalExecutions)
	}

	stats, err := f.svc.Stats(ctx, "u1", f.routine.ID)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalExecutions != 1 || stats.CompletionRate != 0 || stats.AverageStepCompletionRate != 33 {
		t.Fatalf("Stats() = %+v", stats)
	}
}

func TestStartGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	empty, err := f.routines.CreateRoutine(ctx, "u1", routine.RoutineInput{Name: "Empty"})
	if err != nil {
		t.Fatalf("CreateRoutine() error = %v", err)
	}
	if _, err := f.svc.Start(ctx, "u1", empty.ID); !errors.Is(err, session.ErrEmptyRoutine) {
		t.Fatalf("Start(empty) error = %v, want ErrEmptyRoutine", err)
	}
	if _, err := f.svc.Start(ctx, "u2", f.routine.ID); !errors.Is(err, routine.ErrForbidden) {
		t.Fatalf("Start(other user) error = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.Start(ctx, "u1", f.routine.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := f.svc.Start(ctx, "u1", f.routine.ID); !errors.Is(err, session.ErrAlreadyActive) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyActive", err)
	}
	flush(t, f.svc)
	execs, _ := f.routines.Executions(ctx, "u1", f.routine.ID)
	if len(execs) != 1 {
		t.Fatalf("executions = %d, want 1 stub", len(execs))
	}
}

func TestConcurrentStartsCreateOneExecution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Start(ctx, "u1", f.routine.ID)
		}()
	}
	wg.Wait()
	execs, _ := f.routines.Executions(ctx, "u1", f.routine.ID)
	if len(execs) != 1 {
		t.Fatalf("executions = %d, want 1", len(execs))
	}
}

func TestCreateLinkValidatesRoutineAndStep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	h, _ := f.habits.CreateHabit(ctx, "u1", "Water", "")

	if _, err := f.svc.CreateLink(ctx, "u2", f.routine.ID, f.steps[0].ID, h.ID); !errors.Is(err, routine.ErrForbidden) {
		t.Fatalf("CreateLink(other user) error = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.CreateLink(ctx, "u1", f.routine.ID, 9999, h.ID); !errors.Is(err, ErrStepNotFound) {
		t.Fatalf("CreateLink(missing step) error = %v, want ErrStepNotFound", err)
	}
	link, err := f.svc.CreateLink(ctx, "u1", f.routine.ID, f.steps[0].ID, h.ID)
	if err != nil {
		t.Fatalf("CreateLink() error = %v", err)
	}
	if _, err := f.svc.CreateLink(ctx, "u1", f.routine.ID, f.steps[0].ID, h.ID); !errors.Is(err, habitlink.ErrDuplicateLink) {
		t.Fatalf("duplicate CreateLink() error = %v, want ErrDuplicateLink", err)
	}
	links, _ := f.svc.ListLinks(ctx, "u1")
	if len(links) != 1 || links[0].ID != link.ID {
		t.Fatalf("ListLinks() = %+v", links)
	}
	if err := f.svc.RemoveLink(ctx, "u1", link.ID); err != nil {
		t.Fatalf("RemoveLink() error = %v", err)
	}
}

// failingStore rejects writes to the execution table.
type failingStore struct {
	sheet.Store
}

var errStoreDown = errors.New("store down")

func (s failingStore) AppendRow(ctx context.Context, table string, row sheet.Row) error {
	if table == sheet.TableExecutions {
		return errStoreDown
	}
	return s.Store.AppendRow(ctx, table, row)
}

func TestPersistenceFailureDoesNotBlockSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, failingStore{Store: sheet.NewMemoryStore()})

	s, err := f.svc.Start(ctx, "u1", f.routine.ID)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.ExecutionID != 0 {
		t.Fatalf("ExecutionID = %d, want 0 after failed stub", s.ExecutionID)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.svc.Next(ctx, "u1", ""); err != nil {
			t.Fatalf("Next #%d error = %v", i+1, err)
		}
	}
	flush(t, f.svc)

	r, _ := f.routines.GetRoutine(ctx, "u1", f.routine.ID)
	if r.TotalExecutions != 1 {
		t.Fatalf("TotalExecutions = %d, want 1", r.TotalExecutions)
	}
}

func TestEventsStreamToSubscribers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	ch, cancel := f.svc.Sessions().Subscribe("u1")
	defer cancel()

	if _, err := f.svc.Start(ctx, "u1", f.routine.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := f.svc.Skip(ctx, "u1", ""); err != nil {
		t.Fatalf("Skip() error = %v", err)
	}
	if _, err := f.svc.Stop("u1", "done"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	want := []session.EventType{session.EventSessionStarted, session.EventStepSkipped, session.EventSessionAborted}
	for _, typ := range want {
		select {
		case evt := <-ch:
			if evt.Type != typ {
				t.Fatalf("event = %q, want %q", evt.Type, typ)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", typ)
		}
	}
}

func TestStepNotesAreRedactedBeforeStorage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s, err := f.svc.Start(ctx, "u1", f.routine.ID)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := f.svc.Next(ctx, "u1", "text coach at coach@example.com"); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	flush(t, f.svc)

	logs, err := f.routines.StepLogs(ctx, s.ExecutionID)
	if err != nil {
		t.Fatalf("StepLogs() error = %v", err)
	}
	if len(logs) != 1 || logs[0].Note != "text coach at [email]" {
		t.Fatalf("step logs = %+v", logs)
	}
}

func TestCloseDropsLateWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.svc.Start(ctx, "u1", f.routine.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := f.svc.Close(closeCtx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// A session finished after Close, as the idle janitor might do during
	// shutdown, still reports but leaves the record untouched.
	summary, err := f.svc.Stop("u1", "shutdown")
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if summary.Status != routine.ExecutionStatusAborted {
		t.Fatalf("summary status = %q, want %q", summary.Status, routine.ExecutionStatusAborted)
	}
	flush(t, f.svc)

	execs, err := f.routines.Executions(ctx, "u1", f.routine.ID)
	if err != nil {
		t.Fatalf("Executions() error = %v", err)
	}
	if len(execs) != 1 || execs[0].Status != routine.ExecutionStatusRunning {
		t.Fatalf("executions = %+v, want one still running", execs)
	}
}
