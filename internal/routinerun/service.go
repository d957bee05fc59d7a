package routinerun

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/habitbot/internal/events"
	"github.com/ent0n29/habitbot/internal/habit"
	"github.com/ent0n29/habitbot/internal/habitlink"
	"github.com/ent0n29/habitbot/internal/logging"
	"github.com/ent0n29/habitbot/internal/observability"
	"github.com/ent0n29/habitbot/internal/policy"
	"github.com/ent0n29/habitbot/internal/routine"
	"github.com/ent0n29/habitbot/internal/session"
)

type Config struct {
	LinkTimeout    time.Duration
	PersistTimeout time.Duration
	Location       *time.Location
}

type Deps struct {
	Routines  *routine.Repository
	Links     *habitlink.Registry
	Sessions  *session.Manager
	Publisher events.Publisher
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

// Service drives routine sessions for chat commands. Commands for the same
// user are serialized; durable bookkeeping after each transition is best
// effort and never fails the command.
type Service struct {
	cfg       Config
	routines  *routine.Repository
	links     *habitlink.Registry
	sessions  *session.Manager
	publisher events.Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time

	locksMu   sync.Mutex
	userLocks map[string]*sync.Mutex

	pendingMu sync.Mutex
	closed    bool
	pending   sync.WaitGroup
}

// StepResult is what a user sees after moving past a step.
type StepResult struct {
	Session   *session.Session   `json:"session"`
	Step      routine.Step       `json:"step"`
	NextStep  *routine.Step      `json:"next_step,omitempty"`
	Completed bool               `json:"completed"`
	Habit     habitlink.Result   `json:"habit"`
	Summary   *CompletionSummary `json:"summary,omitempty"`
}

type CompletionSummary struct {
	SessionID      string                  `json:"session_id"`
	RoutineID      int64                   `json:"routine_id"`
	RoutineName    string                  `json:"routine_name"`
	Status         routine.ExecutionStatus `json:"status"`
	CompletedSteps int                     `json:"completed_steps"`
	TotalSteps     int                     `json:"total_steps"`
	Duration       time.Duration           `json:"-"`
	DurationSecs   int                     `json:"duration_seconds"`
	Elapsed        string                  `json:"elapsed"`
	CompletionRate int                     `json:"completion_rate"`
}

func New(cfg Config, deps Deps) *Service {
	if cfg.LinkTimeout <= 0 {
		cfg.LinkTimeout = 5 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	loc := cfg.Location
	s := &Service{
		cfg:       cfg,
		routines:  deps.Routines,
		links:     deps.Links,
		sessions:  deps.Sessions,
		publisher: publisher,
		metrics:   deps.Metrics,
		logger:    logging.OrNop(deps.Logger),
		now:       func() time.Time { return time.Now().In(loc) },
		userLocks: make(map[string]*sync.Mutex),
	}
	s.sessions.SetExpireHook(s.onExpired)
	return s
}

// SetClock overrides the local clock used for execution dates.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Sessions() *session.Manager {
	return s.sessions
}

func (s *Service) lockUser(userID string) func() {
	s.locksMu.Lock()
	mu, ok := s.userLocks[userID]
	if !ok {
		mu = &sync.Mutex{}
		s.userLocks[userID] = mu
	}
	s.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (s *Service) Start(ctx context.Context, userID string, routineID int64) (*session.Session, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	if _, err := s.sessions.Get(userID); err == nil {
		return nil, session.ErrAlreadyActive
	}
	r, err := s.routines.GetRoutine(ctx, userID, routineID)
	if err != nil {
		return nil, err
	}
	steps, err := s.routines.Steps(ctx, routineID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, session.ErrEmptyRoutine
	}

	log := logging.WithUser(s.logger, userID).With(zap.Int64("routine_id", routineID))
	now := s.now()
	var executionID int64
	pctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	exec, err := s.routines.CreateExecution(pctx, routine.Execution{
		UserID:     userID,
		RoutineID:  routineID,
		Date:       now.Format(habit.DateLayout),
		StartTime:  now.Format("15:04"),
		Status:     routine.ExecutionStatusRunning,
		TotalSteps: len(steps),
	})
	cancel()
	if err != nil {
		log.Warn("execution record not created; session continues unrecorded", zap.Error(err))
		s.metrics.ObservePersistenceFailure("create_execution")
	} else {
		executionID = exec.ID
	}

	snap, err := s.sessions.Start(session.StartRequest{
		UserID:      userID,
		Routine:     r,
		Steps:       steps,
		ExecutionID: executionID,
	})
	if err != nil {
		return nil, err
	}
	log.Info("routine session started",
		zap.String("session_id", snap.ID),
		zap.Int64("execution_id", executionID),
		zap.Int("steps", snap.TotalSteps()),
	)
	s.metrics.ObserveSessionEvent(string(session.EventSessionStarted))
	s.metrics.SetActiveSessions(s.sessions.ActiveCount())
	s.sessions.Publish(session.NewEvent(session.EventSessionStarted, snap, snap.StartedAt))
	return snap, nil
}

func (s *Service) Current(userID string) (*session.Session, error) {
	return s.sessions.Get(userID)
}

// Next completes the current step. notes is stored with the step log.
func (s *Service) Next(ctx context.Context, userID, notes string) (StepResult, error) {
	return s.advance(ctx, userID, routine.StepOutcomeCompleted, notes)
}

// Skip moves past the current step. reason is stored with the step log.
func (s *Service) Skip(ctx context.Context, userID, reason string) (StepResult, error) {
	return s.advance(ctx, userID, routine.StepOutcomeSkipped, reason)
}

func (s *Service) advance(ctx context.Context, userID string, outcome routine.StepOutcome, note string) (StepResult, error) {
	unlock := s.lockUser(userID)
	defer unlock()
	note = s.redact(userID, note)

	var (
		step routine.Step
		done bool
	)
	snap, err := s.sessions.Apply(userID, func(sess *session.Session, now time.Time) error {
		current, ok := sess.CurrentStep()
		if !ok {
			return session.ErrInvalidState
		}
		step = current
		var err error
		if outcome == routine.StepOutcomeCompleted {
			done, err = sess.Next(now)
		} else {
			done, err = sess.Skip(now)
		}
		return err
	})
	if err != nil {
		return StepResult{}, err
	}

	res := StepResult{Session: snap, Step: step, Completed: done}
	if nextStep, ok := snap.CurrentStep(); ok {
		res.NextStep = &nextStep
	}

	if snap.ExecutionID > 0 {
		stepLog := routine.StepLog{
			ExecutionID: snap.ExecutionID,
			StepID:      step.ID,
			Outcome:     outcome,
			Note:        note,
			LoggedAt:    snap.LastActivityAt,
		}
		s.goPersist(userID, "step_log", func(ctx context.Context) error {
			_, err := s.routines.AppendStepLog(ctx, stepLog)
			return err
		})
	}

	evtType := session.EventStepSkipped
	if outcome == routine.StepOutcomeCompleted {
		evtType = session.EventStepCompleted
	}
	evt := session.NewEvent(evtType, snap, snap.LastActivityAt)
	evt.StepID = step.ID
	evt.Detail = note
	s.metrics.ObserveSessionEvent(string(evtType))
	s.sessions.Publish(evt)

	if outcome == routine.StepOutcomeCompleted && s.links != nil {
		lctx, cancel := context.WithTimeout(ctx, s.cfg.LinkTimeout)
		res.Habit = s.links.ProcessStepCompletion(lctx, userID, snap.RoutineID, step.ID, outcome)
		cancel()
		if res.Habit.Applied {
			s.habitLogged(snap, step, res.Habit)
		}
	}

	if done {
		summary := s.finalize(snap, "")
		res.Summary = &summary
	}
	return res, nil
}

func (s *Service) habitLogged(snap *session.Session, step routine.Step, hr habitlink.Result) {
	at := s.now()
	evt := session.NewEvent(session.EventHabitLogged, snap, at)
	evt.StepID = step.ID
	evt.HabitID = hr.HabitID
	evt.HabitName = hr.HabitName
	evt.Streak = hr.Streak
	s.sessions.Publish(evt)

	payload := events.HabitAutoLogged{
		UserID:    snap.UserID,
		RoutineID: snap.RoutineID,
		StepID:    step.ID,
		HabitID:   hr.HabitID,
		HabitName: hr.HabitName,
		Streak:    hr.Streak,
		LoggedAt:  at.UTC(),
	}
	s.goPersist(snap.UserID, "publish_habit_logged", func(ctx context.Context) error {
		return s.publisher.Publish(ctx, events.RoutingHabitAutoLogged, payload)
	})
}

// Pause is a no-op unless the session is running; changed reports whether it applied.
func (s *Service) Pause(userID string) (*session.Session, bool, error) {
	return s.toggle(userID, session.EventSessionPaused, (*session.Session).Pause)
}

// Resume is a no-op unless the session is paused.
func (s *Service) Resume(userID string) (*session.Session, bool, error) {
	return s.toggle(userID, session.EventSessionResumed, (*session.Session).Resume)
}

func (s *Service) toggle(userID string, evtType session.EventType, fn func(*session.Session, time.Time) bool) (*session.Session, bool, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	var changed bool
	snap, err := s.sessions.Apply(userID, func(sess *session.Session, now time.Time) error {
		changed = fn(sess, now)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.metrics.ObserveSessionEvent(string(evtType))
		s.sessions.Publish(session.NewEvent(evtType, snap, snap.LastActivityAt))
	}
	return snap, changed, nil
}

// Stop aborts the user's session from running or paused.
func (s *Service) Stop(userID, reason string) (CompletionSummary, error) {
	unlock := s.lockUser(userID)
	defer unlock()
	reason = s.redact(userID, reason)

	snap, err := s.sessions.Apply(userID, func(sess *session.Session, now time.Time) error {
		return sess.Abort(now)
	})
	if err != nil {
		return CompletionSummary{}, err
	}
	return s.finalize(snap, reason), nil
}

func (s *Service) onExpired(snap *session.Session) {
	logging.WithUser(s.logger, snap.UserID).Info("routine session expired after inactivity",
		zap.String("session_id", snap.ID),
		zap.Int64("routine_id", snap.RoutineID),
	)
	s.finalize(snap, "idle timeout")
}

// finalize reports a session that just reached a terminal status and
// schedules the execution record update.
func (s *Service) finalize(snap *session.Session, reason string) CompletionSummary {
	result := snap.Result()
	summary := CompletionSummary{
		SessionID:      snap.ID,
		RoutineID:      snap.RoutineID,
		RoutineName:    snap.RoutineName,
		Status:         result.Status,
		CompletedSteps: result.CompletedSteps,
		TotalSteps:     result.TotalSteps,
		Duration:       result.Elapsed,
		DurationSecs:   int(result.Elapsed / time.Second),
		Elapsed:        routine.FormatElapsed(result.Elapsed),
		CompletionRate: completionRate(result.CompletedSteps, result.TotalSteps),
	}

	evtType := session.EventSessionAborted
	routingKey := events.RoutingRoutineAborted
	if result.Status == routine.ExecutionStatusCompleted {
		evtType = session.EventSessionCompleted
		routingKey = events.RoutingRoutineCompleted
		s.metrics.ObserveRoutineDuration(result.Elapsed)
	}
	s.metrics.ObserveSessionEvent(string(evtType))
	s.metrics.SetActiveSessions(s.sessions.ActiveCount())
	evt := session.NewEvent(evtType, snap, snap.LastActivityAt)
	evt.Detail = reason
	s.sessions.Publish(evt)

	logging.WithUser(s.logger, snap.UserID).Info("routine session finished",
		zap.String("session_id", snap.ID),
		zap.Int64("routine_id", snap.RoutineID),
		zap.String("status", string(result.Status)),
		zap.Int("completed_steps", result.CompletedSteps),
		zap.Int("total_steps", result.TotalSteps),
		zap.Duration("elapsed", result.Elapsed),
	)

	if snap.ExecutionID > 0 {
		s.goPersist(snap.UserID, "finalize_execution", func(ctx context.Context) error {
			return s.routines.FinalizeExecution(ctx, snap.ExecutionID, result)
		})
	}
	if result.Status == routine.ExecutionStatusCompleted {
		at := snap.LastActivityAt
		if snap.EndedAt != nil {
			at = *snap.EndedAt
		}
		s.goPersist(snap.UserID, "increment_executions", func(ctx context.Context) error {
			return s.routines.IncrementExecutionCount(ctx, snap.RoutineID, at)
		})
	}

	payload := events.RoutineFinished{
		UserID:         snap.UserID,
		SessionID:      snap.ID,
		RoutineID:      snap.RoutineID,
		RoutineName:    snap.RoutineName,
		ExecutionID:    snap.ExecutionID,
		Status:         string(result.Status),
		CompletedSteps: result.CompletedSteps,
		TotalSteps:     result.TotalSteps,
		ElapsedSeconds: int(result.Elapsed / time.Second),
		Reason:         reason,
		FinishedAt:     snap.LastActivityAt.UTC(),
	}
	s.goPersist(snap.UserID, "publish_"+string(result.Status), func(ctx context.Context) error {
		return s.publisher.Publish(ctx, routingKey, payload)
	})
	return summary
}

// redact masks personal data in free text before it is stored or published.
func (s *Service) redact(userID, text string) string {
	out, kinds := policy.RedactNote(text)
	if len(kinds) > 0 {
		logging.WithUser(s.logger, userID).Debug("masked personal data in note", zap.Strings("kinds", kinds))
	}
	return out
}

func completionRate(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

// goPersist runs a best-effort write off the command path. Failures are
// logged and counted, never returned.
//
// After Close, writes are dropped so a late caller such as the idle janitor
// cannot add to the WaitGroup while Close waits on it.
func (s *Service) goPersist(userID, op string, fn func(ctx context.Context) error) {
	s.pendingMu.Lock()
	if s.closed {
		s.pendingMu.Unlock()
		logging.WithUser(s.logger, userID).Warn("persistence skipped after close", zap.String("op", op))
		s.metrics.ObservePersistenceFailure(op)
		return
	}
	s.pending.Add(1)
	s.pendingMu.Unlock()
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			logging.WithUser(s.logger, userID).Warn("best-effort persistence failed",
				zap.String("op", op),
				zap.Error(err),
			)
			s.metrics.ObservePersistenceFailure(op)
		}
	}()
}

// Flush waits for outstanding best-effort writes.
func (s *Service) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting best-effort writes, drains the outstanding ones and
// closes the publisher.
func (s *Service) Close(ctx context.Context) error {
	s.pendingMu.Lock()
	s.closed = true
	s.pendingMu.Unlock()

	flushErr := s.Flush(ctx)
	closeErr := s.publisher.Close()
	return errors.Join(flushErr, closeErr)
}

func (s *Service) Stats(ctx context.Context, userID string, routineID int64) (routine.ExecutionStats, error) {
	if _, err := s.routines.GetRoutine(ctx, userID, routineID); err != nil {
		return routine.ExecutionStats{}, err
	}
	execs, err := s.routines.Executions(ctx, userID, routineID)
	if err != nil {
		return routine.ExecutionStats{}, err
	}
	return routine.ComputeStats(execs), nil
}

// History returns up to limit executions, newest first. limit <= 0 returns all.
func (s *Service) History(ctx context.Context, userID string, routineID int64, limit int) ([]routine.Execution, error) {
	if _, err := s.routines.GetRoutine(ctx, userID, routineID); err != nil {
		return nil, err
	}
	execs, err := s.routines.Executions(ctx, userID, routineID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(execs) > limit {
		execs = execs[:limit]
	}
	return execs, nil
}

var ErrStepNotFound = errors.New("step not found in routine")

// CreateLink links a step of one of the user's routines to one of their habits.
func (s *Service) CreateLink(ctx context.Context, userID string, routineID, stepID, habitID int64) (habitlink.Link, error) {
	if _, err := s.routines.GetRoutine(ctx, userID, routineID); err != nil {
		return habitlink.Link{}, err
	}
	steps, err := s.routines.Steps(ctx, routineID)
	if err != nil {
		return habitlink.Link{}, err
	}
	found := false
	for _, st := range steps {
		if st.ID == stepID {
			found = true
			break
		}
	}
	if !found {
		return habitlink.Link{}, ErrStepNotFound
	}
	return s.links.CreateLink(ctx, userID, routineID, stepID, habitID)
}

func (s *Service) RemoveLink(ctx context.Context, userID string, linkID int64) error {
	return s.links.RemoveLink(ctx, userID, linkID)
}

func (s *Service) ListLinks(ctx context.Context, userID string) ([]habitlink.Link, error) {
	return s.links.ListLinks(ctx, userID)
}

func (s *Service) LinkStats(ctx context.Context, userID string) (habitlink.Stats, error) {
	return s.links.LinkStats(ctx, userID)
}
