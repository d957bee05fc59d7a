package habitlink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/habitbot/internal/habit"
	"github.com/ent0n29/habitbot/internal/logging"
	"github.com/ent0n29/habitbot/internal/observability"
	"github.com/ent0n29/habitbot/internal/routine"
	"github.com/ent0n29/habitbot/internal/sheet"
)

var (
	ErrDuplicateLink = errors.New("step already linked to a habit")
	ErrNotFound      = errors.New("link not found")
	ErrForbidden     = errors.New("link target belongs to another user")
)

type Registry struct {
	// mu serializes check-then-write sequences: duplicate-link checks on
	// create and the already-logged check on step completion.
	mu      sync.Mutex
	store   sheet.Store
	habits  HabitStore
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewRegistry(store sheet.Store, habits HabitStore, logger *zap.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		store:   store,
		habits:  habits,
		logger:  logging.OrNop(logger),
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock overrides the clock used to decide what "today" is.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *Registry) CreateLink(ctx context.Context, userID string, routineID, stepID, habitID int64) (Link, error) {
	h, err := r.habits.GetHabit(ctx, habitID)
	if err != nil {
		if errors.Is(err, habit.ErrNotFound) {
			return Link{}, fmt.Errorf("habit %d: %w", habitID, ErrNotFound)
		}
		return Link{}, err
	}
	if h.UserID != userID {
		return Link{}, ErrForbidden
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	links, err := r.activeLinks(ctx)
	if err != nil {
		return Link{}, err
	}
	for _, l := range links {
		if l.RoutineID == routineID && l.StepID == stepID {
			return Link{}, ErrDuplicateLink
		}
	}

	id, err := r.store.NextID(ctx, sheet.TableHabitLinks)
	if err != nil {
		return Link{}, err
	}
	link := Link{
		ID:         id,
		UserID:     userID,
		RoutineID:  routineID,
		StepID:     stepID,
		HabitID:    habitID,
		Type:       LinkTypeCompletion,
		Visibility: sheet.VisibilityActive,
		CreatedAt:  r.now().UTC(),
	}
	if err := r.store.AppendRow(ctx, sheet.TableHabitLinks, linkToRow(link)); err != nil {
		return Link{}, fmt.Errorf("create link: %w", err)
	}
	r.logger.Info("habit link created",
		zap.String("user_id", userID),
		zap.Int64("link_id", link.ID),
		zap.Int64("routine_id", routineID),
		zap.Int64("step_id", stepID),
		zap.Int64("habit_id", habitID),
	)
	return link, nil
}

// RemoveLink soft-deletes a link owned by userID.
func (r *Registry) RemoveLink(ctx context.Context, userID string, linkID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	links, err := r.activeLinks(ctx)
	if err != nil {
		return err
	}
	for _, l := range links {
		if l.ID != linkID {
			continue
		}
		if l.UserID != userID {
			return ErrForbidden
		}
		l.Visibility = sheet.VisibilityInactive
		if err := r.store.UpdateRow(ctx, sheet.TableHabitLinks, linkToRow(l)); err != nil {
			return fmt.Errorf("remove link: %w", err)
		}
		return nil
	}
	return ErrNotFound
}

func (r *Registry) ListLinks(ctx context.Context, userID string) ([]Link, error) {
	links, err := r.activeLinks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Link, 0, len(links))
	for _, l := range links {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

// ResolveLinkForStep returns the active link on (routineID, stepID), if any.
func (r *Registry) ResolveLinkForStep(ctx context.Context, routineID, stepID int64) (Link, bool, error) {
	links, err := r.activeLinks(ctx)
	if err != nil {
		return Link{}, false, err
	}
	for _, l := range links {
		if l.RoutineID == routineID && l.StepID == stepID {
			return l, true, nil
		}
	}
	return Link{}, false, nil
}

// ProcessStepCompletion logs the habit linked to a completed step, at most
// once per day. It never fails: errors are logged and reported as no effect.
func (r *Registry) ProcessStepCompletion(ctx context.Context, userID string, routineID, stepID int64, outcome routine.StepOutcome) Result {
	if outcome != routine.StepOutcomeCompleted {
		return Result{}
	}
	log := r.logger.With(
		zap.String("user_id", userID),
		zap.Int64("routine_id", routineID),
		zap.Int64("step_id", stepID),
	)

	res, err := r.processCompleted(ctx, userID, routineID, stepID)
	if err != nil {
		log.Warn("linked habit processing failed", zap.Error(err))
		r.metrics.ObserveHabitAutoLog("error")
		return Result{}
	}
	switch {
	case res.Applied:
		log.Info("linked habit logged",
			zap.Int64("habit_id", res.HabitID),
			zap.Int("streak", res.Streak),
		)
		r.metrics.ObserveHabitAutoLog("logged")
	case res.AlreadyLogged:
		log.Debug("linked habit already logged today", zap.Int64("habit_id", res.HabitID))
		r.metrics.ObserveHabitAutoLog("already_logged")
	}
	return res
}

func (r *Registry) processCompleted(ctx context.Context, userID string, routineID, stepID int64) (Result, error) {
	link, ok, err := r.ResolveLinkForStep(ctx, routineID, stepID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve link: %w", err)
	}
	if !ok || link.UserID != userID {
		return Result{}, nil
	}
	h, err := r.habits.GetHabit(ctx, link.HabitID)
	if err != nil {
		return Result{}, fmt.Errorf("load habit %d: %w", link.HabitID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	today := r.now()
	date := today.Format(habit.DateLayout)
	logs, err := r.habits.LogsForDate(ctx, userID, date)
	if err != nil {
		return Result{}, fmt.Errorf("read habit logs: %w", err)
	}
	for _, l := range logs {
		if l.HabitID == link.HabitID {
			return Result{AlreadyLogged: true, LinkID: link.ID, HabitID: h.ID, HabitName: h.Name}, nil
		}
	}

	if _, err := r.habits.AppendLog(ctx, userID, link.HabitID, date, habit.SourceRoutine); err != nil {
		return Result{}, fmt.Errorf("append habit log: %w", err)
	}
	streak, err := r.habits.RecomputeStreak(ctx, userID, link.HabitID, today)
	if err != nil {
		return Result{}, fmt.Errorf("recompute streak: %w", err)
	}
	return Result{
		Applied:   true,
		LinkID:    link.ID,
		HabitID:   h.ID,
		HabitName: h.Name,
		Streak:    streak,
	}, nil
}

// LinkStats summarizes how the user's linked habits are doing today and this week.
func (r *Registry) LinkStats(ctx context.Context, userID string) (Stats, error) {
	links, err := r.ListLinks(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{TotalLinks: len(links)}
	if len(links) == 0 {
		return stats, nil
	}
	linked := make(map[int64]struct{}, len(links))
	for _, l := range links {
		linked[l.HabitID] = struct{}{}
	}

	r.mu.Lock()
	today := r.now()
	r.mu.Unlock()
	weekStart := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))

	weekLogs, err := r.habits.LogsBetween(ctx, userID, weekStart.Format(habit.DateLayout), today.Format(habit.DateLayout))
	if err != nil {
		return Stats{}, err
	}
	todayDate := today.Format(habit.DateLayout)
	var todayLogs []habit.Log
	for _, l := range weekLogs {
		if _, ok := linked[l.HabitID]; !ok {
			continue
		}
		stats.WeekLogs++
		if l.Date == todayDate {
			todayLogs = append(todayLogs, l)
		}
	}
	stats.TodayLogged = len(habit.DistinctHabits(todayLogs))
	stats.TodayRate = math.Round(float64(stats.TodayLogged)/float64(stats.TotalLinks)*1000) / 10
	return stats, nil
}

func (r *Registry) activeLinks(ctx context.Context) ([]Link, error) {
	rows, err := r.store.Rows(ctx, sheet.TableHabitLinks)
	if err != nil {
		return nil, err
	}
	out := make([]Link, 0, len(rows))
	for _, row := range rows {
		l := linkFromRow(row)
		if l.Visibility.Visible() {
			out = append(out, l)
		}
	}
	return out, nil
}
