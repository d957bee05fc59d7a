package habit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/habitbot/internal/sheet"
)

// DateLayout is the per-day key used by habit logs.
const DateLayout = "2006-01-02"

var ErrNotFound = errors.New("habit not found")

type Source string

const (
	SourceManual  Source = "manual"
	SourceRoutine Source = "routine"
)

type Habit struct {
	ID            int64            `json:"id"`
	UserID        string           `json:"user_id"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	Visibility    sheet.Visibility `json:"status"`
	CurrentStreak int              `json:"current_streak"`
	BestStreak    int              `json:"best_streak"`
	CreatedAt     time.Time        `json:"created_at"`
}

type Log struct {
	ID       int64     `json:"id"`
	UserID   string    `json:"user_id"`
	HabitID  int64     `json:"habit_id"`
	Date     string    `json:"date"`
	Source   Source    `json:"source"`
	LoggedAt time.Time `json:"logged_at"`
}

// Repository is the habit domain's sheet-backed store.
type Repository struct {
	mu    sync.Mutex
	store sheet.Store
	now   func() time.Time
}

func NewRepository(store sheet.Store) *Repository {
	return &Repository{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Repository) CreateHabit(ctx context.Context, userID, name, description string) (Habit, error) {
	userID = strings.TrimSpace(userID)
	name = strings.TrimSpace(name)
	if userID == "" {
		return Habit{}, errors.New("user_id is required")
	}
	if name == "" {
		return Habit{}, errors.New("habit name is required")
	}
	id, err := r.store.NextID(ctx, sheet.TableHabits)
	if err != nil {
		return Habit{}, err
	}
	h := Habit{
		ID:          id,
		UserID:      userID,
		Name:        name,
		Description: strings.TrimSpace(description),
		Visibility:  sheet.VisibilityActive,
		CreatedAt:   r.now(),
	}
	if err := r.store.AppendRow(ctx, sheet.TableHabits, habitToRow(h)); err != nil {
		return Habit{}, fmt.Errorf("create habit: %w", err)
	}
	return h, nil
}

func (r *Repository) ListHabits(ctx context.Context, userID string) ([]Habit, error) {
	rows, err := r.store.Rows(ctx, sheet.TableHabits)
	if err != nil {
		return nil, err
	}
	var out []Habit
	for _, row := range rows {
		h := habitFromRow(row)
		if h.UserID == userID && h.Visibility.Visible() {
			out = append(out, h)
		}
	}
	return out, nil
}

// GetHabit returns an active habit regardless of owner; callers check ownership.
func (r *Repository) GetHabit(ctx context.Context, habitID int64) (Habit, error) {
	rows, err := r.store.Rows(ctx, sheet.TableHabits)
	if err != nil {
		return Habit{}, err
	}
	for _, row := range rows {
		if row.ID != habitID {
			continue
		}
		h := habitFromRow(row)
		if !h.Visibility.Visible() {
			break
		}
		return h, nil
	}
	return Habit{}, ErrNotFound
}

func (r *Repository) LogsForDate(ctx context.Context, userID, date string) ([]Log, error) {
	return r.LogsBetween(ctx, userID, date, date)
}

// LogsBetween returns the user's logs dated within [from, to], inclusive.
func (r *Repository) LogsBetween(ctx context.Context, userID, from, to string) ([]Log, error) {
	rows, err := r.store.Rows(ctx, sheet.TableHabitLogs)
	if err != nil {
		return nil, err
	}
	var out []Log
	for _, row := range rows {
		l := logFromRow(row)
		if l.UserID != userID {
			continue
		}
		// ISO dates compare correctly as strings.
		if l.Date < from || l.Date > to {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *Repository) AppendLog(ctx context.Context, userID string, habitID int64, date string, source Source) (Log, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return Log{}, fmt.Errorf("invalid log date %q: %w", date, err)
	}
	id, err := r.store.NextID(ctx, sheet.TableHabitLogs)
	if err != nil {
		return Log{}, err
	}
	l := Log{
		ID:       id,
		UserID:   userID,
		HabitID:  habitID,
		Date:     date,
		Source:   source,
		LoggedAt: r.now(),
	}
	if err := r.store.AppendRow(ctx, sheet.TableHabitLogs, logToRow(l)); err != nil {
		return Log{}, fmt.Errorf("append habit log: %w", err)
	}
	return l, nil
}

// RecomputeStreak recalculates and persists the habit's current and best streak.
func (r *Repository) RecomputeStreak(ctx context.Context, userID string, habitID int64, today time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, err := r.GetHabit(ctx, habitID)
	if err != nil {
		return 0, err
	}
	rows, err := r.store.Rows(ctx, sheet.TableHabitLogs)
	if err != nil {
		return 0, err
	}
	var dates []string
	for _, row := range rows {
		l := logFromRow(row)
		if l.UserID == userID && l.HabitID == habitID {
			dates = append(dates, l.Date)
		}
	}

	streak := Streak(dates, today)
	h.CurrentStreak = streak
	if streak > h.BestStreak {
		h.BestStreak = streak
	}
	if err := r.store.UpdateRow(ctx, sheet.TableHabits, habitToRow(h)); err != nil {
		return 0, fmt.Errorf("update habit streak: %w", err)
	}
	return streak, nil
}

// Streak counts consecutive logged days ending today, or ending yesterday when
// today has not been logged yet.
func Streak(dates []string, today time.Time) int {
	days := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		days[d] = struct{}{}
	}
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if _, ok := days[day.Format(DateLayout)]; !ok {
		day = day.AddDate(0, 0, -1)
	}
	streak := 0
	for {
		if _, ok := days[day.Format(DateLayout)]; !ok {
			return streak
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
}

// DistinctHabits returns the sorted set of habit ids present in logs.
func DistinctHabits(logs []Log) []int64 {
	seen := make(map[int64]struct{}, len(logs))
	var out []int64
	for _, l := range logs {
		if _, ok := seen[l.HabitID]; ok {
			continue
		}
		seen[l.HabitID] = struct{}{}
		out = append(out, l.HabitID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func habitToRow(h Habit) sheet.Row {
	created := h.CreatedAt
	return sheet.Row{ID: h.ID, Values: []string{
		h.UserID,
		h.Name,
		h.Description,
		string(h.Visibility),
		strconv.Itoa(h.CurrentStreak),
		strconv.Itoa(h.BestStreak),
		sheet.FormatTime(&created),
	}}
}

func habitFromRow(row sheet.Row) Habit {
	v := row.Values
	h := Habit{
		ID:            row.ID,
		UserID:        sheet.Cell(v, 0),
		Name:          sheet.Cell(v, 1),
		Description:   sheet.Cell(v, 2),
		Visibility:    sheet.ParseVisibility(sheet.Cell(v, 3)),
		CurrentStreak: int(sheet.ParseInt(sheet.Cell(v, 4))),
		BestStreak:    int(sheet.ParseInt(sheet.Cell(v, 5))),
	}
	if created := sheet.ParseTime(sheet.Cell(v, 6)); created != nil {
		h.CreatedAt = *created
	}
	return h
}

func logToRow(l Log) sheet.Row {
	logged := l.LoggedAt
	return sheet.Row{ID: l.ID, Values: []string{
		l.UserID,
		sheet.FormatInt(l.HabitID),
		l.Date,
		string(l.Source),
		sheet.FormatTime(&logged),
	}}
}

func logFromRow(row sheet.Row) Log {
	v := row.Values
	l := Log{
		ID:      row.ID,
		UserID:  sheet.Cell(v, 0),
		HabitID: sheet.ParseInt(sheet.Cell(v, 1)),
		Date:    sheet.Cell(v, 2),
		Source:  Source(sheet.Cell(v, 3)),
	}
	if at := sheet.ParseTime(sheet.Cell(v, 4)); at != nil {
		l.LoggedAt = *at
	}
	return l
}
