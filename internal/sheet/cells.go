package sheet

import (
	"strconv"
	"strings"
	"time"
)

// Visibility is the soft-delete status shared by every sheet-backed entity.
type Visibility string

const (
	VisibilityActive   Visibility = "active"
	VisibilityInactive Visibility = "inactive"
)

// Visible reports whether rows with this status show up in normal queries.
// Legacy rows with an empty status are treated as active.
func (v Visibility) Visible() bool {
	return v == VisibilityActive || v == ""
}

func ParseVisibility(s string) Visibility {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inactive", "false", "0":
		return VisibilityInactive
	default:
		return VisibilityActive
	}
}

// Cell returns values[i], or "" when the row is shorter than expected.
func Cell(values []string, i int) string {
	if i < 0 || i >= len(values) {
		return ""
	}
	return strings.TrimSpace(values[i])
}

func FormatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

func ParseInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func FormatBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "1", "yes", "y":
		return true
	default:
		return false
	}
}

func FormatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
