package routine

import (
	"testing"
	"time"
)

func TestComputeStatsMixedHistory(t *testing.T) {
	execs := []Execution{
		{Status: ExecutionStatusCompleted, TotalSteps: 5, CompletedSteps: 5, StartTime: "07:00", EndTime: "0:45"},
		{Status: ExecutionStatusAborted, TotalSteps: 5, CompletedSteps: 2},
	}
	got := ComputeStats(execs)
	if got.CompletionRate != 50 {
		t.Fatalf("CompletionRate = %d, want 50", got.CompletionRate)
	}
	if got.AverageStepCompletionRate != 70 {
		t.Fatalf("AverageStepCompletionRate = %d, want 70", got.AverageStepCompletionRate)
	}
	if got.AverageDurationMinutes != 45 {
		t.Fatalf("AverageDurationMinutes = %d, want 45", got.AverageDurationMinutes)
	}
	if got.TotalExecutions != 2 || got.CompletedExecutions != 1 {
		t.Fatalf("counts = %d/%d, want 1/2", got.CompletedExecutions, got.TotalExecutions)
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	got := ComputeStats(nil)
	if got != (ExecutionStats{}) {
		t.Fatalf("ComputeStats(nil) = %+v, want zero value", got)
	}
}

func TestComputeStatsSkipsAnomalousDurations(t *testing.T) {
	execs := []Execution{
		{Status: ExecutionStatusCompleted, TotalSteps: 2, CompletedSteps: 2, EndTime: "07:45"},
		{Status: ExecutionStatusCompleted, TotalSteps: 2, CompletedSteps: 1, EndTime: "500"},
		{Status: ExecutionStatusCompleted, TotalSteps: 0, CompletedSteps: 0, EndTime: "garbage"},
	}
	got := ComputeStats(execs)
	if got.AverageDurationMinutes != 0 {
		t.Fatalf("AverageDurationMinutes = %d, want 0 when nothing parses", got.AverageDurationMinutes)
	}
	if got.CompletionRate != 100 {
		t.Fatalf("CompletionRate = %d, want 100", got.CompletionRate)
	}
	// Only executions with a positive step total count: (100 + 50) / 2.
	if got.AverageStepCompletionRate != 75 {
		t.Fatalf("AverageStepCompletionRate = %d, want 75", got.AverageStepCompletionRate)
	}
}

func TestComputeStatsIgnoresAbortedDurations(t *testing.T) {
	execs := []Execution{
		{Status: ExecutionStatusCompleted, TotalSteps: 1, CompletedSteps: 1, EndTime: "20"},
		{Status: ExecutionStatusCompleted, TotalSteps: 1, CompletedSteps: 1, EndTime: "31"},
		{Status: ExecutionStatusAborted, TotalSteps: 1, CompletedSteps: 0, EndTime: "5"},
	}
	got := ComputeStats(execs)
	// (20 + 31) / 2 = 25.5 rounds to 26.
	if got.AverageDurationMinutes != 26 {
		t.Fatalf("AverageDurationMinutes = %d, want 26", got.AverageDurationMinutes)
	}
	if got.CompletionRate != 67 {
		t.Fatalf("CompletionRate = %d, want 67", got.CompletionRate)
	}
}

func TestComputeStatsPrefersElapsedSeconds(t *testing.T) {
	execs := []Execution{
		{Status: ExecutionStatusCompleted, TotalSteps: 1, CompletedSteps: 1, EndTime: "08:10", ElapsedSeconds: 12 * 60},
	}
	if got := ComputeStats(execs).AverageDurationMinutes; got != 12 {
		t.Fatalf("AverageDurationMinutes = %d, want 12", got)
	}
}

func TestParseElapsedBoundaries(t *testing.T) {
	cases := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"0:45", 45, true},
		// Read as H:MM, not M:SS. Treating "5:59" as about six minutes would also
		// make "0:45" under a minute and break the 45 minute average of executions
		// logged with short H:MM end times.
		{"5:59", 359, true},
		{"6:00", 0, false},
		{"23:15", 0, false},
		{"42", 42, true},
		{"359", 359, true},
		{"360", 0, false},
		{"500", 0, false},
		{"0", 0, false},
		{"-3", 0, false},
		{"0:00", 0, false},
		{"1:75", 0, false},
		{"soon", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseElapsed(tc.in)
		if ok != tc.wantOK || got != tc.want {
			t.Fatalf("ParseElapsed(%q) = (%v, %v), want (%v, %v)", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestFormatElapsedRoundTrips(t *testing.T) {
	d := 1*time.Hour + 7*time.Minute + 40*time.Second
	s := FormatElapsed(d)
	if s != "1:08" {
		t.Fatalf("FormatElapsed() = %q, want %q", s, "1:08")
	}
	got, ok := ParseElapsed(s)
	if !ok || got != 68 {
		t.Fatalf("ParseElapsed(%q) = (%v, %v), want (68, true)", s, got, ok)
	}
}
