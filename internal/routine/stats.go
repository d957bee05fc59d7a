package routine

import (
	"math"
	"strconv"
	"strings"
)

// maxElapsedMinutes bounds plausible run lengths; anything at or past six
// hours is treated as a wall-clock value written into the end-time column.
const maxElapsedMinutes = 360

type ExecutionStats struct {
	TotalExecutions           int `json:"total_executions"`
	CompletedExecutions       int `json:"completed_executions"`
	CompletionRate            int `json:"completion_rate"`
	AverageDurationMinutes    int `json:"average_duration_minutes"`
	AverageStepCompletionRate int `json:"average_step_completion_rate"`
}

// ComputeStats aggregates the history of a single routine.
func ComputeStats(execs []Execution) ExecutionStats {
	stats := ExecutionStats{TotalExecutions: len(execs)}
	if len(execs) == 0 {
		return stats
	}

	var (
		durationSum   float64
		durationCount int
		stepRateSum   float64
		stepRateCount int
	)
	for _, e := range execs {
		if e.Status == ExecutionStatusCompleted {
			stats.CompletedExecutions++
			if minutes, ok := executionMinutes(e); ok {
				durationSum += minutes
				durationCount++
			}
		}
		if e.TotalSteps > 0 {
			stepRateSum += float64(e.CompletedSteps) / float64(e.TotalSteps) * 100
			stepRateCount++
		}
	}

	stats.CompletionRate = int(math.Round(float64(stats.CompletedExecutions) / float64(len(execs)) * 100))
	if durationCount > 0 {
		stats.AverageDurationMinutes = int(math.Round(durationSum / float64(durationCount)))
	}
	if stepRateCount > 0 {
		stats.AverageStepCompletionRate = int(math.Round(stepRateSum / float64(stepRateCount)))
	}
	return stats
}

func executionMinutes(e Execution) (float64, bool) {
	if e.ElapsedSeconds > 0 {
		minutes := float64(e.ElapsedSeconds) / 60
		return minutes, minutes < maxElapsedMinutes
	}
	return ParseElapsed(e.EndTime)
}

// ParseElapsed reads the legacy end-time column as an elapsed duration in minutes.
//
// "H:MM" counts as H hours and MM minutes only when H < 6; larger leading
// components are wall-clock times and are rejected. A bare number counts as
// minutes when it lies in (0, 360). Everything else is rejected.
func ParseElapsed(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	if head, tail, found := strings.Cut(s, ":"); found {
		hours, err := strconv.Atoi(strings.TrimSpace(head))
		if err != nil || hours < 0 {
			return 0, false
		}
		minutes, err := strconv.Atoi(strings.TrimSpace(tail))
		if err != nil || minutes < 0 || minutes > 59 {
			return 0, false
		}
		if hours >= 6 {
			return 0, false
		}
		total := float64(hours*60 + minutes)
		return total, total > 0
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || v <= 0 || v >= maxElapsedMinutes {
		return 0, false
	}
	return v, true
}
