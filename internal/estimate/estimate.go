// Package estimate derives displayable progress from persisted session
// fields plus wall-clock time. Everything here is a pure function so any
// number of observers can call it concurrently.
package estimate

import (
	"fmt"
	"math"
	"time"

	"github.com/maximeroux/leadforge/internal/lead"
)

// PerLeadDuration is the fixed per-unit-of-work estimate used when the
// worker's authoritative progress lags.
const PerLeadDuration = 16 * time.Second

// DefaultLimit guards against sessions persisted without a result limit.
const DefaultLimit = 10

// Step labels the coarse pipeline phase shown next to the percentage.
type Step string

// Pipeline steps in display order.
const (
	StepConnecting   Step = "connecting"
	StepExtraction   Step = "extraction"
	StepEnrichment   Step = "enrichment"
	StepFinalization Step = "finalization"
)

// Display blends the worker-reported percentage with a time-based estimate.
// The estimate may outrun the authoritative value but never exceeds 99
// before completion, and the authoritative value is never overridden
// downward by a stale estimate.
func Display(status lead.SessionStatus, authoritative int, startedAt *time.Time, limit int, now time.Time) int {
	if status == lead.StatusCompleted {
		return 100
	}
	if authoritative < 0 {
		authoritative = 0
	}
	if authoritative > 100 {
		authoritative = 100
	}
	simulated := simulatedPercent(startedAt, limit, now)
	if authoritative > simulated {
		return authoritative
	}
	return simulated
}

func simulatedPercent(startedAt *time.Time, limit int, now time.Time) int {
	if startedAt == nil || startedAt.IsZero() {
		return 0
	}
	elapsed := now.Sub(*startedAt)
	if elapsed <= 0 {
		return 0
	}
	total := totalEstimate(limit)
	pct := int(math.Round(float64(elapsed) / float64(total) * 100))
	if pct > 99 {
		pct = 99
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

// StepFor maps a display percentage to its pipeline step. Thresholds are
// monotonic: a higher percentage never maps to an earlier step.
func StepFor(pct int) Step {
	switch {
	case pct >= 90:
		return StepFinalization
	case pct >= 60:
		return StepEnrichment
	case pct >= 20:
		return StepExtraction
	default:
		return StepConnecting
	}
}

// Remaining estimates the time left before the session should finish. It is
// never negative.
func Remaining(startedAt *time.Time, limit int, now time.Time) time.Duration {
	total := totalEstimate(limit)
	if startedAt == nil || startedAt.IsZero() {
		return total
	}
	left := total - now.Sub(*startedAt)
	if left <= 0 {
		return 0
	}
	// Round up to whole seconds so the countdown never shows 0 early.
	return time.Duration(math.Ceil(left.Seconds())) * time.Second
}

// FormatRemaining renders a countdown for display.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "a few seconds"
	}
	secs := int(d.Seconds())
	return fmt.Sprintf("%d min %d sec", secs/60, secs%60)
}

func totalEstimate(limit int) time.Duration {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return time.Duration(limit) * PerLeadDuration
}
