package estimate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maximeroux/leadforge/internal/lead"
)

// TestDisplayTimeBasedEstimate checks the canonical scenario: limit 10,
// 80s elapsed at 16s per lead puts the session halfway through extraction.
func TestDisplayTimeBasedEstimate(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(80 * time.Second)

	pct := Display(lead.StatusInProgress, 0, &start, 10, now)
	require.Equal(t, 50, pct)
	require.Equal(t, StepExtraction, StepFor(pct))
}

func TestDisplayCompletedIsAlways100(t *testing.T) {
	t.Parallel()

	start := time.Now().Add(-time.Second)
	require.Equal(t, 100, Display(lead.StatusCompleted, 0, &start, 10, time.Now()))
	require.Equal(t, 100, Display(lead.StatusCompleted, 37, nil, 0, time.Now()))
}

func TestDisplayCapsEstimateAt99(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(time.Hour)

	require.Equal(t, 99, Display(lead.StatusInProgress, 0, &start, 10, now))
}

func TestDisplayPrefersAuthoritativeWhenHigher(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(16 * time.Second) // simulated 10%

	require.Equal(t, 70, Display(lead.StatusInProgress, 70, &start, 10, now))
}

func TestDisplayNeverDecreases(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := 0
	for s := 0; s <= 200; s += 5 {
		now := start.Add(time.Duration(s) * time.Second)
		pct := Display(lead.StatusInProgress, 25, &start, 10, now)
		require.GreaterOrEqual(t, pct, prev, "regressed at t+%ds", s)
		require.LessOrEqual(t, pct, 99)
		prev = pct
	}
}

func TestDisplayWithoutStartTime(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, Display(lead.StatusPending, 0, nil, 10, time.Now()))
	require.Equal(t, 40, Display(lead.StatusInProgress, 40, nil, 10, time.Now()))
}

func TestStepThresholdsAreMonotonic(t *testing.T) {
	t.Parallel()

	order := map[Step]int{
		StepConnecting:   0,
		StepExtraction:   1,
		StepEnrichment:   2,
		StepFinalization: 3,
	}
	prev := order[StepFor(0)]
	for pct := 0; pct <= 100; pct++ {
		cur := order[StepFor(pct)]
		require.GreaterOrEqual(t, cur, prev, "step regressed at %d%%", pct)
		prev = cur
	}
	require.Equal(t, StepFinalization, StepFor(100))
	require.Equal(t, StepEnrichment, StepFor(60))
	require.Equal(t, StepExtraction, StepFor(20))
	require.Equal(t, StepConnecting, StepFor(19))
}

func TestRemainingNeverNegative(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for s := 0; s <= 400; s += 20 {
		now := start.Add(time.Duration(s) * time.Second)
		require.GreaterOrEqual(t, Remaining(&start, 10, now), time.Duration(0))
	}
	require.Equal(t, time.Duration(0), Remaining(&start, 10, start.Add(time.Hour)))
}

func TestRemainingCountsDown(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, 160*time.Second, Remaining(&start, 10, start))
	require.Equal(t, 80*time.Second, Remaining(&start, 10, start.Add(80*time.Second)))
	// Fractional elapsed rounds the countdown up.
	require.Equal(t, 80*time.Second, Remaining(&start, 10, start.Add(79500*time.Millisecond)))
}

func TestFormatRemaining(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2 min 40 sec", FormatRemaining(160*time.Second))
	require.Equal(t, "0 min 5 sec", FormatRemaining(5*time.Second))
	require.Equal(t, "a few seconds", FormatRemaining(0))
}
