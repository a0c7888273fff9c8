package service

import (
	"math"

	"chemquest_backend/internal/util"
)

// maxConflictRetries bounds how often a versioned transition is re-applied
// against freshly loaded state.
const maxConflictRetries = 3

// retryOnConflict runs fn until it succeeds, fails with a non-conflict error,
// or has seen maxConflictRetries conflicts.
func retryOnConflict(fn func(attempt int) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = fn(attempt)
		if err == nil || !util.IsConflict(err) {
			return err
		}
	}
	return err
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
