package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType

	// Name identifies this check in a composite report
	Name() string
}

// CheckAll runs each checker in turn and returns a result per name, plus
// whether every checker reported healthy. Used to compose the readiness
// endpoint's check map from heterogeneous probes (store connectivity,
// downstream reachability).
func CheckAll(ctx context.Context, checkers ...Checker) (map[string]Result, bool) {
	results := make(map[string]Result, len(checkers))
	allHealthy := true
	for _, c := range checkers {
		r := c.Check(ctx)
		results[c.Name()] = r
		if !r.Healthy {
			allHealthy = false
		}
	}
	return results, allHealthy
}
