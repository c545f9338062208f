package api

import (
	"context"
	"time"

	"github.com/ampguard/telemetry-core/pkg/health"
	"github.com/ampguard/telemetry-core/pkg/storage"
)

// StoreChecker adapts storage.Store.Ping to health.Checker for the
// /health/ready probe.
type StoreChecker struct {
	Store storage.Store
}

func (c StoreChecker) Name() string           { return "store" }
func (c StoreChecker) Type() health.CheckType { return health.CheckTypeTCP }

func (c StoreChecker) Check(ctx context.Context) health.Result {
	start := time.Now()
	if err := c.Store.Ping(ctx); err != nil {
		return health.Result{Healthy: false, Message: err.Error(), CheckedAt: start, Duration: time.Since(start)}
	}
	return health.Result{Healthy: true, CheckedAt: start, Duration: time.Since(start)}
}
