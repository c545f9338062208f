package storage

import (
	"context"
	"time"

	"github.com/ampguard/telemetry-core/pkg/types"
)

// BatteryFilter narrows a battery listing.
type BatteryFilter struct {
	SiteID string
	Skip   int
	Limit  int
}

// AlertFilter narrows an alert listing; nil/zero fields mean unconstrained.
type AlertFilter struct {
	SiteID        string
	Severity      types.Severity
	Kind          types.AlertKind
	ActiveOnly    bool
	Acknowledged  *bool
	Start         *time.Time
	End           *time.Time
	Skip          int
	Limit         int
}

// AlertStats are aggregated alert counts over a lookback window.
type AlertStats struct {
	TotalOpen      int
	TotalResolved  int
	BySeverity     map[types.Severity]int
	ByKind         map[types.AlertKind]int
}

// UserFilter narrows a user listing.
type UserFilter struct {
	Skip  int
	Limit int
}

// Store defines durable persistence and query access for the telemetry
// service. Implementations must honor the invariants in the battery
// telemetry invariants: samples are never rewritten, and at most one open
// alert exists per (battery, kind).
type Store interface {
	// Telemetry
	InsertSamples(ctx context.Context, batch []types.Sample) error
	LatestSample(ctx context.Context, batteryID string) (*types.Sample, error)
	RangeSamples(ctx context.Context, batteryID string, start, end time.Time, maxRows int) ([]types.Sample, error)

	// Master data
	ListSites(ctx context.Context, withStats bool) ([]types.Site, map[string]types.SiteStats, error)
	GetSite(ctx context.Context, id string) (*types.Site, error)
	CreateSite(ctx context.Context, site *types.Site) error
	ListSystems(ctx context.Context, siteID string) ([]types.System, error)
	ListStrings(ctx context.Context, systemID string) ([]types.String, error)
	ListBatteries(ctx context.Context, filter BatteryFilter) ([]types.Battery, error)
	GetBattery(ctx context.Context, id string) (*types.Battery, error)
	ListBatteriesBySite(ctx context.Context, siteID string) ([]types.Battery, error)
	SiteIDForBattery(ctx context.Context, batteryID string) (string, error)
	UpdateBatteryStatus(ctx context.Context, id string, status types.OperationalStatus) error

	// Users
	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetUserByLogin(ctx context.Context, login string) (*types.User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]types.User, error)
	UpdateUser(ctx context.Context, user *types.User) error
	DeleteUser(ctx context.Context, id string) error

	// Alerts
	CreateAlert(ctx context.Context, alert *types.Alert) error
	GetAlert(ctx context.Context, id string) (*types.Alert, error)
	GetOpenAlert(ctx context.Context, batteryID string, kind types.AlertKind) (*types.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]types.Alert, error)
	ResolveAlert(ctx context.Context, id string, resolvedAt time.Time) error
	AcknowledgeAlert(ctx context.Context, id string, ack types.Acknowledgement) error
	UpdateAlertSeverity(ctx context.Context, id string, severity types.Severity) error
	AlertStats(ctx context.Context, siteID string, since time.Time) (AlertStats, error)

	// Sessions (refresh-token bookkeeping only)
	CreateSession(ctx context.Context, session *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	RevokeSession(ctx context.Context, id string) error

	// Retention
	DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies connectivity for readiness checks.
	Ping(ctx context.Context) error

	Close() error
}
