package types

import "time"

// Site is a physical facility housing one or more Systems.
type Site struct {
	ID                string
	Name              string
	Region            string
	Latitude          float64
	Longitude         float64
	TempOffsetC       float64
	HumidityOffsetPct float64
	OutageFrequency   float64 // expected grid-outage events per year
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SiteStats are per-site aggregates computed over the batteries it owns.
type SiteStats struct {
	SiteID           string
	TotalBatteries    int
	ActiveBatteries   int
	LowSoHBatteries   int // SoH < 80
	MeanSoHPct        float64
	OpenAlerts        int
}

// SystemKind identifies whether a System is a UPS or a rectifier.
type SystemKind string

const (
	SystemKindUPS        SystemKind = "ups"
	SystemKindRectifier  SystemKind = "rectifier"
)

// System is a powered unit (UPS or rectifier) installed at a Site.
type System struct {
	ID          string
	SiteID      string
	Kind        SystemKind
	RatedPowerW float64
	InstalledAt time.Time
	CreatedAt   time.Time
}

// String is a set of Batteries wired in series forming a single DC bus.
type String struct {
	ID              string
	SystemID        string
	Position        int
	BatteryCount    int
	NominalVoltageV float64
	CreatedAt       time.Time
}

// OperationalStatus is the administrative/lifecycle status of a Battery.
type OperationalStatus string

const (
	StatusActive   OperationalStatus = "active"
	StatusWarning  OperationalStatus = "warning"
	StatusCritical OperationalStatus = "critical"
	StatusReplaced OperationalStatus = "replaced"
	StatusRetired  OperationalStatus = "retired"
)

// Battery is a single VRLA cell/unit within a String.
type Battery struct {
	ID              string
	StringID        string
	Position        int
	Manufacturer    string
	Model           string
	SerialNumber    string
	NominalVoltageV float64
	CapacityAh      float64
	InstalledAt     time.Time
	WarrantyMonths  int
	Status          OperationalStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DerivedStatus is the live health classification computed at ingest time,
// distinct from the administrative OperationalStatus.
type DerivedStatus string

const (
	DerivedHealthy  DerivedStatus = "healthy"
	DerivedWarning  DerivedStatus = "warning"
	DerivedCritical DerivedStatus = "critical"
)

// Sample is one immutable telemetry reading for a Battery.
type Sample struct {
	BatteryID      string
	Timestamp      time.Time // UTC, millisecond precision
	VoltageV       float64
	CurrentA       float64 // signed; negative = discharge
	TemperatureC   float64
	ResistanceMOhm float64
	SoCPct         float64
	SoHPct         float64
}

// Role is a user's access level.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEngineer Role = "engineer"
	RoleViewer   Role = "viewer"
)

// User is an authenticated operator or service account.
type User struct {
	ID           string
	Login        string
	Email        string
	PasswordHash string
	Role         Role
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AlertKind is the discrete category of a health condition.
type AlertKind string

const (
	AlertVoltageHigh     AlertKind = "voltage_high"
	AlertVoltageLow      AlertKind = "voltage_low"
	AlertTemperatureHigh AlertKind = "temperature_high"
	AlertResistanceDrift AlertKind = "resistance_drift"
	AlertSoHDegraded     AlertKind = "soh_degraded"
	AlertRULWarning      AlertKind = "rul_warning"
	AlertRULCritical     AlertKind = "rul_critical"
)

// Severity ranks how urgently an Alert needs attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Acknowledgement records who silenced an Alert and when.
type Acknowledgement struct {
	UserID string
	At     time.Time
	Note   string
}

// Alert is a single health-condition event raised by the evaluator.
type Alert struct {
	ID            string
	BatteryID     string
	Kind          AlertKind
	Severity      Severity
	Message       string
	Threshold     float64
	Observed      float64
	TriggeredAt   time.Time
	ResolvedAt    *time.Time
	Acknowledged  *Acknowledgement
	CreatedAt     time.Time
}

// IsOpen reports whether the alert has not yet been resolved.
func (a *Alert) IsOpen() bool {
	return a.ResolvedAt == nil
}

// IsAcknowledged reports whether the alert has already been acknowledged.
func (a *Alert) IsAcknowledged() bool {
	return a.Acknowledged != nil
}

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Session is a bookkeeping record for an issued refresh token; access tokens
// are stateless JWTs and are never persisted.
type Session struct {
	ID        string
	UserID    string
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// RULPrediction is the response shape from the external RUL inference
// service, or the cached fallback served while the breaker is open.
type RULPrediction struct {
	BatteryID  string
	RULDays    int
	Confidence float64
	RiskLevel  string
	Degraded   bool
	AsOf       time.Time
}

// EvaluatorEvent is a unit of work handed from Ingestion to the Evaluator.
type EvaluatorEvent struct {
	Sample Sample
}

// HubEventType distinguishes the frame kinds delivered to subscribers.
type HubEventType string

const (
	HubEventTelemetryUpdate    HubEventType = "telemetry_update"
	HubEventAlert              HubEventType = "alert"
	HubEventBatteryStatus      HubEventType = "battery_status_update"
	HubEventLag                HubEventType = "lag"
)

// HubEvent is a single message routed through the Subscription Hub.
type HubEvent struct {
	Type      HubEventType
	BatteryID string
	SiteID    string
	Timestamp time.Time
	Payload   interface{}
}
