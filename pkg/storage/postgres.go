package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ampguard/telemetry-core/pkg/apperr"
	"github.com/ampguard/telemetry-core/pkg/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// PostgresStore implements Store on top of a Postgres connection pool.
type PostgresStore struct {
	db *sqlx.DB
}

// Config controls pool sizing for PostgresStore.
type Config struct {
	DSN         string
	MaxConns    int
	MaxIdle     int
	MaxLifetime time.Duration
}

// Open connects to Postgres and returns a ready PostgresStore.
func Open(cfg Config) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 20
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(cfg.MaxIdle)
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	return &PostgresStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping verifies connectivity for readiness checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperr.Wrap(apperr.Transient, "store unreachable", err)
	}
	return nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}

// InsertSamples commits a batch atomically; any duplicate (battery, ts)
// pair within the batch or against existing rows fails the whole batch with
// Conflict (see the Open Question resolutions recorded in SPEC_FULL.md).
func (s *PostgresStore) InsertSamples(ctx context.Context, batch []types.Sample) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "begin transaction", err)
	}
	defer tx.Rollback()

	stmt := `INSERT INTO telemetry_samples
		(battery_id, ts, voltage, current, temperature, resistance_mohm, soc_pct, soh_pct)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for _, sample := range batch {
		_, err := tx.ExecContext(ctx, stmt,
			sample.BatteryID, sample.Timestamp, sample.VoltageV, sample.CurrentA,
			sample.TemperatureC, sample.ResistanceMOhm, sample.SoCPct, sample.SoHPct,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.New(apperr.Conflict, "duplicate telemetry sample").WithEntity(sample.BatteryID)
			}
			return apperr.Wrap(apperr.Transient, "insert telemetry sample", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Transient, "commit telemetry batch", err)
	}
	return nil
}

func (s *PostgresStore) LatestSample(ctx context.Context, batteryID string) (*types.Sample, error) {
	var sample types.Sample
	err := s.db.GetContext(ctx, &sample, `SELECT battery_id, ts as timestamp, voltage as voltagev,
		current as currenta, temperature as temperaturec, resistance_mohm as resistancemohm,
		soc_pct as socpct, soh_pct as sohpct
		FROM telemetry_samples WHERE battery_id = $1 ORDER BY ts DESC LIMIT 1`, batteryID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "no telemetry for battery").WithEntity(batteryID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "latest sample query", err)
	}
	return &sample, nil
}

func (s *PostgresStore) RangeSamples(ctx context.Context, batteryID string, start, end time.Time, maxRows int) ([]types.Sample, error) {
	if maxRows <= 0 || maxRows > 10000 {
		maxRows = 10000
	}

	rows := []types.Sample{}
	err := s.db.SelectContext(ctx, &rows, `SELECT battery_id, ts as timestamp, voltage as voltagev,
		current as currenta, temperature as temperaturec, resistance_mohm as resistancemohm,
		soc_pct as socpct, soh_pct as sohpct
		FROM telemetry_samples
		WHERE battery_id = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC LIMIT $4`, batteryID, start, end, maxRows)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "range sample query", err)
	}
	return rows, nil
}

func (s *PostgresStore) ListSites(ctx context.Context, withStats bool) ([]types.Site, map[string]types.SiteStats, error) {
	sites := []types.Site{}
	if err := s.db.SelectContext(ctx, &sites, `SELECT id, name, region, latitude, longitude,
		temp_offset_c as tempoffsetc, humidity_offset_pct as humidityoffsetpct,
		outage_frequency as outagefrequency, created_at as createdat, updated_at as updatedat
		FROM sites ORDER BY name`); err != nil {
		return nil, nil, apperr.Wrap(apperr.Transient, "list sites", err)
	}

	if !withStats {
		return sites, nil, nil
	}

	stats := map[string]types.SiteStats{}
	rows, err := s.db.QueryxContext(ctx, `
		SELECT st.id AS site_id,
		       COUNT(b.id) AS total,
		       COUNT(b.id) FILTER (WHERE b.status = 'active') AS active,
		       COUNT(b.id) FILTER (WHERE t.soh_pct < 80) AS low_soh,
		       COALESCE(AVG(t.soh_pct), 0) AS mean_soh,
		       (SELECT COUNT(*) FROM alerts a
		          JOIN batteries b2 ON b2.id = a.battery_id
		          JOIN strings s2 ON s2.id = b2.string_id
		          JOIN systems y2 ON y2.id = s2.system_id
		          WHERE y2.site_id = st.id AND a.resolved_at IS NULL) AS open_alerts
		FROM sites st
		LEFT JOIN systems y ON y.site_id = st.id
		LEFT JOIN strings s ON s.system_id = y.id
		LEFT JOIN batteries b ON b.string_id = s.id
		LEFT JOIN LATERAL (
		  SELECT soh_pct FROM telemetry_samples
		  WHERE battery_id = b.id ORDER BY ts DESC LIMIT 1
		) t ON true
		GROUP BY st.id`)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Transient, "site stats query", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			siteID              string
			total, active, low  int
			meanSoH             float64
			openAlerts          int
		)
		if err := rows.Scan(&siteID, &total, &active, &low, &meanSoH, &openAlerts); err != nil {
			return nil, nil, apperr.Wrap(apperr.Transient, "site stats scan", err)
		}
		stats[siteID] = types.SiteStats{
			SiteID:          siteID,
			TotalBatteries:  total,
			ActiveBatteries: active,
			LowSoHBatteries: low,
			MeanSoHPct:      meanSoH,
			OpenAlerts:      openAlerts,
		}
	}

	return sites, stats, nil
}

func (s *PostgresStore) GetSite(ctx context.Context, id string) (*types.Site, error) {
	var site types.Site
	err := s.db.GetContext(ctx, &site, `SELECT id, name, region, latitude, longitude,
		temp_offset_c as tempoffsetc, humidity_offset_pct as humidityoffsetpct,
		outage_frequency as outagefrequency, created_at as createdat, updated_at as updatedat
		FROM sites WHERE id = $1`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "site not found").WithEntity(id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "get site", err)
	}
	return &site, nil
}

func (s *PostgresStore) CreateSite(ctx context.Context, site *types.Site) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sites
		(id, name, region, latitude, longitude, temp_offset_c, humidity_offset_pct, outage_frequency, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		site.ID, site.Name, site.Region, site.Latitude, site.Longitude,
		site.TempOffsetC, site.HumidityOffsetPct, site.OutageFrequency, site.CreatedAt, site.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.New(apperr.Conflict, "site already exists").WithEntity(site.ID)
	}
	if err != nil {
		return apperr.Wrap(apperr.Transient, "create site", err)
	}
	return nil
}

func (s *PostgresStore) ListSystems(ctx context.Context, siteID string) ([]types.System, error) {
	systems := []types.System{}
	err := s.db.SelectContext(ctx, &systems, `SELECT id, site_id as siteid, kind, rated_power_w as ratedpowerw,
		installed_at as installedat, created_at as createdat FROM systems WHERE site_id = $1 ORDER BY id`, siteID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "list systems", err)
	}
	return systems, nil
}

func (s *PostgresStore) ListStrings(ctx context.Context, systemID string) ([]types.String, error) {
	strs := []types.String{}
	err := s.db.SelectContext(ctx, &strs, `SELECT id, system_id as systemid, position, battery_count as batterycount,
		nominal_voltage_v as nominalvoltagev, created_at as createdat FROM strings WHERE system_id = $1 ORDER BY position`, systemID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "list strings", err)
	}
	return strs, nil
}

func (s *PostgresStore) ListBatteries(ctx context.Context, filter BatteryFilter) ([]types.Battery, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	batteries := []types.Battery{}
	query := `SELECT b.id, b.string_id as stringid, b.position, b.manufacturer, b.model,
		b.serial_number as serialnumber, b.nominal_voltage_v as nominalvoltagev, b.capacity_ah as capacityah,
		b.installed_at as installedat, b.warranty_months as warrantymonths, b.status,
		b.created_at as createdat, b.updated_at as updatedat
		FROM batteries b
		JOIN strings s ON s.id = b.string_id
		JOIN systems y ON y.id = s.system_id
		WHERE ($1 = '' OR y.site_id = $1)
		ORDER BY b.id OFFSET $2 LIMIT $3`
	if err := s.db.SelectContext(ctx, &batteries, query, filter.SiteID, filter.Skip, limit); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "list batteries", err)
	}
	return batteries, nil
}

func (s *PostgresStore) GetBattery(ctx context.Context, id string) (*types.Battery, error) {
	var battery types.Battery
	err := s.db.GetContext(ctx, &battery, `SELECT id, string_id as stringid, position, manufacturer, model,
		serial_number as serialnumber, nominal_voltage_v as nominalvoltagev, capacity_ah as capacityah,
		installed_at as installedat, warranty_months as warrantymonths, status,
		created_at as createdat, updated_at as updatedat
		FROM batteries WHERE id = $1`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "battery not found").WithEntity(id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "get battery", err)
	}
	return &battery, nil
}

func (s *PostgresStore) ListBatteriesBySite(ctx context.Context, siteID string) ([]types.Battery, error) {
	return s.ListBatteries(ctx, BatteryFilter{SiteID: siteID, Limit: 1000})
}

func (s *PostgresStore) SiteIDForBattery(ctx context.Context, batteryID string) (string, error) {
	var siteID string
	err := s.db.GetContext(ctx, &siteID, `SELECT y.site_id FROM batteries b
		JOIN strings s ON s.id = b.string_id
		JOIN systems y ON y.id = s.system_id
		WHERE b.id = $1`, batteryID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperr.New(apperr.NotFound, "battery not found").WithEntity(batteryID)
	}
	if err != nil {
		return "", apperr.Wrap(apperr.Transient, "site for battery", err)
	}
	return siteID, nil
}

func (s *PostgresStore) UpdateBatteryStatus(ctx context.Context, id string, status types.OperationalStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE batteries SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "update battery status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "battery not found").WithEntity(id)
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *types.User) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users
		(id, login, email, password_hash, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		user.ID, user.Login, user.Email, user.PasswordHash, user.Role, user.Active, user.CreatedAt, user.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.New(apperr.Conflict, "login already in use").WithEntity(user.Login)
	}
	if err != nil {
		return apperr.Wrap(apperr.Transient, "create user", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*types.User, error) {
	var user types.User
	err := s.db.GetContext(ctx, &user, `SELECT id, login, email, password_hash as passwordhash,
		role, active, created_at as createdat, updated_at as updatedat FROM users WHERE id = $1`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "user not found").WithEntity(id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "get user", err)
	}
	return &user, nil
}

func (s *PostgresStore) GetUserByLogin(ctx context.Context, login string) (*types.User, error) {
	var user types.User
	err := s.db.GetContext(ctx, &user, `SELECT id, login, email, password_hash as passwordhash,
		role, active, created_at as createdat, updated_at as updatedat FROM users WHERE login = $1`, login)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "user not found").WithEntity(login)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "get user by login", err)
	}
	return &user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, filter UserFilter) ([]types.User, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	users := []types.User{}
	err := s.db.SelectContext(ctx, &users, `SELECT id, login, email, password_hash as passwordhash,
		role, active, created_at as createdat, updated_at as updatedat
		FROM users ORDER BY login OFFSET $1 LIMIT $2`, filter.Skip, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "list users", err)
	}
	return users, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, user *types.User) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET email = $2, role = $3, active = $4, updated_at = now()
		WHERE id = $1`, user.ID, user.Email, user.Role, user.Active)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "update user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "user not found").WithEntity(user.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "delete user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "user not found").WithEntity(id)
	}
	return nil
}

func (s *PostgresStore) CreateAlert(ctx context.Context, alert *types.Alert) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO alerts
		(id, battery_id, kind, severity, message, threshold, observed, triggered_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		alert.ID, alert.BatteryID, alert.Kind, alert.Severity, alert.Message,
		alert.Threshold, alert.Observed, alert.TriggeredAt, alert.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.New(apperr.Conflict, "open alert already exists for battery and kind").WithEntity(alert.BatteryID)
	}
	if err != nil {
		return apperr.Wrap(apperr.Transient, "create alert", err)
	}
	return nil
}

func (s *PostgresStore) GetAlert(ctx context.Context, id string) (*types.Alert, error) {
	a, err := s.scanAlert(ctx, `SELECT id, battery_id, kind, severity, message, threshold, observed,
		triggered_at, resolved_at, ack_user_id, ack_at, ack_note, created_at
		FROM alerts WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *PostgresStore) GetOpenAlert(ctx context.Context, batteryID string, kind types.AlertKind) (*types.Alert, error) {
	a, err := s.scanAlert(ctx, `SELECT id, battery_id, kind, severity, message, threshold, observed,
		triggered_at, resolved_at, ack_user_id, ack_at, ack_note, created_at
		FROM alerts WHERE battery_id = $1 AND kind = $2 AND resolved_at IS NULL`, batteryID, kind)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

type alertRow struct {
	ID          string
	BatteryID   string             `db:"battery_id"`
	Kind        types.AlertKind    `db:"kind"`
	Severity    types.Severity     `db:"severity"`
	Message     string             `db:"message"`
	Threshold   float64            `db:"threshold"`
	Observed    float64            `db:"observed"`
	TriggeredAt time.Time          `db:"triggered_at"`
	ResolvedAt  *time.Time         `db:"resolved_at"`
	AckUserID   *string            `db:"ack_user_id"`
	AckAt       *time.Time         `db:"ack_at"`
	AckNote     *string            `db:"ack_note"`
	CreatedAt   time.Time          `db:"created_at"`
}

func (r alertRow) toAlert() types.Alert {
	a := types.Alert{
		ID:          r.ID,
		BatteryID:   r.BatteryID,
		Kind:        r.Kind,
		Severity:    r.Severity,
		Message:     r.Message,
		Threshold:   r.Threshold,
		Observed:    r.Observed,
		TriggeredAt: r.TriggeredAt,
		ResolvedAt:  r.ResolvedAt,
		CreatedAt:   r.CreatedAt,
	}
	if r.AckUserID != nil {
		note := ""
		if r.AckNote != nil {
			note = *r.AckNote
		}
		at := r.CreatedAt
		if r.AckAt != nil {
			at = *r.AckAt
		}
		a.Acknowledged = &types.Acknowledgement{UserID: *r.AckUserID, At: at, Note: note}
	}
	return a
}

func (s *PostgresStore) scanAlert(ctx context.Context, query string, args ...interface{}) (*types.Alert, error) {
	var row alertRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "alert not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "alert query", err)
	}
	a := row.toAlert()
	return &a, nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]types.Alert, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	query := `SELECT a.id, a.battery_id, a.kind, a.severity, a.message, a.threshold, a.observed,
		a.triggered_at, a.resolved_at, a.ack_user_id, a.ack_at, a.ack_note, a.created_at
		FROM alerts a
		JOIN batteries b ON b.id = a.battery_id
		JOIN strings st ON st.id = b.string_id
		JOIN systems sy ON sy.id = st.system_id
		WHERE ($1 = '' OR sy.site_id = $1)
		  AND ($2 = '' OR a.severity = $2)
		  AND ($3 = '' OR a.kind = $3)
		  AND (NOT $4 OR a.resolved_at IS NULL)
		ORDER BY a.triggered_at DESC OFFSET $5 LIMIT $6`

	var rows []alertRow
	err := s.db.SelectContext(ctx, &rows, query,
		filter.SiteID, filter.Severity, filter.Kind, filter.ActiveOnly, filter.Skip, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "list alerts", err)
	}

	alerts := make([]types.Alert, 0, len(rows))
	for _, r := range rows {
		if filter.Acknowledged != nil {
			if *filter.Acknowledged && r.AckUserID == nil {
				continue
			}
			if !*filter.Acknowledged && r.AckUserID != nil {
				continue
			}
		}
		if filter.Start != nil && r.TriggeredAt.Before(*filter.Start) {
			continue
		}
		if filter.End != nil && r.TriggeredAt.After(*filter.End) {
			continue
		}
		alerts = append(alerts, r.toAlert())
	}
	return alerts, nil
}

func (s *PostgresStore) ResolveAlert(ctx context.Context, id string, resolvedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET resolved_at = $2
		WHERE id = $1 AND resolved_at IS NULL`, id, resolvedAt)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "resolve alert", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, ferr := s.GetAlert(ctx, id); ferr != nil {
			return ferr
		}
		return apperr.New(apperr.AlreadyProcessed, "Alert has already been resolved").WithEntity(id)
	}
	return nil
}

func (s *PostgresStore) AcknowledgeAlert(ctx context.Context, id string, ack types.Acknowledgement) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET ack_user_id = $2, ack_at = $3, ack_note = $4
		WHERE id = $1 AND ack_user_id IS NULL`, id, ack.UserID, ack.At, ack.Note)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "acknowledge alert", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, ferr := s.GetAlert(ctx, id); ferr != nil {
			return ferr
		}
		return apperr.New(apperr.AlreadyProcessed, "Alert has already been acknowledged").WithEntity(id)
	}
	return nil
}

// UpdateAlertSeverity escalates or (rarely) downgrades an open alert's
// severity, e.g. temperature_high crossing into its critical band.
func (s *PostgresStore) UpdateAlertSeverity(ctx context.Context, id string, severity types.Severity) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET severity = $2 WHERE id = $1`, id, severity)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "update alert severity", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "alert not found").WithEntity(id)
	}
	return nil
}

func (s *PostgresStore) AlertStats(ctx context.Context, siteID string, since time.Time) (AlertStats, error) {
	stats := AlertStats{BySeverity: map[types.Severity]int{}, ByKind: map[types.AlertKind]int{}}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT a.severity, a.kind, a.resolved_at
		FROM alerts a
		JOIN batteries b ON b.id = a.battery_id
		JOIN strings st ON st.id = b.string_id
		JOIN systems sy ON sy.id = st.system_id
		WHERE ($1 = '' OR sy.site_id = $1) AND a.triggered_at >= $2`, siteID, since)
	if err != nil {
		return stats, apperr.Wrap(apperr.Transient, "alert stats query", err)
	}
	defer rows.Close()

	for rows.Next() {
		var severity types.Severity
		var kind types.AlertKind
		var resolvedAt *time.Time
		if err := rows.Scan(&severity, &kind, &resolvedAt); err != nil {
			return stats, apperr.Wrap(apperr.Transient, "alert stats scan", err)
		}
		stats.BySeverity[severity]++
		stats.ByKind[kind]++
		if resolvedAt == nil {
			stats.TotalOpen++
		} else {
			stats.TotalResolved++
		}
	}

	return stats, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *types.Session) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions
		(id, user_id, kind, issued_at, expires_at, revoked) VALUES ($1,$2,$3,$4,$5,$6)`,
		session.ID, session.UserID, session.Kind, session.IssuedAt, session.ExpiresAt, session.Revoked)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "create session", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var session types.Session
	err := s.db.GetContext(ctx, &session, `SELECT id, user_id as userid, kind, issued_at as issuedat,
		expires_at as expiresat, revoked FROM sessions WHERE id = $1`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "session not found").WithEntity(id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "get session", err)
	}
	return &session, nil
}

func (s *PostgresStore) RevokeSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked = true WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "revoke session", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM telemetry_samples WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "retention sweep delete", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
