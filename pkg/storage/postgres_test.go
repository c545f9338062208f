package storage

import (
	"context"
	"testing"
	"time"

	"github.com/ampguard/telemetry-core/pkg/apperr"
	"github.com/ampguard/telemetry-core/pkg/types"
	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &PostgresStore{db: sqlx.NewDb(db, "pgx")}, mock
}

func TestInsertSamples_DuplicateReturnsConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO telemetry_samples").
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, Message: "duplicate key value"})
	mock.ExpectRollback()

	batch := []types.Sample{{BatteryID: "BAT-1", Timestamp: time.Now()}}
	err := store.InsertSamples(context.Background(), batch)
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestInsertSamples_Empty(t *testing.T) {
	store, _ := newMockStore(t)
	if err := store.InsertSamples(context.Background(), nil); err != nil {
		t.Fatalf("expected nil error for empty batch, got %v", err)
	}
}

func TestAcknowledgeAlert_SecondCallAlreadyProcessed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE alerts SET ack_user_id").
		WithArgs("alert-1", "user-1", sqlmock.AnyArg(), "note").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, battery_id, kind").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "battery_id", "kind", "severity", "message", "threshold", "observed",
			"triggered_at", "resolved_at", "ack_user_id", "ack_at", "ack_note", "created_at",
		}).AddRow("alert-1", "BAT-1", "temperature_high", "warning", "msg", 45.0, 46.0,
			time.Now(), nil, "user-1", time.Now(), "already acked", time.Now()))

	err := store.AcknowledgeAlert(context.Background(), "alert-1", types.Acknowledgement{
		UserID: "user-1", At: time.Now(), Note: "note",
	})
	if !apperr.Is(err, apperr.AlreadyProcessed) {
		t.Fatalf("expected AlreadyProcessed, got %v", err)
	}
}

func TestResolveAlert_SecondCallAlreadyProcessed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE alerts SET resolved_at").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, battery_id, kind").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "battery_id", "kind", "severity", "message", "threshold", "observed",
			"triggered_at", "resolved_at", "ack_user_id", "ack_at", "ack_note", "created_at",
		}).AddRow("alert-1", "BAT-1", "temperature_high", "warning", "msg", 45.0, 46.0,
			time.Now(), time.Now(), nil, nil, nil, time.Now()))

	err := store.ResolveAlert(context.Background(), "alert-1", time.Now())
	if !apperr.Is(err, apperr.AlreadyProcessed) {
		t.Fatalf("expected AlreadyProcessed, got %v", err)
	}
}
