package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regbroker/internal/apperror"
	"regbroker/internal/domain"
)

func newMockRepo(t *testing.T) (*PostgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresRepository(mock), mock
}

func TestRegisterModule_UpsertsSchemaThenModuleInTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO config_schemas").
		WithArgs("svc-a-1_0_0", "svc-a", "1.0.0", `{"type":"object"}`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO modules").
		WithArgs("svc-a-host-9000", "svc-a", "host", 9000, "1.0.0", "svc-a-1_0_0", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	cols := []string{"service_id", "service_name", "host", "port", "version", "config_schema_id", "metadata", "registered_at", "last_heartbeat", "status"}
	rows := pgxmock.NewRows(cols).AddRow(
		"svc-a-host-9000", "svc-a", "host", 9000, "1.0.0", "svc-a-1_0_0", []byte(`{"k":"v"}`), time.Now(), (*time.Time)(nil), domain.ModuleStatusActive,
	)
	mock.ExpectQuery("SELECT service_id, service_name, host, port, version, config_schema_id, metadata, registered_at, last_heartbeat, status").
		WithArgs("svc-a-host-9000").
		WillReturnRows(rows)
	mock.ExpectCommit()

	row, err := repo.RegisterModule(context.Background(), "svc-a", "host", 9000, "1.0.0",
		map[string]string{"k": "v"}, `{"type":"object"}`)
	require.NoError(t, err)
	assert.Equal(t, "svc-a-host-9000", row.ServiceID)
	assert.Equal(t, map[string]string{"k": "v"}, row.Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterModule_RollsBackOnUniqueViolation(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO config_schemas").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})
	mock.ExpectRollback()

	_, err := repo.RegisterModule(context.Background(), "svc-a", "host", 9000, "1.0.0", nil, `{}`)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeUniqueViolation, apperror.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindModuleByID_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT service_id, service_name, host, port, version, config_schema_id, metadata, registered_at, last_heartbeat, status").
		WithArgs("missing").
		WillReturnError(pgxmock.ErrNoRows)

	_, err := repo.FindModuleByID(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeMetadataNotFound, apperror.Code(err))
}

func TestFindLatestSchemaByName_OrdersByCreatedAtThenVersion(t *testing.T) {
	repo, mock := newMockRepo(t)

	cols := []string{"schema_id", "service_name", "schema_version", "json_schema", "created_at", "created_by",
		"archive_artifact_id", "archive_global_id", "sync_status", "last_sync_attempt", "sync_error"}
	rows := pgxmock.NewRows(cols).AddRow(
		"svc-a-2_0_0", "svc-a", "2.0.0", `{}`, time.Now(), (*string)(nil), (*string)(nil), (*int64)(nil),
		domain.SyncStatusPending, (*time.Time)(nil), (*string)(nil),
	)
	mock.ExpectQuery("ORDER BY created_at DESC, schema_version DESC").
		WithArgs("svc-a").
		WillReturnRows(rows)

	row, err := repo.FindLatestSchemaByName(context.Background(), "svc-a")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", row.SchemaVersion)
}

func TestMarkSchemaSynced_NotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE config_schemas").
		WithArgs("svc-a-1_0_0", "artifact-1", int64(42)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.MarkSchemaSynced(context.Background(), "svc-a-1_0_0", "artifact-1", 42)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeMetadataNotFound, apperror.Code(err))
}

func TestMarkSchemaFailed_Succeeds(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE config_schemas").
		WithArgs("svc-a-1_0_0", "boom").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.MarkSchemaFailed(context.Background(), "svc-a-1_0_0", "boom")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
