package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"regbroker/internal/apperror"
	"regbroker/internal/database"
	"regbroker/internal/domain"
	"regbroker/internal/telemetry"
)

// PostgresRepository is the Postgres-backed C5 implementation.
type PostgresRepository struct {
	db database.DB
}

// NewPostgresRepository builds a repository over db.
func NewPostgresRepository(db database.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// RegisterModule implements spec §4.5's atomic module+schema write: within a
// single transaction, upsert the module row, upsert the schema row on
// (service_name, schema_version), and wire the module's config_schema_id.
func (r *PostgresRepository) RegisterModule(ctx context.Context, name, host string, port int, version string, meta map[string]string, configSchemaJSON string) (domain.ModuleRow, error) {
	ctx, span := telemetry.StartSpan(ctx, "metadata.RegisterModule")
	defer span.End()

	serviceID := domain.ServiceID(name, host, port)
	schemaID := domain.SchemaID(name, version)

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return domain.ModuleRow{}, apperror.Wrap(err, apperror.CodePersistence, "failed to encode module metadata")
	}

	row, err := database.WithTransactionResult(ctx, r.db, func(tx pgx.Tx) (domain.ModuleRow, error) {
		_, err := tx.Exec(ctx, `
			INSERT INTO config_schemas (schema_id, service_name, schema_version, json_schema, sync_status)
			VALUES ($1, $2, $3, $4, 'PENDING')
			ON CONFLICT (service_name, schema_version) DO UPDATE SET json_schema = EXCLUDED.json_schema, sync_status = 'PENDING'
		`, schemaID, name, version, configSchemaJSON)
		if err != nil {
			return domain.ModuleRow{}, fmt.Errorf("upsert config schema: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO modules (service_id, service_name, host, port, version, config_schema_id, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (service_id) DO UPDATE SET
				service_name = EXCLUDED.service_name,
				host = EXCLUDED.host,
				port = EXCLUDED.port,
				version = EXCLUDED.version,
				config_schema_id = EXCLUDED.config_schema_id,
				metadata = EXCLUDED.metadata
		`, serviceID, name, host, port, version, schemaID, metaJSON)
		if err != nil {
			return domain.ModuleRow{}, fmt.Errorf("upsert module row: %w", err)
		}

		var out domain.ModuleRow
		err = tx.QueryRow(ctx, `
			SELECT service_id, service_name, host, port, version, config_schema_id, metadata, registered_at, last_heartbeat, status
			FROM modules WHERE service_id = $1
		`, serviceID).Scan(&out.ServiceID, &out.ServiceName, &out.Host, &out.Port, &out.Version,
			&out.ConfigSchemaID, scanJSONMeta(&out), &out.RegisteredAt, &out.LastHeartbeat, &out.Status)
		if err != nil {
			return domain.ModuleRow{}, fmt.Errorf("read back module row: %w", err)
		}
		return out, nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ModuleRow{}, apperror.Wrap(err, apperror.CodeUniqueViolation, "module registration conflicts with an existing row").
				WithDetails("service_id", serviceID)
		}
		return domain.ModuleRow{}, apperror.Wrap(err, apperror.CodePersistence, "failed to persist module registration").
			WithDetails("service_id", serviceID)
	}
	return row, nil
}

// scanJSONMeta is a pgx.Scan adapter that decodes the metadata jsonb column
// directly into row.Metadata.
func scanJSONMeta(row *domain.ModuleRow) any {
	return &jsonMetaScanner{row: row}
}

type jsonMetaScanner struct {
	row *domain.ModuleRow
}

func (s *jsonMetaScanner) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported metadata column type %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, &s.row.Metadata)
}

func (r *PostgresRepository) FindModuleByID(ctx context.Context, serviceID string) (domain.ModuleRow, error) {
	ctx, span := telemetry.StartSpan(ctx, "metadata.FindModuleByID")
	defer span.End()

	var out domain.ModuleRow
	err := r.db.QueryRow(ctx, `
		SELECT service_id, service_name, host, port, version, config_schema_id, metadata, registered_at, last_heartbeat, status
		FROM modules WHERE service_id = $1
	`, serviceID).Scan(&out.ServiceID, &out.ServiceName, &out.Host, &out.Port, &out.Version,
		&out.ConfigSchemaID, scanJSONMeta(&out), &out.RegisteredAt, &out.LastHeartbeat, &out.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ModuleRow{}, apperror.New(apperror.CodeMetadataNotFound, "module not found").WithDetails("service_id", serviceID)
		}
		return domain.ModuleRow{}, apperror.Wrap(err, apperror.CodePersistence, "failed to find module by id")
	}
	return out, nil
}

func (r *PostgresRepository) FindModuleByName(ctx context.Context, name string) (domain.ModuleRow, error) {
	ctx, span := telemetry.StartSpan(ctx, "metadata.FindModuleByName")
	defer span.End()

	var out domain.ModuleRow
	err := r.db.QueryRow(ctx, `
		SELECT service_id, service_name, host, port, version, config_schema_id, metadata, registered_at, last_heartbeat, status
		FROM modules WHERE service_name = $1 ORDER BY registered_at LIMIT 1
	`, name).Scan(&out.ServiceID, &out.ServiceName, &out.Host, &out.Port, &out.Version,
		&out.ConfigSchemaID, scanJSONMeta(&out), &out.RegisteredAt, &out.LastHeartbeat, &out.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ModuleRow{}, apperror.New(apperror.CodeMetadataNotFound, "module not found").WithDetails("name", name)
		}
		return domain.ModuleRow{}, apperror.Wrap(err, apperror.CodePersistence, "failed to find module by name")
	}
	return out, nil
}

func (r *PostgresRepository) DeleteModule(ctx context.Context, serviceID string) error {
	ctx, span := telemetry.StartSpan(ctx, "metadata.DeleteModule")
	defer span.End()

	_, err := r.db.Exec(ctx, `DELETE FROM modules WHERE service_id = $1`, serviceID)
	if err != nil {
		return apperror.Wrap(err, apperror.CodePersistence, "failed to delete module row")
	}
	return nil
}

func (r *PostgresRepository) FindSchemaByID(ctx context.Context, schemaID string) (domain.ConfigSchemaRow, error) {
	ctx, span := telemetry.StartSpan(ctx, "metadata.FindSchemaByID")
	defer span.End()
	return r.scanSchemaRow(ctx, `
		SELECT schema_id, service_name, schema_version, json_schema, created_at, created_by,
		       archive_artifact_id, archive_global_id, sync_status, last_sync_attempt, sync_error
		FROM config_schemas WHERE schema_id = $1
	`, schemaID)
}

func (r *PostgresRepository) FindLatestSchemaByName(ctx context.Context, name string) (domain.ConfigSchemaRow, error) {
	ctx, span := telemetry.StartSpan(ctx, "metadata.FindLatestSchemaByName")
	defer span.End()

	// "latest" = highest created_at, tie-break on schema_version descending
	// lexicographically (spec §4.5).
	return r.scanSchemaRow(ctx, `
		SELECT schema_id, service_name, schema_version, json_schema, created_at, created_by,
		       archive_artifact_id, archive_global_id, sync_status, last_sync_attempt, sync_error
		FROM config_schemas WHERE service_name = $1
		ORDER BY created_at DESC, schema_version DESC LIMIT 1
	`, name)
}

// ListSchemaVersionsByName enumerates every schema_version recorded for
// name, newest first, used by get_module_schema_versions (spec §6).
func (r *PostgresRepository) ListSchemaVersionsByName(ctx context.Context, name string) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "metadata.ListSchemaVersionsByName")
	defer span.End()

	rows, err := r.db.Query(ctx, `
		SELECT schema_version FROM config_schemas WHERE service_name = $1
		ORDER BY created_at DESC, schema_version DESC
	`, name)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodePersistence, "failed to list schema versions")
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, apperror.Wrap(err, apperror.CodePersistence, "failed to scan schema version")
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Wrap(err, apperror.CodePersistence, "failed to iterate schema versions")
	}
	return versions, nil
}

func (r *PostgresRepository) scanSchemaRow(ctx context.Context, query string, arg string) (domain.ConfigSchemaRow, error) {
	var out domain.ConfigSchemaRow
	var createdBy, archiveArtifactID, syncError *string
	var archiveGlobalID *int64

	err := r.db.QueryRow(ctx, query, arg).Scan(
		&out.SchemaID, &out.ServiceName, &out.SchemaVersion, &out.JSONSchema, &out.CreatedAt,
		&createdBy, &archiveArtifactID, &archiveGlobalID, &out.SyncStatus, &out.LastSyncAttempt, &syncError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ConfigSchemaRow{}, apperror.New(apperror.CodeMetadataNotFound, "schema not found").WithDetails("key", arg)
		}
		return domain.ConfigSchemaRow{}, apperror.Wrap(err, apperror.CodePersistence, "failed to read schema row")
	}
	if createdBy != nil {
		out.CreatedBy = *createdBy
	}
	if archiveArtifactID != nil {
		out.ArchiveArtifactID = *archiveArtifactID
	}
	if archiveGlobalID != nil {
		out.ArchiveGlobalID = *archiveGlobalID
	}
	if syncError != nil {
		out.SyncError = *syncError
	}
	return out, nil
}

func (r *PostgresRepository) MarkSchemaSynced(ctx context.Context, schemaID, artifactID string, globalID int64) error {
	ctx, span := telemetry.StartSpan(ctx, "metadata.MarkSchemaSynced")
	defer span.End()

	result, err := r.db.Exec(ctx, `
		UPDATE config_schemas
		SET sync_status = 'SYNCED', archive_artifact_id = $2, archive_global_id = $3, last_sync_attempt = now(), sync_error = NULL
		WHERE schema_id = $1
	`, schemaID, artifactID, globalID)
	if err != nil {
		return apperror.Wrap(err, apperror.CodePersistence, "failed to mark schema synced")
	}
	if result.RowsAffected() == 0 {
		return apperror.New(apperror.CodeMetadataNotFound, "schema not found").WithDetails("schema_id", schemaID)
	}
	return nil
}

func (r *PostgresRepository) MarkSchemaFailed(ctx context.Context, schemaID, syncErr string) error {
	ctx, span := telemetry.StartSpan(ctx, "metadata.MarkSchemaFailed")
	defer span.End()

	result, err := r.db.Exec(ctx, `
		UPDATE config_schemas
		SET sync_status = 'FAILED', last_sync_attempt = now(), sync_error = $2
		WHERE schema_id = $1
	`, schemaID, syncErr)
	if err != nil {
		return apperror.Wrap(err, apperror.CodePersistence, "failed to mark schema failed")
	}
	if result.RowsAffected() == 0 {
		return apperror.New(apperror.CodeMetadataNotFound, "schema not found").WithDetails("schema_id", schemaID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
