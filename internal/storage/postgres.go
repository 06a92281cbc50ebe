package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rotisserie/eris"
)

// identitySequenceLock is the advisory lock key guarding sequence allocation.
const identitySequenceLock = 7_301_001

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS locations (
		id BIGSERIAL PRIMARY KEY,
		building_name TEXT NOT NULL,
		floor INTEGER NOT NULL DEFAULT 0,
		room TEXT NOT NULL DEFAULT '',
		full_address TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS cameras (
		id BIGSERIAL PRIMARY KEY,
		code TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		location_id BIGINT NOT NULL REFERENCES locations(id),
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS sensors (
		id BIGSERIAL PRIMARY KEY,
		code TEXT NOT NULL,
		location_id BIGINT NOT NULL REFERENCES locations(id),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_active_ns BIGINT NOT NULL DEFAULT 0,
		signal_strength INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS identities (
		id BIGSERIAL PRIMARY KEY,
		sequence INTEGER NOT NULL UNIQUE,
		location_id BIGINT NOT NULL,
		status TEXT NOT NULL,
		method TEXT NOT NULL,
		rescue_status TEXT NOT NULL,
		first_seen_ns BIGINT NOT NULL,
		last_seen_ns BIGINT NOT NULL,
		active BOOLEAN NOT NULL,
		false_positive BOOLEAN NOT NULL DEFAULT FALSE,
		updated_ns BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_identities_location_active ON identities(location_id, active)`,
	`CREATE TABLE IF NOT EXISTS observations (
		id BIGSERIAL PRIMARY KEY,
		identity_id BIGINT NOT NULL REFERENCES identities(id),
		method TEXT NOT NULL,
		camera_id BIGINT,
		sensor_id BIGINT,
		location_id BIGINT NOT NULL,
		frame_id TEXT NOT NULL DEFAULT '',
		observed_ns BIGINT NOT NULL,
		status TEXT NOT NULL,
		class_name TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		payload JSONB NOT NULL,
		media_url TEXT NOT NULL DEFAULT '',
		summary_json JSONB,
		signal_strength INTEGER,
		CHECK ((camera_id IS NULL) <> (sensor_id IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_identity_camera ON observations(identity_id, camera_id, observed_ns)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_identity_sensor ON observations(identity_id, sensor_id, observed_ns)`,
	`CREATE TABLE IF NOT EXISTS assessments (
		id BIGSERIAL PRIMARY KEY,
		identity_id BIGINT NOT NULL REFERENCES identities(id),
		observation_id BIGINT NOT NULL,
		assessed_ns BIGINT NOT NULL,
		status_score DOUBLE PRECISION NOT NULL,
		environment_multiplier DOUBLE PRECISION NOT NULL,
		hazard TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		final_risk_score DOUBLE PRECISION NOT NULL,
		urgency TEXT NOT NULL,
		formula TEXT NOT NULL,
		model_version TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assessments_identity ON assessments(identity_id, assessed_ns)`,
	`CREATE TABLE IF NOT EXISTS archived_identities (
		id BIGSERIAL PRIMARY KEY,
		identity_id BIGINT NOT NULL,
		sequence INTEGER NOT NULL,
		location_id BIGINT NOT NULL,
		last_status TEXT NOT NULL,
		method TEXT NOT NULL,
		rescue_status TEXT NOT NULL,
		last_seen_ns BIGINT NOT NULL,
		last_risk_score DOUBLE PRECISION,
		archived_ns BIGINT NOT NULL
	)`,
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/rescuefusion?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "open postgres")
	}
	return NewPostgresDB(db), nil
}

// NewPostgresDB wraps an already opened handle.
func NewPostgresDB(db *sql.DB) Store {
	return &sqlStore{
		baseStore: baseStore{db: db},
		dialect: dialect{
			name:         "postgres",
			numbered:     true,
			schema:       postgresSchema,
			lockSequence: lockIdentitySequence,
		},
	}
}

func lockIdentitySequence(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, identitySequenceLock)
	return err
}
