package storage

import (
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS locations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		building_name TEXT NOT NULL,
		floor INTEGER NOT NULL DEFAULT 0,
		room TEXT NOT NULL DEFAULT '',
		full_address TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS cameras (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		location_id INTEGER NOT NULL REFERENCES locations(id),
		active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS sensors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		location_id INTEGER NOT NULL REFERENCES locations(id),
		active INTEGER NOT NULL DEFAULT 1,
		last_active_ns INTEGER NOT NULL DEFAULT 0,
		signal_strength INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS identities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sequence INTEGER NOT NULL UNIQUE,
		location_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		method TEXT NOT NULL,
		rescue_status TEXT NOT NULL,
		first_seen_ns INTEGER NOT NULL,
		last_seen_ns INTEGER NOT NULL,
		active INTEGER NOT NULL,
		false_positive INTEGER NOT NULL DEFAULT 0,
		updated_ns INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_identities_location_active ON identities(location_id, active)`,
	`CREATE TABLE IF NOT EXISTS observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identity_id INTEGER NOT NULL REFERENCES identities(id),
		method TEXT NOT NULL,
		camera_id INTEGER,
		sensor_id INTEGER,
		location_id INTEGER NOT NULL,
		frame_id TEXT NOT NULL DEFAULT '',
		observed_ns INTEGER NOT NULL,
		status TEXT NOT NULL,
		class_name TEXT NOT NULL,
		confidence REAL NOT NULL,
		payload TEXT NOT NULL,
		media_url TEXT NOT NULL DEFAULT '',
		summary_json TEXT,
		signal_strength INTEGER,
		CHECK ((camera_id IS NULL) <> (sensor_id IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_identity_camera ON observations(identity_id, camera_id, observed_ns)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_identity_sensor ON observations(identity_id, sensor_id, observed_ns)`,
	`CREATE TABLE IF NOT EXISTS assessments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identity_id INTEGER NOT NULL REFERENCES identities(id),
		observation_id INTEGER NOT NULL,
		assessed_ns INTEGER NOT NULL,
		status_score REAL NOT NULL,
		environment_multiplier REAL NOT NULL,
		hazard TEXT NOT NULL,
		confidence REAL NOT NULL,
		final_risk_score REAL NOT NULL,
		urgency TEXT NOT NULL,
		formula TEXT NOT NULL,
		model_version TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assessments_identity ON assessments(identity_id, assessed_ns)`,
	`CREATE TABLE IF NOT EXISTS archived_identities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identity_id INTEGER NOT NULL,
		sequence INTEGER NOT NULL,
		location_id INTEGER NOT NULL,
		last_status TEXT NOT NULL,
		method TEXT NOT NULL,
		rescue_status TEXT NOT NULL,
		last_seen_ns INTEGER NOT NULL,
		last_risk_score REAL,
		archived_ns INTEGER NOT NULL
	)`,
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:rescuefusion.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "open sqlite")
	}
	// One connection serializes writers, which is what makes the
	// read-max-then-insert sequence allocation safe on SQLite.
	db.SetMaxOpenConns(1)
	return &sqlStore{
		baseStore: baseStore{db: db},
		dialect:   dialect{name: "sqlite", schema: sqliteSchema},
	}, nil
}
