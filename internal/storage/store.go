package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"rescuefusion/internal/config"
	"rescuefusion/internal/model"
)

// Store is the persistence port of the fusion core plus the registry and
// retention queries the surrounding service needs.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	PutLocation(ctx context.Context, loc model.Location) (model.Location, error)
	GetLocation(ctx context.Context, id int64) (model.Location, bool, error)
	ListLocations(ctx context.Context) ([]model.Location, error)
	PutCamera(ctx context.Context, cam model.Camera) (model.Camera, error)
	GetCamera(ctx context.Context, id int64) (model.Camera, bool, error)
	ListCameras(ctx context.Context) ([]model.Camera, error)
	PutSensor(ctx context.Context, sensor model.Sensor) (model.Sensor, error)
	GetSensor(ctx context.Context, id int64) (model.Sensor, bool, error)
	ListSensors(ctx context.Context) ([]model.Sensor, error)
	TouchSensor(ctx context.Context, id int64, at time.Time, signal *int) error

	// CreateIdentity assigns the next sequence number (max + 1, or 1) and the row id.
	// Allocation is serialized so concurrent creations never share a sequence.
	CreateIdentity(ctx context.Context, ident model.Identity) (model.Identity, error)
	// TouchIdentity updates status and last-seen of an active identity and returns
	// the stored row. It reports false when the identity is gone or inactive.
	TouchIdentity(ctx context.Context, id int64, status model.Posture, at time.Time) (model.Identity, bool, error)
	// UpdateIdentity writes the rescue workflow fields as well.
	UpdateIdentity(ctx context.Context, ident model.Identity) error
	GetIdentity(ctx context.Context, id int64) (model.Identity, bool, error)
	ListIdentities(ctx context.Context, filter IdentityFilter) ([]model.Identity, error)
	// ActiveIdentitiesAtLocation returns active identities ordered by sequence.
	ActiveIdentitiesAtLocation(ctx context.Context, locationID int64) ([]model.Identity, error)
	MaxIdentitySequence(ctx context.Context) (int, bool, error)

	AppendObservation(ctx context.Context, obs model.Observation) (int64, error)
	LatestObservation(ctx context.Context, identityID int64, device model.DeviceRef) (model.Observation, bool, error)
	ListObservations(ctx context.Context, identityID int64, limit int) ([]model.Observation, error)
	AppendAssessment(ctx context.Context, a model.Assessment) (int64, error)
	LatestAssessment(ctx context.Context, identityID int64) (model.Assessment, bool, error)
	ListAssessments(ctx context.Context, identityID int64, limit int) ([]model.Assessment, error)

	// ArchiveInactive snapshots and deletes every identity last seen before cutoff.
	ArchiveInactive(ctx context.Context, cutoff, now time.Time) ([]model.ArchivedIdentity, error)
	ListArchived(ctx context.Context, limit int) ([]model.ArchivedIdentity, error)
}

type IdentityFilter struct {
	LocationID int64
	ActiveOnly bool
	Limit      int
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, eris.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

// Timestamps are stored as UTC unix nanoseconds in both SQL dialects.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func ptrInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func ptrInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func limitOr(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
