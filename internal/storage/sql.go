package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"rescuefusion/internal/model"
)

// dialect captures what differs between the SQL backends; every query is written
// with '?' placeholders and rebound for drivers that number them.
type dialect struct {
	name         string
	numbered     bool
	schema       []string
	lockSequence func(ctx context.Context, tx *sql.Tx) error
}

type sqlStore struct {
	baseStore
	dialect dialect
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *sqlStore) q(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "%s schema", s.dialect.name)
		}
	}
	return nil
}

func (s *sqlStore) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, s.q(query+" RETURNING id"), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// registry

const locationColumns = `id, building_name, floor, room, full_address`

func scanLocation(r rowScanner) (model.Location, error) {
	var loc model.Location
	err := r.Scan(&loc.ID, &loc.BuildingName, &loc.Floor, &loc.Room, &loc.FullAddress)
	return loc, err
}

func (s *sqlStore) PutLocation(ctx context.Context, loc model.Location) (model.Location, error) {
	if loc.ID > 0 {
		res, err := s.db.ExecContext(ctx, s.q(`UPDATE locations SET building_name = ?, floor = ?, room = ?, full_address = ? WHERE id = ?`),
			loc.BuildingName, loc.Floor, loc.Room, loc.FullAddress, loc.ID)
		if err != nil {
			return loc, eris.Wrap(err, "update location")
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return loc, nil
		}
		return loc, model.NotFoundf("location %d", loc.ID)
	}
	id, err := s.insertID(ctx, `INSERT INTO locations (building_name, floor, room, full_address) VALUES (?, ?, ?, ?)`,
		loc.BuildingName, loc.Floor, loc.Room, loc.FullAddress)
	if err != nil {
		return loc, eris.Wrap(err, "insert location")
	}
	loc.ID = id
	return loc, nil
}

func (s *sqlStore) GetLocation(ctx context.Context, id int64) (model.Location, bool, error) {
	loc, err := scanLocation(s.db.QueryRowContext(ctx, s.q(`SELECT `+locationColumns+` FROM locations WHERE id = ?`), id))
	return found(loc, err, "get location")
}

func (s *sqlStore) ListLocations(ctx context.Context) ([]model.Location, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+locationColumns+` FROM locations ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "list locations")
	}
	defer rows.Close()
	var out []model.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan location")
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

const cameraColumns = `id, code, name, location_id, active`

func scanCamera(r rowScanner) (model.Camera, error) {
	var c model.Camera
	err := r.Scan(&c.ID, &c.Code, &c.Name, &c.LocationID, &c.Active)
	return c, err
}

func (s *sqlStore) PutCamera(ctx context.Context, cam model.Camera) (model.Camera, error) {
	if cam.ID > 0 {
		res, err := s.db.ExecContext(ctx, s.q(`UPDATE cameras SET code = ?, name = ?, location_id = ?, active = ? WHERE id = ?`),
			cam.Code, cam.Name, cam.LocationID, cam.Active, cam.ID)
		if err != nil {
			return cam, eris.Wrap(err, "update camera")
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return cam, nil
		}
		return cam, model.NotFoundf("camera %d", cam.ID)
	}
	id, err := s.insertID(ctx, `INSERT INTO cameras (code, name, location_id, active) VALUES (?, ?, ?, ?)`,
		cam.Code, cam.Name, cam.LocationID, cam.Active)
	if err != nil {
		return cam, eris.Wrap(err, "insert camera")
	}
	cam.ID = id
	return cam, nil
}

func (s *sqlStore) GetCamera(ctx context.Context, id int64) (model.Camera, bool, error) {
	cam, err := scanCamera(s.db.QueryRowContext(ctx, s.q(`SELECT `+cameraColumns+` FROM cameras WHERE id = ?`), id))
	return found(cam, err, "get camera")
}

func (s *sqlStore) ListCameras(ctx context.Context) ([]model.Camera, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cameraColumns+` FROM cameras ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "list cameras")
	}
	defer rows.Close()
	var out []model.Camera
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan camera")
		}
		out = append(out, cam)
	}
	return out, rows.Err()
}

const sensorColumns = `id, code, location_id, active, last_active_ns, signal_strength`

func scanSensor(r rowScanner) (model.Sensor, error) {
	var (
		sn     model.Sensor
		last   int64
		signal sql.NullInt64
	)
	if err := r.Scan(&sn.ID, &sn.Code, &sn.LocationID, &sn.Active, &last, &signal); err != nil {
		return sn, err
	}
	sn.LastActiveAt = fromNanos(last)
	sn.SignalStrength = ptrInt(signal)
	return sn, nil
}

func (s *sqlStore) PutSensor(ctx context.Context, sn model.Sensor) (model.Sensor, error) {
	if sn.ID > 0 {
		res, err := s.db.ExecContext(ctx, s.q(`UPDATE sensors SET code = ?, location_id = ?, active = ? WHERE id = ?`),
			sn.Code, sn.LocationID, sn.Active, sn.ID)
		if err != nil {
			return sn, eris.Wrap(err, "update sensor")
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return sn, nil
		}
		return sn, model.NotFoundf("sensor %d", sn.ID)
	}
	id, err := s.insertID(ctx, `INSERT INTO sensors (code, location_id, active, last_active_ns, signal_strength) VALUES (?, ?, ?, ?, ?)`,
		sn.Code, sn.LocationID, sn.Active, toNanos(sn.LastActiveAt), nullInt(sn.SignalStrength))
	if err != nil {
		return sn, eris.Wrap(err, "insert sensor")
	}
	sn.ID = id
	return sn, nil
}

func (s *sqlStore) GetSensor(ctx context.Context, id int64) (model.Sensor, bool, error) {
	sn, err := scanSensor(s.db.QueryRowContext(ctx, s.q(`SELECT `+sensorColumns+` FROM sensors WHERE id = ?`), id))
	return found(sn, err, "get sensor")
}

func (s *sqlStore) ListSensors(ctx context.Context) ([]model.Sensor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sensorColumns+` FROM sensors ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "list sensors")
	}
	defer rows.Close()
	var out []model.Sensor
	for rows.Next() {
		sn, err := scanSensor(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan sensor")
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

func (s *sqlStore) TouchSensor(ctx context.Context, id int64, at time.Time, signal *int) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE sensors SET last_active_ns = ?, signal_strength = COALESCE(?, signal_strength) WHERE id = ?`),
		toNanos(at), nullInt(signal), id)
	if err != nil {
		return eris.Wrap(err, "touch sensor")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFoundf("sensor %d", id)
	}
	return nil
}

// identities

const identityColumns = `id, sequence, location_id, status, method, rescue_status, first_seen_ns, last_seen_ns, active, false_positive, updated_ns`

func scanIdentity(r rowScanner) (model.Identity, error) {
	var (
		ident                  model.Identity
		first, last, updatedNs int64
	)
	err := r.Scan(&ident.ID, &ident.Sequence, &ident.LocationID, &ident.Status, &ident.Method, &ident.RescueStatus,
		&first, &last, &ident.Active, &ident.FalsePositive, &updatedNs)
	if err != nil {
		return ident, err
	}
	ident.FirstSeen = fromNanos(first)
	ident.LastSeen = fromNanos(last)
	ident.UpdatedAt = fromNanos(updatedNs)
	return ident, nil
}

func (s *sqlStore) CreateIdentity(ctx context.Context, ident model.Identity) (model.Identity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ident, eris.Wrap(err, "begin create identity")
	}
	defer func() { _ = tx.Rollback() }()

	if s.dialect.lockSequence != nil {
		if err := s.dialect.lockSequence(ctx, tx); err != nil {
			return ident, eris.Wrap(err, "lock identity sequence")
		}
	}
	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM identities`).Scan(&next); err != nil {
		return ident, eris.Wrap(err, "next identity sequence")
	}
	ident.Sequence = next
	if ident.UpdatedAt.IsZero() {
		ident.UpdatedAt = ident.LastSeen
	}
	err = tx.QueryRowContext(ctx, s.q(`INSERT INTO identities (sequence, location_id, status, method, rescue_status, first_seen_ns, last_seen_ns, active, false_positive, updated_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		ident.Sequence, ident.LocationID, string(ident.Status), string(ident.Method), string(ident.RescueStatus),
		toNanos(ident.FirstSeen), toNanos(ident.LastSeen), ident.Active, ident.FalsePositive, toNanos(ident.UpdatedAt),
	).Scan(&ident.ID)
	if err != nil {
		return ident, eris.Wrap(err, "insert identity")
	}
	if err := tx.Commit(); err != nil {
		return ident, eris.Wrap(err, "commit identity")
	}
	return ident, nil
}

// TouchIdentity records a new sighting without touching the rescue workflow
// columns. Only active identities are touched.
func (s *sqlStore) TouchIdentity(ctx context.Context, id int64, status model.Posture, at time.Time) (model.Identity, bool, error) {
	ident, err := scanIdentity(s.db.QueryRowContext(ctx, s.q(`UPDATE identities SET status = ?, last_seen_ns = ?, updated_ns = ? WHERE id = ? AND active = ? RETURNING `+identityColumns),
		string(status), toNanos(at), toNanos(at), id, true))
	return found(ident, err, "touch identity")
}

// UpdateIdentity never touches the detection method, location or first-seen time.
func (s *sqlStore) UpdateIdentity(ctx context.Context, ident model.Identity) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE identities SET status = ?, rescue_status = ?, last_seen_ns = ?, active = ?, false_positive = ?, updated_ns = ? WHERE id = ?`),
		string(ident.Status), string(ident.RescueStatus), toNanos(ident.LastSeen), ident.Active, ident.FalsePositive, toNanos(ident.UpdatedAt), ident.ID)
	if err != nil {
		return eris.Wrapf(err, "update identity %d", ident.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFoundf("identity %d", ident.ID)
	}
	return nil
}

func (s *sqlStore) GetIdentity(ctx context.Context, id int64) (model.Identity, bool, error) {
	ident, err := scanIdentity(s.db.QueryRowContext(ctx, s.q(`SELECT `+identityColumns+` FROM identities WHERE id = ?`), id))
	return found(ident, err, "get identity")
}

func (s *sqlStore) ListIdentities(ctx context.Context, filter IdentityFilter) ([]model.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE 1 = 1`
	var args []any
	if filter.LocationID > 0 {
		query += ` AND location_id = ?`
		args = append(args, filter.LocationID)
	}
	if filter.ActiveOnly {
		query += ` AND active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY sequence LIMIT ?`
	args = append(args, limitOr(filter.Limit, 500))
	return s.queryIdentities(ctx, query, args...)
}

func (s *sqlStore) ActiveIdentitiesAtLocation(ctx context.Context, locationID int64) ([]model.Identity, error) {
	return s.queryIdentities(ctx, `SELECT `+identityColumns+` FROM identities WHERE location_id = ? AND active = ? ORDER BY sequence`, locationID, true)
}

func (s *sqlStore) queryIdentities(ctx context.Context, query string, args ...any) ([]model.Identity, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, eris.Wrap(err, "query identities")
	}
	defer rows.Close()
	var out []model.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan identity")
		}
		out = append(out, ident)
	}
	return out, rows.Err()
}

func (s *sqlStore) MaxIdentitySequence(ctx context.Context) (int, bool, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM identities`).Scan(&max); err != nil {
		return 0, false, eris.Wrap(err, "max identity sequence")
	}
	if !max.Valid {
		return 0, false, nil
	}
	return int(max.Int64), true, nil
}

// observations

const observationColumns = `id, identity_id, method, camera_id, sensor_id, location_id, frame_id, observed_ns, status, class_name, confidence, payload, media_url, summary_json, signal_strength`

func scanObservation(r rowScanner) (model.Observation, error) {
	var (
		obs            model.Observation
		camera, sensor sql.NullInt64
		observed       int64
		summary        sql.NullString
		signal         sql.NullInt64
	)
	err := r.Scan(&obs.ID, &obs.IdentityID, &obs.Method, &camera, &sensor, &obs.LocationID, &obs.FrameID, &observed,
		&obs.Status, &obs.ClassName, &obs.Confidence, &obs.Payload, &obs.MediaURL, &summary, &signal)
	if err != nil {
		return obs, err
	}
	obs.CameraID = ptrInt64(camera)
	obs.SensorID = ptrInt64(sensor)
	obs.ObservedAt = fromNanos(observed)
	obs.SignalStrength = ptrInt(signal)
	if summary.Valid && summary.String != "" {
		var sum model.DetectionSummary
		if err := json.Unmarshal([]byte(summary.String), &sum); err == nil {
			obs.Summary = &sum
		}
	}
	return obs, nil
}

func (s *sqlStore) AppendObservation(ctx context.Context, obs model.Observation) (int64, error) {
	if err := obs.Validate(); err != nil {
		return 0, err
	}
	var summary sql.NullString
	if obs.Summary != nil {
		summary = sql.NullString{String: encodeJSON(obs.Summary), Valid: true}
	}
	id, err := s.insertID(ctx, `INSERT INTO observations (identity_id, method, camera_id, sensor_id, location_id, frame_id, observed_ns, status, class_name, confidence, payload, media_url, summary_json, signal_strength)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.IdentityID, string(obs.Method), nullInt64(obs.CameraID), nullInt64(obs.SensorID), obs.LocationID, obs.FrameID,
		toNanos(obs.ObservedAt), string(obs.Status), obs.ClassName, obs.Confidence, obs.Payload, obs.MediaURL, summary, nullInt(obs.SignalStrength))
	if err != nil {
		return 0, eris.Wrapf(err, "insert observation for identity %d", obs.IdentityID)
	}
	return id, nil
}

func (s *sqlStore) LatestObservation(ctx context.Context, identityID int64, device model.DeviceRef) (model.Observation, bool, error) {
	column := "camera_id"
	if device.Kind == model.DeviceSensor {
		column = "sensor_id"
	}
	obs, err := scanObservation(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+observationColumns+` FROM observations WHERE identity_id = ? AND `+column+` = ? ORDER BY observed_ns DESC, id DESC LIMIT 1`),
		identityID, device.ID))
	return found(obs, err, "latest observation")
}

func (s *sqlStore) ListObservations(ctx context.Context, identityID int64, limit int) ([]model.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+observationColumns+` FROM observations WHERE identity_id = ? ORDER BY observed_ns DESC, id DESC LIMIT ?`),
		identityID, limitOr(limit, 100))
	if err != nil {
		return nil, eris.Wrap(err, "list observations")
	}
	defer rows.Close()
	var out []model.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan observation")
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

// assessments

const assessmentColumns = `id, identity_id, observation_id, assessed_ns, status_score, environment_multiplier, hazard, confidence, final_risk_score, urgency, formula, model_version, notes`

func scanAssessment(r rowScanner) (model.Assessment, error) {
	var (
		a        model.Assessment
		assessed int64
	)
	err := r.Scan(&a.ID, &a.IdentityID, &a.ObservationID, &assessed, &a.StatusScore, &a.EnvironmentMultiplier, &a.Hazard,
		&a.ConfidenceCoefficient, &a.FinalRiskScore, &a.Urgency, &a.Formula, &a.ModelVersion, &a.Notes)
	if err != nil {
		return a, err
	}
	a.AssessedAt = fromNanos(assessed)
	return a, nil
}

func (s *sqlStore) AppendAssessment(ctx context.Context, a model.Assessment) (int64, error) {
	id, err := s.insertID(ctx, `INSERT INTO assessments (identity_id, observation_id, assessed_ns, status_score, environment_multiplier, hazard, confidence, final_risk_score, urgency, formula, model_version, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.IdentityID, a.ObservationID, toNanos(a.AssessedAt), a.StatusScore, a.EnvironmentMultiplier, string(a.Hazard),
		a.ConfidenceCoefficient, a.FinalRiskScore, string(a.Urgency), a.Formula, a.ModelVersion, a.Notes)
	if err != nil {
		return 0, eris.Wrapf(err, "insert assessment for identity %d", a.IdentityID)
	}
	return id, nil
}

func (s *sqlStore) LatestAssessment(ctx context.Context, identityID int64) (model.Assessment, bool, error) {
	a, err := scanAssessment(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+assessmentColumns+` FROM assessments WHERE identity_id = ? ORDER BY assessed_ns DESC, id DESC LIMIT 1`), identityID))
	return found(a, err, "latest assessment")
}

func (s *sqlStore) ListAssessments(ctx context.Context, identityID int64, limit int) ([]model.Assessment, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+assessmentColumns+` FROM assessments WHERE identity_id = ? ORDER BY assessed_ns DESC, id DESC LIMIT ?`),
		identityID, limitOr(limit, 100))
	if err != nil {
		return nil, eris.Wrap(err, "list assessments")
	}
	defer rows.Close()
	var out []model.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan assessment")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// retention

func (s *sqlStore) ArchiveInactive(ctx context.Context, cutoff, now time.Time) ([]model.ArchivedIdentity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "begin archive")
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, s.q(`SELECT `+identityColumns+` FROM identities WHERE last_seen_ns < ? ORDER BY sequence`), toNanos(cutoff))
	if err != nil {
		return nil, eris.Wrap(err, "select stale identities")
	}
	var stale []model.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "scan stale identity")
		}
		stale = append(stale, ident)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "iterate stale identities")
	}

	archived := make([]model.ArchivedIdentity, 0, len(stale))
	for _, ident := range stale {
		rec := archiveRecord(ident, now)
		var score sql.NullFloat64
		err := tx.QueryRowContext(ctx, s.q(`SELECT final_risk_score FROM assessments WHERE identity_id = ? ORDER BY assessed_ns DESC, id DESC LIMIT 1`), ident.ID).Scan(&score)
		if err != nil && !eris.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(err, "last score for identity %d", ident.ID)
		}
		if score.Valid {
			v := score.Float64
			rec.LastRiskScore = &v
		}
		var last sql.NullFloat64
		if rec.LastRiskScore != nil {
			last = sql.NullFloat64{Float64: *rec.LastRiskScore, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO archived_identities (identity_id, sequence, location_id, last_status, method, rescue_status, last_seen_ns, last_risk_score, archived_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			rec.IdentityID, rec.Sequence, rec.LocationID, string(rec.LastStatus), string(rec.Method), string(rec.RescueStatus),
			toNanos(rec.LastSeen), last, toNanos(rec.ArchivedAt)); err != nil {
			return nil, eris.Wrapf(err, "archive identity %d", ident.ID)
		}
		for _, stmt := range []string{
			`DELETE FROM assessments WHERE identity_id = ?`,
			`DELETE FROM observations WHERE identity_id = ?`,
			`DELETE FROM identities WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, s.q(stmt), ident.ID); err != nil {
				return nil, eris.Wrapf(err, "delete identity %d", ident.ID)
			}
		}
		archived = append(archived, rec)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "commit archive")
	}
	return archived, nil
}

func (s *sqlStore) ListArchived(ctx context.Context, limit int) ([]model.ArchivedIdentity, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT identity_id, sequence, location_id, last_status, method, rescue_status, last_seen_ns, last_risk_score, archived_ns
		FROM archived_identities ORDER BY archived_ns DESC, id DESC LIMIT ?`), limitOr(limit, 100))
	if err != nil {
		return nil, eris.Wrap(err, "list archived")
	}
	defer rows.Close()
	var out []model.ArchivedIdentity
	for rows.Next() {
		var (
			rec            model.ArchivedIdentity
			lastSeen, arch int64
			score          sql.NullFloat64
		)
		if err := rows.Scan(&rec.IdentityID, &rec.Sequence, &rec.LocationID, &rec.LastStatus, &rec.Method, &rec.RescueStatus, &lastSeen, &score, &arch); err != nil {
			return nil, eris.Wrap(err, "scan archived")
		}
		rec.LastSeen = fromNanos(lastSeen)
		rec.ArchivedAt = fromNanos(arch)
		if score.Valid {
			v := score.Float64
			rec.LastRiskScore = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func archiveRecord(ident model.Identity, now time.Time) model.ArchivedIdentity {
	return model.ArchivedIdentity{
		IdentityID:   ident.ID,
		Sequence:     ident.Sequence,
		LocationID:   ident.LocationID,
		LastStatus:   ident.Status,
		Method:       ident.Method,
		RescueStatus: ident.RescueStatus,
		LastSeen:     ident.LastSeen,
		ArchivedAt:   now,
	}
}

// found turns sql.ErrNoRows into an absent result.
func found[T any](v T, err error, op string) (T, bool, error) {
	if err == nil {
		return v, true, nil
	}
	var zero T
	if eris.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	return zero, false, eris.Wrap(err, op)
}
