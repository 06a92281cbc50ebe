package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"rescuefusion/internal/model"
)

// memoryStore keeps everything in process. It is the default driver and the
// one the fusion tests run against.
type memoryStore struct {
	mu           sync.RWMutex
	nextID       int64
	locations    map[int64]model.Location
	cameras      map[int64]model.Camera
	sensors      map[int64]model.Sensor
	identities   map[int64]model.Identity
	observations []model.Observation
	assessments  []model.Assessment
	archived     []model.ArchivedIdentity
}

func NewMemory() Store {
	return &memoryStore{
		locations:  make(map[int64]model.Location),
		cameras:    make(map[int64]model.Camera),
		sensors:    make(map[int64]model.Sensor),
		identities: make(map[int64]model.Identity),
	}
}

func (m *memoryStore) Init(context.Context) error { return nil }
func (m *memoryStore) Close() error               { return nil }

func (m *memoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryStore) PutLocation(_ context.Context, loc model.Location) (model.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if loc.ID > 0 {
		if _, ok := m.locations[loc.ID]; !ok {
			return loc, model.NotFoundf("location %d", loc.ID)
		}
	} else {
		loc.ID = m.id()
	}
	m.locations[loc.ID] = loc
	return loc, nil
}

func (m *memoryStore) GetLocation(_ context.Context, id int64) (model.Location, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locations[id]
	return loc, ok, nil
}

func (m *memoryStore) ListLocations(context.Context) ([]model.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.locations, func(l model.Location) int64 { return l.ID }), nil
}

func (m *memoryStore) PutCamera(_ context.Context, cam model.Camera) (model.Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cam.ID > 0 {
		if _, ok := m.cameras[cam.ID]; !ok {
			return cam, model.NotFoundf("camera %d", cam.ID)
		}
	} else {
		cam.ID = m.id()
	}
	m.cameras[cam.ID] = cam
	return cam, nil
}

func (m *memoryStore) GetCamera(_ context.Context, id int64) (model.Camera, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cam, ok := m.cameras[id]
	return cam, ok, nil
}

func (m *memoryStore) ListCameras(context.Context) ([]model.Camera, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.cameras, func(c model.Camera) int64 { return c.ID }), nil
}

func (m *memoryStore) PutSensor(_ context.Context, sn model.Sensor) (model.Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sn.ID > 0 {
		prev, ok := m.sensors[sn.ID]
		if !ok {
			return sn, model.NotFoundf("sensor %d", sn.ID)
		}
		sn.LastActiveAt = prev.LastActiveAt
		sn.SignalStrength = prev.SignalStrength
	} else {
		sn.ID = m.id()
	}
	m.sensors[sn.ID] = sn
	return sn, nil
}

func (m *memoryStore) GetSensor(_ context.Context, id int64) (model.Sensor, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sn, ok := m.sensors[id]
	return sn, ok, nil
}

func (m *memoryStore) ListSensors(context.Context) ([]model.Sensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.sensors, func(s model.Sensor) int64 { return s.ID }), nil
}

func (m *memoryStore) TouchSensor(_ context.Context, id int64, at time.Time, signal *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sn, ok := m.sensors[id]
	if !ok {
		return model.NotFoundf("sensor %d", id)
	}
	sn.LastActiveAt = at
	if signal != nil {
		v := *signal
		sn.SignalStrength = &v
	}
	m.sensors[id] = sn
	return nil
}

func (m *memoryStore) CreateIdentity(_ context.Context, ident model.Identity) (model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident.Sequence = m.maxSequence() + 1
	ident.ID = m.id()
	if ident.UpdatedAt.IsZero() {
		ident.UpdatedAt = ident.LastSeen
	}
	m.identities[ident.ID] = ident
	return ident, nil
}

func (m *memoryStore) TouchIdentity(_ context.Context, id int64, status model.Posture, at time.Time) (model.Identity, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[id]
	if !ok || !ident.Active {
		return model.Identity{}, false, nil
	}
	ident.Status = status
	ident.LastSeen = at
	ident.UpdatedAt = at
	m.identities[id] = ident
	return ident, true, nil
}

func (m *memoryStore) UpdateIdentity(_ context.Context, ident model.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.identities[ident.ID]
	if !ok {
		return model.NotFoundf("identity %d", ident.ID)
	}
	prev.Status = ident.Status
	prev.RescueStatus = ident.RescueStatus
	prev.LastSeen = ident.LastSeen
	prev.Active = ident.Active
	prev.FalsePositive = ident.FalsePositive
	prev.UpdatedAt = ident.UpdatedAt
	m.identities[ident.ID] = prev
	return nil
}

func (m *memoryStore) GetIdentity(_ context.Context, id int64) (model.Identity, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ident, ok := m.identities[id]
	return ident, ok, nil
}

func (m *memoryStore) ListIdentities(_ context.Context, filter IdentityFilter) ([]model.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.identitiesWhere(func(ident model.Identity) bool {
		if filter.LocationID > 0 && ident.LocationID != filter.LocationID {
			return false
		}
		return !filter.ActiveOnly || ident.Active
	})
	if limit := limitOr(filter.Limit, 500); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) ActiveIdentitiesAtLocation(_ context.Context, locationID int64) ([]model.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identitiesWhere(func(ident model.Identity) bool {
		return ident.Active && ident.LocationID == locationID
	}), nil
}

func (m *memoryStore) identitiesWhere(keep func(model.Identity) bool) []model.Identity {
	var out []model.Identity
	for _, ident := range m.identities {
		if keep(ident) {
			out = append(out, ident)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (m *memoryStore) MaxIdentitySequence(context.Context) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.identities) == 0 {
		return 0, false, nil
	}
	return m.maxSequence(), true, nil
}

func (m *memoryStore) maxSequence() int {
	max := 0
	for _, ident := range m.identities {
		if ident.Sequence > max {
			max = ident.Sequence
		}
	}
	return max
}

func (m *memoryStore) AppendObservation(_ context.Context, obs model.Observation) (int64, error) {
	if err := obs.Validate(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[obs.IdentityID]; !ok {
		return 0, model.NotFoundf("identity %d", obs.IdentityID)
	}
	obs.ID = m.id()
	m.observations = append(m.observations, obs)
	return obs.ID, nil
}

func (m *memoryStore) LatestObservation(_ context.Context, identityID int64, device model.DeviceRef) (model.Observation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		latest model.Observation
		ok     bool
	)
	for _, obs := range m.observations {
		if obs.IdentityID != identityID || obs.Device() != device {
			continue
		}
		if !ok || !obs.ObservedAt.Before(latest.ObservedAt) {
			latest, ok = obs, true
		}
	}
	return latest, ok, nil
}

func (m *memoryStore) ListObservations(_ context.Context, identityID int64, limit int) ([]model.Observation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit = limitOr(limit, 100)
	var out []model.Observation
	for i := len(m.observations) - 1; i >= 0 && len(out) < limit; i-- {
		if m.observations[i].IdentityID == identityID {
			out = append(out, m.observations[i])
		}
	}
	return out, nil
}

func (m *memoryStore) AppendAssessment(_ context.Context, a model.Assessment) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[a.IdentityID]; !ok {
		return 0, model.NotFoundf("identity %d", a.IdentityID)
	}
	a.ID = m.id()
	m.assessments = append(m.assessments, a)
	return a.ID, nil
}

func (m *memoryStore) LatestAssessment(_ context.Context, identityID int64) (model.Assessment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestAssessment(identityID)
}

func (m *memoryStore) latestAssessment(identityID int64) (model.Assessment, bool, error) {
	for i := len(m.assessments) - 1; i >= 0; i-- {
		if m.assessments[i].IdentityID == identityID {
			return m.assessments[i], true, nil
		}
	}
	return model.Assessment{}, false, nil
}

func (m *memoryStore) ListAssessments(_ context.Context, identityID int64, limit int) ([]model.Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit = limitOr(limit, 100)
	var out []model.Assessment
	for i := len(m.assessments) - 1; i >= 0 && len(out) < limit; i-- {
		if m.assessments[i].IdentityID == identityID {
			out = append(out, m.assessments[i])
		}
	}
	return out, nil
}

func (m *memoryStore) ArchiveInactive(_ context.Context, cutoff, now time.Time) ([]model.ArchivedIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stale := m.identitiesWhere(func(ident model.Identity) bool { return ident.LastSeen.Before(cutoff) })
	if len(stale) == 0 {
		return nil, nil
	}
	gone := make(map[int64]struct{}, len(stale))
	out := make([]model.ArchivedIdentity, 0, len(stale))
	for _, ident := range stale {
		rec := archiveRecord(ident, now)
		if a, ok, _ := m.latestAssessment(ident.ID); ok {
			v := a.FinalRiskScore
			rec.LastRiskScore = &v
		}
		out = append(out, rec)
		gone[ident.ID] = struct{}{}
		delete(m.identities, ident.ID)
	}
	m.observations = without(m.observations, func(o model.Observation) bool { _, ok := gone[o.IdentityID]; return ok })
	m.assessments = without(m.assessments, func(a model.Assessment) bool { _, ok := gone[a.IdentityID]; return ok })
	m.archived = append(m.archived, out...)
	return out, nil
}

func (m *memoryStore) ListArchived(_ context.Context, limit int) ([]model.ArchivedIdentity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit = limitOr(limit, 100)
	var out []model.ArchivedIdentity
	for i := len(m.archived) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.archived[i])
	}
	return out, nil
}

func without[T any](items []T, drop func(T) bool) []T {
	out := items[:0]
	for _, it := range items {
		if !drop(it) {
			out = append(out, it)
		}
	}
	return out
}

func sortedValues[T any](m map[int64]T, key func(T) int64) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}
