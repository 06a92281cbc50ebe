package metrics

import (
	"sort"
	"sync"
	"time"

	"rescuefusion/internal/model"
)

// Store holds the latest arrival-rate snapshot per WiFi sensor.
type Store struct {
	mu        sync.RWMutex
	bySensor  map[int64]model.SensorRate
	updatedAt map[int64]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		bySensor:  make(map[int64]model.SensorRate),
		updatedAt: make(map[int64]time.Time),
		limit:     limit,
	}
}

func (s *Store) UpdateSensor(rate model.SensorRate, at time.Time) {
	if rate.SensorID <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySensor[rate.SensorID] = rate
	s.updatedAt[rate.SensorID] = at
	if len(s.bySensor) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(sensorID int64) (model.SensorRate, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.bySensor[sensorID]
	if !ok {
		return model.SensorRate{}, time.Time{}, false
	}
	return r, s.updatedAt[sensorID], true
}

// GetAll returns every snapshot ordered by sensor id.
func (s *Store) GetAll() []model.SensorRate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SensorRate, 0, len(s.bySensor))
	for _, r := range s.bySensor {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}

func (s *Store) evictOldest() {
	var oldestSensor int64
	var oldest time.Time
	for id, ts := range s.updatedAt {
		if oldestSensor == 0 || ts.Before(oldest) {
			oldestSensor = id
			oldest = ts
		}
	}
	if oldestSensor != 0 {
		delete(s.bySensor, oldestSensor)
		delete(s.updatedAt, oldestSensor)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySensor = make(map[int64]model.SensorRate)
	s.updatedAt = make(map[int64]time.Time)
}
