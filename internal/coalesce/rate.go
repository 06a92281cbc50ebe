package coalesce

import (
	"sync"
	"time"

	"rescuefusion/internal/model"
)

type arrival struct {
	at        time.Time
	discarded bool
}

// sensorWindow is a sliding window of message arrivals for one sensor.
type sensorWindow struct {
	duration time.Duration
	events   []arrival
	head     int
	arrivals int
	discards int
}

func newSensorWindow(duration time.Duration) *sensorWindow {
	return &sensorWindow{duration: duration, events: make([]arrival, 0, 64)}
}

func (w *sensorWindow) add(a arrival) {
	w.events = append(w.events, a)
	w.arrivals++
	if a.discarded {
		w.discards++
	}
}

func (w *sensorWindow) evict(cutoff time.Time) {
	for w.head < len(w.events) {
		a := w.events[w.head]
		if !a.at.Before(cutoff) {
			break
		}
		w.arrivals--
		if a.discarded {
			w.discards--
		}
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.events) {
		w.events = append([]arrival{}, w.events[w.head:]...)
		w.head = 0
	}
}

func (w *sensorWindow) rate(sensorID int64) model.SensorRate {
	out := model.SensorRate{
		SensorID:  sensorID,
		WindowSec: int(w.duration.Seconds()),
		Arrivals:  w.arrivals,
		Discards:  w.discards,
	}
	if w.arrivals > 0 {
		out.APS = float64(w.arrivals) / w.duration.Seconds()
		out.DiscardRatio = float64(w.discards) / float64(w.arrivals)
	}
	return out
}

// RateTracker measures per-sensor arrival and discard rates over a sliding window.
type RateTracker struct {
	mu      sync.Mutex
	window  time.Duration
	sensors map[int64]*sensorWindow
}

func NewRateTracker(window time.Duration) *RateTracker {
	if window <= 0 {
		window = 10 * time.Second
	}
	return &RateTracker{window: window, sensors: make(map[int64]*sensorWindow)}
}

func (r *RateTracker) Record(sensorID int64, at time.Time, discarded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.sensors[sensorID]
	if !ok {
		w = newSensorWindow(r.window)
		r.sensors[sensorID] = w
	}
	w.add(arrival{at: at, discarded: discarded})
}

// Snapshot evicts expired arrivals and returns the current rate. Sensors with an
// empty window are forgotten.
func (r *RateTracker) Snapshot(sensorID int64, now time.Time) (model.SensorRate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.sensors[sensorID]
	if !ok {
		return model.SensorRate{}, false
	}
	w.evict(now.Add(-r.window))
	if w.arrivals == 0 {
		delete(r.sensors, sensorID)
		return model.SensorRate{}, false
	}
	return w.rate(sensorID), true
}
