package fusion

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"rescuefusion/internal/model"
)

// frameFingerprint identifies a frame by camera, location and detection content.
// Receive time and frame id are not part of it.
type frameFingerprint [sha256.Size]byte

func fingerprintFrame(f model.VisionFrame) frameFingerprint {
	body, _ := json.Marshal(f.Result)
	var ids [16]byte
	binary.BigEndian.PutUint64(ids[:8], uint64(f.CameraID))
	binary.BigEndian.PutUint64(ids[8:], uint64(f.LocationID))
	h := sha256.New()
	h.Write(ids[:])
	h.Write(body)
	var fp frameFingerprint
	h.Sum(fp[:0])
	return fp
}

// recentFrames holds the fingerprints accepted inside the dedupe window. Each
// entry keeps the deadline after which a repeat is processed again.
type recentFrames struct {
	mu        sync.Mutex
	until     map[frameFingerprint]time.Time
	lastSweep time.Time
}

func newRecentFrames() *recentFrames {
	return &recentFrames{until: make(map[frameFingerprint]time.Time)}
}

// Repeat reports whether fp was accepted within window before at. A first
// sighting is recorded and reported as new.
func (r *recentFrames) Repeat(fp frameFingerprint, at time.Time, window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if deadline, ok := r.until[fp]; ok && !at.After(deadline) {
		return true
	}
	r.until[fp] = at.Add(window)
	if at.Sub(r.lastSweep) > window {
		r.sweep(at)
	}
	return false
}

func (r *recentFrames) sweep(at time.Time) {
	for fp, deadline := range r.until {
		if at.After(deadline) {
			delete(r.until, fp)
		}
	}
	r.lastSweep = at
}

func (r *recentFrames) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.until)
}
