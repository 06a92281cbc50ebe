package matching

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"

	"rescuefusion/internal/config"
	"rescuefusion/internal/geometry"
	"rescuefusion/internal/model"
)

// Store is the slice of the persistence port the matcher reads and writes.
type Store interface {
	ActiveIdentitiesAtLocation(ctx context.Context, locationID int64) ([]model.Identity, error)
	LatestObservation(ctx context.Context, identityID int64, device model.DeviceRef) (model.Observation, bool, error)
	CreateIdentity(ctx context.Context, ident model.Identity) (model.Identity, error)
	TouchIdentity(ctx context.Context, id int64, status model.Posture, at time.Time) (model.Identity, bool, error)
}

type Options struct {
	DistanceThreshold float64
	WifiRecencyWindow time.Duration
}

func OptionsFromConfig(cfg config.MatchingConfig) Options {
	return Options{DistanceThreshold: cfg.DistanceThreshold, WifiRecencyWindow: cfg.WifiRecencyWindow}
}

// Resolution is the identity an observation was attributed to. Created is set when
// no existing identity qualified and a new one was allocated.
type Resolution struct {
	Identity model.Identity
	Created  bool
}

// FrameMatches is the set of identities already claimed by earlier subjects of the
// same frame. It is owned by one frame's call and never shared across frames.
type FrameMatches map[int64]struct{}

func (f FrameMatches) Claim(id int64) { f[id] = struct{}{} }

func (f FrameMatches) Claimed(id int64) bool {
	_, ok := f[id]
	return ok
}

type Matcher struct {
	store  Store
	opts   atomic.Pointer[Options]
	logger *slog.Logger
}

func New(store Store, opts Options, logger *slog.Logger) *Matcher {
	m := &Matcher{store: store, logger: logger}
	m.SetOptions(opts)
	return m
}

func (m *Matcher) SetOptions(opts Options) {
	m.opts.Store(&opts)
}

func (m *Matcher) Options() Options {
	return *m.opts.Load()
}

// FindVision returns the active identity at the location whose last observation from
// the same camera lies closest to the subject, provided the centroid distance is
// strictly below the threshold. Candidates are scanned in sequence order and the
// first one reaching the minimum wins ties.
func (m *Matcher) FindVision(ctx context.Context, subject model.DetectionObject, locationID int64, camera model.DeviceRef, claimed FrameMatches) (model.Identity, bool, error) {
	if subject.Box == nil {
		return model.Identity{}, false, nil
	}
	candidates, err := m.store.ActiveIdentitiesAtLocation(ctx, locationID)
	if err != nil {
		return model.Identity{}, false, eris.Wrapf(err, "active identities at location %d", locationID)
	}
	if len(candidates) == 0 {
		return model.Identity{}, false, nil
	}

	threshold := m.Options().DistanceThreshold
	best := -1
	bestDist := math.Inf(1)
	for i, cand := range candidates {
		if claimed.Claimed(cand.ID) {
			continue
		}
		obs, ok, err := m.store.LatestObservation(ctx, cand.ID, camera)
		if err != nil {
			return model.Identity{}, false, eris.Wrapf(err, "latest observation of identity %d", cand.ID)
		}
		if !ok {
			continue
		}
		prev, err := PayloadBox(obs.Payload)
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("skipping match candidate", "identity_id", cand.ID, "observation_id", obs.ID,
					"location_id", locationID, "camera_id", camera.ID, "class", subject.ClassName, "error", err)
			}
			continue
		}
		d := geometry.CentroidDistance(*subject.Box, prev)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 || bestDist >= threshold {
		return model.Identity{}, false, nil
	}
	return candidates[best], true, nil
}

// FindWifi returns the most recently seen active WiFi identity at the location that
// was seen within the recency window.
func (m *Matcher) FindWifi(ctx context.Context, locationID int64, at time.Time) (model.Identity, bool, error) {
	candidates, err := m.store.ActiveIdentitiesAtLocation(ctx, locationID)
	if err != nil {
		return model.Identity{}, false, eris.Wrapf(err, "active identities at location %d", locationID)
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].LastSeen.After(candidates[j].LastSeen) })
	window := m.Options().WifiRecencyWindow
	for _, cand := range candidates {
		if cand.Method != model.MethodWifi {
			continue
		}
		if at.Sub(cand.LastSeen) > window {
			continue
		}
		return cand, true, nil
	}
	return model.Identity{}, false, nil
}

func (m *Matcher) ResolveVision(ctx context.Context, subject model.DetectionObject, locationID int64, camera model.DeviceRef, status model.Posture, at time.Time, claimed FrameMatches) (Resolution, error) {
	ident, ok, err := m.FindVision(ctx, subject, locationID, camera, claimed)
	if err != nil {
		return Resolution{}, err
	}
	return m.apply(ctx, ident, ok, model.MethodCCTV, locationID, status, at)
}

func (m *Matcher) ResolveWifi(ctx context.Context, locationID int64, status model.Posture, at time.Time) (Resolution, error) {
	ident, ok, err := m.FindWifi(ctx, locationID, at)
	if err != nil {
		return Resolution{}, err
	}
	return m.apply(ctx, ident, ok, model.MethodWifi, locationID, status, at)
}

func (m *Matcher) apply(ctx context.Context, ident model.Identity, matched bool, method model.DetectionMethod, locationID int64, status model.Posture, at time.Time) (Resolution, error) {
	if matched {
		touched, ok, err := m.store.TouchIdentity(ctx, ident.ID, status, at)
		if err != nil {
			return Resolution{Identity: ident}, model.SinkError(err, "touch identity")
		}
		if ok {
			return Resolution{Identity: touched}, nil
		}
		// rescued, cancelled or flagged after the candidate scan
		if m.logger != nil {
			m.logger.Info("matched identity left the active set, starting a new one",
				"identity_id", ident.ID, "location_id", locationID, "method", method)
		}
	}
	created, err := m.store.CreateIdentity(ctx, model.Identity{
		LocationID:   locationID,
		Status:       status,
		Method:       method,
		RescueStatus: model.RescueWaiting,
		FirstSeen:    at,
		LastSeen:     at,
		Active:       true,
		UpdatedAt:    at,
	})
	if err != nil {
		return Resolution{}, eris.Wrapf(err, "create identity at location %d", locationID)
	}
	return Resolution{Identity: created, Created: true}, nil
}

// PayloadBox recovers the bounding box from a stored vision observation payload.
func PayloadBox(payload string) (model.BoundingBox, error) {
	var obj model.DetectionObject
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return model.BoundingBox{}, eris.Wrapf(model.ErrGeometryParse, "decode payload: %v", err)
	}
	if obj.Box == nil {
		return model.BoundingBox{}, eris.Wrap(model.ErrGeometryParse, "payload has no box")
	}
	if !obj.Box.Valid() {
		return model.BoundingBox{}, eris.Wrapf(model.ErrGeometryParse, "payload box %+v is degenerate", *obj.Box)
	}
	return *obj.Box, nil
}
