package matching

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescuefusion/internal/logging"
	"rescuefusion/internal/model"
	"rescuefusion/internal/storage"
)

const (
	locationID = int64(1)
	cameraA    = int64(10)
	cameraB    = int64(11)
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newMatcherForTest(st Store) *Matcher {
	return New(st, Options{DistanceThreshold: 300, WifiRecencyWindow: 10 * time.Minute}, logging.Discard())
}

func subjectAt(x, y int) model.DetectionObject {
	return model.DetectionObject{ClassName: "human", Pose: "Sitting", Box: &model.BoundingBox{X1: x, Y1: y, X2: x + 100, Y2: y + 200}}
}

// seedVision creates an active CCTV identity whose last observation from camera is subject.
func seedVision(t *testing.T, st storage.Store, camera int64, subject model.DetectionObject, at time.Time) model.Identity {
	t.Helper()
	ctx := context.Background()
	ident, err := st.CreateIdentity(ctx, model.Identity{
		LocationID: locationID, Status: model.PostureSitting, Method: model.MethodCCTV,
		RescueStatus: model.RescueWaiting, FirstSeen: at, LastSeen: at, Active: true,
	})
	require.NoError(t, err)
	appendPayload(t, st, ident.ID, camera, mustJSON(t, subject), at)
	return ident
}

func appendPayload(t *testing.T, st storage.Store, identityID, camera int64, payload string, at time.Time) {
	t.Helper()
	_, err := st.AppendObservation(context.Background(), model.Observation{
		IdentityID: identityID, Method: model.MethodCCTV, CameraID: &camera, LocationID: locationID,
		ObservedAt: at, Status: model.PostureSitting, ClassName: "human", Confidence: 1, Payload: payload,
	})
	require.NoError(t, err)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestResolveVisionCreatesWhenLocationEmpty(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	m := newMatcherForTest(st)

	res, err := m.ResolveVision(ctx, subjectAt(100, 100), locationID, model.CameraRef(cameraA), model.PostureSitting, t0, FrameMatches{})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 1, res.Identity.Sequence)
	assert.Equal(t, model.MethodCCTV, res.Identity.Method)
	assert.Equal(t, model.RescueWaiting, res.Identity.RescueStatus)
	assert.True(t, res.Identity.Active)
}

func TestResolveVisionSequenceContinuesFromMax(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := st.CreateIdentity(ctx, model.Identity{LocationID: 99, Method: model.MethodCCTV, Active: true, LastSeen: t0})
		require.NoError(t, err)
	}
	m := newMatcherForTest(st)

	res, err := m.ResolveVision(ctx, subjectAt(100, 100), locationID, model.CameraRef(cameraA), model.PostureStanding, t0, FrameMatches{})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 6, res.Identity.Sequence)
}

func TestResolveVisionMatchesNearbyIdentity(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	existing := seedVision(t, st, cameraA, subjectAt(100, 100), t0)
	m := newMatcherForTest(st)

	later := t0.Add(2 * time.Second)
	res, err := m.ResolveVision(ctx, subjectAt(140, 130), locationID, model.CameraRef(cameraA), model.PostureFalling, later, FrameMatches{})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, existing.ID, res.Identity.ID)

	stored, ok, err := st.GetIdentity(ctx, existing.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stored.LastSeen.Equal(later))
	assert.Equal(t, model.PostureFalling, stored.Status)

	max, _, err := st.MaxIdentitySequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, max, "no new identity expected")
}

func TestResolveVisionThresholdIsStrict(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	seedVision(t, st, cameraA, subjectAt(0, 0), t0)
	m := newMatcherForTest(st)

	// centroid moves exactly 300px to the right
	res, err := m.ResolveVision(ctx, subjectAt(300, 0), locationID, model.CameraRef(cameraA), model.PostureSitting, t0, FrameMatches{})
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestResolveVisionFrameLocalExclusion(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	existing := seedVision(t, st, cameraA, subjectAt(100, 100), t0)
	m := newMatcherForTest(st)

	claimed := FrameMatches{}
	first, err := m.ResolveVision(ctx, subjectAt(110, 100), locationID, model.CameraRef(cameraA), model.PostureSitting, t0, claimed)
	require.NoError(t, err)
	claimed.Claim(first.Identity.ID)
	second, err := m.ResolveVision(ctx, subjectAt(120, 100), locationID, model.CameraRef(cameraA), model.PostureSitting, t0, claimed)
	require.NoError(t, err)

	assert.Equal(t, existing.ID, first.Identity.ID)
	assert.True(t, second.Created)
	assert.NotEqual(t, first.Identity.ID, second.Identity.ID)
}

func TestResolveVisionIgnoresOtherCameras(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	seedVision(t, st, cameraA, subjectAt(100, 100), t0)
	m := newMatcherForTest(st)

	res, err := m.ResolveVision(ctx, subjectAt(100, 100), locationID, model.CameraRef(cameraB), model.PostureSitting, t0, FrameMatches{})
	require.NoError(t, err)
	assert.True(t, res.Created, "history from another camera must not be matched")
}

func TestFindVisionUsesLatestObservationOnly(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	ident := seedVision(t, st, cameraA, subjectAt(100, 100), t0)
	appendPayload(t, st, ident.ID, cameraA, mustJSON(t, subjectAt(1500, 700)), t0.Add(time.Second))
	m := newMatcherForTest(st)

	_, ok, err := m.FindVision(ctx, subjectAt(100, 100), locationID, model.CameraRef(cameraA), FrameMatches{})
	require.NoError(t, err)
	assert.False(t, ok, "only the most recent observation position counts")
}

func TestFindVisionSkipsUnparsablePayload(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	broken, err := st.CreateIdentity(ctx, model.Identity{LocationID: locationID, Method: model.MethodCCTV, Active: true, LastSeen: t0})
	require.NoError(t, err)
	appendPayload(t, st, broken.ID, cameraA, "not json", t0)
	good := seedVision(t, st, cameraA, subjectAt(200, 100), t0)
	m := newMatcherForTest(st)

	got, ok, err := m.FindVision(ctx, subjectAt(100, 100), locationID, model.CameraRef(cameraA), FrameMatches{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, good.ID, got.ID)
}

func TestFindVisionTieGoesToFirstInSequence(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	left := seedVision(t, st, cameraA, subjectAt(0, 0), t0)
	seedVision(t, st, cameraA, subjectAt(200, 0), t0)
	m := newMatcherForTest(st)

	got, ok, err := m.FindVision(ctx, subjectAt(100, 0), locationID, model.CameraRef(cameraA), FrameMatches{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, left.ID, got.ID)
}

func TestPayloadBox(t *testing.T) {
	box, err := PayloadBox(`{"className":"human","box":{"x1":1,"y1":2,"x2":30,"y2":40}}`)
	require.NoError(t, err)
	assert.Equal(t, model.BoundingBox{X1: 1, Y1: 2, X2: 30, Y2: 40}, box)

	for _, payload := range []string{"", "{", `{"className":"human","box":null}`, `{"box":{"x1":5,"y1":5,"x2":5,"y2":9}}`} {
		_, err := PayloadBox(payload)
		assert.True(t, eris.Is(err, model.ErrGeometryParse), "payload %q", payload)
	}
}

func TestResolveWifiReusesRecentIdentity(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	m := newMatcherForTest(st)

	first, err := m.ResolveWifi(ctx, locationID, model.PostureStanding, t0)
	require.NoError(t, err)
	require.True(t, first.Created)
	assert.Equal(t, model.MethodWifi, first.Identity.Method)

	second, err := m.ResolveWifi(ctx, locationID, model.PostureStanding, t0.Add(9*time.Minute))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Identity.ID, second.Identity.ID)

	third, err := m.ResolveWifi(ctx, locationID, model.PostureStanding, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, third.Created, "identity outside the recency window must not be reused")
}

func TestFindWifiIgnoresVisionIdentities(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	seedVision(t, st, cameraA, subjectAt(0, 0), t0)
	m := newMatcherForTest(st)

	_, ok, err := m.FindWifi(ctx, locationID, t0)
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingUpdates struct {
	Store
}

func (failingUpdates) TouchIdentity(context.Context, int64, model.Posture, time.Time) (model.Identity, bool, error) {
	return model.Identity{}, false, errors.New("database is locked")
}

func TestResolveReportsSinkErrorOnUpdateFailure(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	existing := seedVision(t, st, cameraA, subjectAt(100, 100), t0)
	m := newMatcherForTest(failingUpdates{Store: st})

	res, err := m.ResolveVision(ctx, subjectAt(100, 100), locationID, model.CameraRef(cameraA), model.PostureSitting, t0, FrameMatches{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrSink))
	assert.Equal(t, existing.ID, res.Identity.ID)
}

// deactivateOnScan ends the rescue of every identity as soon as the matcher has
// read its last observation, the window in which an operator can act mid-match.
type deactivateOnScan struct {
	storage.Store
}

func (d deactivateOnScan) LatestObservation(ctx context.Context, identityID int64, device model.DeviceRef) (model.Observation, bool, error) {
	obs, ok, err := d.Store.LatestObservation(ctx, identityID, device)
	if ident, found, _ := d.Store.GetIdentity(ctx, identityID); found {
		ident.RescueStatus = model.RescueRescued
		ident.Active = false
		_ = d.Store.UpdateIdentity(ctx, ident)
	}
	return obs, ok, err
}

func TestResolveDoesNotReviveIdentityDeactivatedMidMatch(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	existing := seedVision(t, st, cameraA, subjectAt(100, 100), t0)
	m := newMatcherForTest(deactivateOnScan{Store: st})

	res, err := m.ResolveVision(ctx, subjectAt(100, 100), locationID, model.CameraRef(cameraA), model.PostureFalling, t0.Add(time.Second), FrameMatches{})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEqual(t, existing.ID, res.Identity.ID)

	rescued, ok, err := st.GetIdentity(ctx, existing.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.RescueRescued, rescued.RescueStatus)
	assert.False(t, rescued.Active)
	assert.Equal(t, model.PostureSitting, rescued.Status, "a late sighting must not touch the rescued row")
	assert.True(t, rescued.LastSeen.Equal(t0))
}
