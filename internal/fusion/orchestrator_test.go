package fusion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescuefusion/internal/broadcast"
	"rescuefusion/internal/config"
	"rescuefusion/internal/logging"
	"rescuefusion/internal/model"
	"rescuefusion/internal/storage"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu        sync.Mutex
	created   []model.Identity
	updated   []model.Identity
	obs       []model.Observation
	scores    []model.Assessment
	signals   []broadcast.SensorSignal
	failScore bool
}

func (s *recordingSink) PublishIdentityCreated(_ context.Context, ident model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, ident)
	return nil
}

func (s *recordingSink) PublishIdentityUpdated(_ context.Context, ident model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = append(s.updated, ident)
	return nil
}

func (s *recordingSink) PublishObservation(_ context.Context, obs model.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = append(s.obs, obs)
	return nil
}

func (s *recordingSink) PublishAssessment(_ context.Context, a model.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failScore {
		return errors.New("redis: connection refused")
	}
	s.scores = append(s.scores, a)
	return nil
}

func (s *recordingSink) PublishSensorSignal(_ context.Context, sig broadcast.SensorSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
	return nil
}

type fixture struct {
	orch     *Orchestrator
	store    storage.Store
	sink     *recordingSink
	location model.Location
	camera   model.Camera
	sensor   model.Sensor
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	ctx := context.Background()
	st := storage.NewMemory()
	loc, err := st.PutLocation(ctx, model.Location{BuildingName: "Block A", Floor: 3, Room: "301"})
	require.NoError(t, err)
	cam, err := st.PutCamera(ctx, model.Camera{Code: "CAM-301", LocationID: loc.ID, Active: true})
	require.NoError(t, err)
	sn, err := st.PutSensor(ctx, model.Sensor{Code: "WIFI-301", LocationID: loc.ID, Active: true})
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	for _, m := range mutate {
		m(cfg)
	}
	sink := &recordingSink{}
	orch := New(cfg, st, sink, nil, nil, logging.Discard())
	orch.now = func() time.Time { return t0 }
	return &fixture{orch: orch, store: st, sink: sink, location: loc, camera: cam, sensor: sn}
}

func (f *fixture) frame(detections ...model.DetectionObject) model.VisionFrame {
	return model.VisionFrame{
		CameraID:   f.camera.ID,
		LocationID: f.location.ID,
		ReceivedAt: t0,
		Result:     model.DetectionResult{Detections: detections},
	}
}

func human(pose string, x, y int) model.DetectionObject {
	return model.DetectionObject{ClassName: "person", Pose: pose, Box: &model.BoundingBox{X1: x, Y1: y, X2: x + 100, Y2: y + 200}}
}

func TestProcessFrameFallingSubjectInLocalFire(t *testing.T) {
	f := newFixture(t)
	// 10% of a 1920x1080 frame, far from the subject
	fire := model.DetectionObject{ClassName: "fire", Box: &model.BoundingBox{X1: 1000, Y1: 0, X2: 1000 + 480, Y2: 432}}
	res, err := f.orch.ProcessFrame(context.Background(), f.frame(human("Falling", 0, 600), fire))
	require.NoError(t, err)
	require.Len(t, res.Subjects, 1)
	assert.False(t, res.Partial)
	assert.NotEmpty(t, res.FrameID)

	out := res.Subjects[0]
	require.NoError(t, out.Err)
	assert.True(t, out.Created)
	assert.Equal(t, 1, out.Sequence)
	require.NotNil(t, out.Assessment)
	assert.Equal(t, 10.0, out.Assessment.StatusScore)
	assert.Equal(t, 1.0, out.Assessment.EnvironmentMultiplier)
	assert.Equal(t, 10.0, out.Assessment.FinalRiskScore)
	assert.Equal(t, model.UrgencyCritical, out.Assessment.Urgency)
	assert.Equal(t, model.HazardLocalFire, out.Assessment.Hazard)
	assert.True(t, out.Alerted)

	obs, err := f.store.ListObservations(context.Background(), out.IdentityID, 0)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, res.FrameID, obs[0].FrameID)
	assert.Equal(t, model.PostureFalling, obs[0].Status)
	assert.Equal(t, "human", obs[0].ClassName)

	assert.Len(t, f.sink.created, 1)
	assert.Len(t, f.sink.obs, 1)
	assert.Len(t, f.sink.scores, 1)
	assert.Equal(t, 1, f.orch.Triage().Store().Len())
}

func TestProcessFrameStandingSubjectNoFire(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.ProcessFrame(context.Background(), f.frame(human("Standing", 100, 100)))
	require.NoError(t, err)
	require.Len(t, res.Subjects, 1)
	a := res.Subjects[0].Assessment
	require.NotNil(t, a)
	assert.Equal(t, 3.0, a.StatusScore)
	assert.Equal(t, 0.1, a.EnvironmentMultiplier)
	assert.InDelta(t, 0.3, a.FinalRiskScore, 1e-9)
	assert.Equal(t, model.UrgencyLow, a.Urgency)
	assert.False(t, res.Subjects[0].Alerted)
}

func TestProcessFrameContinuesIdentityAcrossFrames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.orch.ProcessFrame(ctx, f.frame(human("Sitting", 100, 100)))
	require.NoError(t, err)

	next := f.frame(human("Crawling", 130, 120))
	next.ReceivedAt = t0.Add(time.Second)
	second, err := f.orch.ProcessFrame(ctx, next)
	require.NoError(t, err)

	require.Len(t, second.Subjects, 1)
	assert.False(t, second.Subjects[0].Created)
	assert.Equal(t, first.Subjects[0].IdentityID, second.Subjects[0].IdentityID)

	ident, ok, err := f.store.GetIdentity(ctx, first.Subjects[0].IdentityID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.PostureCrawling, ident.Status)
	assert.True(t, ident.LastSeen.Equal(t0.Add(time.Second)))
	assert.Len(t, f.sink.updated, 1)
}

func TestProcessFrameTwoSubjectsNeverShareIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.orch.ProcessFrame(ctx, f.frame(human("Sitting", 100, 100)))
	require.NoError(t, err)

	res, err := f.orch.ProcessFrame(ctx, f.frame(human("Sitting", 105, 100), human("Sitting", 110, 100)))
	require.NoError(t, err)
	require.Len(t, res.Subjects, 2)
	assert.NotEqual(t, res.Subjects[0].IdentityID, res.Subjects[1].IdentityID)
	assert.False(t, res.Subjects[0].Created)
	assert.True(t, res.Subjects[1].Created)
}

func TestProcessFrameIgnoresNonHumansAndIsolatesBoxlessSubject(t *testing.T) {
	f := newFixture(t)
	boxless := model.DetectionObject{ClassName: "human", Pose: "Sitting"}
	smoke := model.DetectionObject{ClassName: "smoke", Box: &model.BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10}}
	res, err := f.orch.ProcessFrame(context.Background(), f.frame(boxless, smoke, human("Standing", 500, 500)))
	require.NoError(t, err)
	require.Len(t, res.Subjects, 2)

	assert.True(t, eris.Is(res.Subjects[0].Err, model.ErrValidation))
	assert.NotEmpty(t, res.Subjects[0].Error)
	assert.Zero(t, res.Subjects[0].IdentityID)

	require.NoError(t, res.Subjects[1].Err)
	assert.True(t, res.Subjects[1].Created)
	assert.Equal(t, int64(1), f.orch.Counters().SubjectErrors.Load())
}

func TestProcessFrameUnknownReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	frame := f.frame(human("Sitting", 0, 0))
	frame.CameraID = 999
	_, err := f.orch.ProcessFrame(ctx, frame)
	assert.True(t, eris.Is(err, model.ErrReferenceNotFound))

	frame = f.frame(human("Sitting", 0, 0))
	frame.LocationID = 999
	_, err = f.orch.ProcessFrame(ctx, frame)
	assert.True(t, eris.Is(err, model.ErrReferenceNotFound))

	_, found, err := f.store.MaxIdentitySequence(ctx)
	require.NoError(t, err)
	assert.False(t, found, "aborted frames must not create identities")
}

func TestProcessFrameRejectsMalformedFrame(t *testing.T) {
	f := newFixture(t)
	bad := human("Sitting", 0, 0)
	bad.Box = &model.BoundingBox{X1: 10, Y1: 10, X2: 5, Y2: 20}
	_, err := f.orch.ProcessFrame(context.Background(), f.frame(bad, human("Sitting", 500, 0)))
	assert.True(t, eris.Is(err, model.ErrValidation))
	assert.Equal(t, int64(1), f.orch.Counters().FramesRejected.Load())
}

func TestProcessFrameSinkFailureIsPartial(t *testing.T) {
	f := newFixture(t)
	f.sink.failScore = true
	res, err := f.orch.ProcessFrame(context.Background(), f.frame(human("Falling", 0, 0)))
	require.NoError(t, err)
	assert.True(t, res.Partial)
	require.Len(t, res.Subjects, 1)
	require.NotNil(t, res.Subjects[0].Assessment)
	assert.NotZero(t, res.Subjects[0].Assessment.ID, "assessment is still persisted")
	assert.Equal(t, int64(1), f.orch.Counters().SinkFailures.Load())
}

func TestProcessFrameDedupe(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Fusion.DedupeWindow = time.Second })
	ctx := context.Background()
	frame := f.frame(human("Sitting", 0, 0))

	_, err := f.orch.ProcessFrame(ctx, frame)
	require.NoError(t, err)
	res, err := f.orch.ProcessFrame(ctx, frame)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Empty(t, res.Subjects)

	frame.ReceivedAt = t0.Add(2 * time.Second)
	res, err = f.orch.ProcessFrame(ctx, frame)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestProcessWifiCreatesThenReuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	signal := -61

	res, err := f.orch.ProcessWifi(ctx, model.WifiMessage{SensorID: f.sensor.ID, SurvivorDetected: true, SignalStrength: &signal, ReceivedAt: t0})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, f.location.ID, res.LocationID)
	require.NotNil(t, res.Assessment)
	assert.Equal(t, 3.0, res.Assessment.StatusScore)
	assert.Equal(t, 0.1, res.Assessment.EnvironmentMultiplier)
	assert.Equal(t, "WiFi-CSI-AI-v1.0", res.Assessment.ModelVersion)

	again, err := f.orch.ProcessWifi(ctx, model.WifiMessage{SensorID: f.sensor.ID, SurvivorDetected: false, ReceivedAt: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, res.IdentityID, again.IdentityID)

	ident, _, err := f.store.GetIdentity(ctx, res.IdentityID)
	require.NoError(t, err)
	assert.Equal(t, model.MethodWifi, ident.Method)

	sn, _, err := f.store.GetSensor(ctx, f.sensor.ID)
	require.NoError(t, err)
	assert.True(t, sn.LastActiveAt.Equal(t0.Add(time.Minute)))
	require.NotNil(t, sn.SignalStrength)
	assert.Equal(t, -61, *sn.SignalStrength)

	require.Len(t, f.sink.signals, 2)
	require.NotNil(t, f.sink.signals[1].SignalStrength, "last known signal is carried forward")

	obs, err := f.store.ListObservations(ctx, res.IdentityID, 0)
	require.NoError(t, err)
	assert.Len(t, obs, 2)
}

func TestProcessWifiUnknownSensor(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.ProcessWifi(context.Background(), model.WifiMessage{SensorID: 4242})
	assert.True(t, eris.Is(err, model.ErrReferenceNotFound))

	_, err = f.orch.ProcessWifi(context.Background(), model.WifiMessage{})
	assert.True(t, eris.Is(err, model.ErrValidation))
}

func TestRescueWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.orch.ProcessFrame(ctx, f.frame(human("Sitting", 0, 0)))
	require.NoError(t, err)
	id := res.Subjects[0].IdentityID

	ident, err := f.orch.UpdateRescueStatus(ctx, id, model.RescueInRescue)
	require.NoError(t, err)
	assert.True(t, ident.Active)

	ident, err = f.orch.UpdateRescueStatus(ctx, id, model.RescueRescued)
	require.NoError(t, err)
	assert.False(t, ident.Active)
	assert.Equal(t, model.MethodCCTV, ident.Method)

	active, err := f.store.ActiveIdentitiesAtLocation(ctx, f.location.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = f.orch.UpdateRescueStatus(ctx, id, "LOST")
	assert.True(t, eris.Is(err, model.ErrValidation))
	_, err = f.orch.UpdateRescueStatus(ctx, 987654, model.RescueCanceled)
	assert.True(t, eris.Is(err, model.ErrReferenceNotFound))
}

// rescueOnLookup lands an operator rescue while the matcher is reading the
// candidate's last sighting.
type rescueOnLookup struct {
	storage.Store
	orch   *Orchestrator
	target int64
}

func (r *rescueOnLookup) LatestObservation(ctx context.Context, identityID int64, device model.DeviceRef) (model.Observation, bool, error) {
	if r.target != 0 && identityID == r.target {
		r.target = 0
		if _, err := r.orch.UpdateRescueStatus(ctx, identityID, model.RescueRescued); err != nil {
			return model.Observation{}, false, err
		}
	}
	return r.Store.LatestObservation(ctx, identityID, device)
}

func TestProcessFrameKeepsRescueRecordedDuringMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := &rescueOnLookup{Store: f.store}
	orch := New(config.DefaultConfig(), st, f.sink, nil, nil, logging.Discard())
	orch.now = func() time.Time { return t0 }
	st.orch = orch

	first, err := orch.ProcessFrame(ctx, f.frame(human("Sitting", 100, 100)))
	require.NoError(t, err)
	id := first.Subjects[0].IdentityID

	st.target = id
	next := f.frame(human("Sitting", 105, 100))
	next.ReceivedAt = t0.Add(time.Second)
	second, err := orch.ProcessFrame(ctx, next)
	require.NoError(t, err)
	require.Len(t, second.Subjects, 1)
	require.NoError(t, second.Subjects[0].Err)
	assert.True(t, second.Subjects[0].Created)
	assert.NotEqual(t, id, second.Subjects[0].IdentityID)

	ident, ok, err := f.store.GetIdentity(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.RescueRescued, ident.RescueStatus)
	assert.False(t, ident.Active)
	assert.True(t, ident.LastSeen.Equal(t0))
}

func TestMarkFalsePositive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.orch.ProcessFrame(ctx, f.frame(human("Sitting", 0, 0)))
	require.NoError(t, err)

	ident, err := f.orch.MarkFalsePositive(ctx, res.Subjects[0].IdentityID)
	require.NoError(t, err)
	assert.True(t, ident.FalsePositive)
	assert.False(t, ident.Active)
	require.NotEmpty(t, f.sink.updated)
}

func TestStartDrainsQueue(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan model.VisionFrame, 4)
	in <- f.frame(human("Sitting", 0, 0))
	in <- f.frame(human("Sitting", 900, 0))
	close(in)
	wg := f.orch.Start(ctx, in, 2)
	wg.Wait()

	assert.Equal(t, int64(2), f.orch.Counters().FramesProcessed.Load())
}

func TestUpdateConfigChangesThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.orch.ProcessFrame(ctx, f.frame(human("Sitting", 0, 0)))
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Matching.DistanceThreshold = 10
	f.orch.UpdateConfig(cfg)

	res, err := f.orch.ProcessFrame(ctx, f.frame(human("Sitting", 50, 0)))
	require.NoError(t, err)
	assert.True(t, res.Subjects[0].Created)
}
