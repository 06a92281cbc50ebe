package fusion

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"rescuefusion/internal/alerts"
	"rescuefusion/internal/broadcast"
	"rescuefusion/internal/config"
	"rescuefusion/internal/logging"
	"rescuefusion/internal/matching"
	"rescuefusion/internal/metrics"
	"rescuefusion/internal/model"
	"rescuefusion/internal/normalize"
	"rescuefusion/internal/scoring"
	"rescuefusion/internal/storage"
)

// SubjectOutcome reports what happened to one human subject of a frame.
type SubjectOutcome struct {
	Index         int               `json:"index"`
	ClassName     string            `json:"class_name"`
	IdentityID    int64             `json:"identity_id,omitempty"`
	Sequence      int               `json:"sequence,omitempty"`
	Created       bool              `json:"created"`
	ObservationID int64             `json:"observation_id,omitempty"`
	Assessment    *model.Assessment `json:"assessment,omitempty"`
	Alerted       bool              `json:"alerted"`
	Partial       bool              `json:"partial,omitempty"`
	Error         string            `json:"error,omitempty"`
	Err           error             `json:"-"`
}

type FrameResult struct {
	FrameID    string           `json:"frame_id"`
	CameraID   int64            `json:"camera_id"`
	LocationID int64            `json:"location_id"`
	Subjects   []SubjectOutcome `json:"subjects"`
	Duplicate  bool             `json:"duplicate,omitempty"`
	// Partial is set when any persistence or broadcast write failed after scoring.
	Partial bool `json:"partial"`
}

type WifiResult struct {
	SensorID      int64             `json:"sensor_id"`
	LocationID    int64             `json:"location_id"`
	IdentityID    int64             `json:"identity_id,omitempty"`
	Sequence      int               `json:"sequence,omitempty"`
	Created       bool              `json:"created"`
	ObservationID int64             `json:"observation_id,omitempty"`
	Assessment    *model.Assessment `json:"assessment,omitempty"`
	Alerted       bool              `json:"alerted"`
	Partial       bool              `json:"partial"`
}

// Orchestrator drives identity resolution, scoring, persistence and broadcast for
// every vision frame and coalesced WiFi message.
type Orchestrator struct {
	store    storage.Store
	sink     broadcast.Sink
	matcher  *matching.Matcher
	calc     atomic.Pointer[scoring.Calculator]
	triage   *alerts.Triage
	counters *metrics.Counters
	recent   *recentFrames
	window   atomic.Int64
	logger   *slog.Logger
	now      func() time.Time
}

func New(cfg *config.Config, store storage.Store, sink broadcast.Sink, triage *alerts.Triage, counters *metrics.Counters, logger *slog.Logger) *Orchestrator {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if sink == nil {
		sink = broadcast.Nop{}
	}
	if triage == nil {
		triage = alerts.NewTriage(alerts.NewStore(cfg.Alerts.StoreLimit), alerts.PolicyFromConfig(cfg.Alerts), logger)
	}
	if counters == nil {
		counters = &metrics.Counters{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	o := &Orchestrator{
		store:    store,
		sink:     sink,
		matcher:  matching.New(store, matching.OptionsFromConfig(cfg.Matching), logger),
		triage:   triage,
		counters: counters,
		recent:   newRecentFrames(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	o.UpdateConfig(cfg)
	return o
}

// UpdateConfig swaps scoring thresholds, matcher options and alert policy. Frames
// already in flight finish with the values they started with.
func (o *Orchestrator) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	o.calc.Store(scoring.NewCalculator(cfg.Scoring))
	o.matcher.SetOptions(matching.OptionsFromConfig(cfg.Matching))
	o.triage.SetPolicy(alerts.PolicyFromConfig(cfg.Alerts))
	o.window.Store(int64(cfg.Fusion.DedupeWindow))
}

func (o *Orchestrator) Counters() *metrics.Counters { return o.counters }

func (o *Orchestrator) Triage() *alerts.Triage { return o.triage }

// Start runs workers that process queued frames until ctx is done.
func (o *Orchestrator) Start(ctx context.Context, in <-chan model.VisionFrame, workers int) *sync.WaitGroup {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case f, ok := <-in:
					if !ok {
						return
					}
					// errors are logged inside ProcessFrame
					_, _ = o.ProcessFrame(ctx, f)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	return &wg
}

// ProcessFrame resolves and scores every human subject of one frame. The returned
// error covers the whole frame (validation or unknown references); per-subject
// failures are reported on the outcomes.
func (o *Orchestrator) ProcessFrame(ctx context.Context, f model.VisionFrame) (FrameResult, error) {
	if f.FrameID == "" {
		f.FrameID = uuid.NewString()
	}
	if f.ReceivedAt.IsZero() {
		f.ReceivedAt = o.now()
	}
	res := FrameResult{FrameID: f.FrameID, CameraID: f.CameraID, LocationID: f.LocationID, Subjects: []SubjectOutcome{}}
	log := o.frameLogger(f)

	if err := normalize.Frame(f); err != nil {
		o.counters.FramesRejected.Add(1)
		log.Warn("frame rejected", "error", err)
		return res, err
	}
	if err := o.checkFrameRefs(ctx, f); err != nil {
		o.counters.FramesRejected.Add(1)
		log.Warn("frame aborted", "error", err)
		return res, err
	}
	if window := time.Duration(o.window.Load()); window > 0 && o.recent.Repeat(fingerprintFrame(f), f.ReceivedAt, window) {
		o.counters.FramesDuplicate.Add(1)
		log.Debug("duplicate frame suppressed")
		res.Duplicate = true
		return res, nil
	}

	summary := normalize.Summary(f.Result)
	calc := o.calc.Load()
	claimed := matching.FrameMatches{}
	for i, d := range f.Result.Detections {
		if !normalize.IsHuman(d.ClassName) {
			continue
		}
		out := o.processSubject(ctx, log, calc, f, i, d, summary, claimed)
		if out.Partial {
			res.Partial = true
		}
		res.Subjects = append(res.Subjects, out)
	}
	o.counters.FramesProcessed.Add(1)
	return res, nil
}

func (o *Orchestrator) checkFrameRefs(ctx context.Context, f model.VisionFrame) error {
	if _, ok, err := o.store.GetCamera(ctx, f.CameraID); err != nil {
		return eris.Wrapf(err, "lookup camera %d", f.CameraID)
	} else if !ok {
		return model.NotFoundf("camera %d", f.CameraID)
	}
	if _, ok, err := o.store.GetLocation(ctx, f.LocationID); err != nil {
		return eris.Wrapf(err, "lookup location %d", f.LocationID)
	} else if !ok {
		return model.NotFoundf("location %d", f.LocationID)
	}
	return nil
}

func (o *Orchestrator) processSubject(ctx context.Context, log *slog.Logger, calc *scoring.Calculator, f model.VisionFrame, idx int, subject model.DetectionObject, summary model.DetectionSummary, claimed matching.FrameMatches) SubjectOutcome {
	out := SubjectOutcome{Index: idx, ClassName: subject.ClassName}
	log = log.With("class", subject.ClassName, "subject", idx)
	fail := func(err error) SubjectOutcome {
		o.counters.SubjectErrors.Add(1)
		log.Warn("subject skipped", "error", err)
		out.Err = err
		out.Error = err.Error()
		return out
	}
	if subject.Box == nil {
		return fail(model.Validationf("human subject %d has no bounding box", idx))
	}

	score := calc.Score(subject, f.Result.Detections, summary)
	resolved, err := o.matcher.ResolveVision(ctx, subject, f.LocationID, model.CameraRef(f.CameraID), score.Posture, f.ReceivedAt, claimed)
	if err != nil && !eris.Is(err, model.ErrSink) {
		return fail(err)
	}
	ident := resolved.Identity
	log = log.With("identity_id", ident.ID)
	if err != nil {
		o.sinkFailed(log, &out.Partial, err)
	}
	claimed.Claim(ident.ID)
	out.IdentityID = ident.ID
	out.Sequence = ident.Sequence
	out.Created = resolved.Created
	if resolved.Created {
		o.counters.IdentitiesCreated.Add(1)
	}

	payload, err := json.Marshal(subject)
	if err != nil {
		return fail(eris.Wrap(err, "encode subject payload"))
	}
	camera := f.CameraID
	summaryCopy := summary
	obs := model.Observation{
		IdentityID: ident.ID,
		Method:     model.MethodCCTV,
		CameraID:   &camera,
		LocationID: f.LocationID,
		FrameID:    f.FrameID,
		ObservedAt: f.ReceivedAt,
		Status:     score.Posture,
		ClassName:  normalize.ClassName(subject.ClassName),
		Confidence: score.Confidence,
		Payload:    string(payload),
		MediaURL:   f.MediaURL,
		Summary:    &summaryCopy,
	}
	assessment := o.record(ctx, log, ident, resolved.Created, &obs, score, scoring.VisionModelVersion,
		scoring.VisionNotes(subject.Pose, summary), &out.Partial)
	out.ObservationID = obs.ID
	out.Assessment = &assessment
	if _, ok := o.triage.Consider(ident, assessment); ok {
		o.counters.AlertsRaised.Add(1)
		out.Alerted = true
	}
	o.counters.SubjectsProcessed.Add(1)
	return out
}

// record persists the observation and its assessment and broadcasts them. Write
// failures mark the result partial; the computed assessment is always returned.
// A record that failed to persist is not broadcast.
func (o *Orchestrator) record(ctx context.Context, log *slog.Logger, ident model.Identity, created bool, obs *model.Observation, score scoring.Score, modelVersion, notes string, partial *bool) model.Assessment {
	if created {
		o.publish(log, partial, "publish identity created", o.sink.PublishIdentityCreated(ctx, ident))
	} else {
		o.publish(log, partial, "publish identity updated", o.sink.PublishIdentityUpdated(ctx, ident))
	}

	obsID, err := o.store.AppendObservation(ctx, *obs)
	if err != nil {
		o.sinkFailed(log, partial, model.SinkError(err, "append observation"))
		return scoring.NewAssessment(ident.ID, 0, score, obs.ObservedAt, modelVersion, notes)
	}
	obs.ID = obsID
	o.publish(log, partial, "publish observation", o.sink.PublishObservation(ctx, *obs))

	a := scoring.NewAssessment(ident.ID, obsID, score, obs.ObservedAt, modelVersion, notes)
	aID, err := o.store.AppendAssessment(ctx, a)
	if err != nil {
		o.sinkFailed(log, partial, model.SinkError(err, "append assessment"))
		return a
	}
	a.ID = aID
	o.publish(log, partial, "publish assessment", o.sink.PublishAssessment(ctx, a))
	return a
}

func (o *Orchestrator) publish(log *slog.Logger, partial *bool, op string, err error) {
	if err != nil {
		o.sinkFailed(log, partial, model.SinkError(err, op))
	}
}

func (o *Orchestrator) sinkFailed(log *slog.Logger, partial *bool, err error) {
	*partial = true
	o.counters.SinkFailures.Add(1)
	log.Error("sink write failed", "error", err)
}

// ProcessWifi handles one coalesced WiFi message. Presence and absence signals are
// both recorded.
func (o *Orchestrator) ProcessWifi(ctx context.Context, msg model.WifiMessage) (WifiResult, error) {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = o.now()
	}
	res := WifiResult{SensorID: msg.SensorID}
	log := o.logger.With("sensor_id", msg.SensorID, "survivor_detected", msg.SurvivorDetected)

	if err := normalize.Wifi(msg); err != nil {
		o.counters.WifiRejected.Add(1)
		log.Warn("wifi message rejected", "error", err)
		return res, err
	}
	sensor, ok, err := o.store.GetSensor(ctx, msg.SensorID)
	if err != nil {
		o.counters.WifiRejected.Add(1)
		err = eris.Wrapf(err, "lookup sensor %d", msg.SensorID)
		log.Error("wifi message aborted", "error", err)
		return res, err
	}
	if !ok {
		o.counters.WifiRejected.Add(1)
		err := model.NotFoundf("sensor %d", msg.SensorID)
		log.Warn("wifi message aborted", "error", err)
		return res, err
	}
	res.LocationID = sensor.LocationID
	log = log.With("location_id", sensor.LocationID)

	if err := o.store.TouchSensor(ctx, sensor.ID, msg.ReceivedAt, msg.SignalStrength); err != nil {
		o.sinkFailed(log, &res.Partial, model.SinkError(err, "touch sensor"))
	}
	signal := msg.SignalStrength
	if signal == nil {
		signal = sensor.SignalStrength
	}
	o.publish(log, &res.Partial, "publish sensor signal", o.sink.PublishSensorSignal(ctx, broadcast.SensorSignal{
		SensorID:         sensor.ID,
		LocationID:       sensor.LocationID,
		SignalStrength:   signal,
		SurvivorDetected: msg.SurvivorDetected,
		LastActiveAt:     msg.ReceivedAt,
	}))

	score := o.calc.Load().WifiScore(msg)
	resolved, err := o.matcher.ResolveWifi(ctx, sensor.LocationID, score.Posture, msg.ReceivedAt)
	if err != nil && !eris.Is(err, model.ErrSink) {
		o.counters.WifiRejected.Add(1)
		log.Error("wifi identity resolution failed", "error", err)
		return res, err
	}
	ident := resolved.Identity
	log = log.With("identity_id", ident.ID)
	if err != nil {
		o.sinkFailed(log, &res.Partial, err)
	}
	res.IdentityID = ident.ID
	res.Sequence = ident.Sequence
	res.Created = resolved.Created
	if resolved.Created {
		o.counters.IdentitiesCreated.Add(1)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return res, eris.Wrap(err, "encode wifi payload")
	}
	sensorID := sensor.ID
	obs := model.Observation{
		IdentityID:     ident.ID,
		Method:         model.MethodWifi,
		SensorID:       &sensorID,
		LocationID:     sensor.LocationID,
		ObservedAt:     msg.ReceivedAt,
		Status:         score.Posture,
		ClassName:      wifiClass(msg),
		Confidence:     score.Confidence,
		Payload:        string(payload),
		SignalStrength: msg.SignalStrength,
	}
	a := o.record(ctx, log, ident, resolved.Created, &obs, score, scoring.WifiModelVersion, "", &res.Partial)
	res.ObservationID = obs.ID
	res.Assessment = &a
	if _, ok := o.triage.Consider(ident, a); ok {
		o.counters.AlertsRaised.Add(1)
		res.Alerted = true
	}
	o.counters.WifiProcessed.Add(1)
	return res, nil
}

func wifiClass(msg model.WifiMessage) string {
	if msg.SurvivorDetected {
		return "presence"
	}
	return "absence"
}

// UpdateRescueStatus moves an identity through the rescue workflow. RESCUED and
// CANCELED take it out of the active set.
func (o *Orchestrator) UpdateRescueStatus(ctx context.Context, identityID int64, status model.RescueStatus) (model.Identity, error) {
	if !status.Valid() {
		return model.Identity{}, model.Validationf("unknown rescue status %q", status)
	}
	return o.mutateIdentity(ctx, identityID, func(ident *model.Identity) {
		ident.RescueStatus = status
		if status.Terminal() {
			ident.Active = false
		}
	})
}

// MarkFalsePositive flags and deactivates an identity. Its history is kept.
func (o *Orchestrator) MarkFalsePositive(ctx context.Context, identityID int64) (model.Identity, error) {
	return o.mutateIdentity(ctx, identityID, func(ident *model.Identity) {
		ident.FalsePositive = true
		ident.Active = false
	})
}

func (o *Orchestrator) mutateIdentity(ctx context.Context, identityID int64, mutate func(*model.Identity)) (model.Identity, error) {
	ident, ok, err := o.store.GetIdentity(ctx, identityID)
	if err != nil {
		return model.Identity{}, eris.Wrapf(err, "lookup identity %d", identityID)
	}
	if !ok {
		return model.Identity{}, model.NotFoundf("identity %d", identityID)
	}
	mutate(&ident)
	ident.UpdatedAt = o.now()
	if err := o.store.UpdateIdentity(ctx, ident); err != nil {
		return ident, model.SinkError(err, "update identity")
	}
	log := o.logger.With("identity_id", ident.ID, "location_id", ident.LocationID)
	log.Info("identity updated", "rescue_status", ident.RescueStatus, "active", ident.Active, "false_positive", ident.FalsePositive)
	if err := o.sink.PublishIdentityUpdated(ctx, ident); err != nil {
		o.counters.SinkFailures.Add(1)
		log.Error("sink write failed", "error", model.SinkError(err, "publish identity updated"))
	}
	return ident, nil
}

func (o *Orchestrator) frameLogger(f model.VisionFrame) *slog.Logger {
	return o.logger.With("frame_id", f.FrameID, "camera_id", f.CameraID, "location_id", f.LocationID)
}
