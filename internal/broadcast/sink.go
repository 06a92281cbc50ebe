package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"rescuefusion/internal/model"
)

const (
	EventIdentityCreated = "identity.created"
	EventIdentityUpdated = "identity.updated"
	EventObservation     = "observation"
	EventAssessment      = "assessment"
	EventSensorSignal    = "sensor.signal"
)

const TopicNewSurvivors = "survivors/new"

func SurvivorTopic(identityID int64) string { return fmt.Sprintf("survivor/%d", identityID) }

func DetectionsTopic(identityID int64) string {
	return fmt.Sprintf("survivor/%d/detections", identityID)
}

func ScoresTopic(identityID int64) string { return fmt.Sprintf("survivor/%d/scores", identityID) }

func SensorSignalTopic(sensorID int64) string { return fmt.Sprintf("wifi-sensor/%d/signal", sensorID) }

// Event is the envelope every transport receives.
type Event struct {
	Type    string    `json:"type"`
	Topic   string    `json:"topic"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, eris.Wrapf(err, "encode %s event", e.Type)
	}
	return data, nil
}

type SensorSignal struct {
	SensorID         int64     `json:"sensor_id"`
	LocationID       int64     `json:"location_id"`
	SignalStrength   *int      `json:"signal_strength,omitempty"`
	SurvivorDetected bool      `json:"survivor_detected"`
	LastActiveAt     time.Time `json:"last_active_at"`
}

// Sink is the outbound port of the fusion pipeline. Publishing is one-way; callers
// log failures and carry on.
type Sink interface {
	PublishIdentityCreated(ctx context.Context, ident model.Identity) error
	PublishIdentityUpdated(ctx context.Context, ident model.Identity) error
	PublishObservation(ctx context.Context, obs model.Observation) error
	PublishAssessment(ctx context.Context, a model.Assessment) error
	PublishSensorSignal(ctx context.Context, sig SensorSignal) error
}

// Publisher delivers encoded events to one transport.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Emitter turns pipeline records into events on the original topics.
type Emitter struct {
	pub Publisher
	now func() time.Time
}

func NewEmitter(pub Publisher) *Emitter {
	return &Emitter{pub: pub, now: func() time.Time { return time.Now().UTC() }}
}

func (e *Emitter) emit(ctx context.Context, typ, topic string, payload any) error {
	if e.pub == nil {
		return nil
	}
	return e.pub.Publish(ctx, Event{Type: typ, Topic: topic, At: e.now(), Payload: payload})
}

// PublishIdentityCreated announces the identity on the new-survivors topic and on
// its own topic.
func (e *Emitter) PublishIdentityCreated(ctx context.Context, ident model.Identity) error {
	return errors.Join(
		e.emit(ctx, EventIdentityCreated, TopicNewSurvivors, ident),
		e.emit(ctx, EventIdentityCreated, SurvivorTopic(ident.ID), ident),
	)
}

func (e *Emitter) PublishIdentityUpdated(ctx context.Context, ident model.Identity) error {
	return e.emit(ctx, EventIdentityUpdated, SurvivorTopic(ident.ID), ident)
}

func (e *Emitter) PublishObservation(ctx context.Context, obs model.Observation) error {
	return e.emit(ctx, EventObservation, DetectionsTopic(obs.IdentityID), obs)
}

func (e *Emitter) PublishAssessment(ctx context.Context, a model.Assessment) error {
	return e.emit(ctx, EventAssessment, ScoresTopic(a.IdentityID), a)
}

func (e *Emitter) PublishSensorSignal(ctx context.Context, sig SensorSignal) error {
	return e.emit(ctx, EventSensorSignal, SensorSignalTopic(sig.SensorID), sig)
}

func (e *Emitter) Close() error {
	if e.pub == nil {
		return nil
	}
	return e.pub.Close()
}

// Fanout publishes to every transport, continuing past failures.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) PublishIdentityCreated(context.Context, model.Identity) error { return nil }
func (Nop) PublishIdentityUpdated(context.Context, model.Identity) error { return nil }
func (Nop) PublishObservation(context.Context, model.Observation) error { return nil }
func (Nop) PublishAssessment(context.Context, model.Assessment) error { return nil }
func (Nop) PublishSensorSignal(context.Context, SensorSignal) error { return nil }
