package alerts

import (
	"log/slog"
	"sync/atomic"
	"time"

	"rescuefusion/internal/config"
	"rescuefusion/internal/model"
)

type Policy struct {
	MinUrgency model.UrgencyTier
	Cooldown   time.Duration
}

func PolicyFromConfig(cfg config.AlertsConfig) Policy {
	return Policy{MinUrgency: cfg.MinUrgency, Cooldown: cfg.Cooldown}
}

// Triage turns assessments at or above the minimum urgency into alerts, at most
// one per identity per cooldown.
type Triage struct {
	store    *Store
	cooldown *Cooldown
	policy   atomic.Pointer[Policy]
	logger   *slog.Logger
}

func NewTriage(store *Store, policy Policy, logger *slog.Logger) *Triage {
	t := &Triage{store: store, cooldown: NewCooldown(), logger: logger}
	t.SetPolicy(policy)
	return t
}

func (t *Triage) SetPolicy(p Policy) {
	if p.MinUrgency.Rank() == 0 {
		p.MinUrgency = model.UrgencyHigh
	}
	t.policy.Store(&p)
}

func (t *Triage) Policy() Policy { return *t.policy.Load() }

func (t *Triage) Store() *Store { return t.store }

func (t *Triage) Consider(ident model.Identity, a model.Assessment) (model.TriageAlert, bool) {
	p := t.Policy()
	if ident.FalsePositive || a.Urgency.Rank() < p.MinUrgency.Rank() {
		return model.TriageAlert{}, false
	}
	if !t.cooldown.Allow(ident.ID, a.AssessedAt, p.Cooldown) {
		return model.TriageAlert{}, false
	}
	alert := model.TriageAlert{
		Timestamp:      a.AssessedAt,
		IdentityID:     ident.ID,
		Sequence:       ident.Sequence,
		LocationID:     ident.LocationID,
		Status:         ident.Status,
		Hazard:         a.Hazard,
		Urgency:        a.Urgency,
		FinalRiskScore: a.FinalRiskScore,
		Formula:        a.Formula,
	}
	t.store.Add(alert)
	if t.logger != nil {
		t.logger.Warn("triage alert", "identity_id", ident.ID, "sequence", ident.Sequence, "location_id", ident.LocationID,
			"urgency", a.Urgency, "hazard", a.Hazard, "score", a.FinalRiskScore)
	}
	return alert, true
}

func (t *Triage) Forget(identityID int64) { t.cooldown.Forget(identityID) }
