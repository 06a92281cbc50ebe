package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescuefusion/internal/logging"
	"rescuefusion/internal/model"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestStoreRingBuffer(t *testing.T) {
	s := NewStore(3)
	for i := int64(1); i <= 5; i++ {
		s.Add(model.TriageAlert{IdentityID: i, Timestamp: t0.Add(time.Duration(i) * time.Second)})
	}
	all := s.List(0)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].IdentityID)
	assert.Equal(t, int64(5), all[2].IdentityID)

	last := s.List(1)
	require.Len(t, last, 1)
	assert.Equal(t, int64(5), last[0].IdentityID)

	assert.Len(t, s.Since(t0.Add(4*time.Second)), 2)
	assert.Len(t, s.ForIdentity(4), 1)

	s.Clear()
	assert.Zero(t, s.Len())
}

func TestCooldown(t *testing.T) {
	c := NewCooldown()
	assert.True(t, c.Allow(1, t0, time.Minute))
	assert.False(t, c.Allow(1, t0.Add(30*time.Second), time.Minute))
	assert.True(t, c.Allow(2, t0.Add(30*time.Second), time.Minute))
	assert.True(t, c.Allow(1, t0.Add(time.Minute), time.Minute))
	assert.True(t, c.Allow(1, t0.Add(time.Minute), 0))

	c.Forget(2)
	assert.True(t, c.Allow(2, t0.Add(31*time.Second), time.Minute))
}

func TestTriageThresholdAndCooldown(t *testing.T) {
	tr := NewTriage(NewStore(10), Policy{MinUrgency: model.UrgencyHigh, Cooldown: 30 * time.Second}, logging.Discard())
	ident := model.Identity{ID: 7, Sequence: 2, LocationID: 1, Status: model.PostureFalling}

	_, ok := tr.Consider(ident, model.Assessment{Urgency: model.UrgencyMedium, AssessedAt: t0})
	assert.False(t, ok)

	alert, ok := tr.Consider(ident, model.Assessment{Urgency: model.UrgencyCritical, FinalRiskScore: 10, Hazard: model.HazardLocalFire, AssessedAt: t0})
	require.True(t, ok)
	assert.Equal(t, 2, alert.Sequence)
	assert.Equal(t, model.HazardLocalFire, alert.Hazard)

	_, ok = tr.Consider(ident, model.Assessment{Urgency: model.UrgencyHigh, AssessedAt: t0.Add(10 * time.Second)})
	assert.False(t, ok, "cooldown suppresses repeat alerts")

	fp := ident
	fp.ID = 8
	fp.FalsePositive = true
	_, ok = tr.Consider(fp, model.Assessment{Urgency: model.UrgencyCritical, AssessedAt: t0})
	assert.False(t, ok)

	assert.Equal(t, 1, tr.Store().Len())
}

func TestTriageDefaultsUnknownUrgency(t *testing.T) {
	tr := NewTriage(NewStore(10), Policy{}, nil)
	assert.Equal(t, model.UrgencyHigh, tr.Policy().MinUrgency)
}
