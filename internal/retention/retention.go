package retention

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"

	"rescuefusion/internal/alerts"
	"rescuefusion/internal/config"
	"rescuefusion/internal/metrics"
	"rescuefusion/internal/model"
	"rescuefusion/internal/storage"
)

// Sweeper archives identities that have not been seen for the inactivity timeout.
// Archiving snapshots the identity and deletes it with its history.
type Sweeper struct {
	store    storage.Store
	triage   *alerts.Triage
	counters *metrics.Counters
	logger   *slog.Logger
	timeout  atomic.Int64
	now      func() time.Time
}

func NewSweeper(store storage.Store, timeout time.Duration, triage *alerts.Triage, counters *metrics.Counters, logger *slog.Logger) *Sweeper {
	s := &Sweeper{store: store, triage: triage, counters: counters, logger: logger, now: time.Now}
	s.SetTimeout(timeout)
	return s
}

func (s *Sweeper) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	s.timeout.Store(int64(timeout))
}

func (s *Sweeper) Timeout() time.Duration { return time.Duration(s.timeout.Load()) }

// Sweep archives every identity last seen before now minus the timeout.
func (s *Sweeper) Sweep(ctx context.Context) ([]model.ArchivedIdentity, error) {
	now := s.now().UTC()
	cutoff := now.Add(-s.Timeout())
	archived, err := s.store.ArchiveInactive(ctx, cutoff, now)
	if err != nil {
		return nil, eris.Wrap(err, "archive inactive identities")
	}
	for _, rec := range archived {
		if s.triage != nil {
			s.triage.Forget(rec.IdentityID)
		}
		if s.logger != nil {
			s.logger.Info("identity archived",
				"identity_id", rec.IdentityID,
				"sequence", rec.Sequence,
				"location_id", rec.LocationID,
				"rescue_status", rec.RescueStatus,
				"last_seen", rec.LastSeen.Format(time.RFC3339),
			)
		}
	}
	if s.counters != nil && len(archived) > 0 {
		s.counters.Archived.Add(int64(len(archived)))
	}
	return archived, nil
}

// Start schedules Sweep with a cron expression or descriptor such as "@every 1m".
// The schedule stops when ctx is done.
func Start(ctx context.Context, cfg config.RetentionConfig, s *Sweeper, logger *slog.Logger) error {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("retention disabled")
		}
		return nil
	}
	c := rcron.New()
	if _, err := c.AddFunc(cfg.Schedule, func() {
		if _, err := s.Sweep(ctx); err != nil && logger != nil {
			logger.Error("retention sweep failed", "error", err)
		}
	}); err != nil {
		return eris.Wrapf(err, "schedule retention %q", cfg.Schedule)
	}
	c.Start()
	if logger != nil {
		logger.Info("retention enabled", "schedule", cfg.Schedule, "inactivity_timeout", s.Timeout().String())
	}
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
