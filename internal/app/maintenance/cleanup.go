// Package maintenance runs the background sweeps that keep collaboration
// state honest: idle sessions get ended and presence rows left behind by
// crashes get repaired.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/internal/services"
	"github.com/inkwell-hq/inkwell/pkg/logger"
)

const (
	defaultIdleTTL    = 2 * time.Hour
	defaultSweepSpec  = "@every 5m"
	defaultRepairSpec = "@hourly"
)

// Sweeper coordinates background maintenance: ending sessions whose members
// have all gone quiet and clearing presence flags that no longer correspond
// to live connections.
type Sweeper struct {
	db       *gorm.DB
	sessions *services.SessionService
	registry *services.SessionRegistry
	presence *services.PresenceService
	cron     *cron.Cron
	now      func() time.Time
	log      *zap.Logger

	idleTTL    time.Duration
	sweepSpec  string
	repairSpec string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for idle comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIdleTTL adjusts how long a session may sit without activity or
// connections before it is ended.
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *Sweeper) {
		if ttl > 0 {
			s.idleTTL = ttl
		}
	}
}

// WithSweepInterval overrides how often the idle sweep runs.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.sweepSpec = "@every " + interval.String()
		}
	}
}

// WithRepairSchedule overrides the cron specification for presence repair.
func WithRepairSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.repairSpec = spec
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults.
func NewSweeper(db *gorm.DB, sessions *services.SessionService, registry *services.SessionRegistry, presence *services.PresenceService, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		db:         db,
		sessions:   sessions,
		registry:   registry,
		presence:   presence,
		now:        time.Now,
		idleTTL:    defaultIdleTTL,
		sweepSpec:  defaultSweepSpec,
		repairSpec: defaultRepairSpec,
		log:        logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return sweeper
}

// Start registers the sweeps with the scheduler and launches it.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.sweepSpec, func() {
		if _, err := s.SweepIdleSessions(context.Background()); err != nil {
			s.log.Warn("idle session sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.repairSpec, func() {
		if _, err := s.RepairPresence(context.Background()); err != nil {
			s.log.Warn("presence repair failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes every sweep sequentially. Used in tests and during
// graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if _, err := s.SweepIdleSessions(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := s.RepairPresence(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// SweepIdleSessions ends sessions that have had no connections and no
// activity for longer than the idle TTL. Returns how many were ended.
func (s *Sweeper) SweepIdleSessions(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.idleTTL)

	var errs error
	ended := 0
	for _, session := range s.registry.List() {
		if session.LastActivityAt.After(cutoff) {
			continue
		}
		if s.registry.OnlineUsers(session.ID) > 0 {
			continue
		}

		if err := s.sessions.ExpireSession(ctx, session.ID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if s.presence != nil {
			s.presence.DropSessionCursors(ctx, session.ID)
		}
		ended++
		s.log.Info("ended idle session",
			zap.String("session_id", session.ID),
			zap.Time("last_activity", session.LastActivityAt))
	}
	return ended, errs
}

// RepairPresence clears online flags on participants of inactive sessions.
// A crash can strand such rows; nothing else resets them.
func (s *Sweeper) RepairPresence(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&models.SessionParticipant{}).
		Where("online = ?", true).
		Where("session_id IN (?)", s.db.Model(&models.CollabSession{}).
			Select("id").Where("active = ?", false)).
		Update("online", false)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Info("cleared stranded presence rows", zap.Int64("rows", result.RowsAffected))
	}
	return result.RowsAffected, nil
}
