package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/groupcap/internal/collection"
	"github.com/charlesng35/groupcap/internal/models"
	"github.com/charlesng35/groupcap/pkg/logger"
)

const (
	defaultEventRetentionDays = 90
	defaultIntegritySpec      = "@hourly"
	defaultRetentionSpec      = "@daily"
)

// Sweeper coordinates background maintenance: verifying that every group
// counter still matches the entry store (healing it when it does not) and
// pruning old eviction events.
type Sweeper struct {
	db        *gorm.DB
	coll      collection.Collection
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention int

	integritySchedule string
	retentionSchedule string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(sweeper *Sweeper) {
		if c != nil {
			sweeper.cron = c
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(sweeper *Sweeper) {
		if now != nil {
			sweeper.now = now
		}
	}
}

// WithEventRetentionDays adjusts how long eviction events are retained.
func WithEventRetentionDays(days int) Option {
	return func(sweeper *Sweeper) {
		if days > 0 {
			sweeper.retention = days
		}
	}
}

// WithIntegritySchedule overrides the cron specification for counter verification.
func WithIntegritySchedule(spec string) Option {
	return func(sweeper *Sweeper) {
		if spec != "" {
			sweeper.integritySchedule = spec
		}
	}
}

// WithRetentionSchedule overrides the cron specification for event pruning.
func WithRetentionSchedule(spec string) Option {
	return func(sweeper *Sweeper) {
		if spec != "" {
			sweeper.retentionSchedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults. A nil database
// handle results in both jobs being skipped (the memory backend needs no
// sweeping: its state dies with the process).
func NewSweeper(db *gorm.DB, coll collection.Collection, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		db:                db,
		coll:              coll,
		now:               time.Now,
		retention:         defaultEventRetentionDays,
		integritySchedule: defaultIntegritySpec,
		retentionSchedule: defaultRetentionSpec,
		log:               logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return sweeper
}

// Start registers maintenance jobs with the cron scheduler and launches it.
func (s *Sweeper) Start() error {
	if s.db == nil {
		return nil
	}

	if s.coll != nil {
		if _, err := s.cron.AddFunc(s.integritySchedule, func() {
			if _, err := s.VerifyCounters(context.Background()); err != nil {
				s.log.Warn("counter verification failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if s.retention > 0 {
		if _, err := s.cron.AddFunc(s.retentionSchedule, func() {
			if _, err := s.PruneEvictionEvents(context.Background()); err != nil {
				s.log.Warn("eviction event pruning failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes all maintenance routines sequentially. Primarily used in
// tests and during graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.db == nil {
		return nil
	}

	var errs error

	if s.coll != nil {
		if _, err := s.VerifyCounters(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if s.retention > 0 {
		if _, err := s.PruneEvictionEvents(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// VerifyCounters compares each group counter against an authoritative recount
// of the entry store and heals any divergence. Returns the number of groups
// that had to be resynced.
func (s *Sweeper) VerifyCounters(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, errors.New("verify counters: db is required")
	}

	var counters []models.GroupCounter
	if err := s.db.WithContext(ctx).Find(&counters).Error; err != nil {
		return 0, fmt.Errorf("verify counters: list groups: %w", err)
	}

	healed := 0
	for _, counter := range counters {
		var live int64
		err := s.db.WithContext(ctx).
			Model(&models.Entry{}).
			Where("group_id = ?", counter.GroupID).
			Count(&live).Error
		if err != nil {
			return healed, fmt.Errorf("verify counters: recount group %s: %w", counter.GroupID, err)
		}

		if live == counter.Count {
			continue
		}

		if _, err := s.coll.Recount(ctx, counter.GroupID); err != nil {
			return healed, fmt.Errorf("verify counters: heal group %s: %w", counter.GroupID, err)
		}
		healed++

		s.log.Warn("group counter diverged from entry store, healed",
			zap.String("group_id", counter.GroupID),
			zap.Int64("counter", counter.Count),
			zap.Int64("live", live),
		)
	}

	return healed, nil
}

// PruneEvictionEvents removes eviction events older than the retention window.
func (s *Sweeper) PruneEvictionEvents(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, errors.New("prune eviction events: db is required")
	}

	cutoff := s.now().AddDate(0, 0, -s.retention)

	result := s.db.WithContext(ctx).
		Where("evicted_at < ?", cutoff).
		Delete(&models.EvictionEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("prune eviction events: %w", result.Error)
	}

	return result.RowsAffected, nil
}
