package service

import (
	"context"
	"time"

	"github.com/okian/paddock/internal/adapters/repository"
	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/pkg/logger"
)

// ObservationReader reads the observation journal of a race.
type ObservationReader interface {
	Observations(ctx context.Context, raceKey string, limit int) ([]model.Observation, error)
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithQueueSize sets the maximum size of the ingestion queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the fingerprint cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithJournal enables the observations endpoint.
func WithJournal(j ObservationReader) Option {
	return func(s *Service) {
		s.journal = j
	}
}

// WithRankingOptions passes options to the ranking store.
func WithRankingOptions(opts ...repository.Option) Option {
	return func(s *Service) {
		s.rankingOpts = append(s.rankingOpts, opts...)
	}
}

// WithPasteTier sets the tier of pasted documents.
func WithPasteTier(t model.Tier) Option {
	return func(s *Service) {
		if t.Valid() {
			s.pasteTier = t
		}
	}
}

// WithLocation sets the timezone pasted post times are read in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

// WithRotateCheck sets how often the service checks for a new racing day.
func WithRotateCheck(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.rotateEvery = d
		}
	}
}

// MonitorOption applies a configuration option to the Monitor.
type MonitorOption func(*Monitor)

// WithInterval sets the time between monitor cycles.
func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithFetchConcurrency bounds how many sources are fetched at once.
func WithFetchConcurrency(n int) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithMonitorClock replaces time.Now.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		if now != nil {
			m.clock = now
		}
	}
}

// WithMonitorLogger sets a custom logger for the monitor.
func WithMonitorLogger(l logger.Logger) MonitorOption {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}
