// Package sweeper is the server-side expiry backstop. Clients report
// deadline hits when they are alive and connected; the sweeper guarantees
// expiry even when no client for a game is. It polls for assigned
// challenges past their active-time allowance and hands them to a small
// worker pool.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mkral/boomtown/go/internal/models"
)

// ChallengeExpirer is the slice of the challenge app the sweeper drives.
type ChallengeExpirer interface {
	DueForExpiry(ctx context.Context, limit int32) ([]uuid.UUID, error)
	ExpireIfDue(ctx context.Context, id uuid.UUID, now time.Time) (*models.Challenge, bool, error)
}

// Config controls sweep cadence and worker sizing.
type Config struct {
	// PollInterval is how often the sweeper scans for due challenges.
	PollInterval time.Duration
	// BatchSize caps how many due challenges one scan claims.
	BatchSize int32
	// NumWorkers sizes the expiry worker pool.
	NumWorkers int
}

// DefaultConfig returns sweep settings suited to a handful of concurrent
// games.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
		NumWorkers:   4,
	}
}

// Sweeper periodically expires overdue challenges. ExpireIfDue re-verifies
// deadline and pause state per challenge, so the sweeper itself only has to
// find candidates and fan them out.
type Sweeper struct {
	app        ChallengeExpirer
	config     Config
	clock      clockwork.Clock
	logger     zerolog.Logger
	instanceID string

	wakeCh chan struct{}
	workCh chan uuid.UUID

	// inFlight prevents the same challenge being queued to two workers when
	// a scan overlaps a slow expiry.
	inFlight   map[uuid.UUID]bool
	inFlightMu sync.Mutex
}

// NewSweeper creates a sweeper over the given challenge app.
func NewSweeper(app ChallengeExpirer, config Config, logger zerolog.Logger) *Sweeper {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = DefaultConfig().NumWorkers
	}
	instanceID := uuid.New().String()[:8]
	return &Sweeper{
		app:        app,
		config:     config,
		clock:      clockwork.NewRealClock(),
		logger:     logger.With().Str("component", "sweeper").Str("instance", instanceID).Logger(),
		instanceID: instanceID,
		wakeCh:     make(chan struct{}, 1),
		workCh:     make(chan uuid.UUID, config.NumWorkers*2),
		inFlight:   make(map[uuid.UUID]bool),
	}
}

// WithClock overrides the wall clock, for tests.
func (s *Sweeper) WithClock(clock clockwork.Clock) *Sweeper {
	s.clock = clock
	return s
}

// Wake nudges the sweeper to scan immediately instead of waiting out the
// current poll interval. Non-blocking; a pending wake coalesces.
func (s *Sweeper) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Run scans until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("poll_interval", s.config.PollInterval).
		Int("workers", s.config.NumWorkers).
		Msg("sweeper started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer func() {
		cancelWorkers()
		close(s.workCh)
		wg.Wait()
		s.logger.Info().Msg("sweeper shut down")
	}()

	for i := 0; i < s.config.NumWorkers; i++ {
		wg.Add(1)
		go s.worker(workerCtx, &wg, i)
	}

	timer := s.clock.NewTimer(s.config.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.Chan():
		case <-s.wakeCh:
		}

		if err := s.Sweep(ctx); err != nil {
			s.logger.Error().Err(err).Msg("sweep failed")
		}
		timer.Reset(s.config.PollInterval)
	}
}

// Sweep runs one scan: fetch due challenges and queue them for expiry,
// skipping any already in flight.
func (s *Sweeper) Sweep(ctx context.Context) error {
	due, err := s.app.DueForExpiry(ctx, s.config.BatchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	s.logger.Info().Int("count_due", len(due)).Msg("queueing overdue challenges")

	for _, id := range due {
		s.inFlightMu.Lock()
		if s.inFlight[id] {
			s.inFlightMu.Unlock()
			continue
		}
		s.inFlight[id] = true
		s.inFlightMu.Unlock()

		select {
		case <-ctx.Done():
			s.clearInFlight(id)
			return ctx.Err()
		case s.workCh <- id:
		}
	}
	return nil
}

func (s *Sweeper) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-s.workCh:
			if !ok {
				return
			}
			s.expire(ctx, id, workerID)
			s.clearInFlight(id)
		}
	}
}

func (s *Sweeper) expire(ctx context.Context, id uuid.UUID, workerID int) {
	c, expired, err := s.app.ExpireIfDue(ctx, id, s.clock.Now().UTC())
	if err != nil {
		s.logger.Error().Err(err).
			Str("challenge_id", id.String()).
			Int("worker_id", workerID).
			Msg("expiry failed")
		return
	}
	if !expired {
		// Candidate resolved, got more time, or its game paused between
		// scan and expiry. Nothing to do.
		s.logger.Debug().Str("challenge_id", id.String()).Msg("expiry no-op")
		return
	}
	s.logger.Info().
		Str("challenge_id", c.ID.String()).
		Str("game_id", c.GameID.String()).
		Int("worker_id", workerID).
		Msg("challenge expired")
}

func (s *Sweeper) clearInFlight(id uuid.UUID) {
	s.inFlightMu.Lock()
	delete(s.inFlight, id)
	s.inFlightMu.Unlock()
}
