package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mkral/boomtown/go/internal/sqlutil"
)

// Config holds outbox worker configuration.
type Config struct {
	PollInterval time.Duration
	BatchSize    int32
}

// DefaultConfig returns default worker configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		BatchSize:    100,
	}
}

// Worker drains the challenge_outbox table into the event stream. Each cycle
// runs in one transaction: fetch unsent rows with a row lock, publish each,
// mark the published ones sent, commit. Rows that fail to publish stay unsent
// and are retried next cycle.
type Worker struct {
	pool      *pgxpool.Pool
	repo      *Repository
	publisher EventPublisher
	config    Config

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a new outbox worker.
func NewWorker(pool *pgxpool.Pool, repo *Repository, publisher EventPublisher, cfg Config) *Worker {
	return &Worker{
		pool:      pool,
		repo:      repo,
		publisher: publisher,
		config:    cfg,
		stopChan:  make(chan struct{}),
	}
}

// Start launches the polling loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	log.Info().
		Dur("poll_interval", w.config.PollInterval).
		Int32("batch_size", w.config.BatchSize).
		Msg("outbox worker started")
	return nil
}

// Stop halts the polling loop and waits for the in-flight cycle.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker not running")
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()

	log.Info().Msg("outbox worker stopped")
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Process immediately on start.
	w.processOutbox(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processOutbox(ctx)
		}
	}
}

func (w *Worker) processOutbox(ctx context.Context) {
	err := sqlutil.Run(ctx, w.pool, func(tx pgx.Tx) error {
		repo := w.repo.WithTx(tx)

		batch, err := repo.FetchUnsent(ctx, w.config.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		return repo.MarkSent(ctx, w.publishBatch(ctx, batch), time.Now().UTC())
	})
	if err != nil {
		log.Error().Err(err).Msg("outbox cycle failed")
	}
}

// publishBatch publishes events in insertion order and returns the ids that
// went out. A failed publish leaves the event unsent and skips the rest of
// that game's events this cycle, preserving per-game order; other games'
// events still go out.
func (w *Worker) publishBatch(ctx context.Context, batch []Event) []uuid.UUID {
	var sentIDs []uuid.UUID
	failed := make(map[uuid.UUID]bool)
	for _, event := range batch {
		if failed[event.GameID] {
			continue
		}
		if err := w.publisher.Publish(ctx, event); err != nil {
			log.Error().
				Err(err).
				Str("event_id", event.ID.String()).
				Str("event_type", string(event.EventType)).
				Str("game_id", event.GameID.String()).
				Msg("failed to publish outbox event")
			failed[event.GameID] = true
			continue
		}
		sentIDs = append(sentIDs, event.ID)
	}
	return sentIDs
}
