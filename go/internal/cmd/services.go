package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mkral/boomtown/go/internal/challenge"
	"github.com/mkral/boomtown/go/internal/challenge/outbox"
	"github.com/mkral/boomtown/go/internal/gamesession"
	"github.com/mkral/boomtown/go/internal/gateway"
	"github.com/mkral/boomtown/go/internal/sweeper"
)

type Services struct {
	Challenge    *challenge.Service
	ChallengeApp *challenge.App
	Gateway      *gateway.Service
	OutboxWorker *outbox.Worker
	Sweeper      *sweeper.Sweeper
}

func setupServices(pool *pgxpool.Pool, config *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → Service layer

	challengeRepo := challenge.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	sessionRepo := gamesession.NewRepository(pool)

	challengeApp := challenge.NewApp(challengeRepo, outboxRepo, sessionRepo).
		WithDuration(config.ChallengeDuration())
	challengeService := challenge.NewService(challengeApp)

	// Outbox worker: drains challenge_outbox into JetStream.
	publisherCfg := outbox.DefaultJetStreamConfig()
	publisherCfg.URL = config.NATS.URL
	publisher, err := outbox.NewJetStreamPublisher(publisherCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create outbox publisher: %w", err)
	}
	outboxWorker := outbox.NewWorker(pool, outboxRepo, publisher, outbox.DefaultConfig())

	// Gateway: consumes JetStream and fans out to per-game websockets.
	gatewayCfg := gateway.DefaultConfig()
	gatewayCfg.JetStreamConfig.URL = config.NATS.URL
	stateProvider := gateway.NewChallengeStateProvider(challengeApp, sessionRepo)
	gatewayService, err := gateway.NewService(gatewayCfg, stateProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway service: %w", err)
	}

	sweepCfg := sweeper.Config{
		PollInterval: config.SweepPollInterval(),
		BatchSize:    config.Sweep.BatchSize,
		NumWorkers:   config.Sweep.Workers,
	}
	sweep := sweeper.NewSweeper(challengeApp, sweepCfg, log.Logger)

	return &Services{
		Challenge:    challengeService,
		ChallengeApp: challengeApp,
		Gateway:      gatewayService,
		OutboxWorker: outboxWorker,
		Sweeper:      sweep,
	}, nil
}
