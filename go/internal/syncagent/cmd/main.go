package main

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mkral/boomtown/go/internal/syncagent"
)

// Standalone client agent: connects to one game, keeps a reconciled view,
// and logs countdowns. Useful for watching a game without a browser.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	gameIDRaw := os.Getenv("GAME_ID")
	gameID, err := uuid.Parse(gameIDRaw)
	if err != nil {
		log.Fatal().Str("game_id", gameIDRaw).Msg("GAME_ID must be a valid UUID")
	}

	config := syncagent.Config{
		BaseURL:  getEnv("SERVER_URL", "http://localhost:8080"),
		WSURL:    getEnv("WS_URL", "ws://localhost:8080/ws/game"),
		GameID:   gameID,
		ClientID: getEnv("CLIENT_ID", ""),
	}

	agent := syncagent.NewAgent(config, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("agent stopped")
		}
	}()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logCountdowns(agent)
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("agent shutting down")
}

func logCountdowns(agent *syncagent.Agent) {
	countdowns := agent.View().Countdowns(time.Now().UTC())
	sort.Slice(countdowns, func(i, j int) bool {
		return countdowns[i].Remaining < countdowns[j].Remaining
	})
	for _, cd := range countdowns {
		log.Info().
			Str("challenge_id", cd.Challenge.ID.String()).
			Str("team_id", cd.Challenge.TeamID.String()).
			Str("resource", string(cd.Challenge.ResourceKind)).
			Dur("remaining", cd.Remaining).
			Msg("countdown")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
