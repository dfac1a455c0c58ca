package syncagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mkral/boomtown/go/internal/challenge"
	"github.com/mkral/boomtown/go/internal/challenge/events"
	"github.com/mkral/boomtown/go/internal/gateway"
	"github.com/mkral/boomtown/go/internal/lockpolicy"
	"github.com/mkral/boomtown/go/internal/models"
)

// Config carries the endpoints and identity one agent connects with.
type Config struct {
	// BaseURL is the HTTP API root, e.g. "http://localhost:8080".
	BaseURL string
	// WSURL is the websocket endpoint, e.g. "ws://localhost:8080/ws/game".
	WSURL    string
	GameID   uuid.UUID
	ClientID string

	// TickInterval drives local countdown recomputation. Defaults to 1s.
	TickInterval time.Duration
	// ReconnectBackoff is the initial wait after a dropped connection;
	// it doubles up to ReconnectMax. Defaults 1s / 30s.
	ReconnectBackoff time.Duration
	ReconnectMax     time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.TickInterval <= 0 {
		out.TickInterval = time.Second
	}
	if out.ReconnectBackoff <= 0 {
		out.ReconnectBackoff = time.Second
	}
	if out.ReconnectMax <= 0 {
		out.ReconnectMax = 30 * time.Second
	}
	if out.ClientID == "" {
		out.ClientID = uuid.NewString()
	}
	return out
}

// Agent keeps one game's challenge view synchronized against the server.
// Connect-time full reloads establish truth, push events keep it current,
// and a local ticker recomputes countdowns between frames. Commands go over
// HTTP and never block event receipt.
type Agent struct {
	config Config
	view   *View
	httpc  *http.Client
	dialer *websocket.Dialer
	clock  clockwork.Clock
	logger zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	reported map[uuid.UUID]bool
}

// NewAgent creates an agent for one game. The view starts empty until the
// first reload.
func NewAgent(config Config, logger zerolog.Logger) *Agent {
	cfg := config.withDefaults()
	return &Agent{
		config:   cfg,
		view:     NewView(challenge.DefaultChallengeDuration),
		httpc:    &http.Client{Timeout: 10 * time.Second},
		dialer:   websocket.DefaultDialer,
		clock:    clockwork.NewRealClock(),
		logger:   logger.With().Str("component", "syncagent").Str("client_id", cfg.ClientID).Logger(),
		reported: make(map[uuid.UUID]bool),
	}
}

// WithClock overrides the wall clock, for tests.
func (a *Agent) WithClock(clock clockwork.Clock) *Agent {
	a.clock = clock
	return a
}

// View exposes the reconciled local state.
func (a *Agent) View() *View {
	return a.view
}

// Run connects, reloads, and consumes events until ctx is cancelled,
// reconnecting with backoff after any drop. Every (re)connect is preceded by
// a full reload, which heals whatever was missed while disconnected.
func (a *Agent) Run(ctx context.Context) error {
	go a.tickLoop(ctx)

	backoff := a.config.ReconnectBackoff
	for {
		if err := a.connectAndConsume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("connection lost, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.clock.After(backoff):
		}
		backoff *= 2
		if backoff > a.config.ReconnectMax {
			backoff = a.config.ReconnectMax
		}
	}
}

func (a *Agent) connectAndConsume(ctx context.Context) error {
	if err := a.Reload(ctx); err != nil {
		return fmt.Errorf("full reload: %w", err)
	}

	wsURL, err := url.Parse(a.config.WSURL)
	if err != nil {
		return fmt.Errorf("parse ws url: %w", err)
	}
	q := wsURL.Query()
	q.Set("game_id", a.config.GameID.String())
	q.Set("client_id", a.config.ClientID)
	wsURL.RawQuery = q.Encode()

	conn, _, err := a.dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	a.setConn(conn)
	defer func() {
		a.setConn(nil)
		conn.Close()
	}()
	a.logger.Info().Str("game_id", a.config.GameID.String()).Msg("connected")

	// The dial can race a command that landed between reload and subscribe;
	// a second reload after subscribing closes that window.
	if err := a.Reload(ctx); err != nil {
		return fmt.Errorf("post-subscribe reload: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			a.logger.Warn().Err(err).Msg("skipping malformed event")
			continue
		}
		a.view.ApplyEvent(&env)
		a.logger.Debug().
			Str("event_type", string(env.Type)).
			Str("challenge_id", env.Challenge.ID.String()).
			Msg("applied event")
	}
}

func (a *Agent) setConn(conn *websocket.Conn) {
	a.mu.Lock()
	prev := a.conn
	a.conn = conn
	a.mu.Unlock()
	if prev != nil && conn != nil {
		prev.Close()
	}
}

// Reload fetches the authoritative game state and replaces the local view.
func (a *Agent) Reload(ctx context.Context) error {
	var state gateway.GameStateResponse
	path := fmt.Sprintf("/api/games/%s/state", a.config.GameID)
	if err := a.getJSON(ctx, path, &state); err != nil {
		return err
	}

	a.view.Replace(state.Challenges, state.SessionStatus, time.Duration(state.ChallengeDurationSec)*time.Second, state.ServerTime)
	a.logger.Info().
		Int("challenges", len(state.Challenges)).
		Str("session_status", string(state.SessionStatus)).
		Msg("view replaced from full reload")
	return nil
}

// tickLoop recomputes countdowns and reports deadline hits. Expiry stays a
// server decision; the report is a best-effort nudge so the sweep does not
// have to be the first to notice.
func (a *Agent) tickLoop(ctx context.Context) {
	ticker := a.clock.NewTicker(a.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			a.Tick(ctx)
		}
	}
}

// Tick runs one countdown pass, posting an expire request for any challenge
// whose local countdown reached zero. While the view sees the game paused no
// challenge is reported, whatever its arithmetic says.
func (a *Agent) Tick(ctx context.Context) {
	if a.view.Paused() {
		return
	}
	now := a.clock.Now().UTC()
	for _, cd := range a.view.Countdowns(now) {
		if cd.Remaining > 0 {
			continue
		}
		a.mu.Lock()
		already := a.reported[cd.Challenge.ID]
		if !already {
			a.reported[cd.Challenge.ID] = true
		}
		a.mu.Unlock()
		if already {
			continue
		}
		if err := a.ReportExpired(ctx, cd.Challenge.ID); err != nil {
			a.logger.Debug().Err(err).
				Str("challenge_id", cd.Challenge.ID.String()).
				Msg("expire report failed, sweep will catch it")
		}
	}
}

// ReportExpired asks the server to run its expiry check for one challenge.
// The server re-verifies the deadline against its own clock and pause state,
// so a spurious report is harmless.
func (a *Agent) ReportExpired(ctx context.Context, challengeID uuid.UUID) error {
	path := fmt.Sprintf("/api/challenges/%s/expire", challengeID)
	return a.postJSON(ctx, path, nil, nil)
}

// RequestChallenge issues a challenge request on behalf of this client.
func (a *Agent) RequestChallenge(ctx context.Context, req *challenge.RequestChallengeRequest) (*models.Challenge, error) {
	var out models.Challenge
	if err := a.postJSON(ctx, "/api/challenges/request", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AssignChallenge records the facilitator's assigned activity.
func (a *Agent) AssignChallenge(ctx context.Context, challengeID uuid.UUID, req *challenge.AssignChallengeRequest) (*models.Challenge, error) {
	var out models.Challenge
	path := fmt.Sprintf("/api/challenges/%s/assign", challengeID)
	if err := a.postJSON(ctx, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteChallenge marks a challenge fulfilled.
func (a *Agent) CompleteChallenge(ctx context.Context, challengeID uuid.UUID) (*models.Challenge, error) {
	var out models.Challenge
	path := fmt.Sprintf("/api/challenges/%s/complete", challengeID)
	if err := a.postJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelChallenge withdraws a challenge.
func (a *Agent) CancelChallenge(ctx context.Context, challengeID uuid.UUID) (*models.Challenge, error) {
	var out models.Challenge
	path := fmt.Sprintf("/api/challenges/%s/cancel", challengeID)
	if err := a.postJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckLock asks the server whether a request would currently be blocked.
func (a *Agent) CheckLock(ctx context.Context, teamID, playerID uuid.UUID, hasSchool bool) (*lockpolicy.Lock, error) {
	var out lockpolicy.Lock
	path := fmt.Sprintf("/api/games/%s/lock?team_id=%s&player_id=%s&has_school=%t",
		a.config.GameID, teamID, playerID, hasSchool)
	if err := a.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *Agent) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return a.do(req, out)
}

func (a *Agent) postJSON(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, out)
}

func (a *Agent) do(req *http.Request, out any) error {
	resp, err := a.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%s)", req.Method, req.URL.Path, apiErr.Error, apiErr.Code)
		}
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
