package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func startTestManager(t *testing.T) *ConnectionManager {
	t.Helper()
	cm := NewConnectionManager(DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go cm.Start(ctx)
	return cm
}

func wsServer(t *testing.T, cm *ConnectionManager, gameID uuid.UUID) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := cm.UpgradeConnection(w, r, r.URL.Query().Get("client_id"), gameID); err != nil {
			t.Errorf("upgrade: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server, clientID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?client_id=" + clientID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitForConnections(t *testing.T, cm *ConnectionManager, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if total, _ := cm.GetConnectionStats(); total == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	total, games := cm.GetConnectionStats()
	t.Fatalf("expected %d connections, still %d across %d games", want, total, games)
}

func TestBroadcastReachesEveryGameConnection(t *testing.T) {
	cm := startTestManager(t)
	gameID := uuid.New()
	srv := wsServer(t, cm, gameID)

	first := dialWS(t, srv, "first")
	defer first.Close()
	second := dialWS(t, srv, "second")
	defer second.Close()
	waitForConnections(t, cm, 2)

	payload := []byte(`{"type":"ChallengeRequested"}`)
	cm.BroadcastToGame(gameID, payload)

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read broadcast: %v", err)
		}
		if string(data) != string(payload) {
			t.Fatalf("expected %s, got %s", payload, data)
		}
	}
}

func TestBroadcastSurvivesConcurrentDisconnect(t *testing.T) {
	// Connections tearing down mid-broadcast must not take the broadcast
	// goroutine with them; whatever the interleaving, every connection ends
	// up unregistered and later broadcasts still run.
	cm := startTestManager(t)
	gameID := uuid.New()
	srv := wsServer(t, cm, gameID)

	conns := make([]*websocket.Conn, 0, 8)
	for i := 0; i < 8; i++ {
		conns = append(conns, dialWS(t, srv, uuid.NewString()))
	}
	waitForConnections(t, cm, 8)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, conn := range conns {
			conn.Close()
		}
	}()
	for i := 0; i < 500; i++ {
		cm.BroadcastToGame(gameID, []byte(`{"seq":1}`))
	}
	wg.Wait()

	waitForConnections(t, cm, 0)
	cm.BroadcastToGame(gameID, []byte(`{"seq":2}`))

	late := dialWS(t, srv, "late")
	defer late.Close()
	waitForConnections(t, cm, 1)
	cm.BroadcastToGame(gameID, []byte(`{"seq":3}`))
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); err != nil {
		t.Fatalf("broadcast after churn: %v", err)
	}
}

func TestSlowConsumerIsDropped(t *testing.T) {
	cm := startTestManager(t)
	gameID := uuid.New()

	// Register a connection with a one-slot buffer and no pumps draining it,
	// so the second broadcast overflows and forces the drop path.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		cm.registerConnection(&Connection{
			ID:       uuid.NewString(),
			ClientID: "slow",
			GameID:   gameID,
			Conn:     wsConn,
			Send:     make(chan []byte, 1),
			Manager:  cm,
		})
	}))
	t.Cleanup(srv.Close)

	conn := dialWS(t, srv, "slow")
	defer conn.Close()
	waitForConnections(t, cm, 1)

	cm.BroadcastToGame(gameID, []byte("a"))
	cm.BroadcastToGame(gameID, []byte("b"))

	waitForConnections(t, cm, 0)
}
