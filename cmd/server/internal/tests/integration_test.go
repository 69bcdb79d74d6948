package tests

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gobwas/ws"
	"github.com/gorilla/websocket" // Using Gorilla for the test CLIENT
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tickerhub/tickerhub/cmd/server/internal/account"
	"github.com/tickerhub/tickerhub/cmd/server/internal/gateway"
	"github.com/tickerhub/tickerhub/cmd/server/internal/hub"
	"github.com/tickerhub/tickerhub/cmd/server/internal/metrics"
	"github.com/tickerhub/tickerhub/cmd/server/internal/prices"
	"github.com/tickerhub/tickerhub/cmd/server/internal/ratelimit"
	"github.com/tickerhub/tickerhub/cmd/server/internal/testutils"
)

var universe = []string{"GOOG", "TSLA", "AMZN"}

func startServer(t *testing.T, limiter ratelimit.Limiter) *httptest.Server {
	t.Helper()

	m := metrics.New()
	table := prices.NewTable(universe, testutils.FixedRand{Val: 0.5})
	registry := account.NewRegistry(100)
	wsHub := hub.NewHub(registry, table, zap.NewNop(), m)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if allowed, _ := limiter.Allow(r.Context(), ip); !allowed {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		client := gateway.NewClient(conn, wsHub, zap.NewNop(), m)
		client.Start()
	}))
	t.Cleanup(server.Close)
	return server
}

func connectWS(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http")
	wsConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to websocket: %v", err)
	}
	t.Cleanup(func() { wsConn.Close() })
	return wsConn
}

func send(t *testing.T, c *websocket.Conn, raw string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func read(t *testing.T, c *websocket.Conn) map[string]interface{} {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(msg, &out); err != nil {
		t.Fatalf("Server sent invalid JSON %q: %v", msg, err)
	}
	return out
}

func TestEndToEnd_LoginSubscribeUnsubscribe(t *testing.T) {
	server := startServer(t, ratelimit.Noop{})
	conn := connectWS(t, server.URL)

	send(t, conn, `{"type":"login","email":"A@X.com"}`)

	if msg := read(t, conn); msg["type"] != "sync-subscriptions" {
		t.Fatalf("Expected sync-subscriptions first, got %v", msg)
	} else if len(msg["subscriptions"].([]interface{})) != 0 {
		t.Errorf("Fresh account should have no subscriptions: %v", msg)
	}
	if msg := read(t, conn); msg["type"] != "activity-log" {
		t.Fatalf("Expected activity-log second, got %v", msg)
	}
	if msg := read(t, conn); msg["type"] != "price-update" {
		t.Fatalf("Expected price-update third, got %v", msg)
	}

	send(t, conn, `{"type":"subscribe","ticker":"goog"}`)

	sync := read(t, conn)
	subs := sync["subscriptions"].([]interface{})
	if len(subs) != 1 || subs[0] != "GOOG" {
		t.Fatalf("Expected subscriptions [GOOG], got %v", sync)
	}
	price := read(t, conn)
	if price["type"] != "price-update" {
		t.Fatalf("Expected price-update, got %v", price)
	}
	if p := price["prices"].(map[string]interface{}); len(p) != 1 || p["GOOG"] == nil {
		t.Errorf("Expected exactly GOOG in prices, got %v", p)
	}
	logs := read(t, conn)
	if logs["type"] != "activity-log" {
		t.Fatalf("Expected activity-log, got %v", logs)
	}
	if l := logs["logs"].([]interface{}); len(l) != 1 || l[0] != "Subscribed to GOOG" {
		t.Errorf("Expected [Subscribed to GOOG], got %v", l)
	}

	send(t, conn, `{"type":"unsubscribe","ticker":"GOOG"}`)

	sync = read(t, conn)
	if len(sync["subscriptions"].([]interface{})) != 0 {
		t.Errorf("Expected empty subscriptions after unsubscribe, got %v", sync)
	}
	logs = read(t, conn)
	l := logs["logs"].([]interface{})
	if len(l) != 2 || l[0] != "Unsubscribed from GOOG" || l[1] != "Subscribed to GOOG" {
		t.Errorf("Unexpected activity log: %v", l)
	}
}

func TestEndToEnd_TwoTabsShareAccount(t *testing.T) {
	server := startServer(t, ratelimit.Noop{})

	tab1 := connectWS(t, server.URL)
	send(t, tab1, `{"type":"login","email":"a@x.com"}`)
	for i := 0; i < 3; i++ {
		read(t, tab1)
	}

	tab2 := connectWS(t, server.URL)
	send(t, tab2, `{"type":"login","email":"a@x.com"}`)
	for i := 0; i < 3; i++ {
		read(t, tab2)
	}

	// A subscribe from tab1 must reach tab2 as well
	send(t, tab1, `{"type":"subscribe","ticker":"TSLA"}`)

	for _, conn := range []*websocket.Conn{tab1, tab2} {
		sync := read(t, conn)
		if sync["type"] != "sync-subscriptions" {
			t.Fatalf("Expected sync-subscriptions, got %v", sync)
		}
		subs := sync["subscriptions"].([]interface{})
		if len(subs) != 1 || subs[0] != "TSLA" {
			t.Errorf("Expected [TSLA], got %v", subs)
		}
		read(t, conn) // price-update
		read(t, conn) // activity-log
	}
}

func TestEndToEnd_MalformedInputIsSilentlyDropped(t *testing.T) {
	server := startServer(t, ratelimit.Noop{})
	conn := connectWS(t, server.URL)

	// Garbage before and after login: no reply, connection stays open
	send(t, conn, `{ "type": "logi`)
	send(t, conn, `{"type":"login","email":"a@x.com"}`)

	if msg := read(t, conn); msg["type"] != "sync-subscriptions" {
		t.Fatalf("First reply should be the login sync, got %v", msg)
	}
	read(t, conn)
	read(t, conn)

	send(t, conn, `{"type":"dance"}`)                 // unknown kind
	send(t, conn, `{"type":"subscribe","ticker":""}`) // empty ticker
	send(t, conn, `{"type":"subscribe","ticker":"NOPE"}`)
	send(t, conn, `{"type":"subscribe","ticker":"GOOG"}`)

	// Only the valid subscribe produces output
	sync := read(t, conn)
	subs := sync["subscriptions"].([]interface{})
	if len(subs) != 1 || subs[0] != "GOOG" {
		t.Fatalf("Expected [GOOG] after ignored junk, got %v", sync)
	}
}

func TestEndToEnd_PreLoginMessagesIgnored(t *testing.T) {
	server := startServer(t, ratelimit.Noop{})
	conn := connectWS(t, server.URL)

	send(t, conn, `{"type":"subscribe","ticker":"GOOG"}`)
	send(t, conn, `{"type":"login","email":"a@x.com"}`)

	// The pre-login subscribe left no trace: the login sync is empty
	sync := read(t, conn)
	if sync["type"] != "sync-subscriptions" {
		t.Fatalf("Expected sync-subscriptions, got %v", sync)
	}
	if subs := sync["subscriptions"].([]interface{}); len(subs) != 0 {
		t.Errorf("Pre-login subscribe must not stick, got %v", subs)
	}
}

func TestEndToEnd_RateLimiterRejectsUpgrade(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewRedisLimiter(rdb, 1, time.Minute)

	server := startServer(t, limiter)

	// First connection passes
	conn := connectWS(t, server.URL)
	send(t, conn, `{"type":"login","email":"a@x.com"}`)
	read(t, conn)

	// Second upgrade from the same IP inside the window is refused
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Second dial should have been rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %+v", resp)
	}

	// After the window expires the IP is admitted again
	mr.FastForward(2 * time.Minute)
	if ok, _ := limiter.Allow(context.Background(), "127.0.0.1"); !ok {
		t.Error("Limiter should admit again after window expiry")
	}
}
