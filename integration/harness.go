package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	apirest "github.com/kasuganosora/questkeeper/api/rest"
	"github.com/kasuganosora/questkeeper/api/sse"
	apiws "github.com/kasuganosora/questkeeper/api/ws"
	"github.com/kasuganosora/questkeeper/audit"
	"github.com/kasuganosora/questkeeper/config"
	"github.com/kasuganosora/questkeeper/game/quest"
	"github.com/kasuganosora/questkeeper/game/reward"
	mw "github.com/kasuganosora/questkeeper/middleware"
	"github.com/kasuganosora/questkeeper/scheduler"
	"github.com/kasuganosora/questkeeper/store"
	"github.com/kasuganosora/questkeeper/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const adminKey = "integration-admin-key"

// TestServer wraps a real HTTP server with the quest engine wired together.
type TestServer struct {
	DB      *gorm.DB
	Sweeper *quest.Sweeper
	Server  *httptest.Server
	URL     string // http://127.0.0.1:<port>
	WSURL   string // ws://127.0.0.1:<port>/ws/events
	Sec     config.SecurityConfig
}

// NewTestServer creates a fully wired quest server for integration testing.
// It mirrors the dependency wiring in main.go with fast sweep intervals.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTL:         time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
	}
	qc := config.DefaultQuestConfig()
	qc.SweepInterval = 100 * time.Millisecond
	qc.StoreScanInterval = time.Second

	auditSvc := audit.New(db, logger)

	// ---- Quest engine ----
	gw := store.NewGateway(db, qc.StoreWorkers, logger)
	catalog := quest.NewCatalog(gw, qc.CacheTTL)
	progress := quest.NewProgressCache(gw, qc.CacheTTL)
	registry := quest.NewRegistry(gw, qc.CacheTTL)
	rewards := reward.NewDispatcher(db, c, qc.RewardReceiptTTL, logger)
	notifier := quest.MultiNotifier{quest.NewPubSubNotifier(pubsub, logger), auditSvc}
	life := quest.NewLifecycle(gw, catalog, progress, registry, rewards, notifier, logger)
	router := quest.NewRouter(life, registry, logger)
	require.NoError(t, router.Load(context.Background(), gw))
	admin := quest.NewAdmin(gw, catalog, progress, registry, router, life, qc.MaxNameLength, logger)

	sched := scheduler.New(logger)
	sweeper := quest.NewSweeper(life, registry, gw, logger, catalog, progress)
	sweeper.Register(sched, qc)

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	playerLimit := mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst)

	questH := apirest.NewQuestHandler(life, admin)
	api := r.Group("/api")
	questsG := api.Group("/quests", mw.Auth(sec), playerLimit)
	questsG.GET("/:name", questH.Get)
	questsG.POST("/:name/accept", questH.Accept)
	questsG.POST("/:name/cancel", questH.Cancel)
	api.GET("/me/quest", mw.Auth(sec), playerLimit, questH.Active)
	adminG := api.Group("/admin", apirest.AdminAuth(adminKey))
	apirest.NewAdminHandler(admin, router, sched, auditSvc, sec, logger).Register(adminG)

	r.GET("/ws/events", apiws.NewHandler(router, adminKey, logger).ServeWS)
	r.GET("/sse", sse.NewHandler(pubsub, sec, logger).ServeSSE)

	srv := httptest.NewServer(r)
	ts := &TestServer{
		DB:      db,
		Sweeper: sweeper,
		Server:  srv,
		URL:     srv.URL,
		WSURL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events",
		Sec:     sec,
	}
	t.Cleanup(func() {
		srv.CloseClientConnections()
		srv.Close()
		sched.Stop()
		sweeper.Wait()
		auditSvc.Stop(context.Background())
	})
	return ts
}

// --- HTTP helpers ---

// Do sends a request with an optional JSON body and headers.
func (ts *TestServer) Do(t *testing.T, method, path string, body interface{}, header map[string]string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Admin sends an admin request and returns the status and decoded body.
func (ts *TestServer) Admin(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	resp := ts.Do(t, method, path, body, map[string]string{"X-Admin-Key": adminKey})
	var out map[string]interface{}
	ReadJSON(t, resp, &out)
	return resp.StatusCode, out
}

// Player sends a request authenticated with token.
func (ts *TestServer) Player(t *testing.T, method, path, token string) (int, map[string]interface{}) {
	t.Helper()
	resp := ts.Do(t, method, path, nil, map[string]string{"Authorization": "Bearer " + token})
	var out map[string]interface{}
	ReadJSON(t, resp, &out)
	return resp.StatusCode, out
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// Token issues a player token through the admin API.
func (ts *TestServer) Token(t *testing.T, playerID string, permissions ...string) string {
	t.Helper()
	status, body := ts.Admin(t, http.MethodPost, "/api/admin/tokens", map[string]interface{}{
		"player_id":   playerID,
		"permissions": permissions,
	})
	require.Equal(t, http.StatusOK, status)
	return body["token"].(string)
}

// --- SSE helpers ---

// SSEClient reads quest events from /sse.
type SSEClient struct {
	rd *bufio.Reader
}

// OpenSSE connects to /sse and consumes the connected event.
func (ts *TestServer) OpenSSE(t *testing.T, token string) *SSEClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse?token="+token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})
	c := &SSEClient{rd: bufio.NewReader(resp.Body)}
	name, _ := c.next(t)
	require.Equal(t, "connected", name)
	return c
}

func (c *SSEClient) next(t *testing.T) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := c.rd.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && name != "":
			return name, data
		}
	}
}

// Expect reads quest events until one of the given kind arrives.
func (c *SSEClient) Expect(t *testing.T, kind quest.EventKind) quest.Event {
	t.Helper()
	for {
		name, data := c.next(t)
		if name != "quest" {
			continue
		}
		var ev quest.Event
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		if ev.Kind == kind {
			return ev
		}
	}
}

// --- WebSocket helpers ---

// EventStream is a game-server connection to /ws/events.
type EventStream struct {
	conn *websocket.Conn
	seq  uint64
}

// OpenEventStream dials /ws/events with the admin key.
func (ts *TestServer) OpenEventStream(t *testing.T) *EventStream {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(ts.WSURL, http.Header{"X-Admin-Key": []string{adminKey}})
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return &EventStream{conn: conn}
}

// Send sends one gameplay event and returns the advanced requirement outcomes.
func (es *EventStream) Send(t *testing.T, ev quest.GameEvent) map[string]string {
	t.Helper()
	es.seq++
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, es.conn.WriteJSON(apiws.Packet{Seq: es.seq, Type: "game_event", Payload: payload}))

	_ = es.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply apiws.Packet
	require.NoError(t, es.conn.ReadJSON(&reply))
	require.Equal(t, "game_event_result", reply.Type, string(reply.Payload))
	require.Equal(t, es.seq, reply.Seq)

	var res struct {
		Advanced map[string]string `json:"advanced"`
	}
	require.NoError(t, json.Unmarshal(reply.Payload, &res))
	return res.Advanced
}
