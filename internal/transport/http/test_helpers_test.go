package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/agora-server/internal/auth"
	"github.com/vovakirdan/agora-server/internal/config"
	"github.com/vovakirdan/agora-server/internal/core"
	"github.com/vovakirdan/agora-server/internal/metrics"
	"github.com/vovakirdan/agora-server/internal/proto"
	"github.com/vovakirdan/agora-server/internal/service/channels"
	"github.com/vovakirdan/agora-server/internal/store"
	"github.com/vovakirdan/agora-server/internal/store/sqlite"
)

const testSecret = "test-secret"

// testEnv is a running server over an in-memory store. alice and bob are
// accepted members of one community with a public "general" channel; carol is not.
type testEnv struct {
	ts      *httptest.Server
	store   *sqlite.SQLiteStore
	auth    *auth.Service
	hub     *core.Hub
	alice   store.UserID
	bob     store.UserID
	carol   store.UserID
	general store.ChannelID
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.JWTSecret = testSecret
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	authService := createTestAuthService(t, st, cfg.JWTSecret)
	disabledLogger := zerolog.New(nil)
	reg := prometheus.NewRegistry()

	hub := core.NewHub(st, authService, core.Options{
		Logger:  &disabledLogger,
		Metrics: metrics.New(reg),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	svc := channels.New(st, hub.Guard())
	server := NewServer(Deps{
		Hub:      hub,
		Channels: svc,
		Identity: authService,
		Gatherer: reg,
	}, &cfg, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	env := &testEnv{ts: ts, store: st, auth: authService, hub: hub}
	env.alice = createTestUser(t, st, "alice")
	env.bob = createTestUser(t, st, "bob")
	env.carol = createTestUser(t, st, "carol")

	community, err := svc.CreateCommunity(context.Background(), "gophers")
	if err != nil {
		t.Fatalf("create community: %v", err)
	}
	for _, id := range []store.UserID{env.alice, env.bob} {
		if err := svc.SetMembership(context.Background(), community.ID, id, store.MembershipAccepted); err != nil {
			t.Fatalf("set membership: %v", err)
		}
	}
	general, err := svc.CreateChannel(context.Background(), community.ID, "general", "", false)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	env.general = general.ID
	return env
}

// createTestAuthService creates an auth service for testing.
func createTestAuthService(t *testing.T, st store.UserStore, jwtSecret string) *auth.Service {
	t.Helper()

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(jwtSecret),
		Issuer:   "agora",
		Audience: "agora-clients",
		TTL:      24 * time.Hour,
	}

	return auth.NewService(st, jwtConfig)
}

func createTestUser(t *testing.T, st store.UserStore, name string) store.UserID {
	t.Helper()
	user, err := st.CreateUser(context.Background(), name)
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return user.ID
}

func (e *testEnv) token(t *testing.T, userID store.UserID) string {
	t.Helper()
	token, err := e.auth.IssueToken(context.Background(), userID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (e *testEnv) dial(ctx context.Context, t *testing.T, userID store.UserID) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + e.token(t, userID)}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func (e *testEnv) get(t *testing.T, path, token string) (int, []byte) {
	t.Helper()
	return e.do(t, http.MethodGet, path, token)
}

func (e *testEnv) do(t *testing.T, method, path, token string) (int, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, e.ts.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, body
}

// frame is an outbound frame with its payload left raw.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Event   string          `json:"event"`
	EventID string          `json:"event_id"`
	Data    json.RawMessage `json:"data"`
	Error   *proto.Error    `json:"error"`
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, id, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{ID: id, Type: typ, Data: payload}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

// readUntil returns the first frame matching match, skipping unrelated ones.
func readUntil(ctx context.Context, t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()

	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatalf("read outbound: %v", err)
		}
		if match(f) {
			return f
		}
	}
}

func reply(id string) func(frame) bool {
	return func(f frame) bool {
		return f.ID == id && (f.Type == proto.OutboundTypeAck || f.Type == proto.OutboundTypeError)
	}
}

func eventNamed(name string) func(frame) bool {
	return func(f frame) bool {
		return f.Type == proto.OutboundTypeEvent && f.Event == name
	}
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}
