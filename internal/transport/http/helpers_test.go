package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-relay/internal/auth"
	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/log"
	"github.com/vovakirdan/wirechat-relay/internal/service/chat"
	"github.com/vovakirdan/wirechat-relay/internal/store/sqlite"
)

type testServer struct {
	*httptest.Server
	cfg   config.Config
	store *sqlite.SQLiteStore
	auth  *auth.Service
	chat  *chat.Service
	hub   *core.Hub
}

type serverSetup struct {
	cfg     *config.Config
	checker core.ParticipantChecker
}

type serverOption func(*serverSetup)

func withConfig(fn func(*config.Config)) serverOption {
	return func(s *serverSetup) { fn(s.cfg) }
}

// withChecker replaces the datastore as the room join checker.
func withChecker(checker core.ParticipantChecker) serverOption {
	return func(s *serverSetup) { s.checker = checker }
}

// startTestServer wires the full stack over an in-memory database.
func startTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.JWTSecret = "test-secret-change-me"
	cfg.JoinTimeout = 2 * time.Second

	setup := serverSetup{cfg: &cfg, checker: st}
	for _, opt := range opts {
		opt(&setup)
	}

	jwtCfg := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.TokenTTL,
	}
	logger := log.Nop()
	authn := auth.NewAuthenticator(jwtCfg, cfg.CookieName)

	ts := &testServer{cfg: cfg, store: st, auth: auth.NewService(st, jwtCfg)}
	ts.hub = core.NewHub(authn, setup.checker, logger, core.Options{SendBuffer: cfg.SendBuffer})
	ts.chat = chat.New(st, ts.hub.Router())

	server := NewServer(Deps{
		Hub:           ts.hub,
		Authenticator: authn,
		AuthService:   ts.auth,
		ChatService:   ts.chat,
		Store:         st,
	}, &ts.cfg, logger)
	ts.Server = httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts
}

// register creates a user and returns its ID and access token.
func (ts *testServer) register(t *testing.T, username string) (string, string) {
	t.Helper()
	user, token, err := ts.auth.Register(context.Background(), username, "password123")
	require.NoError(t, err)
	return user.ID, token
}

func (ts *testServer) wsURL() string {
	return strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
}

func (ts *testServer) dial(ctx context.Context, t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, ts.wsURL(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Cookie": []string{ts.cfg.CookieName + "=" + token}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	ID    string          `json:"id"`
	OK    *bool           `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

func readFrame(ctx context.Context, t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	var f frame
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	return f
}

// readUntil reads frames until match returns true and returns the frames that
// were skipped on the way along with the matching one.
func readUntil(ctx context.Context, t *testing.T, conn *websocket.Conn, match func(frame) bool) (frame, []frame) {
	t.Helper()
	var skipped []frame
	for {
		f := readFrame(ctx, t, conn)
		if match(f) {
			return f, skipped
		}
		skipped = append(skipped, f)
	}
}

func isEvent(name string) func(frame) bool {
	return func(f frame) bool { return f.Type == "event" && f.Event == name }
}

func isAck(id string) func(frame) bool {
	return func(f frame) bool { return f.Type == "ack" && f.ID == id }
}

func sendJSON(ctx context.Context, t *testing.T, conn *websocket.Conn, msgType, id string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"type": msgType, "id": id, "data": json.RawMessage(raw)}))
}

func joinRoom(ctx context.Context, t *testing.T, conn *websocket.Conn, id, room string) frame {
	t.Helper()
	sendJSON(ctx, t, conn, "join_room", id, map[string]string{"room": room})
	ack, _ := readUntil(ctx, t, conn, isAck(id))
	return ack
}

// do performs an API request authenticated with the access token cookie.
func (ts *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: ts.cfg.CookieName, Value: token})
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

const (
	timeoutShort = time.Second
	tick         = 10 * time.Millisecond
)
