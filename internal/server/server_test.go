package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"habitline/internal/config"
	"habitline/internal/db"
	"habitline/internal/engine"
	"habitline/internal/migrate"
	"habitline/internal/telegram"
)

const testBotToken = "12345:server-test-token"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/api",
		Auth: AuthConfig{
			BotToken:           testBotToken,
			JWTSecret:          "test-secret",
			DebugAllowFakeAuth: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func debugAuth(id string) map[string]string {
	return map[string]string{"X-Debug-User-Id": id}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", envelope.Error.Code)
	}
}

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestInitDataAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	values := url.Values{}
	values.Set("user", `{"id":777,"username":"bob","first_name":"Bob"}`)
	values.Set("auth_date", "9999999999")
	raw := telegram.SignInitData(values, testBotToken)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/auth/me", nil, map[string]string{
		"Authorization": "tma " + raw,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me UserResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.TelegramUserID != 777 || me.Username == nil || *me.Username != "bob" {
		t.Fatalf("unexpected me: %+v", me)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/auth/me", nil, map[string]string{
		"Authorization": "tma " + raw + "tampered",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered init data, got %d", res.StatusCode)
	}
}

func TestDevLoginAndBearer(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/dev/login", map[string]any{
		"telegram_user_id": 555,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/auth/me", nil, map[string]string{
		"Authorization": "Bearer " + out["token"],
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me UserResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.TelegramUserID != 555 {
		t.Fatalf("expected telegram user 555, got %d", me.TelegramUserID)
	}
}

func TestSessionFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	auth := debugAuth("42")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/tasks", map[string]any{
		"title":          "gym",
		"kind":           "daily",
		"penalty_amount": "5.00",
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/sessions/day/start", nil, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start status %d: %s", res.StatusCode, string(data))
	}
	var started SessionWithInstancesResponse
	if err := json.Unmarshal(data, &started); err != nil {
		t.Fatalf("unmarshal start: %v", err)
	}
	if len(started.Instances) != 1 || started.Instances[0].Status != "planned" {
		t.Fatalf("unexpected instances: %+v", started.Instances)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/sessions/day/start", nil, auth)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double start, got %d: %s", res.StatusCode, string(data))
	}

	instanceID := started.Instances[0].ID
	res, data = doJSON(t, client, http.MethodPatch,
		srv.URL+"/api/instances/"+itoa(instanceID)+"/status",
		map[string]any{"status": "failed"}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("fail status %d: %s", res.StatusCode, string(data))
	}
	var failed InstanceResponse
	if err := json.Unmarshal(data, &failed); err != nil {
		t.Fatalf("unmarshal instance: %v", err)
	}
	if failed.PenaltyApplied == nil || *failed.PenaltyApplied != "5" {
		t.Fatalf("expected penalty 5, got %v", failed.PenaltyApplied)
	}

	res, data = doJSON(t, client, http.MethodPatch,
		srv.URL+"/api/instances/"+itoa(instanceID)+"/status",
		map[string]any{"status": "planned"}, auth)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for terminal->planned, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/sessions/day/close", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("close status %d: %s", res.StatusCode, string(data))
	}
	var settlement SettlementResponse
	if err := json.Unmarshal(data, &settlement); err != nil {
		t.Fatalf("unmarshal settlement: %v", err)
	}
	if settlement.FailedCount != 1 || settlement.AmountToTransfer != "5" || settlement.Currency != "EUR" {
		t.Fatalf("unexpected settlement: %+v", settlement)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/sessions/day/close", nil, auth)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 closing twice, got %d: %s", res.StatusCode, string(data))
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	auth := debugAuth("7")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/settings", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get settings status %d: %s", res.StatusCode, string(data))
	}
	var s SettingsResponse
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal settings: %v", err)
	}
	if s.Currency != "EUR" {
		t.Fatalf("expected EUR default, got %s", s.Currency)
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/api/settings", map[string]any{
		"currency":              "USD",
		"penalty_daily_default": "12.50",
	}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put settings status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal settings: %v", err)
	}
	if s.Currency != "USD" || s.PenaltyDailyDefault != "12.5" {
		t.Fatalf("unexpected settings: %+v", s)
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/api/settings", map[string]any{
		"penalty_daily_default": "not-a-number",
	}, auth)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/tasks/9999", nil, debugAuth("7"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found, got %q", envelope.Error.Code)
	}
}

func TestDevTokenRoundTrip(t *testing.T) {
	token, err := issueDevToken("secret", 99, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := authenticateJWT(token, "secret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id != 99 {
		t.Fatalf("expected 99, got %d", id)
	}
	if _, err := authenticateJWT(token, "other"); err == nil {
		t.Fatal("expected error with wrong secret")
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
