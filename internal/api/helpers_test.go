package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/freegpt4/webapi/internal/chat"
	"github.com/freegpt4/webapi/internal/config"
	"github.com/freegpt4/webapi/internal/metrics"
	"github.com/freegpt4/webapi/internal/provider"
	"github.com/freegpt4/webapi/internal/settings"
	"github.com/freegpt4/webapi/internal/storage"
)

const completionJSON = `{"id":"gen-1","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%q}}]}`

const adminPassword = "admin-password"

// mutableResolver lets tests flip settings between requests.
type mutableResolver struct {
	mu sync.Mutex
	rs settings.Resolved
}

func (m *mutableResolver) Resolve() settings.Resolved {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rs
}

func (m *mutableResolver) set(fn func(*settings.Resolved)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.rs)
}

// upstream records what the fake provider received.
type upstream struct {
	mu       sync.Mutex
	reply    string
	status   int
	messages [][]provider.Message
	models   []string
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Model    string             `json:"model"`
		Messages []provider.Message `json:"messages"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	u.mu.Lock()
	u.messages = append(u.messages, body.Messages)
	u.models = append(u.models, body.Model)
	status, reply := u.status, u.reply
	u.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		fmt.Fprint(w, `{"error":{"message":"upstream broke"}}`)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, completionJSON, reply)
}

func (u *upstream) calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.messages)
}

func (u *upstream) lastMessages() []provider.Message {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.messages) == 0 {
		return nil
	}
	return u.messages[len(u.messages)-1]
}

type testEnv struct {
	deps     Deps
	fast     FastAPIDeps
	handler  http.Handler
	resolver *mutableResolver
	monitor  *provider.Monitor
	store    *storage.Store
	upstream *upstream
	cfg      config.Config
}

// newTestEnv wires the real settings, chat and provider layers against an
// in-memory store and a fake OpenAI-compatible upstream named "Mock".
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	up := &upstream{reply: "Hello from upstream"}
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	reg, err := provider.NewRegistry([]provider.Provider{
		{Name: "Mock", BaseURL: srv.URL, Models: []string{"mock-small", "mock-large"}},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	m := metrics.New()
	monitor := provider.NewMonitor(nil)
	client := provider.NewClient(reg, monitor, provider.Options{
		Metrics:    m,
		MaxRetries: 0,
		RetryWait:  time.Millisecond,
		Timeout:    5 * time.Second,
	})
	t.Cleanup(client.Close)

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.Defaults()
	cfg.Storage.DataDir = t.TempDir()
	if err := store.EnsureSettings(settings.Defaults(cfg)); err != nil {
		t.Fatalf("EnsureSettings: %v", err)
	}

	svc := settings.NewService(store, reg, cfg, nil, m)
	if err := svc.SetAdminPassword(adminPassword, adminPassword); err != nil {
		t.Fatalf("SetAdminPassword: %v", err)
	}

	resolver := &mutableResolver{rs: settings.Resolved{
		Keyword:   "text",
		FileInput: true,
		Provider:  "Mock",
		Model:     "mock-small",
		EnableGUI: true,
	}}
	chatSvc := chat.NewService(store, resolver, client, reg, cfg, nil)

	deps := Deps{
		Resolver: resolver,
		Settings: svc,
		Chat:     chatSvc,
		Registry: reg,
		Metrics:  m,
		Config:   cfg,
	}
	return &testEnv{
		deps:     deps,
		fast:     FastAPIDeps{Resolver: resolver, Chat: chatSvc, Registry: reg, Metrics: m},
		handler:  NewHandler(deps),
		resolver: resolver,
		monitor:  monitor,
		store:    store,
		upstream: up,
		cfg:      cfg,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) (msg, typ string) {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body %q: %v", rr.Body.String(), err)
	}
	return body.Error.Message, body.Error.Type
}
