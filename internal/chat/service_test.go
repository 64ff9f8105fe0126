package chat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freegpt4/webapi/internal/apperr"
	"github.com/freegpt4/webapi/internal/config"
	"github.com/freegpt4/webapi/internal/provider"
	"github.com/freegpt4/webapi/internal/proxy"
	"github.com/freegpt4/webapi/internal/settings"
	"github.com/freegpt4/webapi/internal/storage"
)

type fakeCompleter struct {
	mu    sync.Mutex
	reqs  []provider.Request
	reply string
	err   error
}

func (f *fakeCompleter) Complete(_ context.Context, req provider.Request) (provider.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return provider.Reply{}, f.err
	}
	return provider.Reply{Provider: "Together", Model: req.Model, Text: f.reply}, nil
}

func (f *fakeCompleter) last(t *testing.T) provider.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.reqs)
	return f.reqs[len(f.reqs)-1]
}

type staticResolver struct{ rs settings.Resolved }

func (s *staticResolver) Resolve() settings.Resolved { return s.rs }

type fixture struct {
	svc       *Service
	store     *storage.Store
	completer *fakeCompleter
	resolver  *staticResolver
	cfg       config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Defaults()
	cfg.Storage.DataDir = t.TempDir()
	require.NoError(t, store.EnsureSettings(settings.Defaults(cfg)))

	f := &fixture{
		store:     store,
		completer: &fakeCompleter{reply: "Paris is the capital of France."},
		resolver: &staticResolver{rs: settings.Resolved{
			Keyword:  "text",
			Provider: "Together",
			Model:    "mixtral",
		}},
		cfg: cfg,
	}
	f.svc = NewService(store, f.resolver, f.completer, provider.DefaultRegistry(), cfg, nil)
	return f
}

func TestAsk_BuildsRequest(t *testing.T) {
	f := newFixture(t)
	f.resolver.rs.SystemPrompt = "Be concise."

	ans, err := f.svc.Ask(context.Background(), "  What is the capital\x00 of France? ", "")
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", ans.Text)
	assert.Equal(t, "Together", ans.Provider)

	req := f.completer.last(t)
	assert.Equal(t, "Together", req.Provider)
	assert.Equal(t, "mixtral", req.Model)
	assert.Equal(t, []provider.Message{
		{Role: provider.RoleSystem, Content: "Be concise."},
		{Role: provider.RoleUser, Content: "What is the capital of France?"},
	}, req.Messages)
	assert.Nil(t, req.Proxy)
	assert.Empty(t, req.Cookies)
}

func TestAsk_EmptyQuestion(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ask(context.Background(), " \x01 ", "")
	assert.True(t, apperr.Is(err, apperr.Validation))
	assert.Empty(t, f.completer.reqs)
}

func TestAsk_InvalidProviderOrModel(t *testing.T) {
	f := newFixture(t)

	f.resolver.rs.Provider = "Nope"
	_, err := f.svc.Ask(context.Background(), "hi", "")
	assert.True(t, apperr.Is(err, apperr.Validation))

	f.resolver.rs.Provider = provider.Auto
	f.resolver.rs.Model = ""
	_, err = f.svc.Ask(context.Background(), "hi", "")
	assert.True(t, apperr.Is(err, apperr.Validation))
	assert.Empty(t, f.completer.reqs)
}

func TestAsk_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.completer.err = errors.New("dial tcp: connection refused")

	_, err := f.svc.Ask(context.Background(), "hi", "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Provider))

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.False(t, ae.Public())
}

func TestAsk_EmptyReplyIsProviderError(t *testing.T) {
	f := newFixture(t)
	f.completer.reply = "[^1^][1]"
	f.resolver.rs.RemoveSources = true

	_, err := f.svc.Ask(context.Background(), "hi", "")
	assert.True(t, apperr.Is(err, apperr.Provider))
	assert.ErrorIs(t, err, provider.ErrEmptyReply)
}

func TestAsk_RemoveSources(t *testing.T) {
	f := newFixture(t)
	f.completer.reply = "Go was released in 2009[^1^][1] by Google[^2^][2]."

	ans, err := f.svc.Ask(context.Background(), "when?", "")
	require.NoError(t, err)
	assert.Contains(t, ans.Text, "[^1^][1]", "markers kept when disabled")

	f.resolver.rs.RemoveSources = true
	ans, err = f.svc.Ask(context.Background(), "when?", "")
	require.NoError(t, err)
	assert.Equal(t, "Go was released in 2009 by Google.", ans.Text)
}

func TestAsk_HistoryRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.resolver.rs.MessageHistory = true
	f.resolver.rs.SystemPrompt = "sys"

	_, err := f.svc.Ask(context.Background(), "first", "")
	require.NoError(t, err)
	f.completer.reply = "second answer"
	_, err = f.svc.Ask(context.Background(), "second", "")
	require.NoError(t, err)

	req := f.completer.last(t)
	assert.Equal(t, []provider.Message{
		{Role: provider.RoleSystem, Content: "sys"},
		{Role: provider.RoleUser, Content: "first"},
		{Role: provider.RoleAssistant, Content: "Paris is the capital of France."},
		{Role: provider.RoleUser, Content: "second"},
	}, req.Messages)

	raw, err := f.store.GetChatHistory(storage.AdminUsername)
	require.NoError(t, err)
	history, err := DecodeHistory(raw)
	require.NoError(t, err)
	assert.Len(t, history, 4)
	assert.Equal(t, "second answer", history[3].Content)
}

func TestAsk_HistoryDisabledNotStored(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ask(context.Background(), "first", "")
	require.NoError(t, err)

	raw, err := f.store.GetChatHistory(storage.AdminUsername)
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestAsk_PrivateMode(t *testing.T) {
	f := newFixture(t)
	token := settings.NewToken()
	f.resolver.rs.PrivateMode = true
	f.resolver.rs.Token = token

	_, err := f.svc.Ask(context.Background(), "hi", "")
	assert.True(t, apperr.Is(err, apperr.Auth))
	_, err = f.svc.Ask(context.Background(), "hi", settings.NewToken())
	assert.True(t, apperr.Is(err, apperr.Auth))

	_, err = f.svc.Ask(context.Background(), "hi", token)
	assert.NoError(t, err)
}

func TestAsk_PrivateModeWithoutTokenRefusesAll(t *testing.T) {
	f := newFixture(t)
	f.resolver.rs.PrivateMode = true
	f.resolver.rs.Token = ""

	for _, token := range []string{"", settings.NewToken()} {
		_, err := f.svc.Ask(context.Background(), "hello", token)
		assert.True(t, apperr.Is(err, apperr.Auth), "token %q: %v", token, err)
	}
}

func TestAsk_VirtualUser(t *testing.T) {
	f := newFixture(t)
	f.resolver.rs.VirtualUsers = true
	f.resolver.rs.PrivateMode = true
	f.resolver.rs.Token = settings.NewToken()

	token := settings.NewToken()
	_, err := f.store.CreateUser(storage.User{
		Token: token, Username: "alice", Provider: "DeepInfra", Model: "llama",
		SystemPrompt: "You are Alice's helper.", MessageHistory: true,
	}, "alice")
	require.NoError(t, err)

	_, err = f.svc.Ask(context.Background(), "hello", token)
	require.NoError(t, err)

	req := f.completer.last(t)
	assert.Equal(t, "DeepInfra", req.Provider)
	assert.Equal(t, "llama", req.Model)
	assert.Equal(t, "You are Alice's helper.", req.Messages[0].Content)

	raw, err := f.store.GetChatHistory("alice")
	require.NoError(t, err)
	assert.Contains(t, raw, "hello")
	admin, err := f.store.GetChatHistory(storage.AdminUsername)
	require.NoError(t, err)
	assert.Empty(t, admin)
}

func TestAsk_Override(t *testing.T) {
	f := newFixture(t)
	f.resolver.rs.MessageHistory = true

	msgs := []provider.Message{{Role: provider.RoleUser, Content: "from the API"}}
	ans, err := f.svc.AskWith(context.Background(), "", "", Override{Provider: "OpenAI", Model: "gpt-4o", Messages: msgs})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", ans.Model)

	req := f.completer.last(t)
	assert.Equal(t, "OpenAI", req.Provider)
	assert.Equal(t, msgs, req.Messages)

	raw, err := f.store.GetChatHistory(storage.AdminUsername)
	require.NoError(t, err)
	assert.Empty(t, raw, "override conversations are not stored")
}

func TestAsk_CookiesAndProxy(t *testing.T) {
	f := newFixture(t)
	cookiePath := filepath.Join(f.cfg.Storage.DataDir, "cookies.json")
	require.NoError(t, os.WriteFile(cookiePath, []byte(`{"_U":"abc"}`), 0o600))
	require.NoError(t, proxy.Save(f.cfg.Storage.ProxiesPath(), []proxy.Entry{
		{Scheme: proxy.SchemeHTTP, Host: "10.0.0.1", Port: 8080},
	}))
	f.resolver.rs.CookieFile = cookiePath
	f.resolver.rs.Proxies = true

	_, err := f.svc.Ask(context.Background(), "hi", "")
	require.NoError(t, err)

	req := f.completer.last(t)
	assert.Equal(t, map[string]string{"_U": "abc"}, req.Cookies)
	require.NotNil(t, req.Proxy)
	assert.Equal(t, "10.0.0.1", req.Proxy.Host)
}

func TestAsk_RateLimitHonoursContext(t *testing.T) {
	f := newFixture(t)
	f.cfg.Upstream.RateLimit = 0.001
	f.svc = NewService(f.store, f.resolver, f.completer, provider.DefaultRegistry(), f.cfg, nil)

	_, err := f.svc.Ask(context.Background(), "first", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.svc.Ask(ctx, "second", "")
	assert.Error(t, err)
	assert.Len(t, f.completer.reqs, 1)
}
