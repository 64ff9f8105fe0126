// Package chat answers questions: it resolves who is asking and with which
// settings, calls the provider layer and maintains chat history.
package chat

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/freegpt4/webapi/internal/apperr"
	"github.com/freegpt4/webapi/internal/config"
	"github.com/freegpt4/webapi/internal/provider"
	"github.com/freegpt4/webapi/internal/proxy"
	"github.com/freegpt4/webapi/internal/settings"
	"github.com/freegpt4/webapi/internal/storage"
)

// Completer sends a chat request upstream.
type Completer interface {
	Complete(ctx context.Context, req provider.Request) (provider.Reply, error)
}

// Resolver returns the effective settings for the current request.
type Resolver interface {
	Resolve() settings.Resolved
}

// Identity is the caller a question is answered for.
type Identity struct {
	Username string
	Admin    bool
}

// Profile is the provider configuration and history of one identity.
type Profile struct {
	Provider       string
	Model          string
	SystemPrompt   string
	MessageHistory bool
	History        string
}

// Answer is the reply to a question.
type Answer struct {
	Text     string
	Provider string
	Model    string
}

// Override replaces parts of the identity's profile for one request, as
// the Fast API and MCP tools allow.
type Override struct {
	Provider string
	Model    string
	// Messages, when set, replace the stored history and the question.
	Messages []provider.Message
}

// Service is the request facade used by every surface.
type Service struct {
	store     *storage.Store
	resolver  Resolver
	completer Completer
	providers settings.Providers
	cfg       config.Config
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewService creates the facade. Outbound calls are limited to
// cfg.Upstream.RateLimit per second; zero disables limiting.
func NewService(store *storage.Store, resolver Resolver, completer Completer, providers settings.Providers, cfg config.Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.Upstream.RateLimit > 0 {
		limit = rate.Limit(cfg.Upstream.RateLimit)
	}
	return &Service{
		store:     store,
		resolver:  resolver,
		completer: completer,
		providers: providers,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
	}
}

// Identify maps a request token to an identity. A virtual user's token
// selects that user. In private mode any other token than the admin token
// is rejected, and every token is rejected while the admin token is
// unknown; otherwise callers act as admin.
func (s *Service) Identify(rs settings.Resolved, token string) (Identity, error) {
	if rs.VirtualUsers && token != "" {
		u, err := s.store.GetUserByToken(token)
		if err == nil {
			return Identity{Username: u.Username}, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return Identity{}, fmt.Errorf("looking up token: %w", err)
		}
	}
	if rs.PrivateMode && (rs.Token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(rs.Token)) != 1) {
		return Identity{}, apperr.Authf("invalid token")
	}
	return Identity{Username: storage.AdminUsername, Admin: true}, nil
}

// Profile loads the provider settings and stored history of id.
func (s *Service) Profile(rs settings.Resolved, id Identity) (Profile, error) {
	if id.Admin {
		history, err := s.store.GetChatHistory(storage.AdminUsername)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return Profile{}, fmt.Errorf("loading history: %w", err)
		}
		return Profile{
			Provider:       rs.Provider,
			Model:          rs.Model,
			SystemPrompt:   rs.SystemPrompt,
			MessageHistory: rs.MessageHistory,
			History:        history,
		}, nil
	}
	u, err := s.store.GetUserByUsername(id.Username)
	if errors.Is(err, storage.ErrNotFound) {
		return Profile{}, apperr.Authf("invalid token")
	}
	if err != nil {
		return Profile{}, fmt.Errorf("loading user: %w", err)
	}
	return Profile{
		Provider:       u.Provider,
		Model:          u.Model,
		SystemPrompt:   u.SystemPrompt,
		MessageHistory: u.MessageHistory,
		History:        u.ChatHistory,
	}, nil
}

// Ask answers question for the caller identified by token.
func (s *Service) Ask(ctx context.Context, question, token string) (Answer, error) {
	return s.AskWith(ctx, question, token, Override{})
}

// AskWith is Ask with per-request overrides.
func (s *Service) AskWith(ctx context.Context, question, token string, o Override) (Answer, error) {
	question = settings.SanitizeText(question, settings.MaxQuestionLength)
	if question == "" && len(o.Messages) == 0 {
		return Answer{}, apperr.Validationf("no question provided")
	}

	rs := s.resolver.Resolve()
	id, err := s.Identify(rs, token)
	if err != nil {
		return Answer{}, err
	}
	p, err := s.Profile(rs, id)
	if err != nil {
		return Answer{}, err
	}
	if o.Provider != "" {
		p.Provider = o.Provider
	}
	if o.Model != "" {
		p.Model = o.Model
	}
	if err := settings.ValidateProvider(p.Provider, s.providers); err != nil {
		return Answer{}, err
	}
	if err := settings.ValidateModel(p.Model); err != nil {
		return Answer{}, err
	}

	var history []provider.Message
	if p.MessageHistory && len(o.Messages) == 0 {
		history, err = DecodeHistory(p.History)
		if err != nil {
			s.logger.Warn("discarding unreadable chat history",
				zap.String("username", id.Username), zap.Error(err))
			history = nil
		}
	}

	msgs := o.Messages
	if len(msgs) == 0 {
		msgs = BuildMessages(p.SystemPrompt, history, question)
	}

	req := provider.Request{Provider: p.Provider, Model: p.Model, Messages: msgs}
	if req.Cookies, err = settings.LoadCookies(rs.CookieFile); err != nil {
		s.logger.Warn("ignoring cookie file", zap.String("path", rs.CookieFile), zap.Error(err))
	}
	if rs.Proxies {
		req.Proxy = s.pickProxy()
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return Answer{}, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	reply, err := s.completer.Complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Answer{}, ctx.Err()
		}
		return Answer{}, apperr.ProviderFailure(err, "provider %s failed", p.Provider)
	}
	text := reply.Text
	if rs.RemoveSources {
		text = RemoveSources(text)
	}
	if text == "" {
		return Answer{}, apperr.ProviderFailure(provider.ErrEmptyReply, "provider %s failed", reply.Provider)
	}

	if p.MessageHistory && len(o.Messages) == 0 {
		history = append(history,
			provider.Message{Role: provider.RoleUser, Content: question},
			provider.Message{Role: provider.RoleAssistant, Content: text},
		)
		s.saveHistory(id, history)
	}

	s.logger.Debug("question answered",
		zap.String("username", id.Username),
		zap.String("provider", reply.Provider),
		zap.String("model", p.Model),
	)
	return Answer{Text: text, Provider: reply.Provider, Model: p.Model}, nil
}

func (s *Service) pickProxy() *proxy.Entry {
	entries, err := proxy.Load(s.cfg.Storage.ProxiesPath())
	if err != nil {
		s.logger.Warn("proxy list unreadable, connecting directly", zap.Error(err))
		return nil
	}
	e, ok := proxy.Pick(entries)
	if !ok {
		return nil
	}
	s.logger.Debug("using proxy", zap.String("proxy", e.Redacted()))
	return &e
}

func (s *Service) saveHistory(id Identity, history []provider.Message) {
	raw, err := EncodeHistory(history)
	if err == nil {
		err = s.store.SaveChatHistory(id.Username, raw)
	}
	if err != nil {
		s.logger.Error("failed to save chat history", zap.String("username", id.Username), zap.Error(err))
	}
}
