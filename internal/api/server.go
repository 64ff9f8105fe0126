// Package api serves the chat endpoint, the admin GUI, the OpenAI-compatible
// Fast API and the MCP tools.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/freegpt4/webapi/internal/chat"
	"github.com/freegpt4/webapi/internal/config"
	"github.com/freegpt4/webapi/internal/metrics"
	"github.com/freegpt4/webapi/internal/provider"
	"github.com/freegpt4/webapi/internal/settings"
)

// Deps holds what the main server needs. Resolver is consulted on every
// request so saved settings take effect immediately.
type Deps struct {
	Resolver chat.Resolver
	Settings *settings.Service
	Chat     *chat.Service
	Registry *provider.Registry
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Config   config.Config
}

func (d Deps) maxBody() int64 {
	if d.Config.Server.MaxContentLength > 0 {
		return int64(d.Config.Server.MaxContentLength)
	}
	return 16 << 20
}

// NewHandler returns the main server's router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(Recoverer(deps.Logger))
	r.Use(metrics.Middleware(deps.Metrics, "main"))

	r.Get("/", handleAsk(deps))
	r.Post("/", handleAsk(deps))
	r.Get("/models", handleModels(deps))
	r.Get("/generatetoken", handleGenerateToken)
	r.Post("/generatetoken", handleGenerateToken)
	r.Get("/health", handleHealth)
	r.Handle("/metrics", deps.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requireGUI(deps))
		r.Get("/login", handleLogin(deps))
		r.Post("/login", handleLogin(deps))
		r.Get("/settings", handleSettingsRedirect)
		r.Post("/settings", handleSettings(deps))
		r.Post("/save", handleSave(deps))
		r.Post("/save/{username}", handleSaveUser(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, "not_found", "not found")
	})
	return r
}

func requireGUI(deps Deps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !deps.Resolver.Resolve().EnableGUI {
				httpError(w, http.StatusNotFound, "not_found", "the GUI is disabled, start with --enable-gui")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
