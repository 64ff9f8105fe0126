package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/freegpt4/webapi/internal/apperr"
	"github.com/freegpt4/webapi/internal/chat"
	"github.com/freegpt4/webapi/internal/metrics"
	"github.com/freegpt4/webapi/internal/provider"
)

const maxRequestBodySize = 1 << 20 // 1MB

// FastAPIDeps holds what the OpenAI-compatible server needs.
type FastAPIDeps struct {
	Resolver chat.Resolver
	Chat     *chat.Service
	Registry *provider.Registry
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

type chatRequest struct {
	Model    string             `json:"model"`
	Provider string             `json:"provider,omitempty"`
	Messages []provider.Message `json:"messages"`
	Stream   bool               `json:"stream"`
}

type chatChoice struct {
	Index        int               `json:"index"`
	Message      *provider.Message `json:"message,omitempty"`
	Delta        *provider.Message `json:"delta,omitempty"`
	FinishReason *string           `json:"finish_reason"`
}

type chatCompletion struct {
	ID       string       `json:"id"`
	Object   string       `json:"object"`
	Created  int64        `json:"created"`
	Model    string       `json:"model"`
	Provider string       `json:"provider,omitempty"`
	Choices  []chatChoice `json:"choices"`
}

// NewOpenAIHandler returns the Fast API router. In private mode every /v1
// route requires the access token as a bearer token.
func NewOpenAIHandler(deps FastAPIDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(Recoverer(deps.Logger))
	r.Use(metrics.Middleware(deps.Metrics, "fast_api"))

	r.Get("/health", handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(func(token string) error {
			_, err := deps.Chat.Identify(deps.Resolver.Resolve(), token)
			return err
		}, deps.Logger))
		r.Get("/v1/models", handleOpenAIModels(deps))
		r.Post("/v1/chat/completions", handleChatCompletions(deps))
	})
	return r
}

func handleOpenAIModels(deps FastAPIDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seen := make(map[string]bool)
		var models []provider.Model
		for _, name := range deps.Registry.Names() {
			for _, id := range deps.Registry.Models(name) {
				if seen[id] {
					continue
				}
				seen[id] = true
				models = append(models, provider.Model{ID: id, Object: "model", OwnedBy: name})
			}
		}
		writeJSON(w, provider.ModelList{Object: "list", Data: models})
	}
}

func handleChatCompletions(deps FastAPIDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if !hasMessages(req.Messages) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages is required and must not be empty")
			return
		}

		ans, err := deps.Chat.AskWith(r.Context(), "", bearerToken(r), chat.Override{
			Provider: req.Provider,
			Model:    req.Model,
			Messages: req.Messages,
		})
		if err != nil {
			if apperr.Is(err, apperr.Provider) {
				deps.Logger.Warn("fast api upstream failed", zap.Error(err))
				httpError(w, http.StatusBadGateway, "api_error", "upstream error")
				return
			}
			writeError(w, deps.Logger, err)
			return
		}

		resp := chatCompletion{
			ID:       "chatcmpl-" + uuid.NewString(),
			Created:  time.Now().Unix(),
			Model:    ans.Model,
			Provider: ans.Provider,
		}
		msg := provider.Message{Role: provider.RoleAssistant, Content: ans.Text}
		stop := "stop"
		if req.Stream {
			streamResponse(w, resp, msg)
			return
		}
		resp.Object = "chat.completion"
		resp.Choices = []chatChoice{{Message: &msg, FinishReason: &stop}}
		writeJSON(w, resp)
	}
}

// streamResponse writes the whole reply as one SSE chunk followed by the
// finish chunk and the [DONE] marker.
func streamResponse(w http.ResponseWriter, resp chatCompletion, msg provider.Message) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	resp.Object = "chat.completion.chunk"
	stop := "stop"
	chunks := [][]chatChoice{
		{{Delta: &msg}},
		{{Delta: &provider.Message{}, FinishReason: &stop}},
	}
	for _, choices := range chunks {
		resp.Choices = choices
		payload, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func hasMessages(msgs []provider.Message) bool {
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) != "" {
			return true
		}
	}
	return false
}

