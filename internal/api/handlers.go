package api

import (
	"net/http"

	"github.com/freegpt4/webapi/internal/provider"
	"github.com/freegpt4/webapi/internal/settings"
)

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.maxBody())
		defer r.Body.Close()

		rs := deps.Resolver.Resolve()
		question, err := extractQuestion(r, rs.Keyword, rs.FileInput, deps.maxBody())
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}

		ans, err := deps.Chat.Ask(r.Context(), question, r.URL.Query().Get("token"))
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(ans.Text))
	}
}

func handleModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("provider")
		if name == "" {
			name = provider.Auto
		}
		writeJSON(w, deps.Registry.Models(name))
	}
}

func handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(settings.NewToken()))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
