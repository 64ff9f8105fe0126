package api

import (
	"embed"
	"errors"
	"html/template"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/freegpt4/webapi/internal/apperr"
	"github.com/freegpt4/webapi/internal/config"
	"github.com/freegpt4/webapi/internal/proxy"
	"github.com/freegpt4/webapi/internal/settings"
	"github.com/freegpt4/webapi/internal/storage"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).ParseFS(templateFS, "templates/*.html"))

var logLevels = []string{"debug", "info", "warn", "error"}

type loginPage struct {
	VirtualUsers bool
	Error        string
}

type settingsPage struct {
	Username      string
	Password      string
	Admin         bool
	VirtualUsers  bool
	Providers     []string
	GenericModels []string
	Models        []string
	LogLevels     []string
	NewUserToken  string

	Settings storage.Settings
	Users    []storage.User
	Proxies  []proxy.Entry
	User     storage.User
}

func render(w http.ResponseWriter, logger *zap.Logger, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		logger.Error("rendering template", zap.String("template", name), zap.Error(err))
	}
}

func renderLogin(w http.ResponseWriter, deps Deps, status int, msg string) {
	render(w, deps.Logger, status, "login.html", loginPage{
		VirtualUsers: deps.Resolver.Resolve().VirtualUsers,
		Error:        msg,
	})
}

func handleLogin(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		renderLogin(w, deps, http.StatusOK, "")
	}
}

func handleSettingsRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/login", http.StatusFound)
}

// handleSettings authenticates the login form and renders the admin page
// or a virtual user's page.
func handleSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			renderLogin(w, deps, http.StatusBadRequest, "Invalid form")
			return
		}
		username := r.PostForm.Get("username")
		password := r.PostForm.Get("password")
		rs := deps.Resolver.Resolve()

		page := settingsPage{
			Username:      username,
			Password:      password,
			VirtualUsers:  rs.VirtualUsers,
			Providers:     deps.Registry.Names(),
			GenericModels: config.GenericModels,
			LogLevels:     logLevels,
		}

		if username == storage.AdminUsername {
			if err := deps.Settings.AuthenticateAdmin(username, password); err != nil {
				loginFailed(w, deps, err, "Invalid admin credentials")
				return
			}
			view, err := deps.Settings.AdminView()
			if err != nil {
				deps.Logger.Error("loading settings page", zap.Error(err))
				renderLogin(w, deps, http.StatusInternalServerError, "An error occurred")
				return
			}
			page.Admin = true
			page.Settings = view.Settings
			page.Users = view.Users
			page.Proxies = view.Proxies
			page.Models = deps.Registry.Models(view.Settings.Provider)
			page.NewUserToken = settings.NewToken()
			render(w, deps.Logger, http.StatusOK, "settings.html", page)
			return
		}

		if !rs.VirtualUsers {
			renderLogin(w, deps, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		u, err := deps.Settings.AuthenticateUser(username, password)
		if err != nil {
			loginFailed(w, deps, err, "Invalid credentials")
			return
		}
		page.User = u
		page.Models = deps.Registry.Models(u.Provider)
		render(w, deps.Logger, http.StatusOK, "user_settings.html", page)
	}
}

func loginFailed(w http.ResponseWriter, deps Deps, err error, msg string) {
	if apperr.Is(err, apperr.Auth) {
		renderLogin(w, deps, http.StatusUnauthorized, msg)
		return
	}
	deps.Logger.Error("authentication failed", zap.Error(err))
	renderLogin(w, deps, http.StatusInternalServerError, "An error occurred")
}

// parseForm handles both urlencoded and multipart bodies.
func parseForm(r *http.Request, maxBytes int64) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return r.ParseMultipartForm(maxBytes)
	}
	return r.ParseForm()
}

func handleSave(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.maxBody())
		if err := parseForm(r, deps.maxBody()); err != nil {
			httpError(w, http.StatusBadRequest, apperr.Validation.String(), "invalid form body")
			return
		}

		form := settings.ParseSaveForm(r.PostForm)
		if err := deps.Settings.AuthenticateAdmin(form.Username, form.Password); err != nil {
			loginFailed(w, deps, err, "Invalid admin credentials")
			return
		}

		upload, err := readUpload(r, "cookie_file", deps.maxBody())
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		form.CookieFile = upload

		if err := deps.Settings.SaveAdmin(form); err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("Settings saved and applied successfully!"))
	}
}

func handleSaveUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.maxBody())
		if err := parseForm(r, deps.maxBody()); err != nil {
			httpError(w, http.StatusBadRequest, apperr.Validation.String(), "invalid form body")
			return
		}

		username := chi.URLParam(r, "username")
		form := settings.ParseUserSaveForm(r.PostForm)
		if _, err := deps.Settings.AuthenticateUser(username, form.Password); err != nil {
			loginFailed(w, deps, err, "Invalid credentials")
			return
		}
		if err := deps.Settings.SaveUser(username, form); err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("Settings saved successfully!"))
	}
}

// readUpload returns the named multipart file, or nil when none was sent.
func readUpload(r *http.Request, field string, maxBytes int64) (*settings.Upload, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Uploadf("could not read uploaded file")
	}
	defer f.Close()
	if hdr.Filename == "" {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(f, maxBytes))
	if err != nil {
		return nil, apperr.Uploadf("could not read uploaded file")
	}
	return &settings.Upload{Filename: hdr.Filename, Data: data}, nil
}
