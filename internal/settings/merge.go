// Package settings resolves the effective configuration from command-line
// flags, the persisted settings row and compiled defaults, and implements
// the validated save operations behind the admin and user settings pages.
package settings

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/freegpt4/webapi/internal/config"
	"github.com/freegpt4/webapi/internal/storage"
)

// Flags holds the command-line values. Pointer fields are nil unless the
// flag was given on the command line. Booleans can only switch a feature on.
type Flags struct {
	Port         *int
	Model        *string
	Provider     *string
	Keyword      *string
	SystemPrompt *string
	CookieFile   *string
	LogLevel     *string

	RemoveSources      bool
	EnableGUI          bool
	PrivateMode        bool
	EnableProxies      bool
	EnableHistory      bool
	FileInput          bool
	EnableFastAPI      bool
	EnableVirtualUsers bool
}

// Origin records where a resolved value came from.
type Origin string

const (
	FromFlag    Origin = "flag"
	FromStore   Origin = "stored"
	FromDefault Origin = "default"
)

// Resolved is the effective configuration used by the server and the
// request facade.
type Resolved struct {
	Keyword        string
	FileInput      bool
	Port           int
	Provider       string
	Model          string
	CookieFile     string
	Token          string
	PrivateMode    bool
	RemoveSources  bool
	SystemPrompt   string
	MessageHistory bool
	Proxies        bool
	FastAPI        bool
	VirtualUsers   bool
	LogLevel       string
	EnableGUI      bool
	PasswordSet    bool

	Origins map[string]Origin
}

// Defaults returns the settings row used when nothing has been persisted.
func Defaults(cfg config.Config) storage.Settings {
	return storage.Settings{
		Keyword:       cfg.API.DefaultKeyword,
		FileInput:     true,
		Port:          cfg.Server.Port,
		Provider:      cfg.API.DefaultProvider,
		Model:         cfg.API.DefaultModel,
		CookieFile:    cfg.Storage.CookiesPath(),
		RemoveSources: true,
		LogLevel:      cfg.Log.Level,
	}
}

// Merge applies the precedence rules: an explicit flag wins, then the
// stored value, then the default. stored is nil when the store could not
// be read, in which case only flags and defaults apply.
func Merge(flags Flags, stored *storage.Settings, def storage.Settings) Resolved {
	r := Resolved{Origins: make(map[string]Origin)}
	base := def
	baseOrigin := FromDefault
	if stored != nil {
		base = *stored
		baseOrigin = FromStore
	}

	pickString := func(key string, flag *string, storedVal, defVal string) string {
		switch {
		case flag != nil && *flag != "":
			r.Origins[key] = FromFlag
			return *flag
		case stored != nil && storedVal != "":
			r.Origins[key] = FromStore
			return storedVal
		}
		r.Origins[key] = FromDefault
		return defVal
	}
	pickBool := func(key string, flag bool, storedVal bool) bool {
		if flag {
			r.Origins[key] = FromFlag
			return true
		}
		r.Origins[key] = baseOrigin
		return storedVal
	}

	r.Keyword = pickString("keyword", flags.Keyword, base.Keyword, def.Keyword)
	r.Provider = pickString("provider", flags.Provider, base.Provider, def.Provider)
	r.Model = pickString("model", flags.Model, base.Model, def.Model)
	r.CookieFile = pickString("cookie_file", flags.CookieFile, base.CookieFile, def.CookieFile)
	r.LogLevel = pickString("log_level", flags.LogLevel, base.LogLevel, def.LogLevel)

	// An empty system prompt is a valid stored value.
	switch {
	case flags.SystemPrompt != nil && *flags.SystemPrompt != "":
		r.SystemPrompt = *flags.SystemPrompt
		r.Origins["system_prompt"] = FromFlag
	default:
		r.SystemPrompt = base.SystemPrompt
		r.Origins["system_prompt"] = baseOrigin
	}

	switch {
	case flags.Port != nil && *flags.Port != 0:
		r.Port = *flags.Port
		r.Origins["port"] = FromFlag
	case stored != nil && stored.Port != 0:
		r.Port = stored.Port
		r.Origins["port"] = FromStore
	default:
		r.Port = def.Port
		r.Origins["port"] = FromDefault
	}

	r.FileInput = pickBool("file_input", flags.FileInput, base.FileInput)
	r.RemoveSources = pickBool("remove_sources", flags.RemoveSources, base.RemoveSources)
	r.MessageHistory = pickBool("message_history", flags.EnableHistory, base.MessageHistory)
	r.Proxies = pickBool("proxies", flags.EnableProxies, base.Proxies)
	r.FastAPI = pickBool("fast_api", flags.EnableFastAPI, base.FastAPI)
	r.VirtualUsers = pickBool("virtual_users", flags.EnableVirtualUsers, base.VirtualUsers)

	r.Token = base.Token
	// The flag keeps private mode on even when no token could be read, so
	// requests are refused rather than served without one.
	r.PrivateMode = r.Token != "" || flags.PrivateMode
	r.Origins["token"] = baseOrigin
	r.EnableGUI = flags.EnableGUI
	r.PasswordSet = base.PasswordHash != ""
	return r
}

// Merger resolves settings against the store. Resolve is cheap enough to
// call per request so that saved settings apply without a restart.
type Merger struct {
	store  *storage.Store
	cfg    config.Config
	flags  Flags
	logger *zap.Logger
}

// NewMerger creates a merger. logger may be nil.
func NewMerger(store *storage.Store, cfg config.Config, flags Flags, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{store: store, cfg: cfg, flags: flags, logger: logger}
}

// Flags returns the command-line values the merger was built with.
func (m *Merger) Flags() Flags { return m.flags }

// Config returns the loaded configuration.
func (m *Merger) Config() config.Config { return m.cfg }

// Init seeds the settings row and applies the start-up side effects: when
// private mode is requested and no token is stored, a new token is
// generated and persisted.
func (m *Merger) Init() (Resolved, error) {
	if err := m.store.EnsureSettings(Defaults(m.cfg)); err != nil {
		return Resolved{}, fmt.Errorf("initialising settings: %w", err)
	}
	st, err := m.store.GetSettings()
	if err != nil {
		return Resolved{}, fmt.Errorf("reading settings: %w", err)
	}
	if m.flags.PrivateMode && st.Token == "" {
		token := NewToken()
		if err := m.store.UpdateSettings(storage.SettingsUpdate{Token: &token}); err != nil {
			return Resolved{}, fmt.Errorf("storing private mode token: %w", err)
		}
		m.logger.Info("private mode enabled, generated access token")
	}
	return m.Resolve(), nil
}

// Resolve merges the flags with the current stored settings. A store read
// failure is logged and flags plus defaults are used.
func (m *Merger) Resolve() Resolved {
	st, err := m.store.GetSettings()
	if err != nil {
		m.logger.Error("failed to read stored settings, using flags and defaults", zap.Error(err))
		return Merge(m.flags, nil, Defaults(m.cfg))
	}
	return Merge(m.flags, &st, Defaults(m.cfg))
}
