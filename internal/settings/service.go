package settings

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/freegpt4/webapi/internal/apperr"
	"github.com/freegpt4/webapi/internal/config"
	"github.com/freegpt4/webapi/internal/logging"
	"github.com/freegpt4/webapi/internal/metrics"
	"github.com/freegpt4/webapi/internal/proxy"
	"github.com/freegpt4/webapi/internal/storage"
)

// Service implements authentication and the validated save operations.
type Service struct {
	store     *storage.Store
	providers Providers
	cfg       config.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	onSaved   func(storage.Settings)
}

// NewService creates a settings service. logger and m may be nil.
func NewService(store *storage.Store, providers Providers, cfg config.Config, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, providers: providers, cfg: cfg, logger: logger, metrics: m}
}

// OnSaved registers fn to run after every successful admin save with the
// new settings row.
func (s *Service) OnSaved(fn func(storage.Settings)) {
	s.onSaved = fn
}

// AuthenticateAdmin checks the admin credentials.
func (s *Service) AuthenticateAdmin(username, password string) error {
	if username != storage.AdminUsername || password == "" {
		return apperr.Authf("invalid admin credentials")
	}
	ok, err := s.store.VerifyAdminPassword(password)
	if err != nil {
		return fmt.Errorf("verifying admin password: %w", err)
	}
	if !ok {
		return apperr.Authf("invalid admin credentials")
	}
	return nil
}

// AuthenticateUser checks a virtual user's credentials.
func (s *Service) AuthenticateUser(username, password string) (storage.User, error) {
	if username == "" || password == "" {
		return storage.User{}, apperr.Authf("invalid credentials")
	}
	u, err := s.store.GetUserByUsername(username)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.User{}, apperr.Authf("invalid credentials")
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("loading user: %w", err)
	}
	if !storage.CheckPassword(u.PasswordHash, password) {
		return storage.User{}, apperr.Authf("invalid credentials")
	}
	return u, nil
}

// HasAdminPassword reports whether an admin password has been set.
func (s *Service) HasAdminPassword() (bool, error) {
	st, err := s.store.GetSettings()
	if err != nil {
		return false, err
	}
	return st.PasswordHash != "", nil
}

// SetAdminPassword validates and stores a new admin password, then checks
// that it verifies.
func (s *Service) SetAdminPassword(password, confirm string) error {
	if err := ValidatePassword(password, confirm, s.cfg.Security.PasswordMinLength); err != nil {
		return err
	}
	if err := s.store.UpdateSettings(storage.SettingsUpdate{Password: &password}); err != nil {
		return fmt.Errorf("storing admin password: %w", err)
	}
	ok, err := s.store.VerifyAdminPassword(password)
	if err != nil {
		return fmt.Errorf("verifying admin password: %w", err)
	}
	if !ok {
		return errors.New("admin password verification failed after saving")
	}
	return nil
}

// View is the data shown on the admin settings page.
type View struct {
	Settings  storage.Settings
	Users     []storage.User
	Proxies   []proxy.Entry
	Providers []string
}

// AdminView loads everything the admin settings page displays.
func (s *Service) AdminView() (View, error) {
	st, err := s.store.GetSettings()
	if err != nil {
		return View{}, fmt.Errorf("reading settings: %w", err)
	}
	users, err := s.store.ListUsers()
	if err != nil {
		return View{}, fmt.Errorf("listing users: %w", err)
	}
	entries, err := proxy.Load(s.cfg.Storage.ProxiesPath())
	if err != nil {
		s.logger.Warn("could not load proxy list", zap.Error(err))
		entries = nil
	}
	return View{Settings: st, Users: users, Proxies: entries, Providers: s.providers.Names()}, nil
}

// adminPlan is a fully validated admin save, ready to apply.
type adminPlan struct {
	update         storage.SettingsUpdate
	replaceProxies bool
	proxies        []proxy.Entry
	upload         *Upload
	syncUsers      bool
	users          map[string]string
}

// SaveAdmin validates the whole form, then applies it in one transaction.
// Files are written only after every check has passed, so a rejected form
// leaves the settings row, the proxy list and the upload directory as they
// were.
func (s *Service) SaveAdmin(f SaveForm) (err error) {
	defer func() { s.metrics.RecordSettingsSave(err) }()

	plan, err := s.planAdmin(f)
	if err != nil {
		return err
	}

	err = s.store.WithTx(func(tx *storage.Tx) error {
		var ops userOps
		if plan.syncUsers {
			current, err := tx.ListUsers()
			if err != nil {
				return fmt.Errorf("listing users: %w", err)
			}
			template := storage.User{Provider: s.cfg.API.DefaultProvider, Model: s.cfg.API.DefaultModel}
			if ops, err = planUsers(current, plan.users, template); err != nil {
				return err
			}
		}

		if err := tx.UpdateSettings(plan.update); err != nil {
			return fmt.Errorf("updating settings: %w", err)
		}
		if err := ops.apply(tx); err != nil {
			return err
		}
		if plan.upload != nil {
			path, err := StoreUpload(s.cfg.Storage.UploadDir(), *plan.upload)
			if err != nil {
				return err
			}
			if err := tx.UpdateSettings(storage.SettingsUpdate{CookieFile: &path}); err != nil {
				return fmt.Errorf("updating cookie file: %w", err)
			}
		}
		if plan.replaceProxies {
			if err := proxy.Save(s.cfg.Storage.ProxiesPath(), plan.proxies); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("settings saved")
	if s.onSaved != nil {
		if st, err := s.store.GetSettings(); err == nil {
			s.onSaved(st)
		}
	}
	return nil
}

func (s *Service) planAdmin(f SaveForm) (adminPlan, error) {
	var p adminPlan
	u := &p.update

	if f.Keyword != nil {
		k, err := SanitizeField("keyword", *f.Keyword, MaxFieldLength)
		if err != nil {
			return p, err
		}
		if k == "" {
			return p, apperr.Validationf("keyword cannot be empty")
		}
		u.Keyword = &k
	}
	if f.Port != nil {
		port, err := ParsePort(*f.Port)
		if err != nil {
			return p, err
		}
		u.Port = &port
	}
	if f.Provider != nil {
		name, err := SanitizeField("provider", *f.Provider, MaxFieldLength)
		if err != nil {
			return p, err
		}
		if err := ValidateProvider(name, s.providers); err != nil {
			return p, err
		}
		u.Provider = &name
	}
	if f.Model != nil {
		model, err := SanitizeField("model", *f.Model, MaxFieldLength)
		if err != nil {
			return p, err
		}
		if err := ValidateModel(model); err != nil {
			return p, err
		}
		u.Model = &model
	}
	if f.SystemPrompt != nil {
		prompt := SanitizeText(*f.SystemPrompt, MaxFieldLength)
		u.SystemPrompt = &prompt
	}
	if f.LogLevel != nil {
		level := strings.ToLower(strings.TrimSpace(*f.LogLevel))
		if !logging.ValidLevel(level) {
			return p, apperr.Validationf("invalid log level %q", *f.LogLevel)
		}
		u.LogLevel = &level
	}

	u.FileInput = f.FileInput
	u.RemoveSources = f.RemoveSources
	u.MessageHistory = f.MessageHistory
	u.Proxies = f.Proxies
	u.FastAPI = f.FastAPI
	u.VirtualUsers = f.VirtualUsers

	if f.PrivateMode != nil {
		token := ""
		if *f.PrivateMode {
			token = f.Token
			if token == "" {
				token = NewToken()
			} else if !ValidToken(token) {
				return p, apperr.Validationf("token must be a UUID4")
			}
		}
		u.Token = &token
	}

	if f.NewPassword != "" || f.ConfirmPassword != "" {
		if err := ValidatePassword(f.NewPassword, f.ConfirmPassword, s.cfg.Security.PasswordMinLength); err != nil {
			return p, err
		}
		pw := f.NewPassword
		u.Password = &pw
	}

	if f.CookieFile != nil && f.CookieFile.Filename != "" {
		if err := ValidateCookieUpload(*f.CookieFile, config.AllowedCookieExtensions); err != nil {
			return p, err
		}
		p.upload = f.CookieFile
	}

	if f.Proxies != nil && *f.Proxies {
		entries, err := proxy.ParseAll(f.ProxyURLs)
		if err != nil {
			return p, err
		}
		p.replaceProxies = true
		p.proxies = entries
	}

	if f.VirtualUsers != nil && *f.VirtualUsers {
		p.syncUsers = true
		p.users = make(map[string]string, len(f.Users))
		for token, name := range f.Users {
			clean, err := SanitizeField("username", name, MaxUsernameLength)
			if err != nil {
				return p, err
			}
			p.users[token] = clean
		}
		if err := validateUserNames(p.users); err != nil {
			return p, err
		}
	}
	return p, nil
}

// SaveUser validates and stores a virtual user's own settings.
func (s *Service) SaveUser(username string, f UserSaveForm) (err error) {
	defer func() { s.metrics.RecordSettingsSave(err) }()

	var u storage.UserUpdate
	if f.Provider != nil {
		name, err := SanitizeField("provider", *f.Provider, MaxFieldLength)
		if err != nil {
			return err
		}
		if err := ValidateProvider(name, s.providers); err != nil {
			return err
		}
		u.Provider = &name
	}
	if f.Model != nil {
		model, err := SanitizeField("model", *f.Model, MaxFieldLength)
		if err != nil {
			return err
		}
		if err := ValidateModel(model); err != nil {
			return err
		}
		u.Model = &model
	}
	if f.SystemPrompt != nil {
		prompt := SanitizeText(*f.SystemPrompt, MaxFieldLength)
		u.SystemPrompt = &prompt
	}
	u.MessageHistory = f.MessageHistory
	if f.NewPassword != "" || f.ConfirmPassword != "" {
		if err := ValidatePassword(f.NewPassword, f.ConfirmPassword, s.cfg.Security.PasswordMinLength); err != nil {
			return err
		}
		pw := f.NewPassword
		u.Password = &pw
	}

	err = s.store.UpdateUser(username, u)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFoundf("user %q not found", username)
	}
	if err != nil {
		return fmt.Errorf("saving user settings: %w", err)
	}
	s.logger.Info("user settings saved", zap.String("username", username))
	return nil
}
