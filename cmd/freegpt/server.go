package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/freegpt4/webapi/internal/api"
	"github.com/freegpt4/webapi/internal/chat"
	"github.com/freegpt4/webapi/internal/config"
	"github.com/freegpt4/webapi/internal/logging"
	"github.com/freegpt4/webapi/internal/metrics"
	"github.com/freegpt4/webapi/internal/provider"
	"github.com/freegpt4/webapi/internal/settings"
	"github.com/freegpt4/webapi/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// app holds the wired components shared by the server and the mcp command.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	level  zap.AtomicLevel

	store    *storage.Store
	registry *provider.Registry
	monitor  *provider.Monitor
	client   *provider.Client
	metrics  *metrics.Metrics
	merger   *settings.Merger
	settings *settings.Service
	chat     *chat.Service
	fast     *api.FastAPI
	handler  http.Handler
}

func newApp(cfg config.Config, flags settings.Flags, logger *zap.Logger, level zap.AtomicLevel) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, level: level}

	a.store, err = storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.registry, err = provider.LoadRegistry(cfg.Storage.ProvidersFile)
	if err != nil {
		return nil, fmt.Errorf("loading providers: %w", err)
	}

	a.metrics = metrics.New()
	a.monitor = provider.NewMonitor(func(name string, s provider.Status) {
		a.metrics.SetProviderHealth(name, s.Code())
		logger.Info("provider health changed", zap.String("provider", name), zap.String("status", string(s)))
	})
	a.client = provider.NewClient(a.registry, a.monitor, provider.Options{
		Timeout:    cfg.Upstream.TimeoutDuration(),
		MaxRetries: cfg.Upstream.MaxRetries,
		RetryWait:  cfg.Upstream.RetryWaitDuration(),
		Logger:     logger,
		Metrics:    a.metrics,
	})

	a.merger = settings.NewMerger(a.store, cfg, flags, logger)
	rs, err := a.merger.Init()
	if err != nil {
		return nil, err
	}
	a.applyLogLevel(rs.LogLevel)

	a.settings = settings.NewService(a.store, a.registry, cfg, logger, a.metrics)
	a.settings.OnSaved(a.applySaved)
	a.chat = chat.NewService(a.store, a.merger, a.client, a.registry, cfg, logger)

	a.handler = api.NewHandler(api.Deps{
		Resolver: a.merger,
		Settings: a.settings,
		Chat:     a.chat,
		Registry: a.registry,
		Metrics:  a.metrics,
		Logger:   logger,
		Config:   cfg,
	})
	fastHandler := api.NewOpenAIHandler(api.FastAPIDeps{
		Resolver: a.merger,
		Chat:     a.chat,
		Registry: a.registry,
		Metrics:  a.metrics,
		Logger:   logger,
	})
	fastAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.FastAPIPort))
	a.fast = api.NewFastAPI(fastAddr, fastHandler, logger, a.metrics)
	return a, nil
}

func (a *app) close() {
	if a.client != nil {
		a.client.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}
}

func (a *app) applyLogLevel(level string) {
	if err := logging.SetLevel(a.level, level); err != nil {
		a.logger.Warn("ignoring log level", zap.String("level", level), zap.Error(err))
	}
}

// applySaved runs after an admin save. Settings are re-resolved so flags
// keep their precedence over the saved row.
func (a *app) applySaved(storage.Settings) {
	rs := a.merger.Resolve()
	a.applyLogLevel(rs.LogLevel)
	if rs.FastAPI {
		a.startFastAPI()
	}
}

func (a *app) startFastAPI() {
	started, err := a.fast.Start()
	switch {
	case err != nil:
		a.logger.Error("failed to start fast api", zap.String("addr", a.fast.Addr()), zap.Error(err))
	case started:
		printSuccess("Fast API listening on %s", a.fast.Addr())
	}
}

// serve runs the main server on ln until ctx is cancelled or serving fails,
// then shuts down both servers.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		printSuccess("freegpt listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		printStep("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), a.fast.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

func runServer(ctx context.Context, cfg config.Config, flags settings.Flags, password string) error {
	fmt.Fprintf(errOut, "freegpt version %s\n", version)

	logCfg := logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development}
	if flags.LogLevel != nil {
		logCfg.Level = *flags.LogLevel
	}
	logger, level, err := logging.NewAdjustable(logCfg)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	a, err := newApp(cfg, flags, logger, level)
	if err != nil {
		return err
	}
	defer a.close()

	rs := a.merger.Resolve()
	if rs.EnableGUI {
		if err := setupPassword(a.settings, password, terminalPrompt); err != nil {
			return err
		}
	} else {
		logger.Info("gui disabled, no password setup required")
	}

	logger.Info("server configuration",
		zap.Int("port", rs.Port),
		zap.String("provider", rs.Provider),
		zap.String("model", rs.Model),
		zap.Bool("private_mode", rs.PrivateMode),
		zap.Bool("gui", rs.EnableGUI),
		zap.Bool("history", rs.MessageHistory),
		zap.Bool("proxies", rs.Proxies),
		zap.Bool("virtual_users", rs.VirtualUsers),
	)
	if rs.PrivateMode {
		printStatus("Access token", "%s", rs.Token)
	}
	if rs.FastAPI {
		a.startFastAPI()
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(rs.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return a.serve(ctx, ln)
}

// passwordPrompt reads a secret after showing label.
type passwordPrompt func(label string) (string, error)

var errNoTerminal = errors.New("no terminal to prompt for the settings password, pass --password")

func terminalPrompt(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	fmt.Fprint(errOut, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(errOut)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}

// setupPassword stores the admin password. A --password value always
// replaces the stored one; otherwise the user is prompted only when no
// password has been configured yet.
func setupPassword(svc *settings.Service, flagPassword string, prompt passwordPrompt) error {
	if flagPassword != "" {
		if err := svc.SetAdminPassword(flagPassword, flagPassword); err != nil {
			return fmt.Errorf("setting admin password: %w", err)
		}
		printSuccess("Admin password updated")
		return nil
	}

	set, err := svc.HasAdminPassword()
	if err != nil {
		return fmt.Errorf("checking admin password: %w", err)
	}
	if set {
		return nil
	}

	printStep("No admin password configured, choose one for the settings page")
	password, err := prompt("Settings page password: ")
	if err != nil {
		return err
	}
	confirm, err := prompt("Confirm password: ")
	if err != nil {
		return err
	}
	if err := svc.SetAdminPassword(password, confirm); err != nil {
		return fmt.Errorf("setting admin password: %w", err)
	}
	printSuccess("Admin password configured")
	return nil
}
