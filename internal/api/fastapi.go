package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/freegpt4/webapi/internal/metrics"
)

// FastAPI runs the OpenAI-compatible server in the background. Start is
// idempotent: the server is started at most once per process.
type FastAPI struct {
	addr    string
	handler http.Handler
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	srv     *http.Server
	ln      net.Listener
	running bool
}

// NewFastAPI prepares a server on addr. Nothing listens until Start.
func NewFastAPI(addr string, h http.Handler, logger *zap.Logger, m *metrics.Metrics) *FastAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FastAPI{addr: addr, handler: h, logger: logger, metrics: m}
}

// Start listens and serves in a new goroutine. It reports whether this
// call started the server.
func (f *FastAPI) Start() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.srv != nil {
		return false, nil
	}

	ln, err := net.Listen("tcp", f.addr)
	if err != nil {
		return false, err
	}
	srv := &http.Server{
		Handler:           f.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	f.srv, f.ln, f.running = srv, ln, true
	f.metrics.SetFastAPIRunning(true)
	f.logger.Info("fast api listening", zap.String("addr", ln.Addr().String()))

	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Error("fast api stopped", zap.Error(err))
		}
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
		f.metrics.SetFastAPIRunning(false)
	}()
	return true, nil
}

// Running reports whether the server is currently serving.
func (f *FastAPI) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Addr returns the bound address once started, else the configured one.
func (f *FastAPI) Addr() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ln != nil {
		return f.ln.Addr().String()
	}
	return f.addr
}

// Shutdown stops a started server. It is a no-op otherwise.
func (f *FastAPI) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	srv := f.srv
	f.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
