// Package provider calls OpenAI-compatible chat backends through a
// retrying, proxy-aware HTTP client and tracks their health.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/freegpt4/webapi/internal/metrics"
	"github.com/freegpt4/webapi/internal/proxy"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultRetries   = 3
	defaultRetryWait = 2 * time.Second
)

// ErrEmptyReply is returned when a provider answers with no text.
var ErrEmptyReply = errors.New("provider returned an empty reply")

// ErrUnknownProvider is returned for names that are neither Auto nor registered.
var ErrUnknownProvider = errors.New("unknown provider")

// Options configures a Client. Zero durations fall back to defaults and a
// negative MaxRetries selects the default retry count.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	RetryWait  time.Duration
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	// Getenv resolves API key variables; defaults to os.Getenv.
	Getenv func(string) string
}

// Client sends chat completions to registered providers.
type Client struct {
	registry   *Registry
	monitor    *Monitor
	transports *proxy.Transports
	timeout    time.Duration
	maxRetries int
	retryWait  time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
	getenv     func(string) string
}

// NewClient creates a client over registry. monitor may be nil, in which case
// a private one is created.
func NewClient(registry *Registry, monitor *Monitor, opts Options) *Client {
	c := &Client{
		registry:   registry,
		monitor:    monitor,
		transports: proxy.NewTransports(),
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		retryWait:  opts.RetryWait,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		getenv:     opts.Getenv,
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.maxRetries < 0 {
		c.maxRetries = defaultRetries
	}
	if c.retryWait <= 0 {
		c.retryWait = defaultRetryWait
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.getenv == nil {
		c.getenv = os.Getenv
	}
	if c.monitor == nil {
		c.monitor = NewMonitor(nil)
	}
	return c
}

// Registry returns the provider registry.
func (c *Client) Registry() *Registry { return c.registry }

// Monitor returns the health monitor.
func (c *Client) Monitor() *Monitor { return c.monitor }

// Close releases idle upstream connections.
func (c *Client) Close() { c.transports.CloseIdle() }

// Complete sends req to its provider. For Auto, registered providers are
// tried in order, skipping unhealthy ones, until one answers.
func (c *Client) Complete(ctx context.Context, req Request) (Reply, error) {
	if req.Provider == Auto {
		return c.completeAuto(ctx, req)
	}
	p, ok := c.registry.Get(req.Provider)
	if !ok {
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownProvider, req.Provider)
	}
	text, err := c.completeWith(ctx, p, req)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Provider: p.Name, Model: req.Model, Text: text}, nil
}

func (c *Client) completeAuto(ctx context.Context, req Request) (Reply, error) {
	all := c.registry.Providers()
	candidates := c.monitor.Candidates(all)
	if len(candidates) == 0 {
		// Every provider is unhealthy; try them all rather than fail outright.
		candidates = all
	}
	if len(candidates) == 0 {
		return Reply{}, fmt.Errorf("%w: no providers registered", ErrUnknownProvider)
	}

	var errs []error
	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			return Reply{}, err
		}
		text, err := c.completeWith(ctx, p, req)
		if err == nil {
			return Reply{Provider: p.Name, Model: req.Model, Text: text}, nil
		}
		c.logger.Debug("auto provider failed, trying next",
			zap.String("provider", p.Name),
			zap.Error(err),
		)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
	}
	return Reply{}, fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}

func (c *Client) completeWith(ctx context.Context, p Provider, req Request) (string, error) {
	httpClient, err := c.httpClient(req.Proxy)
	if err != nil {
		return "", err
	}

	opts := []option.RequestOption{
		option.WithBaseURL(p.BaseURL + "/"),
		option.WithAPIKey(p.APIKey(c.getenv)),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(c.timeout),
	}
	if cookie := cookieHeader(req.Cookies); cookie != "" {
		opts = append(opts, option.WithHeader("Cookie", cookie))
	}
	client := openai.NewClient(opts...)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: toParams(req.Messages),
	}

	start := time.Now()
	completion, err := client.Chat.Completions.New(ctx, params)
	var text string
	if err == nil {
		if len(completion.Choices) > 0 {
			text = completion.Choices[0].Message.Content
		}
		if strings.TrimSpace(text) == "" {
			err = ErrEmptyReply
		}
	}
	elapsed := time.Since(start)
	c.metrics.RecordProviderCall(p.Name, elapsed, err)

	if err != nil {
		c.monitor.RecordFailure(p.Name, errorType(err))
		c.logger.Warn("provider call failed",
			zap.String("provider", p.Name),
			zap.String("model", req.Model),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return "", err
	}
	c.monitor.RecordSuccess(p.Name)
	c.logger.Debug("provider call succeeded",
		zap.String("provider", p.Name),
		zap.String("model", req.Model),
		zap.Duration("elapsed", elapsed),
	)
	return text, nil
}

// httpClient builds a retrying client over the transport for entry.
// Authentication failures are never retried.
func (c *Client) httpClient(entry *proxy.Entry) (*http.Client, error) {
	tr, err := c.transports.For(entry)
	if err != nil {
		return nil, err
	}
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: tr}
	rc.RetryMax = c.maxRetries
	rc.RetryWaitMin = c.retryWait
	rc.RetryWaitMax = c.retryWait << c.maxRetries
	rc.Backoff = retryablehttp.DefaultBackoff
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	return rc.StandardClient(), nil
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func toParams(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func cookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		if v := (&http.Cookie{Name: name, Value: cookies[name]}).String(); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "; ")
}

// errorType classifies err for the health monitor.
func errorType(err error) string {
	var apiErr *openai.Error
	switch {
	case errors.Is(err, ErrEmptyReply):
		return "empty_reply"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &apiErr):
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return "auth"
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return "rate_limit"
		case apiErr.StatusCode >= 500:
			return "server"
		default:
			return "client"
		}
	}
	return "network"
}

// IsAuthError reports whether err is an upstream 401 or 403.
func IsAuthError(err error) bool {
	return errorType(err) == "auth"
}
