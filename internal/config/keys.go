package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "FREEGPT_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "FREEGPT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.fast_api_port", typ: kInt, env: "FREEGPT_SERVER_FAST_API_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.FastAPIPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.FastAPIPort },
	},
	{
		key: "server.max_content_length", typ: kInt, env: "FREEGPT_SERVER_MAX_CONTENT_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxContentLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxContentLength },
	},
	{
		key: "api.default_model", typ: kString, env: "FREEGPT_DEFAULT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.API.DefaultModel = v.(string) },
		extract: func(cfg Config) any { return cfg.API.DefaultModel },
	},
	{
		key: "api.default_provider", typ: kString, env: "FREEGPT_DEFAULT_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.API.DefaultProvider = v.(string) },
		extract: func(cfg Config) any { return cfg.API.DefaultProvider },
	},
	{
		key: "api.default_keyword", typ: kString, env: "FREEGPT_DEFAULT_KEYWORD",
		apply:   func(cfg *Config, v any) { cfg.API.DefaultKeyword = v.(string) },
		extract: func(cfg Config) any { return cfg.API.DefaultKeyword },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FREEGPT_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.providers_file", typ: kString, env: "FREEGPT_PROVIDERS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Storage.ProvidersFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.ProvidersFile },
	},
	{
		key: "security.password_min_length", typ: kInt, env: "FREEGPT_PASSWORD_MIN_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Security.PasswordMinLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Security.PasswordMinLength },
	},
	{
		key: "log.level", typ: kString, env: "FREEGPT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.development", typ: kBool, env: "FREEGPT_LOG_DEV",
		apply:   func(cfg *Config, v any) { cfg.Log.Development = v.(bool) },
		extract: func(cfg Config) any { return cfg.Log.Development },
	},
	{
		key: "upstream.timeout", typ: kString, env: "FREEGPT_UPSTREAM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Upstream.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.Timeout },
	},
	{
		key: "upstream.max_retries", typ: kInt, env: "FREEGPT_UPSTREAM_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Upstream.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Upstream.MaxRetries },
	},
	{
		key: "upstream.retry_wait", typ: kString, env: "FREEGPT_UPSTREAM_RETRY_WAIT",
		apply:   func(cfg *Config, v any) { cfg.Upstream.RetryWait = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.RetryWait },
	},
	{
		key: "upstream.rate_limit", typ: kFloat, env: "FREEGPT_UPSTREAM_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Upstream.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Upstream.RateLimit },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
