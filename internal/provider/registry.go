package provider

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/freegpt4/webapi/internal/config"
)

// Auto selects the first healthy registered provider.
const Auto = "Auto"

// DefaultModel is returned for providers that do not advertise a model list.
const DefaultModel = "default"

//go:embed providers.yaml
var builtinProviders []byte

// Provider is one OpenAI-compatible backend.
type Provider struct {
	Name      string   `yaml:"name"`
	BaseURL   string   `yaml:"base_url"`
	APIKeyEnv string   `yaml:"api_key_env,omitempty"`
	Models    []string `yaml:"models,omitempty"`
}

type registryFile struct {
	Providers []Provider `yaml:"providers"`
}

// Registry is the ordered set of known providers. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	providers []Provider
	byName    map[string]Provider
}

// NewRegistry validates providers and builds a registry preserving order.
func NewRegistry(providers []Provider) (*Registry, error) {
	r := &Registry{byName: make(map[string]Provider, len(providers))}
	for i, p := range providers {
		p.Name = strings.TrimSpace(p.Name)
		p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
		if p.Name == "" {
			return nil, fmt.Errorf("provider %d: missing name", i+1)
		}
		if strings.EqualFold(p.Name, Auto) {
			return nil, fmt.Errorf("provider %d: %q is reserved", i+1, Auto)
		}
		if p.BaseURL == "" {
			return nil, fmt.Errorf("provider %q: missing base_url", p.Name)
		}
		if _, dup := r.byName[p.Name]; dup {
			return nil, fmt.Errorf("provider %q: duplicate name", p.Name)
		}
		r.byName[p.Name] = p
		r.providers = append(r.providers, p)
	}
	return r, nil
}

// ParseRegistry decodes a YAML provider list.
func ParseRegistry(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding providers: %w", err)
	}
	return NewRegistry(f.Providers)
}

// DefaultRegistry returns the built-in provider list.
func DefaultRegistry() *Registry {
	r, err := ParseRegistry(builtinProviders)
	if err != nil {
		panic(fmt.Sprintf("built-in providers: %v", err))
	}
	return r
}

// LoadRegistry reads providers from path, or returns the built-in list when
// path is empty.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading providers file: %w", err)
	}
	r, err := ParseRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Names returns Auto followed by every registered provider in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers)+1)
	names = append(names, Auto)
	for _, p := range r.providers {
		names = append(names, p.Name)
	}
	return names
}

// Providers returns the registered providers in order, without Auto.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Get looks up a provider by exact name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Has reports whether name is Auto or a registered provider.
func (r *Registry) Has(name string) bool {
	if name == Auto {
		return true
	}
	_, ok := r.byName[name]
	return ok
}

// Models lists the models offered for name. Auto offers the generic list;
// providers without a list, and unknown names, offer DefaultModel.
func (r *Registry) Models(name string) []string {
	if name == Auto {
		return append([]string(nil), config.GenericModels...)
	}
	if p, ok := r.byName[name]; ok && len(p.Models) > 0 {
		return append([]string(nil), p.Models...)
	}
	return []string{DefaultModel}
}

// APIKey resolves the provider's key from the environment. Keyless providers
// get a placeholder so the Authorization header is still well-formed.
func (p Provider) APIKey(getenv func(string) string) string {
	if p.APIKeyEnv != "" {
		if v := getenv(p.APIKeyEnv); v != "" {
			return v
		}
	}
	return "none"
}
