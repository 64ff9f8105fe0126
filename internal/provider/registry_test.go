package provider

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	names := r.Names()
	if len(names) < 2 || names[0] != Auto {
		t.Fatalf("Names() = %v, want Auto first", names)
	}
	if !r.Has(Auto) || !r.Has("PollinationsAI") {
		t.Error("expected Auto and PollinationsAI to be registered")
	}
	if r.Has("auto") {
		t.Error("provider names are case sensitive")
	}
}

func TestModels(t *testing.T) {
	r, err := NewRegistry([]Provider{
		{Name: "WithModels", BaseURL: "http://a", Models: []string{"m1", "m2"}},
		{Name: "Bare", BaseURL: "http://b"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	tests := []struct {
		name string
		want []string
	}{
		{Auto, []string{"gpt-4", "gpt-4o", "gpt-4o-mini"}},
		{"WithModels", []string{"m1", "m2"}},
		{"Bare", []string{DefaultModel}},
		{"Unknown", []string{DefaultModel}},
	}
	for _, tt := range tests {
		if got := r.Models(tt.name); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Models(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}

	// Returned slices are copies.
	r.Models("WithModels")[0] = "mutated"
	if r.Models("WithModels")[0] != "m1" {
		t.Error("Models returned an aliased slice")
	}
}

func TestNewRegistry_Errors(t *testing.T) {
	cases := map[string][]Provider{
		"missing name":     {{BaseURL: "http://a"}},
		"missing base_url": {{Name: "A"}},
		"reserved":         {{Name: "auto", BaseURL: "http://a"}},
		"duplicate":        {{Name: "A", BaseURL: "http://a"}, {Name: "A", BaseURL: "http://b"}},
	}
	for name, providers := range cases {
		if _, err := NewRegistry(providers); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadRegistry_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	data := `
providers:
  - name: Local
    base_url: http://127.0.0.1:8080/v1/
    api_key_env: LOCAL_KEY
    models: [llama]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	p, ok := r.Get("Local")
	if !ok {
		t.Fatal("Local not registered")
	}
	if p.BaseURL != "http://127.0.0.1:8080/v1" {
		t.Errorf("BaseURL = %q, trailing slash should be trimmed", p.BaseURL)
	}
	if got := p.APIKey(func(string) string { return "" }); got != "none" {
		t.Errorf("APIKey without env = %q, want none", got)
	}
	if got := p.APIKey(func(k string) string { return k + "-value" }); got != "LOCAL_KEY-value" {
		t.Errorf("APIKey = %q", got)
	}

	if _, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if r, err := LoadRegistry(""); err != nil || !r.Has("PollinationsAI") {
		t.Errorf("LoadRegistry(\"\") = %v, %v; want built-in list", r, err)
	}
}
