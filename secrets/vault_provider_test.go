package secrets

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// kvMetadata is the version metadata a KV v2 read returns alongside the data.
const kvMetadata = `{"version":1,"created_time":"2026-01-02T15:04:05.000000Z","deletion_time":"","destroyed":false,"custom_metadata":null}`

// newVaultStub serves KV v2 secrets keyed by request path. The returned
// func reports the headers of the most recent request.
func newVaultStub(t *testing.T, data map[string]string) (*httptest.Server, func() http.Header) {
	t.Helper()
	var (
		mu   sync.Mutex
		last http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		last = r.Header.Clone()
		mu.Unlock()
		body, ok := data[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"errors":[]}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"data":`+body+`,"metadata":`+kvMetadata+`}}`)
	}))
	t.Cleanup(srv.Close)
	return srv, func() http.Header {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestVaultProvider_Get_Field(t *testing.T) {
	srv, last := newVaultStub(t, map[string]string{
		"/v1/secret/data/schedulesync/stripe": `{"api_key":"sk_vault","webhook_secret":"whsec_vault"}`,
	})

	p, err := NewVaultProvider(VaultConfig{Address: srv.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("NewVaultProvider: %v", err)
	}
	val, err := p.Get(context.Background(), "schedulesync/stripe#api_key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "sk_vault" {
		t.Errorf("expected 'sk_vault', got %q", val)
	}
	if got := last().Get("X-Vault-Token"); got != "test-token" {
		t.Errorf("X-Vault-Token = %q", got)
	}
}

func TestVaultProvider_Get_SingleField(t *testing.T) {
	srv, _ := newVaultStub(t, map[string]string{
		"/v1/kv/data/stripe-key": `{"value":"sk_single"}`,
		"/v1/kv/data/stripe":     `{"a":"1","b":"2"}`,
	})

	p, err := NewVaultProvider(VaultConfig{Address: srv.URL, Token: "t", MountPath: "/kv/"})
	if err != nil {
		t.Fatal(err)
	}
	val, err := p.Get(context.Background(), "stripe-key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "sk_single" {
		t.Errorf("expected 'sk_single', got %q", val)
	}

	if _, err := p.Get(context.Background(), "stripe"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("multi-field secret without #field: expected ErrInvalidKey, got %v", err)
	}
}

func TestVaultProvider_Get_NotFound(t *testing.T) {
	srv, _ := newVaultStub(t, map[string]string{
		"/v1/secret/data/app": `{"present":"yes"}`,
	})
	p, err := NewVaultProvider(VaultConfig{Address: srv.URL, Token: "t"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing path: expected ErrNotFound, got %v", err)
	}
	if _, err := p.Get(context.Background(), "app#absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing field: expected ErrNotFound, got %v", err)
	}
}

func TestVaultProvider_Namespace(t *testing.T) {
	srv, last := newVaultStub(t, map[string]string{
		"/v1/secret/data/app": `{"k":"v"}`,
	})
	p, err := NewVaultProvider(VaultConfig{Address: srv.URL, Token: "t", Namespace: "billing"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Get(context.Background(), "app"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := last().Get("X-Vault-Namespace"); got != "billing" {
		t.Errorf("X-Vault-Namespace = %q", got)
	}
}

func TestVaultProvider_InvalidKey(t *testing.T) {
	p, err := NewVaultProvider(VaultConfig{Address: "http://127.0.0.1:1", Token: "t"})
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"", "#field"} {
		if _, err := p.Get(context.Background(), key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Get(%q): expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestNewVaultProvider_Validation(t *testing.T) {
	if _, err := NewVaultProvider(VaultConfig{Token: "t"}); !errors.Is(err, ErrProviderInit) {
		t.Errorf("missing address: expected ErrProviderInit, got %v", err)
	}
	if _, err := NewVaultProvider(VaultConfig{Address: "http://vault:8200"}); !errors.Is(err, ErrProviderInit) {
		t.Errorf("missing token: expected ErrProviderInit, got %v", err)
	}
	p, err := NewVaultProvider(VaultConfig{Address: "http://vault:8200", Token: "t"})
	if err != nil {
		t.Fatal(err)
	}
	if p.config.MountPath != "secret" {
		t.Errorf("default mount = %q, want secret", p.config.MountPath)
	}
}

func TestParseVaultKey(t *testing.T) {
	tests := []struct {
		key, path, field string
	}{
		{"app/stripe", "app/stripe", ""},
		{"app/stripe#api_key", "app/stripe", "api_key"},
		{"a#b#c", "a#b", "c"},
	}
	for _, tt := range tests {
		path, field := parseVaultKey(tt.key)
		if path != tt.path || field != tt.field {
			t.Errorf("parseVaultKey(%q) = (%q, %q), want (%q, %q)", tt.key, path, field, tt.path, tt.field)
		}
	}
}
