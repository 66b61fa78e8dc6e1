package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// --- EnvProvider Tests ---

func TestEnvProvider_Get_Found(t *testing.T) {
	t.Setenv("TEST_STRIPE_KEY", "sk_test_123")

	p := NewEnvProvider("")
	val, err := p.Get(context.Background(), "test_stripe_key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "sk_test_123" {
		t.Errorf("expected 'sk_test_123', got %q", val)
	}
}

func TestEnvProvider_Get_WithPrefix(t *testing.T) {
	t.Setenv("APP_WEBHOOK_SECRET", "whsec_1")

	p := NewEnvProvider("APP_")
	val, err := p.Get(context.Background(), "webhook_secret")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "whsec_1" {
		t.Errorf("expected 'whsec_1', got %q", val)
	}
}

func TestEnvProvider_Get_NotFound(t *testing.T) {
	p := NewEnvProvider("")
	_, err := p.Get(context.Background(), "nonexistent_secret_key_xyz")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEnvProvider_Get_InvalidKey(t *testing.T) {
	p := NewEnvProvider("")
	_, err := p.Get(context.Background(), "")
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestEnvProvider_DotConversion(t *testing.T) {
	t.Setenv("STRIPE_API_KEY", "sk_dot")

	val, err := NewEnvProvider("").Get(context.Background(), "stripe.api_key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "sk_dot" {
		t.Errorf("expected 'sk_dot', got %q", val)
	}
}

// --- FileProvider Tests ---

func TestFileProvider_Get(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "stripe_api_key"), []byte("sk_file\n"), 0600); err != nil {
		t.Fatal(err)
	}

	p := NewFileProvider(dir)
	val, err := p.Get(context.Background(), "stripe_api_key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "sk_file" {
		t.Errorf("expected trailing newline trimmed, got %q", val)
	}
	if p.Name() != "file" {
		t.Errorf("Name = %q", p.Name())
	}
}

func TestFileProvider_Get_NotFound(t *testing.T) {
	_, err := NewFileProvider(t.TempDir()).Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFileProvider_InvalidKey(t *testing.T) {
	p := NewFileProvider(t.TempDir())
	for _, key := range []string{"", "../etc/passwd", "/abs/path"} {
		if _, err := p.Get(context.Background(), key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Get(%q): expected ErrInvalidKey, got %v", key, err)
		}
	}
}

// --- Resolver Tests ---

func TestResolver_Resolve(t *testing.T) {
	t.Setenv("STRIPE_KEY", "sk_resolved")
	r := NewResolver(NewEnvProvider(""))
	ctx := context.Background()

	got, err := r.Resolve(ctx, "secret://stripe_key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "sk_resolved" {
		t.Errorf("expected 'sk_resolved', got %q", got)
	}

	plain, err := r.Resolve(ctx, "sk_plain")
	if err != nil || plain != "sk_plain" {
		t.Errorf("plain value: got %q, %v", plain, err)
	}
}

func TestResolver_Resolve_Missing(t *testing.T) {
	r := NewResolver(NewEnvProvider(""))
	_, err := r.Resolve(context.Background(), "secret://definitely_missing_secret")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolver_ResolveAll(t *testing.T) {
	t.Setenv("API_KEY", "sk_all")
	t.Setenv("HOOK_SECRET", "whsec_all")
	r := NewResolver(NewEnvProvider(""))

	apiKey, hook, plain := "secret://api_key", "secret://hook_secret", "https://api.stripe.com"
	if err := r.ResolveAll(context.Background(), &apiKey, &hook, &plain, nil); err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	if apiKey != "sk_all" || hook != "whsec_all" || plain != "https://api.stripe.com" {
		t.Errorf("got %q %q %q", apiKey, hook, plain)
	}

	missing := "secret://nope_not_here"
	if err := r.ResolveAll(context.Background(), &missing); err == nil {
		t.Error("expected error")
	}
	if missing != "secret://nope_not_here" {
		t.Errorf("failed value should be left untouched, got %q", missing)
	}
}

func TestIsReference(t *testing.T) {
	if !IsReference("secret://x") || IsReference("x") {
		t.Error("IsReference mismatch")
	}
}
