package config

import (
	"os"
	"testing"
)

func TestFirstNonEmpty(t *testing.T) {
	if v := firstNonEmpty("", "foo", "bar"); v != "foo" {
		t.Fatalf("expected 'foo', got %q", v)
	}
	if v := firstNonEmpty(); v != "" {
		t.Fatalf("expected empty, got %q", v)
	}
}

func TestParseInt(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		n, err := parseInt("42")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 42 {
			t.Fatalf("expected 42, got %d", n)
		}
	})
	t.Run("invalid", func(t *testing.T) {
		if _, err := parseInt("notanint"); err == nil {
			t.Fatalf("expected error for invalid int")
		}
	})
}

func TestIntFromEnv(t *testing.T) {
	key := "CAUSALMEM_TEST_INT_FROM_ENV"
	old := os.Getenv(key)
	defer func() { _ = os.Setenv(key, old) }()

	_ = os.Unsetenv(key)
	if got := intFromEnv(key, 7); got != 7 {
		t.Fatalf("expected default 7, got %d", got)
	}
	_ = os.Setenv(key, "123")
	if got := intFromEnv(key, 7); got != 123 {
		t.Fatalf("expected 123, got %d", got)
	}
}

func TestBoolFromEnv(t *testing.T) {
	key := "CAUSALMEM_TEST_BOOL_FROM_ENV"
	old := os.Getenv(key)
	defer func() { _ = os.Setenv(key, old) }()

	_ = os.Unsetenv(key)
	if got := boolFromEnv(key, true); !got {
		t.Fatalf("expected default true")
	}
	_ = os.Setenv(key, "0")
	if got := boolFromEnv(key, true); got {
		t.Fatalf("expected false for \"0\"")
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"STORE_BACKEND", "DECAY_BACKWARD_KERNEL", "DECAY_FORWARD_KERNEL",
		"HDBSCAN_MIN_CLUSTER_SIZE", "RETRIEVAL_DEFAULT_TOKEN_BUDGET", "PRUNE_VECTOR_TTL_DAYS",
	} {
		old := os.Getenv(key)
		_ = os.Unsetenv(key)
		defer func(k, v string) { _ = os.Setenv(k, v) }(key, old)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("expected default store backend memory, got %q", cfg.Store.Backend)
	}
	if cfg.Backward.Kernel != "linear" || cfg.Backward.DieAtHops != 10 {
		t.Fatalf("unexpected backward decay defaults: %+v", cfg.Backward)
	}
	if cfg.Forward.Kernel != "delayed-linear" || cfg.Forward.HoldHops != 5 {
		t.Fatalf("unexpected forward decay defaults: %+v", cfg.Forward)
	}
	if cfg.HDBSCAN.MinClusterSize != 5 {
		t.Fatalf("expected default min cluster size 5, got %d", cfg.HDBSCAN.MinClusterSize)
	}
	if cfg.Prune.VectorTTLDays != 30 {
		t.Fatalf("expected default vector TTL 30 days, got %d", cfg.Prune.VectorTTLDays)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	old := os.Getenv("HDBSCAN_MIN_CLUSTER_SIZE")
	defer func() { _ = os.Setenv("HDBSCAN_MIN_CLUSTER_SIZE", old) }()
	_ = os.Setenv("HDBSCAN_MIN_CLUSTER_SIZE", "12")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HDBSCAN.MinClusterSize != 12 {
		t.Fatalf("expected overridden min cluster size 12, got %d", cfg.HDBSCAN.MinClusterSize)
	}
}
