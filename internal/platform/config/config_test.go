package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("APOLLO_TEST_STRING", "10.0.0.5:27655")
	t.Setenv("APOLLO_TEST_EMPTY", "")

	if got := GetEnv("APOLLO_TEST_STRING", "fallback"); got != "10.0.0.5:27655" {
		t.Errorf("got %q", got)
	}
	if got := GetEnv("APOLLO_TEST_EMPTY", "fallback"); got != "fallback" {
		t.Errorf("empty value: got %q", got)
	}
}

func TestGetEnvTyped(t *testing.T) {
	t.Setenv("APOLLO_TEST_INT", "42")
	t.Setenv("APOLLO_TEST_BAD_INT", "forty")
	t.Setenv("APOLLO_TEST_DURATION", "750ms")
	t.Setenv("APOLLO_TEST_BAD_DURATION", "soon")
	t.Setenv("APOLLO_TEST_BOOL", "true")
	t.Setenv("APOLLO_TEST_BAD_BOOL", "maybe")

	if got := GetEnvInt("APOLLO_TEST_INT", 1); got != 42 {
		t.Errorf("int: %d", got)
	}
	if got := GetEnvInt("APOLLO_TEST_BAD_INT", 1); got != 1 {
		t.Errorf("bad int: %d", got)
	}
	if got := GetEnvDuration("APOLLO_TEST_DURATION", time.Second); got != 750*time.Millisecond {
		t.Errorf("duration: %v", got)
	}
	if got := GetEnvDuration("APOLLO_TEST_BAD_DURATION", time.Second); got != time.Second {
		t.Errorf("bad duration: %v", got)
	}
	if got := GetEnvBool("APOLLO_TEST_BOOL", false); !got {
		t.Error("bool: expected true")
	}
	if got := GetEnvBool("APOLLO_TEST_BAD_BOOL", false); got {
		t.Error("bad bool: expected fallback")
	}
	if got := GetEnvDuration("APOLLO_TEST_UNSET", 2*time.Second); got != 2*time.Second {
		t.Errorf("unset duration: %v", got)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apollo.env")
	if err := os.WriteFile(path, []byte("APOLLO_TEST_FROM_FILE=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("APOLLO_TEST_FROM_FILE", "")
	os.Unsetenv("APOLLO_TEST_FROM_FILE")

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := GetEnv("APOLLO_TEST_FROM_FILE", ""); got != "loaded" {
		t.Errorf("got %q", got)
	}

	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
