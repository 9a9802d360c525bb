package config

import (
	"testing"
	"time"
)

func TestGetEnvDefault(t *testing.T) {
	if got := GetEnv("BURSAR_TEST_UNSET_VAR", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}

	t.Setenv("BURSAR_TEST_SET_VAR", "value")
	if got := GetEnv("BURSAR_TEST_SET_VAR", "fallback"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("BURSAR_TEST_INT", "42")
	if got := GetEnvInt("BURSAR_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}

	t.Setenv("BURSAR_TEST_INT", "not-a-number")
	if got := GetEnvInt("BURSAR_TEST_INT", 7); got != 7 {
		t.Fatalf("expected default 7 for invalid int, got %d", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("BURSAR_TEST_DURATION", "90m")
	if got := GetEnvDuration("BURSAR_TEST_DURATION", time.Hour); got != 90*time.Minute {
		t.Fatalf("expected 90m, got %s", got)
	}

	t.Setenv("BURSAR_TEST_DURATION", "soon")
	if got := GetEnvDuration("BURSAR_TEST_DURATION", time.Hour); got != time.Hour {
		t.Fatalf("expected default 1h for invalid duration, got %s", got)
	}
}
