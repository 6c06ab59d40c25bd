package app

import "testing"

func TestResolvePort(t *testing.T) {
	t.Run("env overrides fallback", func(t *testing.T) {
		t.Setenv("GATEWAY_PORT_TEST", "12345")
		if got := resolvePort("GATEWAY_PORT_TEST", 8545); got != 12345 {
			t.Fatalf("resolvePort returned %d, want 12345", got)
		}
	})

	t.Run("invalid value falls back", func(t *testing.T) {
		t.Setenv("GATEWAY_PORT_TEST", "not-a-number")
		if got := resolvePort("GATEWAY_PORT_TEST", 8545); got != 8545 {
			t.Fatalf("resolvePort returned %d, want 8545", got)
		}
	})

	t.Run("zero falls back", func(t *testing.T) {
		t.Setenv("GATEWAY_PORT_TEST", "0")
		if got := resolvePort("GATEWAY_PORT_TEST", 8545); got != 8545 {
			t.Fatalf("resolvePort returned %d, want 8545", got)
		}
	})

	t.Run("fallback when unset", func(t *testing.T) {
		if got := resolvePort("GATEWAY_PORT_UNSET", 9090); got != 9090 {
			t.Fatalf("resolvePort returned %d, want 9090", got)
		}
	})
}
