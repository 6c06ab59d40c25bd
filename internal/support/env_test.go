package support

import "testing"

func TestGetEnvBool(t *testing.T) {
	t.Setenv("RPCGUARD_TEST_BOOL", "true")
	if !GetEnvBool("RPCGUARD_TEST_BOOL", false) {
		t.Fatal("expected true from env")
	}

	t.Setenv("RPCGUARD_TEST_BOOL", "not-a-bool")
	if !GetEnvBool("RPCGUARD_TEST_BOOL", true) {
		t.Fatal("expected fallback on unparsable value")
	}

	if GetEnvBool("RPCGUARD_TEST_BOOL_UNSET", false) {
		t.Fatal("expected fallback when unset")
	}
}
