package config

import (
	"testing"
	"time"
)

func TestEmbeddedDefaultsAreUsable(t *testing.T) {
	cfg := GetConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("embedded defaults must validate: %v", err)
	}
	if cfg.Gate.RequestsPerSecond == 0 {
		t.Fatal("default rate budget must be set")
	}
	if cfg.Aggregator.RealtimeBuckets == 0 || cfg.Aggregator.RealtimeBucketSeconds == 0 {
		t.Fatal("default realtime window must be set")
	}
	if cfg.Bans.EscalationThreshold == 0 {
		t.Fatal("default escalation threshold must be set")
	}
}

func TestValidateRejectsBrokenConfig(t *testing.T) {
	base := GetConfig()

	broken := base
	broken.Aggregator.RealtimeBuckets = 0
	if err := broken.Validate(); err == nil {
		t.Fatal("zero-width realtime window must be rejected")
	}

	broken = base
	broken.Classifier.ActionSeverity = "extreme"
	if err := broken.Validate(); err == nil {
		t.Fatal("unknown action severity must be rejected")
	}

	broken = base
	broken.Bans.DefaultDurationMinutes = 0
	if err := broken.Validate(); err == nil {
		t.Fatal("zero ban duration must be rejected")
	}
}

func TestDerivedDurations(t *testing.T) {
	cfg := GetConfig()

	if cfg.BanDefaultDuration() != time.Duration(cfg.Bans.DefaultDurationMinutes)*time.Minute {
		t.Fatal("ban default duration mismatch")
	}
	if cfg.ClassifierWindow() != time.Duration(cfg.Classifier.WindowSeconds)*time.Second {
		t.Fatal("classifier window mismatch")
	}
	if cfg.ClassifierCooldown() != time.Duration(cfg.Classifier.CooldownSeconds)*time.Second {
		t.Fatal("classifier cooldown mismatch")
	}
}
