package classifier

import (
	"testing"

	"rpcguard/internal/config"
	"rpcguard/internal/domain"
)

func testConfig() config.Config {
	cfg := config.GetConfig()
	cfg.Classifier.VolumetricLow = 100
	cfg.Classifier.VolumetricMedium = 500
	cfg.Classifier.VolumetricHigh = 1000
	cfg.Classifier.VolumetricCritical = 5000
	cfg.Classifier.ErrorRatioThreshold = 0.5
	cfg.Classifier.BlockedRatioThreshold = 0.8
	cfg.Classifier.MinSampleSize = 20
	cfg.Classifier.DistributedDistinctIPs = 50
	cfg.Classifier.DistributedDistinctCountries = 10
	return cfg
}

func metricsFor(requests, blocked, errors uint64) Metrics {
	m := Metrics{
		Identity: domain.IPIdentity("203.0.113.1"),
		Requests: requests,
		Blocked:  blocked,
		Errors:   errors,
	}
	if requests > 0 {
		m.BlockedRatio = float64(blocked) / float64(requests)
		m.ErrorRatio = float64(errors) / float64(requests)
	}
	return m
}

func TestEvaluateVolumetricBands(t *testing.T) {
	bands := BuildBands(testConfig())

	cases := []struct {
		requests uint64
		severity Severity
	}{
		{50, SeverityNone},
		{100, SeverityLow},
		{499, SeverityLow},
		{500, SeverityMedium},
		{1000, SeverityHigh},
		{5000, SeverityCritical},
	}

	for _, tc := range cases {
		verdict, matched := Evaluate(bands, metricsFor(tc.requests, 0, 0))
		if tc.severity == SeverityNone {
			if matched {
				t.Fatalf("requests=%d must not match, got %s", tc.requests, verdict.Severity)
			}
			continue
		}
		if !matched || verdict.Severity != tc.severity {
			t.Fatalf("requests=%d expected %s, got %s (matched=%v)", tc.requests, tc.severity, verdict.Severity, matched)
		}
		if verdict.Pattern != domain.PatternVolumetric {
			t.Fatalf("expected volumetric pattern, got %s", verdict.Pattern)
		}
	}
}

func TestBuildBandsDropsZeroThresholds(t *testing.T) {
	cfg := testConfig()
	cfg.Classifier.VolumetricLow = 0

	bands := BuildBands(cfg)
	for _, band := range bands {
		if !band.constrained() {
			t.Fatalf("unconstrained band in table: %+v", band)
		}
	}

	// A single quiet request must not be flagged just because one band's
	// threshold was zeroed out.
	if verdict, matched := Evaluate(bands, metricsFor(1, 0, 0)); matched {
		t.Fatalf("zeroed band must be disabled, got %s/%s", verdict.Pattern, verdict.Severity)
	}

	// The remaining bands still fire.
	verdict, matched := Evaluate(bands, metricsFor(500, 0, 0))
	if !matched || verdict.Severity != SeverityMedium {
		t.Fatalf("expected medium volumetric, got %s (matched=%v)", verdict.Severity, matched)
	}
}

func TestEvaluateCredentialStuffingNeedsSample(t *testing.T) {
	bands := BuildBands(testConfig())

	// High error ratio but below the minimum sample: noise, not an attack.
	if verdict, matched := Evaluate(bands, metricsFor(10, 0, 9)); matched {
		t.Fatalf("small sample must not classify, got %s/%s", verdict.Pattern, verdict.Severity)
	}

	verdict, matched := Evaluate(bands, metricsFor(40, 0, 30))
	if !matched || verdict.Pattern != domain.PatternCredentialStuffing || verdict.Severity != SeverityHigh {
		t.Fatalf("expected high credential stuffing, got %s/%s (matched=%v)", verdict.Pattern, verdict.Severity, matched)
	}
}

func TestEvaluatePicksHighestSeverity(t *testing.T) {
	bands := BuildBands(testConfig())

	// Critical volume and stuffing-level error ratio at once: the stronger
	// band wins.
	verdict, matched := Evaluate(bands, metricsFor(6000, 0, 4000))
	if !matched || verdict.Severity != SeverityCritical || verdict.Pattern != domain.PatternVolumetric {
		t.Fatalf("expected critical volumetric verdict, got %s/%s", verdict.Pattern, verdict.Severity)
	}
}

func TestEvaluateGlobalDistributedPattern(t *testing.T) {
	cfg := testConfig()

	if _, _, matched := EvaluateGlobal(cfg, GlobalMetrics{DistinctIPs: 49, DistinctCountries: 3}); matched {
		t.Fatal("below the distinct-ip threshold nothing should match")
	}

	pattern, severity, matched := EvaluateGlobal(cfg, GlobalMetrics{DistinctIPs: 60, DistinctCountries: 3})
	if !matched || pattern != domain.PatternDistributed || severity != SeverityHigh {
		t.Fatalf("expected high distributed, got %s/%s (matched=%v)", pattern, severity, matched)
	}

	_, severity, matched = EvaluateGlobal(cfg, GlobalMetrics{DistinctIPs: 60, DistinctCountries: 15})
	if !matched || severity != SeverityCritical {
		t.Fatalf("expected critical when countries also spike, got %s", severity)
	}
}

func TestParseSeverityRoundTrip(t *testing.T) {
	for _, severity := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		if parsed := ParseSeverity(severity.String()); parsed != severity {
			t.Fatalf("round trip failed for %s: got %s", severity, parsed)
		}
	}
	if ParseSeverity("unknown") != SeverityNone {
		t.Fatal("unknown severity must parse to none")
	}
}
