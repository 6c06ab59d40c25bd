package classifier

import (
	"strings"

	"rpcguard/internal/config"
	"rpcguard/internal/domain"
)

// Severity orders the classification bands.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

func ParseSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityNone
	}
}

// Metrics are the per-identity numbers computed for one evaluation window.
type Metrics struct {
	Identity domain.Identity
	Requests uint64
	Blocked  uint64
	Errors   uint64

	BlockedRatio float64
	ErrorRatio   float64
}

// GlobalMetrics capture cross-identity correlation over the same window.
type GlobalMetrics struct {
	DistinctIPs       int64
	DistinctWallets   int64
	DistinctCountries int64
}

// Band is one row of the decision table: a pattern type, the severity it
// maps to, and the thresholds that select it. All thresholds are zero-value
// permissive so a band only constrains the dimensions it sets.
type Band struct {
	Pattern  string
	Severity Severity

	MinRequests     uint64
	MinBlockedRatio float64
	MinErrorRatio   float64
	MinSample       uint64
}

// constrained reports whether the band tests at least one dimension. A
// zero threshold disables its band instead of matching every identity.
func (b Band) constrained() bool {
	return b.MinRequests > 0 || b.MinBlockedRatio > 0 || b.MinErrorRatio > 0
}

func (b Band) matches(m Metrics) bool {
	if b.MinRequests > 0 && m.Requests < b.MinRequests {
		return false
	}
	if b.MinSample > 0 && m.Requests < b.MinSample {
		return false
	}
	if b.MinBlockedRatio > 0 && m.BlockedRatio < b.MinBlockedRatio {
		return false
	}
	if b.MinErrorRatio > 0 && m.ErrorRatio < b.MinErrorRatio {
		return false
	}
	return true
}

// BuildBands materializes the decision table from configuration. New rules
// are new rows here, not new branches in the evaluator. Rows with every
// threshold zeroed are dropped, so a misconfigured band cannot flag all
// traffic.
func BuildBands(cfg config.Config) []Band {
	c := cfg.Classifier
	candidates := []Band{
		{Pattern: domain.PatternVolumetric, Severity: SeverityCritical, MinRequests: c.VolumetricCritical},
		{Pattern: domain.PatternVolumetric, Severity: SeverityHigh, MinRequests: c.VolumetricHigh},
		{Pattern: domain.PatternVolumetric, Severity: SeverityMedium, MinRequests: c.VolumetricMedium},
		{Pattern: domain.PatternVolumetric, Severity: SeverityLow, MinRequests: c.VolumetricLow},
		{Pattern: domain.PatternCredentialStuffing, Severity: SeverityHigh, MinErrorRatio: c.ErrorRatioThreshold, MinSample: c.MinSampleSize},
		{Pattern: domain.PatternVolumetric, Severity: SeverityHigh, MinBlockedRatio: c.BlockedRatioThreshold, MinSample: c.MinSampleSize},
	}

	bands := candidates[:0]
	for _, band := range candidates {
		if band.constrained() {
			bands = append(bands, band)
		}
	}
	return bands
}

// Verdict is the strongest band an identity matched.
type Verdict struct {
	Identity domain.Identity
	Pattern  string
	Severity Severity
	Metrics  Metrics
}

// Evaluate runs the decision table over one identity's metrics and returns
// the highest-severity match.
func Evaluate(bands []Band, m Metrics) (Verdict, bool) {
	best := Verdict{Identity: m.Identity, Metrics: m}
	for _, band := range bands {
		if band.Severity <= best.Severity {
			continue
		}
		if band.matches(m) {
			best.Pattern = band.Pattern
			best.Severity = band.Severity
		}
	}
	return best, best.Severity > SeverityNone
}

// EvaluateGlobal applies the distributed-pattern rule: enough distinct
// identities in a short window is an attack signature regardless of
// per-identity volume.
func EvaluateGlobal(cfg config.Config, gm GlobalMetrics) (string, Severity, bool) {
	c := cfg.Classifier

	ipsOver := c.DistributedDistinctIPs > 0 && gm.DistinctIPs >= int64(c.DistributedDistinctIPs)
	countriesOver := c.DistributedDistinctCountries > 0 && gm.DistinctCountries >= int64(c.DistributedDistinctCountries)

	switch {
	case ipsOver && countriesOver:
		return domain.PatternDistributed, SeverityCritical, true
	case ipsOver:
		return domain.PatternDistributed, SeverityHigh, true
	default:
		return "", SeverityNone, false
	}
}
