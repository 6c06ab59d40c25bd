package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Config holds every operational tuning parameter of the engine. The exact
// numeric thresholds are deployment knobs, never constants in the code that
// evaluates them.
type Config struct {
	Gate struct {
		// RequestsPerSecond is the per-identity rate budget; Burst is the
		// short-term allowance on top of it.
		RequestsPerSecond uint32 `json:"requests_per_second"`
		Burst             uint32 `json:"burst"`

		// FailOpen controls admission for identities unknown to the local
		// snapshot while the durable store is unreachable. Known bans are
		// always enforced from the cached snapshot.
		FailOpen bool `json:"fail_open"`

		MaxConcurrentConnections uint32 `json:"max_concurrent_connections"`
	} `json:"gate"`

	Aggregator struct {
		RealtimeBuckets       uint32 `json:"realtime_buckets"`
		RealtimeBucketSeconds uint32 `json:"realtime_bucket_seconds"`
		RollupBucketSeconds   uint32 `json:"rollup_bucket_seconds"`
	} `json:"aggregator"`

	Classifier struct {
		IntervalSeconds uint32 `json:"interval_seconds"`
		WindowSeconds   uint32 `json:"window_seconds"`

		// CooldownSeconds suppresses duplicate attack-pattern records for
		// the same (identity, pattern) episode.
		CooldownSeconds uint32 `json:"cooldown_seconds"`

		// ActionSeverity is the minimum band that triggers auto-blocking.
		ActionSeverity string `json:"action_severity"`

		// Volumetric request-count bands, evaluated over WindowSeconds.
		VolumetricLow      uint64 `json:"volumetric_low"`
		VolumetricMedium   uint64 `json:"volumetric_medium"`
		VolumetricHigh     uint64 `json:"volumetric_high"`
		VolumetricCritical uint64 `json:"volumetric_critical"`

		// Credential-stuffing style detection: error ratio over a minimum
		// sample size.
		ErrorRatioThreshold   float64 `json:"error_ratio_threshold"`
		BlockedRatioThreshold float64 `json:"blocked_ratio_threshold"`
		MinSampleSize         uint64  `json:"min_sample_size"`

		// Distributed pattern: distinct identities in the window,
		// regardless of per-identity volume.
		DistributedDistinctIPs       uint32 `json:"distributed_distinct_ips"`
		DistributedDistinctCountries uint32 `json:"distributed_distinct_countries"`
	} `json:"classifier"`

	Bans struct {
		DefaultDurationMinutes uint32 `json:"default_duration_minutes"`

		// EscalationThreshold is the number of temporary bans after which
		// the next ban becomes permanent.
		EscalationThreshold uint32 `json:"escalation_threshold"`

		// RepeatWindowMinutes: a violation after an expired ban within this
		// window counts as a repeat; outside it the count restarts.
		RepeatWindowMinutes uint32 `json:"repeat_window_minutes"`

		SnapshotRefreshSeconds uint32 `json:"snapshot_refresh_seconds"`
	} `json:"bans"`

	Retention struct {
		RawRetentionHours       uint32 `json:"raw_retention_hours"`
		SweepIntervalMinutes    uint32 `json:"sweep_interval_minutes"`
		AggregatedRetentionDays uint32 `json:"aggregated_retention_days"`
	} `json:"retention"`
}

// Validate rejects configurations that would stall the pipeline, such as
// zero-width windows or an unknown severity name.
func (c Config) Validate() error {
	if c.Aggregator.RealtimeBuckets == 0 || c.Aggregator.RealtimeBucketSeconds == 0 {
		return errors.New("config: realtime window must have at least one bucket of nonzero width")
	}
	if c.Aggregator.RollupBucketSeconds == 0 {
		return errors.New("config: rollup bucket width must be nonzero")
	}
	if c.Classifier.IntervalSeconds == 0 || c.Classifier.WindowSeconds == 0 {
		return errors.New("config: classifier interval and window must be nonzero")
	}
	switch c.Classifier.ActionSeverity {
	case "none", "low", "medium", "high", "critical":
	default:
		return errors.New("config: unknown action severity " + c.Classifier.ActionSeverity)
	}
	if c.Bans.DefaultDurationMinutes == 0 {
		return errors.New("config: default ban duration must be nonzero")
	}
	return nil
}

const settingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex

	InProductionMode bool
)

func init() {
	cfg, err := parseConfig(defaultConfig)
	if err != nil {
		// The embedded defaults are part of the build; failing to parse
		// them is a programming error.
		panic("config: embedded default settings are invalid: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		panic(err.Error())
	}
	configValue.Store(cfg)
}

func parseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadSettings loads data/settings.json, creating it from the embedded
// defaults when missing. Errors leave the current configuration in place.
func ReadSettings() {
	data, err := os.ReadFile(settingsFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Settings file not found, creating with default configuration")

			if err := os.MkdirAll("data", os.ModePerm); err != nil {
				log.Error("Error creating directory for settings file:", err)
				return
			}
			if err := os.WriteFile(settingsFilePath, defaultConfig, os.ModePerm); err != nil {
				log.Error("Error writing default settings file:", err)
				return
			}
			data = defaultConfig
		} else {
			log.Error("Error reading settings file:", err)
			return
		}
	}

	newConfig, err := parseConfig(data)
	if err != nil {
		log.Error("Error unmarshalling settings file:", err)
		return
	}

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		log.Error("Error applying configuration from settings file:", err)
		return
	}

	log.Debug("Settings file loaded successfully")
}

// SetConfig applies an updated configuration, persists it, and broadcasts it
// to the other gateway instances.
func SetConfig(newConfig Config) {
	if err := applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, broadcast: true, source: "local"}); err != nil {
		log.Error("Error applying configuration update:", err)
		return
	}

	log.Debug("Configuration updated and written to file successfully")
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}

	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)

	var errs []error

	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			log.Error("Error marshalling new configuration:", err)
			errs = append(errs, err)
		} else if err := os.WriteFile(settingsFilePath, data, os.ModePerm); err != nil {
			log.Error("Error writing new configuration to file:", err)
			errs = append(errs, err)
		}
	}

	if opts.broadcast {
		payload, err := json.Marshal(newConfig)
		if err != nil {
			log.Error("Error serializing configuration for broadcast:", err)
			errs = append(errs, err)
		} else if err := broadcastConfigUpdate(payload); err != nil {
			log.Error("Error broadcasting configuration update:", err)
			errs = append(errs, err)
		}
	}

	log.Debug("Configuration applied", "source", opts.source)

	return errors.Join(errs...)
}

// GetConfig returns the current configuration atomically.
func GetConfig() Config {
	return configValue.Load().(Config)
}

func SetProductionMode(productionMode bool) {
	InProductionMode = productionMode
}

// Derived accessors used on hot paths.

func (c Config) BanDefaultDuration() time.Duration {
	return time.Duration(c.Bans.DefaultDurationMinutes) * time.Minute
}

func (c Config) BanRepeatWindow() time.Duration {
	return time.Duration(c.Bans.RepeatWindowMinutes) * time.Minute
}

func (c Config) ClassifierWindow() time.Duration {
	return time.Duration(c.Classifier.WindowSeconds) * time.Second
}

func (c Config) ClassifierCooldown() time.Duration {
	return time.Duration(c.Classifier.CooldownSeconds) * time.Second
}
