package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the full on-disk configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "30m").
// Unknown fields are rejected so typos fail fast at startup.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	API      APIConfig      `json:"api"`
	Poll     PollConfig     `json:"poll"`
	Diff     DiffConfig     `json:"diff"`
	Dispatch DispatchConfig `json:"dispatch"`
	Sinks    SinksConfig    `json:"sinks"`
	Storage  StorageConfig  `json:"storage"`
	Metrics  MetricsConfig  `json:"metrics,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// APIConfig controls the rate-limited gateway to the achievement API.
//
// Defaults (when fields are omitted/zero):
//   - requests_per_interval: 1
//   - interval: "1200ms"
//   - max_retries: 3
//   - retry_delay: "2s"
//   - queue_size: 256
//   - timeout: "15s"
//   - cache_ttl: "5m", volatile_cache_ttl: "90s"
type APIConfig struct {
	BaseURL string `json:"base_url"`
	Key     string `json:"key,omitempty"`

	RequestsPerInterval int    `json:"requests_per_interval,omitempty"`
	Interval            string `json:"interval,omitempty"`
	MaxRetries          int    `json:"max_retries,omitempty"`
	RetryDelay          string `json:"retry_delay,omitempty"`
	QueueSize           int    `json:"queue_size,omitempty"`
	Timeout             string `json:"timeout,omitempty"`

	CacheTTL         string `json:"cache_ttl,omitempty"`
	VolatileCacheTTL string `json:"volatile_cache_ttl,omitempty"`
}

// PollConfig controls the periodic poll cycles.
type PollConfig struct {
	Enabled       bool   `json:"enabled"`
	RankInterval  string `json:"rank_interval,omitempty"`  // default "1h"
	AwardInterval string `json:"award_interval,omitempty"` // default "30m"
	EntityDelay   string `json:"entity_delay,omitempty"`   // default "1s"
	Timezone      string `json:"timezone,omitempty"`       // IANA TZ for cron specs
}

// DiffConfig controls snapshot comparison policy.
//
// ConsistencyTolerance is the maximum relative size change between two
// consecutive fetches before a fetch is treated as unreliable. The absolute
// tolerance floor means tiny boards never trip the gate on a one-entry change.
type DiffConfig struct {
	TopK                 int     `json:"top_k,omitempty"`                 // default 3
	ConsistencyTolerance float64 `json:"consistency_tolerance,omitempty"` // default 0.20
	AbsoluteTolerance    int     `json:"absolute_tolerance,omitempty"`    // default 1
	ReconfirmDelay       string  `json:"reconfirm_delay,omitempty"`       // default "2s"
	ReconfirmOverlap     float64 `json:"reconfirm_overlap,omitempty"`     // default 0.90
}

// DispatchConfig controls notification routing and flood protection.
type DispatchConfig struct {
	MinAlertInterval string              `json:"min_alert_interval,omitempty"` // default "30m"
	AnnouncedLogCap  int                 `json:"announced_log_cap,omitempty"`  // default 200
	Routes           map[string][]string `json:"routes"`                       // event kind -> destinations
}

// SinksConfig declares where rendered notifications go.
// Webhooks maps a destination name to its endpoint URL.
type SinksConfig struct {
	Log             bool              `json:"log,omitempty"`
	Webhooks        map[string]string `json:"webhooks,omitempty"`
	WebhookRetryMax int               `json:"webhook_retry_max,omitempty"` // default 2
}

// StorageConfig controls the persistence layer.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-process store (tests, dry runs)
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9190"
}

// Validate checks cross-field constraints that the decoder cannot.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("api.base_url is required")
	}
	if c.API.RequestsPerInterval < 0 {
		return errors.New("api.requests_per_interval must be >= 0")
	}
	if c.Diff.ConsistencyTolerance < 0 || c.Diff.ConsistencyTolerance > 1 {
		return errors.New("diff.consistency_tolerance must be in [0, 1]")
	}
	if c.Diff.ReconfirmOverlap < 0 || c.Diff.ReconfirmOverlap > 1 {
		return errors.New("diff.reconfirm_overlap must be in [0, 1]")
	}
	for kind, dests := range c.Dispatch.Routes {
		if strings.TrimSpace(kind) == "" {
			return errors.New("dispatch.routes: empty event kind")
		}
		if len(dests) == 0 {
			return fmt.Errorf("dispatch.routes.%s: no destinations", kind)
		}
	}
	// Every route destination must resolve to a configured sink.
	for kind, dests := range c.Dispatch.Routes {
		for _, d := range dests {
			if d == "log" && c.Sinks.Log {
				continue
			}
			if _, ok := c.Sinks.Webhooks[d]; !ok && d != "log" {
				return fmt.Errorf("dispatch.routes.%s: unknown destination %q", kind, d)
			}
		}
	}
	return nil
}

// ---- Duration helpers ----

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
