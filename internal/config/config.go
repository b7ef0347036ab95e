package config

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete notecache configuration
type Config struct {
	Identity  Identity  `yaml:"identity"`
	Relays    Relays    `yaml:"relays"`
	Sync      Sync      `yaml:"sync"`
	Cache     Cache     `yaml:"cache"`
	Retention Retention `yaml:"retention"`
	Zaps      Zaps      `yaml:"zaps"`
	Logging   Logging   `yaml:"logging"`
}

// Identity contains the account the cache is bound to
type Identity struct {
	Npub   string   `yaml:"npub"`
	Nsec   string   `yaml:"-"` // only from NOTECACHE_NSEC
	Hidden []string `yaml:"hidden"`
}

// Relays contains relay configuration
type Relays struct {
	Seeds  []string    `yaml:"seeds"`
	Policy RelayPolicy `yaml:"policy"`
}

// RelayPolicy contains relay connection policies
type RelayPolicy struct {
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
	MaxConcurrent    int `yaml:"max_concurrent"`
}

// Sync controls which kinds each scope subscribes to
type Sync struct {
	Kinds       SyncKinds `yaml:"kinds"`
	GlobalLimit int       `yaml:"global_limit"`
	DetailLimit int       `yaml:"detail_limit"`
}

// SyncKinds defines granular control over which event kinds are requested
type SyncKinds struct {
	Notes     bool  `yaml:"notes"`      // kind 1
	Reposts   bool  `yaml:"reposts"`    // kind 6
	Reactions bool  `yaml:"reactions"`  // kind 7
	Zaps      bool  `yaml:"zaps"`       // kind 9735
	Reports   bool  `yaml:"reports"`    // kind 1984
	DMs       bool  `yaml:"dms"`        // kind 4
	Video     bool  `yaml:"video"`      // kind 1063
	Allowlist []int `yaml:"allowlist"`  // extra kinds for the home scope
}

// Interactions returns the kinds that attach to a note
func (sk *SyncKinds) Interactions() []int {
	var kinds []int

	if sk.Notes {
		kinds = append(kinds, 1)
	}
	if sk.Reposts {
		kinds = append(kinds, 6)
	}
	if sk.Reactions {
		kinds = append(kinds, 7)
	}
	if sk.Zaps {
		kinds = append(kinds, 9735)
	}
	if sk.Reports {
		kinds = append(kinds, 1984)
	}

	return kinds
}

// Cache contains entity store tuning
type Cache struct {
	ObserverDebounceMs  int     `yaml:"observer_debounce_ms"`
	ErrorLogPerSecond   float64 `yaml:"error_log_per_second"`
	ErrorLogBurst       int     `yaml:"error_log_burst"`
	AggregateSubsBuffer int     `yaml:"aggregate_subs_buffer"`
}

// Retention defines the pruning policy inputs
type Retention struct {
	HorizonHours         int             `yaml:"horizon_hours"`
	DMHorizonHours       int             `yaml:"dm_horizon_hours"`
	PruneIntervalMinutes int             `yaml:"prune_interval_minutes"` // 0 = disabled
	CleanUpOnPause       bool            `yaml:"cleanup_on_pause"`
	Rules                []RetentionRule `yaml:"rules"`
}

// RetentionRule is one prioritized keep/prune rule
type RetentionRule struct {
	Name       string         `yaml:"name"`
	Priority   int            `yaml:"priority"`
	Conditions RuleConditions `yaml:"conditions"`
	Action     RuleAction     `yaml:"action"`
}

// RuleConditions are matched against a prune candidate; set fields are ANDed
type RuleConditions struct {
	All bool `yaml:"all,omitempty"`

	And []RuleConditions `yaml:"and,omitempty"`
	Or  []RuleConditions `yaml:"or,omitempty"`
	Not []RuleConditions `yaml:"not,omitempty"`

	Kinds             []int `yaml:"kinds,omitempty"`
	KindsExclude      []int `yaml:"kinds_exclude,omitempty"`
	AuthorIsOwner     bool  `yaml:"author_is_owner,omitempty"`
	AuthorIsFollowing bool  `yaml:"author_is_following,omitempty"`
	AuthorIsHidden    bool  `yaml:"author_is_hidden,omitempty"`
	IsRead            bool  `yaml:"is_read,omitempty"`
	IsPlaceholder     bool  `yaml:"is_placeholder,omitempty"`
	AgeHoursMin       int   `yaml:"age_hours_min,omitempty"`
	ReplyCountMin     int   `yaml:"reply_count_min,omitempty"`
	ReactionCountMin  int   `yaml:"reaction_count_min,omitempty"`
	ZapSatsMin        int64 `yaml:"zap_sats_min,omitempty"`
}

// RuleAction decides what happens to a matching candidate
type RuleAction struct {
	Keep  bool `yaml:"keep,omitempty"`
	Prune bool `yaml:"prune,omitempty"`
}

// Zaps contains zap resolution settings
type Zaps struct {
	DecryptWorkers   int `yaml:"decrypt_workers"`
	DecryptTimeoutMs int `yaml:"decrypt_timeout_ms"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

func applyDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Relays.Policy.ConnectTimeoutMs == 0 {
		cfg.Relays.Policy.ConnectTimeoutMs = defaults.Relays.Policy.ConnectTimeoutMs
	}
	if cfg.Relays.Policy.MaxConcurrent == 0 {
		cfg.Relays.Policy.MaxConcurrent = defaults.Relays.Policy.MaxConcurrent
	}
	if cfg.Sync.GlobalLimit == 0 {
		cfg.Sync.GlobalLimit = defaults.Sync.GlobalLimit
	}
	if cfg.Sync.DetailLimit == 0 {
		cfg.Sync.DetailLimit = defaults.Sync.DetailLimit
	}
	if cfg.Cache.ObserverDebounceMs == 0 {
		cfg.Cache.ObserverDebounceMs = defaults.Cache.ObserverDebounceMs
	}
	if cfg.Cache.ErrorLogPerSecond == 0 {
		cfg.Cache.ErrorLogPerSecond = defaults.Cache.ErrorLogPerSecond
	}
	if cfg.Cache.ErrorLogBurst == 0 {
		cfg.Cache.ErrorLogBurst = defaults.Cache.ErrorLogBurst
	}
	if cfg.Cache.AggregateSubsBuffer == 0 {
		cfg.Cache.AggregateSubsBuffer = defaults.Cache.AggregateSubsBuffer
	}
	if cfg.Retention.HorizonHours == 0 {
		cfg.Retention.HorizonHours = defaults.Retention.HorizonHours
	}
	if cfg.Retention.DMHorizonHours == 0 {
		cfg.Retention.DMHorizonHours = defaults.Retention.DMHorizonHours
	}
	if cfg.Zaps.DecryptWorkers == 0 {
		cfg.Zaps.DecryptWorkers = defaults.Zaps.DecryptWorkers
	}
	if cfg.Zaps.DecryptTimeoutMs == 0 {
		cfg.Zaps.DecryptTimeoutMs = defaults.Zaps.DecryptTimeoutMs
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

// Load reads, defaults, overrides and validates a config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if nsec := os.Getenv("NOTECACHE_NSEC"); nsec != "" {
		if !strings.HasPrefix(nsec, "nsec1") && len(nsec) != 64 {
			return fmt.Errorf("NOTECACHE_NSEC must be an nsec1 string or 64 hex characters")
		}
		cfg.Identity.Nsec = nsec
	}

	if level := os.Getenv("NOTECACHE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}

	return nil
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Default returns a config with every optional field populated
func Default() *Config {
	return &Config{
		Relays: Relays{
			Seeds: []string{
				"wss://relay.damus.io",
				"wss://nos.lol",
			},
			Policy: RelayPolicy{
				ConnectTimeoutMs: 5000,
				MaxConcurrent:    8,
			},
		},
		Sync: Sync{
			Kinds: SyncKinds{
				Notes:     true,
				Reposts:   true,
				Reactions: true,
				Zaps:      true,
				Reports:   false,
				DMs:       true,
				Video:     true,
			},
			GlobalLimit: 200,
			DetailLimit: 500,
		},
		Cache: Cache{
			ObserverDebounceMs:  100,
			ErrorLogPerSecond:   1,
			ErrorLogBurst:       5,
			AggregateSubsBuffer: 16,
		},
		Retention: Retention{
			HorizonHours:         24 * 7,
			DMHorizonHours:       24,
			PruneIntervalMinutes: 30,
			CleanUpOnPause:       true,
		},
		Zaps: Zaps{
			DecryptWorkers:   4,
			DecryptTimeoutMs: 2000,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// validLogLevels defines allowed log levels
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats defines allowed log formats
var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// Validate checks a fully defaulted config
func Validate(cfg *Config) error {
	if cfg.Identity.Npub == "" {
		return fmt.Errorf("identity.npub is required")
	}
	if !strings.HasPrefix(cfg.Identity.Npub, "npub1") {
		return fmt.Errorf("identity.npub must start with 'npub1'")
	}

	if len(cfg.Relays.Seeds) == 0 {
		return fmt.Errorf("at least one relay seed is required")
	}
	for _, seed := range cfg.Relays.Seeds {
		if !strings.HasPrefix(seed, "wss://") && !strings.HasPrefix(seed, "ws://") {
			return fmt.Errorf("relay seed must start with ws:// or wss://: %s", seed)
		}
	}
	if cfg.Relays.Policy.MaxConcurrent < 1 {
		return fmt.Errorf("relays.policy.max_concurrent must be at least 1")
	}

	if cfg.Retention.HorizonHours < 1 {
		return fmt.Errorf("retention.horizon_hours must be at least 1")
	}
	if cfg.Retention.DMHorizonHours < 1 || cfg.Retention.DMHorizonHours > cfg.Retention.HorizonHours {
		return fmt.Errorf("retention.dm_horizon_hours must be between 1 and horizon_hours")
	}
	if cfg.Retention.PruneIntervalMinutes < 0 {
		return fmt.Errorf("retention.prune_interval_minutes cannot be negative")
	}
	for _, rule := range cfg.Retention.Rules {
		if rule.Name == "" {
			return fmt.Errorf("retention rule name is required")
		}
		if rule.Action.Keep == rule.Action.Prune {
			return fmt.Errorf("retention rule %s must set exactly one of keep or prune", rule.Name)
		}
	}

	if cfg.Zaps.DecryptWorkers < 1 {
		return fmt.Errorf("zaps.decrypt_workers must be at least 1")
	}

	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", cfg.Logging.Level)
	}
	if !validLogFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be one of: text, json)", cfg.Logging.Format)
	}

	return nil
}
