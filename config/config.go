package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/tuplestreams/binding"
	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/lease"
	"github.com/c360/tuplestreams/pending"
)

// Store backends
const (
	StoreBackendMemory = "memory" // In-process map, lost on restart
	StoreBackendKV     = "kv"     // NATS JetStream key-value bucket
)

// Config is the complete application configuration.
type Config struct {
	Registry RegistryConfig  `json:"registry"`
	Lease    LeaseConfig     `json:"lease"`
	Channels []ChannelConfig `json:"channels,omitempty"`
	Store    StoreConfig     `json:"store"`
	NATS     NATSConfig      `json:"nats"`
	Metrics  MetricsConfig   `json:"metrics"`
}

// RegistryConfig selects the pending registry every channel is built with.
type RegistryConfig struct {
	Mode   string `json:"mode"` // concurrent or sync
	Shards int    `json:"shards,omitempty"`
	// WaitTimeout bounds the sync registry's wait for requests. 0 blocks until the
	// delivery is canceled.
	WaitTimeout time.Duration `json:"wait_timeout,omitempty"`
}

// LeaseConfig bounds the leases handed to channels and listen requests.
type LeaseConfig struct {
	DefaultDuration time.Duration `json:"default_duration"`
	MaxDuration     time.Duration `json:"max_duration,omitempty"` // 0 = no cap
	CancelTimeout   time.Duration `json:"cancel_timeout,omitempty"`
}

// ChannelConfig describes one channel to bind at startup.
type ChannelConfig struct {
	Name            string        `json:"name"`
	Type            string        `json:"type,omitempty"` // udp
	Local           string        `json:"local"`
	Remote          string        `json:"remote,omitempty"`
	Mode            string        `json:"mode,omitempty"` // in, out or inout
	LeaseDuration   time.Duration `json:"lease_duration,omitempty"`
	PollInterval    time.Duration `json:"poll_interval,omitempty"`
	SendRate        float64       `json:"send_rate,omitempty"` // packets per second, 0 = unlimited
	SendBurst       int           `json:"send_burst,omitempty"`
	DeliveryWorkers int           `json:"delivery_workers,omitempty"`
	DeliveryQueue   int           `json:"delivery_queue,omitempty"`
	// Record writes every tuple the channel receives to the store.
	Record bool `json:"record,omitempty"`
}

// StoreConfig selects the tuple store backend.
type StoreConfig struct {
	Backend string        `json:"backend"`
	Bucket  string        `json:"bucket,omitempty"`
	TTL     time.Duration `json:"ttl,omitempty"` // 0 = no expiration
}

// NATSConfig defines NATS connection settings. Only the kv store backend connects.
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint. Port 0 disables it.
type MetricsConfig struct {
	Port int    `json:"port"`
	Path string `json:"path,omitempty"`
}

// Default returns the configuration used for anything a file leaves out.
func Default() *Config {
	return &Config{
		Registry: RegistryConfig{
			Mode:   binding.RegistryConcurrent,
			Shards: pending.DefaultShards,
		},
		Lease: LeaseConfig{
			DefaultDuration: time.Minute,
			CancelTimeout:   pending.DefaultCancelTimeout,
		},
		Store: StoreConfig{
			Backend: StoreBackendMemory,
			Bucket:  "tuples",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
	}
}

// Validate checks the configuration. Every failure is an invalid-class error.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "configuration check")
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Registry.Mode {
	case binding.RegistryConcurrent, binding.RegistrySync:
	default:
		return fmt.Errorf("registry.mode %q must be %q or %q",
			c.Registry.Mode, binding.RegistryConcurrent, binding.RegistrySync)
	}
	if c.Registry.Shards < 0 {
		return fmt.Errorf("registry.shards must not be negative")
	}
	if c.Registry.WaitTimeout < 0 {
		return fmt.Errorf("registry.wait_timeout must not be negative")
	}

	if c.Lease.DefaultDuration <= 0 {
		return fmt.Errorf("lease.default_duration must be positive")
	}
	if c.Lease.MaxDuration < 0 {
		return fmt.Errorf("lease.max_duration must not be negative")
	}
	if c.Lease.MaxDuration > 0 && c.Lease.DefaultDuration > c.Lease.MaxDuration {
		return fmt.Errorf("lease.default_duration %v exceeds lease.max_duration %v",
			c.Lease.DefaultDuration, c.Lease.MaxDuration)
	}
	if c.Lease.CancelTimeout < 0 {
		return fmt.Errorf("lease.cancel_timeout must not be negative")
	}

	names := make(map[string]struct{}, len(c.Channels))
	for i, ch := range c.Channels {
		if _, dup := names[ch.Name]; dup {
			return fmt.Errorf("channels[%d]: duplicate channel name %q", i, ch.Name)
		}
		names[ch.Name] = struct{}{}
		if ch.Type != "" && ch.Type != "udp" {
			return fmt.Errorf("channels[%d]: unsupported type %q", i, ch.Type)
		}
		if ch.PollInterval < 0 || ch.DeliveryWorkers < 0 || ch.DeliveryQueue < 0 {
			return fmt.Errorf("channels[%d]: poll_interval, delivery_workers and delivery_queue must not be negative", i)
		}
		if err := ch.BindRequest().Validate(); err != nil {
			return fmt.Errorf("channels[%d]: %w", i, err)
		}
		if ch.Record && ch.Mode == "out" {
			return fmt.Errorf("channels[%d]: output-only channel %q cannot record", i, ch.Name)
		}
	}

	switch c.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendKV:
		if c.Store.Bucket == "" {
			return fmt.Errorf("store.bucket is required for the kv backend")
		}
		if len(c.NATS.URLs) == 0 {
			return fmt.Errorf("nats.urls is required for the kv backend")
		}
	default:
		return fmt.Errorf("store.backend %q must be %q or %q", c.Store.Backend, StoreBackendMemory, StoreBackendKV)
	}
	if c.Store.TTL < 0 {
		return fmt.Errorf("store.ttl must not be negative")
	}
	if c.NATS.ReconnectWait < 0 {
		return fmt.Errorf("nats.reconnect_wait must not be negative")
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.Metrics.Port > 0 && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
	}
	return nil
}

// BindRequest converts the channel entry to a bind request. Configured channels keep
// their leases alive for as long as the process runs.
func (ch ChannelConfig) BindRequest() binding.BindRequest {
	return binding.BindRequest{
		Name:            ch.Name,
		Type:            ch.Type,
		Local:           ch.Local,
		Remote:          ch.Remote,
		Mode:            ch.Mode,
		LeaseDuration:   ch.LeaseDuration,
		AutoRenew:       true,
		PollInterval:    ch.PollInterval,
		SendRate:        ch.SendRate,
		SendBurst:       ch.SendBurst,
		DeliveryWorkers: ch.DeliveryWorkers,
		DeliveryQueue:   ch.DeliveryQueue,
	}
}

// FactoryConfig returns the binding factory settings.
func (c *Config) FactoryConfig() binding.Config {
	cfg := binding.DefaultConfig()
	cfg.RegistryMode = c.Registry.Mode
	if c.Registry.Shards > 0 {
		cfg.Shards = c.Registry.Shards
	}
	cfg.WaitTimeout = c.Registry.WaitTimeout
	cfg.DefaultLeaseDuration = c.Lease.DefaultDuration
	if c.Lease.CancelTimeout > 0 {
		cfg.CancelTimeout = c.Lease.CancelTimeout
	}
	return cfg
}

// LeaseManagerConfig returns the lease manager settings.
func (c *Config) LeaseManagerConfig() lease.ManagerConfig {
	return lease.ManagerConfig{MaxDuration: c.Lease.MaxDuration}
}

// String returns the config as indented JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	clone := *c
	clone.Channels = append([]ChannelConfig(nil), c.Channels...)
	clone.NATS.URLs = append([]string(nil), c.NATS.URLs...)
	return &clone
}

// SafeConfig guards a Config shared between goroutines.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig wraps cfg. A nil cfg means Default().
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update validates cfg and swaps it in.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg.Clone()
	return nil
}

// Loader loads configuration files in layers over Default(), then applies environment
// overrides.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	limits     Limits
}

// NewLoader creates a loader reading TUPLESTREAMS_* overrides under DefaultLimits.
func NewLoader() *Loader {
	return &Loader{envPrefix: "TUPLESTREAMS", limits: DefaultLimits()}
}

// SetLimits replaces the file and environment limits. Zero fields keep their defaults.
func (l *Loader) SetLimits(lim Limits) {
	l.limits = lim.withDefaults()
}

// AddLayer adds a file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation makes Load validate the merged configuration.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads a single file over the defaults.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges every layer over the defaults.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		merged = deepMergeMaps(merged, raw)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "encode merged config")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode merged config")
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "environment overrides")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// loadRaw reads a JSON or YAML file into a map with durations converted to nanoseconds.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := l.limits.readFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if isYAML(path) {
		err = yaml.Unmarshal(data, &raw)
	} else {
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, err
	}
	if err := l.limits.checkDepth(raw); err != nil {
		return nil, err
	}
	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMergeMaps merges override into base. Nested maps merge; everything else, lists
// included, is replaced.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// durationFields lists, per section, the keys holding durations.
var durationFields = map[string][]string{
	"registry": {"wait_timeout"},
	"lease":    {"default_duration", "max_duration", "cancel_timeout"},
	"store":    {"ttl"},
	"nats":     {"reconnect_wait"},
}

var channelDurationFields = []string{"lease_duration", "poll_interval"}

// parseDurations converts duration strings to nanoseconds for json unmarshaling.
func parseDurations(data map[string]any) error {
	for section, keys := range durationFields {
		m, ok := data[section].(map[string]any)
		if !ok {
			continue
		}
		if err := convertDurations(m, keys, section); err != nil {
			return err
		}
	}
	channels, ok := data["channels"].([]any)
	if !ok {
		return nil
	}
	for i, ch := range channels {
		m, ok := ch.(map[string]any)
		if !ok {
			continue
		}
		if err := convertDurations(m, channelDurationFields, fmt.Sprintf("channels[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

func convertDurations(m map[string]any, keys []string, section string) error {
	for _, key := range keys {
		s, ok := m[key].(string)
		if !ok {
			continue
		}
		d, err := parseDurationWithDays(s)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", section, key, err)
		}
		m[key] = d.Nanoseconds()
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d").
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	lookup := func(name string) (string, bool, error) {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		if val == "" {
			return "", false, nil
		}
		if err := l.limits.checkEnv(key, val); err != nil {
			return "", false, err
		}
		return val, true, nil
	}

	if val, ok, err := lookup("NATS_URLS"); err != nil {
		return err
	} else if ok {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val, ok, err := lookup("STORE_BACKEND"); err != nil {
		return err
	} else if ok {
		cfg.Store.Backend = val
	}
	if val, ok, err := lookup("REGISTRY_MODE"); err != nil {
		return err
	} else if ok {
		cfg.Registry.Mode = val
	}
	if val, ok, err := lookup("METRICS_PORT"); err != nil {
		return err
	} else if ok {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_METRICS_PORT: %w", l.envPrefix, err)
		}
		cfg.Metrics.Port = port
	}
	return nil
}
