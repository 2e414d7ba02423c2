package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tuplestreams/binding"
	"github.com/c360/tuplestreams/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, binding.RegistryConcurrent, cfg.Registry.Mode)
	assert.Equal(t, StoreBackendMemory, cfg.Store.Backend)
	assert.Equal(t, time.Minute, cfg.Lease.DefaultDuration)
}

func TestLoader_LoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"registry": {"mode": "sync", "wait_timeout": "250ms"},
		"lease": {"default_duration": "30s", "max_duration": "1d"},
		"channels": [
			{"name": "sensors", "local": "0.0.0.0:7400", "remote": "10.0.0.12:7400",
			 "poll_interval": "50ms", "send_rate": 200, "send_burst": 20},
			{"name": "sink", "local": "0.0.0.0:7401", "mode": "in", "lease_duration": 5000000000, "record": true}
		],
		"nats": {"reconnect_wait": "5s"}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, binding.RegistrySync, cfg.Registry.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.Registry.WaitTimeout)
	assert.Equal(t, 30*time.Second, cfg.Lease.DefaultDuration)
	assert.Equal(t, 24*time.Hour, cfg.Lease.MaxDuration)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)

	require.Len(t, cfg.Channels, 2)
	assert.Equal(t, 50*time.Millisecond, cfg.Channels[0].PollInterval)
	assert.Equal(t, 200.0, cfg.Channels[0].SendRate)
	assert.Equal(t, 5*time.Second, cfg.Channels[1].LeaseDuration)
	assert.True(t, cfg.Channels[1].Record)

	// Untouched sections keep their defaults.
	assert.Equal(t, StoreBackendMemory, cfg.Store.Backend)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, []string{"nats://localhost:4222"}, cfg.NATS.URLs)
}

func TestLoader_LoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
registry:
  mode: concurrent
  shards: 4
channels:
  - name: sensors
    local: 127.0.0.1:7400
    remote: 127.0.0.1:7401
    mode: out
    lease_duration: 10s
store:
  backend: kv
  bucket: readings
  ttl: 14d
nats:
  urls: ["nats://a:4222", "nats://b:4222"]
metrics:
  port: 0
`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Registry.Shards)
	assert.Equal(t, StoreBackendKV, cfg.Store.Backend)
	assert.Equal(t, "readings", cfg.Store.Bucket)
	assert.Equal(t, 14*24*time.Hour, cfg.Store.TTL)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 0, cfg.Metrics.Port)
	require.Len(t, cfg.Channels, 1)
	assert.Equal(t, 10*time.Second, cfg.Channels[0].LeaseDuration)
}

func TestLoader_Layers(t *testing.T) {
	base := writeFile(t, "base.json", `{
		"lease": {"default_duration": "30s", "cancel_timeout": "1s"},
		"channels": [{"name": "a", "local": "127.0.0.1:1"}, {"name": "b", "local": "127.0.0.1:2"}]
	}`)
	override := writeFile(t, "site.yml", `
lease:
  default_duration: 45s
channels:
  - name: c
    local: 127.0.0.1:3
`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Lease.DefaultDuration)
	assert.Equal(t, time.Second, cfg.Lease.CancelTimeout, "nested keys merge")
	require.Len(t, cfg.Channels, 1, "lists are replaced whole")
	assert.Equal(t, "c", cfg.Channels[0].Name)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("TUPLESTREAMS_NATS_URLS", "nats://x:4222,nats://y:4222")
	t.Setenv("TUPLESTREAMS_STORE_BACKEND", "kv")
	t.Setenv("TUPLESTREAMS_METRICS_PORT", "9191")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"nats://x:4222", "nats://y:4222"}, cfg.NATS.URLs)
	assert.Equal(t, StoreBackendKV, cfg.Store.Backend)
	assert.Equal(t, 9191, cfg.Metrics.Port)

	t.Setenv("TUPLESTREAMS_METRICS_PORT", "lots")
	_, err = NewLoader().Load()
	assert.True(t, errors.IsInvalid(err))
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad duration", "c.json", `{"lease": {"default_duration": "soon"}}`},
		{"bad channel duration", "c.json", `{"channels": [{"name": "a", "local": "x", "poll_interval": "fast"}]}`},
		{"malformed json", "c.json", `{"lease": {`},
		{"malformed yaml", "c.yaml", "lease: [\n"},
		{"wrong extension", "c.toml", `lease = 1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().LoadFile(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	_, err := NewLoader().LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errors.IsInvalid(err))
}

func TestLoader_Limits(t *testing.T) {
	small := Limits{MaxFileSize: 64, MaxDepth: 3, MaxEnvValue: 8}

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"json too deep", "c.json", `{"a": {"b": {"c": {"d": 1}}}}`},
		{"yaml too deep", "c.yaml", "a:\n  b:\n    - c:\n        d: 1\n"},
		{"file too large", "c.json", `{"nats": {"urls": ["nats://a:4222", "nats://b:4222", "nats://c:4222"]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoader()
			l.SetLimits(small)
			_, err := l.LoadFile(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))

			_, err = NewLoader().LoadFile(writeFile(t, tt.file, tt.content))
			assert.NoError(t, err, "default limits accept it")
		})
	}

	t.Run("env value too long", func(t *testing.T) {
		t.Setenv("TUPLESTREAMS_STORE_BACKEND", "memory-but-longer-than-eight")
		l := NewLoader()
		l.SetLimits(small)
		_, err := l.Load()
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("directory named like a config", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "c.json")
		require.NoError(t, os.Mkdir(dir, 0o755))
		_, err := NewLoader().LoadFile(dir)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("relative path above the working directory", func(t *testing.T) {
		_, err := NewLoader().LoadFile("../../c.json")
		assert.True(t, errors.IsInvalid(err))
	})
}

func TestLimits_CheckEnv(t *testing.T) {
	lim := DefaultLimits()
	assert.NoError(t, lim.checkEnv("K", "nats://a:4222"))
	assert.True(t, errors.IsInvalid(lim.checkEnv("K", "bad\x00value")))

	lim.MaxEnvValue = 2
	assert.True(t, errors.IsInvalid(lim.checkEnv("K", "abc")))
}

func TestLimits_ZeroFieldsKeepDefaults(t *testing.T) {
	l := NewLoader()
	l.SetLimits(Limits{MaxDepth: 2})
	assert.Equal(t, 2, l.limits.MaxDepth)
	assert.Equal(t, DefaultLimits().MaxFileSize, l.limits.MaxFileSize)
	assert.Equal(t, DefaultLimits().MaxEnvValue, l.limits.MaxEnvValue)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown registry mode", func(c *Config) { c.Registry.Mode = "fast" }},
		{"negative shards", func(c *Config) { c.Registry.Shards = -1 }},
		{"negative wait", func(c *Config) { c.Registry.WaitTimeout = -time.Second }},
		{"zero lease", func(c *Config) { c.Lease.DefaultDuration = 0 }},
		{"default over max", func(c *Config) { c.Lease.MaxDuration = time.Second }},
		{"duplicate channel", func(c *Config) {
			c.Channels = []ChannelConfig{{Name: "a", Local: "x"}, {Name: "a", Local: "y"}}
		}},
		{"channel without local", func(c *Config) { c.Channels = []ChannelConfig{{Name: "a"}} }},
		{"output channel without remote", func(c *Config) {
			c.Channels = []ChannelConfig{{Name: "a", Local: "x", Mode: "out"}}
		}},
		{"recording output channel", func(c *Config) {
			c.Channels = []ChannelConfig{{Name: "a", Local: "x", Remote: "y", Mode: "out", Record: true}}
		}},
		{"stream channel", func(c *Config) { c.Channels = []ChannelConfig{{Name: "a", Local: "x", Type: "tcp"}} }},
		{"negative rate", func(c *Config) { c.Channels = []ChannelConfig{{Name: "a", Local: "x", SendRate: -1}} }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "sql" }},
		{"kv without bucket", func(c *Config) { c.Store.Backend = StoreBackendKV; c.Store.Bucket = "" }},
		{"kv without nats", func(c *Config) { c.Store.Backend = StoreBackendKV; c.NATS.URLs = nil }},
		{"metrics port", func(c *Config) { c.Metrics.Port = 70000 }},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConfig_Conversions(t *testing.T) {
	cfg := Default()
	cfg.Registry = RegistryConfig{Mode: binding.RegistrySync, WaitTimeout: time.Second}
	cfg.Lease.MaxDuration = time.Hour

	fc := cfg.FactoryConfig()
	assert.Equal(t, binding.RegistrySync, fc.RegistryMode)
	assert.Equal(t, time.Second, fc.WaitTimeout)
	assert.Equal(t, binding.DefaultConfig().Shards, fc.Shards, "zero shards keeps the default")
	assert.Equal(t, time.Minute, fc.DefaultLeaseDuration)
	assert.Equal(t, time.Hour, cfg.LeaseManagerConfig().MaxDuration)

	req := ChannelConfig{Name: "a", Local: "127.0.0.1:0", SendRate: 5, DeliveryWorkers: 2}.BindRequest()
	assert.True(t, req.AutoRenew)
	assert.Equal(t, 2, req.DeliveryWorkers)
	assert.NoError(t, req.Validate())
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(nil)
	got := sc.Get()
	got.Channels = append(got.Channels, ChannelConfig{Name: "a", Local: "x"})
	assert.Empty(t, sc.Get().Channels, "Get returns a copy")

	require.NoError(t, sc.Update(got))
	assert.Len(t, sc.Get().Channels, 1)

	bad := Default()
	bad.Store.Backend = "sql"
	assert.True(t, errors.IsInvalid(sc.Update(bad)))
	assert.True(t, errors.Is(sc.Update(nil), errors.ErrMissingConfig))
	assert.Len(t, sc.Get().Channels, 1)
}
