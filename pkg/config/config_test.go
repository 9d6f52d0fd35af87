package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_SampleConfig(t *testing.T) {
	cfg, err := Load("../../config/worker.yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateWorker())

	assert.Equal(t, "hnsync", cfg.App.Name)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, int64(40), cfg.Portal.SoftLimit)
	assert.Equal(t, int64(50), cfg.Portal.HardLimit)
	assert.Equal(t, 10*time.Minute, cfg.Workers[0].Subscriber.TTR)
	assert.Equal(t, 5*time.Minute, cfg.Workers[0].Processor.Timeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Sync.Delays.Scan)
	assert.Equal(t, 22.0, cfg.Sync.PayRates.VehicleMPG)
	assert.Equal(t, 20, cfg.Sync.MaxContinuations)
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("HNSYNC_CREDENTIALS_KEY", "from-env")

	cfg, err := Load("../../config/worker.yaml")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Credentials.Key)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "hns_sync", cfg.Lmstfy.Queue)
	assert.Equal(t, 10, cfg.Sync.LockRetries)
	assert.Equal(t, 5*time.Minute, cfg.Sync.LockTTL)
	assert.Equal(t, "hns_sync_complete", cfg.Redis.NotifyChannel)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:    AppConfig{Name: "hnsync"},
			Store:  StoreConfig{Driver: "memory"},
			Portal: PortalConfig{BaseURL: "https://portal.test", OrderPath: "/view?id=%s", Timezone: "UTC", SoftLimit: 40, HardLimit: 50},
			Sync:   SyncConfig{LockRetries: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing base url", func(c *Config) { c.Portal.BaseURL = "" }, "portal.base_url is required"},
		{"order path placeholder", func(c *Config) { c.Portal.OrderPath = "/view" }, "placeholder"},
		{"soft above hard", func(c *Config) { c.Portal.SoftLimit = 60 }, "must not exceed"},
		{"bad timezone", func(c *Config) { c.Portal.Timezone = "Mars/Olympus" }, "portal.timezone invalid"},
		{"redis without addr", func(c *Config) { c.Store.Driver = "redis" }, "redis.addr is required"},
		{"mysql without dsn", func(c *Config) { c.Store.Driver = "mysql" }, "mysql.dsn is required"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "etcd" }, "unknown store.driver"},
		{"lock retries", func(c *Config) { c.Sync.LockRetries = 0 }, "sync.lock_retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateWorker(t *testing.T) {
	c := &Config{
		App:    AppConfig{Name: "hnsync"},
		Store:  StoreConfig{Driver: "memory"},
		Portal: PortalConfig{BaseURL: "https://portal.test", OrderPath: "/view?id=%s", Timezone: "UTC"},
		Sync:   SyncConfig{LockRetries: 1},
	}
	assert.ErrorContains(t, c.ValidateWorker(), "lmstfy.host is required")

	c.Lmstfy.Host = "127.0.0.1"
	assert.ErrorContains(t, c.ValidateWorker(), "at least one worker")

	c.Workers = []WorkerConfig{{Name: "w", QueueName: "hns_sync"}}
	assert.ErrorContains(t, c.ValidateWorker(), "callback_queue is required")

	c.Workers[0].CallbackQueue = "cb"
	assert.ErrorContains(t, c.ValidateWorker(), "threads must be positive")

	c.Workers[0].Subscriber.Threads = 1
	c.Workers[0].Processor.Threads = 1
	assert.NoError(t, c.ValidateWorker())
}

func TestLocation(t *testing.T) {
	c := &Config{Portal: PortalConfig{Timezone: "nope"}}
	assert.Equal(t, time.UTC, c.Location())
}
