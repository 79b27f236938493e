package main_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	main "github.com/piwi3910/vnfm/cmd/vnfm"
	"github.com/piwi3910/vnfm/internal/asyncpoll"
	"github.com/piwi3910/vnfm/internal/config"
	"github.com/piwi3910/vnfm/internal/grant"
)

func newScheduler(t *testing.T) *asyncpoll.Scheduler {
	t.Helper()
	sched := asyncpoll.NewScheduler(asyncpoll.RealClock{}, zap.NewNop(), nil)
	t.Cleanup(sched.Stop)
	return sched
}

func TestBuildRedisConfig(t *testing.T) {
	t.Run("standalone", func(t *testing.T) {
		cfg := &config.Config{Redis: config.RedisConfig{
			Mode:        "standalone",
			Addresses:   []string{"redis-0:6379", "redis-1:6379"},
			DB:          2,
			PoolSize:    20,
			DialTimeout: time.Second,
		}}

		got := main.BuildRedisConfig(cfg)
		assert.False(t, got.UseSentinel)
		assert.Equal(t, "redis-0:6379", got.Addr)
		assert.Equal(t, 2, got.DB)
		assert.Equal(t, 20, got.PoolSize)
		assert.Equal(t, time.Second, got.DialTimeout)
	})

	t.Run("standalone without addresses", func(t *testing.T) {
		got := main.BuildRedisConfig(&config.Config{Redis: config.RedisConfig{Mode: "standalone"}})
		assert.Equal(t, "localhost:6379", got.Addr)
	})

	t.Run("sentinel", func(t *testing.T) {
		cfg := &config.Config{Redis: config.RedisConfig{
			Mode:       "sentinel",
			Addresses:  []string{"sentinel-0:26379", "sentinel-1:26379"},
			MasterName: "mymaster",
			Password:   "secret",
		}}

		got := main.BuildRedisConfig(cfg)
		assert.True(t, got.UseSentinel)
		assert.Equal(t, []string{"sentinel-0:26379", "sentinel-1:26379"}, got.SentinelAddrs)
		assert.Equal(t, "mymaster", got.MasterName)
		assert.Equal(t, "secret", got.Password)
		assert.Empty(t, got.Addr)
	})
}

func TestInitializeGrants(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		cfg := &config.Config{NFVO: config.NFVOConfig{Mode: config.NFVOModeLocal, Zones: []string{"az-1"}}}

		grants, err := main.InitializeGrants(cfg, newScheduler(t), zap.NewNop(), nil)
		require.NoError(t, err)
		local, ok := grants.(*grant.LocalNFVO)
		require.True(t, ok)
		assert.Equal(t, []string{"az-1"}, local.Zones)
	})

	t.Run("external", func(t *testing.T) {
		cfg := &config.Config{NFVO: config.NFVOConfig{
			Mode:                 config.NFVOModeExternal,
			Endpoint:             "https://nfvo.example.com",
			Timeout:              5 * time.Second,
			DefaultRetryInterval: time.Second,
			MaxRetryWait:         time.Minute,
		}}

		grants, err := main.InitializeGrants(cfg, newScheduler(t), zap.NewNop(), nil)
		require.NoError(t, err)
		_, ok := grants.(*grant.Client)
		assert.True(t, ok)
	})
}

func TestInitializeInfra(t *testing.T) {
	t.Run("mock driver", func(t *testing.T) {
		cfg := &config.Config{Infra: config.InfraConfig{
			Mock:         true,
			PollInterval: time.Second,
			Timeout:      time.Minute,
		}}

		registry, manager, err := main.InitializeInfra(cfg, newScheduler(t), zap.NewNop(), nil)
		require.NoError(t, err)
		require.NotNil(t, registry)
		require.NotNil(t, manager)

		meta := registry.ListMetadata()
		require.Len(t, meta, 1)
		assert.True(t, meta[0].Default)
		assert.Equal(t, "mock", meta[0].Name)
	})

	t.Run("no driver", func(t *testing.T) {
		cfg := &config.Config{Infra: config.InfraConfig{PollInterval: time.Second, Timeout: time.Minute}}

		_, _, err := main.InitializeInfra(cfg, newScheduler(t), zap.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no infra driver enabled")
	})
}

func TestInitializeLogger(t *testing.T) {
	t.Run("configured level", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "")
		cfg := &config.Config{
			Environment:   "test",
			Observability: config.ObservabilityConfig{Logging: config.LoggingConfig{Level: "warn"}},
		}

		logger, err := main.InitializeLogger(cfg)
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(zap.InfoLevel))
		assert.True(t, logger.Core().Enabled(zap.WarnLevel))
	})

	t.Run("environment overrides configured level", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "debug")
		cfg := &config.Config{
			Environment:   "production",
			Observability: config.ObservabilityConfig{Logging: config.LoggingConfig{Level: "error"}},
		}

		logger, err := main.InitializeLogger(cfg)
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("invalid environment", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "")
		_, err := main.InitializeLogger(&config.Config{Environment: "qa"})
		require.Error(t, err)
	})
}
