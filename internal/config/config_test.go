package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_SERVER_ADDR", ":9090")
	t.Setenv("APP_BACKEND_API_KEY", "k-123")
	t.Setenv("APP_BACKEND_RPC_TIMEOUT_MS", "1500")
	t.Setenv("APP_STORE_DRIVER", "SQLite")
	t.Setenv("APP_DEVICE_HWID", "HELIOS-YVRQ C5B-A3D")

	cfg := Load()

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "k-123", cfg.Backend.APIKey)
	assert.Equal(t, 1500*time.Millisecond, cfg.RPCTimeout())
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "HELIOS-YVRQ C5B-A3D", cfg.Device.HWID)
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 20*time.Second, cfg.RPCTimeout())
	assert.Equal(t, 5, cfg.Backend.ConfirmMaxAttempts)
	assert.Equal(t, time.Second, cfg.ConfirmBackoff())
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.True(t, cfg.Consent.Enabled)
	assert.Equal(t, "echo-analytics", cfg.Analytics.KafkaTopic)
	assert.Equal(t, 199*time.Second, cfg.RequestTimeout())
}

func TestValidate_RequestTimeoutCoversWorstCaseFlow(t *testing.T) {
	tests := []struct {
		name       string
		configured int
		rpcMS      int
		want       time.Duration
	}{
		{"derived from defaults", 0, 20000, 199 * time.Second},
		{"too short is raised", 180, 20000, 199 * time.Second},
		{"longer is kept", 300, 20000, 300 * time.Second},
		{"rounded up to seconds", 0, 1500, 33 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.Server.RequestTimeoutSeconds = tt.configured
			c.Backend.RPCTimeoutMS = tt.rpcMS
			c.Backend.ConfirmBackoffMS = 1000
			validate(&c)

			assert.Equal(t, tt.want, c.RequestTimeout())
			assert.GreaterOrEqual(t, c.RequestTimeout(), c.FlowBudget())
		})
	}
}

func TestValidate_FillsZeroValues(t *testing.T) {
	var c Config
	c.Backend.APIFrontend = "https://example.test/v1/"
	validate(&c)

	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "https://example.test/v1", c.Backend.APIFrontend)
	assert.Equal(t, 5432, c.Postgres.Port)
	assert.Equal(t, "disable", c.Postgres.SSLMode)
	assert.Equal(t, 5*time.Second, c.Backoff())
	assert.Equal(t, "postgres://:@:5432/?sslmode=disable", c.DSN())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}
