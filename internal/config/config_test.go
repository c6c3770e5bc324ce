package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NutriChat/internal/session"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"NUTRICHAT_GATEWAY_URL", "NUTRICHAT_TIMEOUT", "NUTRICHAT_LOG_DIR",
		"NUTRICHAT_DEBUG", "NUTRICHAT_TELEMETRY", "NUTRICHAT_METRICS_INTERVAL",
	} {
		t.Setenv(k, "")
	}
	// An empty NUTRICHAT_LEDGER means "off", so it has to be unset, not blanked.
	t.Setenv("NUTRICHAT_LEDGER", "")
	require.NoError(t, os.Unsetenv("NUTRICHAT_LEDGER"))
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultGatewayURL, cfg.GatewayURL)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultLogDir, cfg.LogDir)
	assert.Equal(t, DefaultLedgerPath, cfg.LedgerPath)
	assert.True(t, cfg.Telemetry)
	assert.Equal(t, DefaultMetricsInterval, cfg.MetricsInterval)
	assert.Equal(t, session.DefaultGreeting, cfg.Greeting)
	assert.Equal(t, session.DefaultFallback, cfg.Fallback)
	assert.False(t, cfg.Debug)
}

func TestLoadEnvThenFlags(t *testing.T) {
	clearEnv(t)
	t.Setenv("NUTRICHAT_GATEWAY_URL", "http://env.example/ask")
	t.Setenv("NUTRICHAT_TIMEOUT", "5s")
	t.Setenv("NUTRICHAT_DEBUG", "true")
	t.Setenv("NUTRICHAT_LEDGER", "")

	cfg, err := Load([]string{"-gateway", "http://flag.example/ask"})
	require.NoError(t, err)
	assert.Equal(t, "http://flag.example/ask", cfg.GatewayURL)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.True(t, cfg.Debug)
	assert.Empty(t, cfg.LedgerPath, "an explicitly empty ledger env disables the ledger")
}

func TestLoadRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "bad timeout env", env: map[string]string{"NUTRICHAT_TIMEOUT": "soon"}},
		{name: "bad debug env", env: map[string]string{"NUTRICHAT_DEBUG": "maybe"}},
		{name: "bad telemetry env", env: map[string]string{"NUTRICHAT_TELEMETRY": "sometimes"}},
		{name: "bad metrics interval env", env: map[string]string{"NUTRICHAT_METRICS_INTERVAL": "often"}},
		{name: "zero metrics interval flag", args: []string{"-metrics-interval", "0s"}},
		{name: "negative timeout flag", args: []string{"-timeout", "-1s"}},
		{name: "unknown flag", args: []string{"-backend", "ollama"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.GatewayURL = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.LogDir = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.MetricsInterval = 0
	assert.Error(t, cfg.Validate())
	cfg.Telemetry = false
	assert.NoError(t, cfg.Validate(), "the interval is unused when telemetry is off")
}

func TestLoadLedgerFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("NUTRICHAT_LEDGER", "/tmp/exchanges.db")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/exchanges.db", cfg.LedgerPath)
}

func TestLoadTelemetrySettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("NUTRICHAT_METRICS_INTERVAL", "30s")

	cfg, err := Load([]string{"-telemetry=false"})
	require.NoError(t, err)
	assert.False(t, cfg.Telemetry)
	assert.Equal(t, 30*time.Second, cfg.MetricsInterval)
}
