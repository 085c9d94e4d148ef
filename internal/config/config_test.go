package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, BackendLog, cfg.Notify.Backend)
	assert.Equal(t, "Safe Spaces", cfg.Notify.Title)
	assert.Equal(t, 256, cfg.Notify.QueueSize)
	assert.Equal(t, 10*time.Minute, cfg.Location.MaxFixAge)
	assert.Equal(t, "safespaces", cfg.Tracing.ServiceName)
	assert.Nil(t, cfg.SchedulerLocation())
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "safespaces.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
person:
  name: Alex
http:
  addr: 127.0.0.1:9090
notify:
  backend: webhook
  webhook:
    url: http://localhost:9999/hook
    timeout: 2s
location:
  max_fix_age: 90s
scheduler:
  timezone: UTC
`), 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "Alex", cfg.Person.Name)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTP.Addr)
	assert.Equal(t, BackendWebhook, cfg.Notify.Backend)
	assert.Equal(t, 2*time.Second, cfg.Notify.Webhook.Timeout)
	assert.Equal(t, 90*time.Second, cfg.Location.MaxFixAge)
	assert.Equal(t, time.UTC, cfg.SchedulerLocation())
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "safespaces.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  addr: :7000\n"), 0o644))
	t.Setenv("SAFESPACES_HTTP_ADDR", ":7100")
	t.Setenv("SAFESPACES_NOTIFY_QUEUE_SIZE", "8")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, ":7100", cfg.HTTP.Addr)
	assert.Equal(t, 8, cfg.Notify.QueueSize)
}

func TestDotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SAFESPACES_PERSON_NAME=Robin\n"), 0o644))
	// Registered so the variable is removed again when the test ends.
	t.Setenv("SAFESPACES_PERSON_NAME", "")
	require.NoError(t, os.Unsetenv("SAFESPACES_PERSON_NAME"))

	cfg, err := Load(viper.New(), "", path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "Robin", cfg.Person.Name)
}

func TestValidateRejectsBadBackendSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown backend", env: map[string]string{"SAFESPACES_NOTIFY_BACKEND": "carrier-pigeon"}},
		{name: "sns without arn", env: map[string]string{"SAFESPACES_NOTIFY_BACKEND": "sns"}},
		{name: "webhook without url", env: map[string]string{"SAFESPACES_NOTIFY_BACKEND": "webhook"}},
		{name: "bad timezone", env: map[string]string{"SAFESPACES_SCHEDULER_TIMEZONE": "Mars/Olympus"}},
		{name: "zero workers", env: map[string]string{"SAFESPACES_NOTIFY_WORKERS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(viper.New(), "")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load(viper.New(), filepath.Join("..", "..", "examples", "safespaces.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "Alex", cfg.Person.Name)
	assert.Equal(t, BackendWebhook, cfg.Notify.Backend)
	assert.Equal(t, 4, cfg.Notify.Workers)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
	assert.InDelta(t, 0.25, cfg.Tracing.SampleRatio, 1e-9)
	assert.Equal(t, 5*time.Minute, cfg.Location.MaxFixAge)
	require.NotNil(t, cfg.SchedulerLocation())
	assert.Equal(t, "Europe/London", cfg.SchedulerLocation().String())
}
