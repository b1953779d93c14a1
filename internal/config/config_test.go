// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "https://avia.unipix.com.br/#/login", cfg.Login.URL)
	assert.Equal(t, 500, cfg.Report.PageSize)
	assert.Equal(t, 50, cfg.Report.MaxPages)
	assert.Equal(t, 180*time.Second, cfg.Report.Timeout)
	assert.Equal(t, ".unipix.com.br", cfg.Report.CookieDomain)
	assert.Equal(t, 3, cfg.Channel.StableThreshold)
	assert.Equal(t, 5, cfg.Channel.ParseAttempts)
	assert.Equal(t, 60*time.Second, cfg.Channel.PreDelay)
	assert.False(t, cfg.Browser.Headless)
}

func TestConfigValidation(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate(), "default config should validate")

	t.Run("missing login url", func(t *testing.T) {
		bad := *cfg
		bad.Login.URL = ""
		err := bad.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "login.url")
	})

	t.Run("non positive page size", func(t *testing.T) {
		bad := *cfg
		bad.Report.PageSize = 0
		err := bad.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "report.page_size")
	})

	t.Run("non positive stable threshold", func(t *testing.T) {
		bad := *cfg
		bad.Channel.StableThreshold = -1
		err := bad.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "channel.stable_threshold")
	})

	t.Run("non positive poll interval", func(t *testing.T) {
		bad := *cfg
		bad.Channel.PollInterval = 0
		err := bad.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "channel.poll_interval")
	})
}

func TestNewConfigFromViper(t *testing.T) {
	yamlConfig := []byte(`
login:
  username: someone@example.gov.br
  settle_time: 2s
channel:
  path: /srv/shared/cod_unipix.csv
  poll_interval: 1s
report:
  page_size: 250
  requests_per_second: 1.5
folders:
  input: /tmp/unipix/input
`)

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "someone@example.gov.br", cfg.Login.Username)
	assert.Equal(t, 2*time.Second, cfg.Login.SettleTime)
	assert.Equal(t, "/srv/shared/cod_unipix.csv", cfg.Channel.Path)
	assert.Equal(t, time.Second, cfg.Channel.PollInterval)
	assert.Equal(t, 250, cfg.Report.PageSize)
	assert.Equal(t, 1.5, cfg.Report.RequestsPerSecond)
	assert.Equal(t, "/tmp/unipix/input", cfg.Folders.Input)

	// Untouched values keep their defaults.
	assert.Equal(t, 3*time.Minute, cfg.Channel.MaxWait)
	assert.Equal(t, ".unipix.com.br", cfg.Report.CookieDomain)
}

func TestNewConfigFromViperValidationFailure(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("report.page_size", 0)

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
