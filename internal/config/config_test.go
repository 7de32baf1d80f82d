package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/realtygenie/nurture-scheduler/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, 8, cfg.SendWindowStart)
	require.Equal(t, 20, cfg.SendWindowEnd)
	require.Equal(t, []int{0, 10, 20, 30}, cfg.SendDays)
	require.Equal(t, 100, cfg.DispatchBatch)
	require.Equal(t, time.Hour, cfg.PollInterval)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, 90, cfg.RetentionDays)
	require.Equal(t, "dummy", cfg.Transport)
	require.Equal(t, "America/Toronto", cfg.DefaultTimezone)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SEND_WINDOW_START", "9")
	t.Setenv("SEND_WINDOW_END", "17")
	t.Setenv("SEND_DAYS", "0,5,15")
	t.Setenv("POLL_INTERVAL", "15m")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, 9, cfg.SendWindowStart)
	require.Equal(t, 17, cfg.SendWindowEnd)
	require.Equal(t, []int{0, 5, 15}, cfg.SendDays)
	require.Equal(t, 15*time.Minute, cfg.PollInterval)
}

func TestLoadRejectsInvertedWindow(t *testing.T) {
	t.Setenv("SEND_WINDOW_START", "20")
	t.Setenv("SEND_WINDOW_END", "8")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownTransport(t *testing.T) {
	t.Setenv("TRANSPORT", "carrier-pigeon")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadMailgunRequiresCredentials(t *testing.T) {
	t.Setenv("TRANSPORT", "mailgun")

	_, err := config.Load()
	require.Error(t, err)

	t.Setenv("MAILGUN_API_KEY", "key-123")
	t.Setenv("MAILGUN_DOMAIN", "mg.example.com")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "postmaster@mg.example.com", cfg.MailgunSender)
}
