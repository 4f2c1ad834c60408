package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ADMIN_EMAIL", "support@edufund.test")
	t.Setenv("AUTH_TIMEOUT", "not-a-duration")

	cfg := Load()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, AuthRemote, cfg.AuthMode)
	assert.False(t, cfg.AllowInsecureDecode)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, 5*time.Second, cfg.AuthTimeout)
	assert.Equal(t, 10*time.Second, cfg.WSAuthTimeout)
	assert.False(t, cfg.AllowPeerChat)

	// an unset environment must not come up trusting unsigned tokens
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_PROVIDER_URL")

	t.Setenv("AUTH_PROVIDER_URL", "https://id.example.test")
	require.NoError(t, Load().Validate())
}

func TestDecodeModeNeedsOptIn(t *testing.T) {
	t.Setenv("ADMIN_EMAIL", "support@edufund.test")
	t.Setenv("AUTH_MODE", "decode")

	err := Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_ALLOW_INSECURE_DECODE")

	t.Setenv("AUTH_ALLOW_INSECURE_DECODE", "true")
	cfg := Load()
	assert.True(t, cfg.AllowInsecureDecode)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTH_MODE", "Remote")
	t.Setenv("AUTH_PROVIDER_URL", "https://id.example.test/")
	t.Setenv("ALLOW_PEER_CHAT", "true")
	t.Setenv("NOTIFY_COOLDOWN", "90s")

	cfg := Load()
	assert.Equal(t, AuthRemote, cfg.AuthMode)
	assert.Equal(t, "https://id.example.test", cfg.AuthProviderURL)
	assert.True(t, cfg.AllowPeerChat)
	assert.Equal(t, 90*time.Second, cfg.NotifyCooldown)
}

func valid() Config {
	return Config{
		Env:           "development",
		AuthMode:      AuthSecret,
		JWTSecret:     "s3cret",
		AdminEmail:    "support@edufund.test",
		StoreDriver:   DriverMemory,
		AuthTimeout:   time.Second,
		WSAuthTimeout: time.Second,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"ok", func(*Config) {}, ""},
		{"decode with opt-in", func(c *Config) { c.AuthMode = AuthDecode; c.AllowInsecureDecode = true }, ""},
		{"decode without opt-in", func(c *Config) { c.AuthMode = AuthDecode }, "AUTH_ALLOW_INSECURE_DECODE"},
		{"decode refused in production", func(c *Config) {
			c.AuthMode = AuthDecode
			c.AllowInsecureDecode = true
			c.Env = "production"
			c.StoreDriver = DriverSQLite
			c.SQLITEDsn = "x.db"
		}, "refused in production"},
		{"secret needs key", func(c *Config) { c.JWTSecret = "" }, "AUTH_JWT_SECRET"},
		{"remote needs url", func(c *Config) { c.AuthMode = AuthRemote }, "AUTH_PROVIDER_URL"},
		{"unknown mode", func(c *Config) { c.AuthMode = "trust-me" }, "unknown AUTH_MODE"},
		{"admin email", func(c *Config) { c.AdminEmail = "" }, "ADMIN_EMAIL"},
		{"postgres url", func(c *Config) { c.StoreDriver = DriverPostgres; c.PostgresDsn = "host=db user=chat" }, "postgres:// URL"},
		{"sendgrid sender", func(c *Config) { c.SendGridAPIKey = "SG.key" }, "SENDGRID_FROM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
