package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Database: DatabaseConfig{Host: "localhost", User: "postgres", DBName: "payorder"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Payment: PaymentConfig{
			DefaultChannel: ChannelPayme,
			LinkTimeout:    5 * time.Second,
			Payme:          PaymeConfig{MerchantID: "m-1", Key: "secret"},
		},
	}
}

func TestValidate(t *testing.T) {
	t.Run("Valid payme config", func(t *testing.T) {
		cfg := validConfig()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Missing payme key", func(t *testing.T) {
		cfg := validConfig()
		cfg.Payment.Payme.Key = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("Unknown default channel", func(t *testing.T) {
		cfg := validConfig()
		cfg.Payment.DefaultChannel = "paypal"
		assert.Error(t, cfg.Validate())
	})

	t.Run("Short JWT secret", func(t *testing.T) {
		cfg := validConfig()
		cfg.JWT.Secret = "short"
		assert.Error(t, cfg.Validate())
	})
}

func TestPaymeActiveKey(t *testing.T) {
	c := PaymeConfig{Key: "live", TestKey: "test", IsTestMode: true}
	assert.Equal(t, "test", c.ActiveKey())
	c.IsTestMode = false
	assert.Equal(t, "live", c.ActiveKey())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
payment:
  payme:
    merchant_id: "merchant-1"
    key: "file-key"
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("APP_ENV", "")
	t.Setenv("PAYORDER_PAYMENT_PAYME_KEY", "env-key")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "merchant-1", cfg.Payment.Payme.MerchantID)
	assert.Equal(t, "env-key", cfg.Payment.Payme.Key)
	assert.Equal(t, ChannelPayme, cfg.Payment.DefaultChannel)
	assert.Equal(t, 5*time.Second, cfg.Payment.LinkTimeout)
	assert.Equal(t, "dev", cfg.App.Env)
}
