package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
mysql:
  host: db
  port: 3306
  user: u
  password: p
  database: ledger
kafka:
  brokers: ["k1:9092"]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "kafka", cfg.MQ.Provider)
	assert.Equal(t, "redis", cfg.Lock.Provider)
	assert.Equal(t, 3*time.Second, cfg.Lock.WaitTimeout)
	assert.Equal(t, 5, cfg.Business.MaxRetryCount)
	assert.Equal(t, "ledger_event", cfg.Kafka.Topic.LedgerEvent)
	assert.Equal(t, "u:p@tcp(db:3306)/ledger?charset=utf8mb4&parseTime=True&loc=Local", cfg.MySQL.DSN())
	assert.Same(t, cfg, GlobalConfig)
}

func TestLoadConfigParsesDurationsAndRates(t *testing.T) {
	path := writeConfig(t, `
mq:
  provider: nats
nats:
  url: nats://n:4222
lock:
  provider: local
  wait_timeout: 250ms
pricing:
  policy: rate
  mode_rates:
    vip: "0.80"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Lock.WaitTimeout)
	assert.Equal(t, "0.80", cfg.Pricing.ModeRates["vip"])
	assert.Equal(t, "local", cfg.Lock.Provider)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, `
kafka:
  brokers: ["k1:9092"]
server:
  port: 8080
`)
	t.Setenv("LEDGER_SERVER_PORT", "9090")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestValidateRejectsBadProviders(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "mq:\n  provider: rabbit\n"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "mq:\n  provider: kafka\n"))
	assert.Error(t, err, "kafka without brokers")

	_, err = LoadConfig(writeConfig(t, "kafka:\n  brokers: [\"k:1\"]\nlock:\n  provider: etcd\n"))
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
