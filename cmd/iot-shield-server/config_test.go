package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/EternisAI/iot-shield/internal/firmware"
	"github.com/EternisAI/iot-shield/internal/fleet"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("DATABASE_URL", "")
	t.Chdir(t.TempDir())

	cfg, err := loadConfig(viper.New(), nil)
	require.NoError(t, err)

	assert.Equal(t, uint(8080), cfg.Http.Port)
	assert.Equal(t, 9090, cfg.Grpc.Port)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 5*time.Second, cfg.Deploy.Delay)
	assert.Equal(t, 2*time.Second, cfg.Firmware.Delay)
	assert.Equal(t, fleet.SignatureRSA4096, cfg.Firmware.Algorithm)
	assert.Equal(t, 30*time.Second, cfg.Advisory.Timeout)
	assert.False(t, cfg.DB.Enabled())
}

func TestLoadConfigFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  port: 9000
auth:
  jwt_secret: from-file
deploy:
  delay: 250ms
  fail_offline: true
firmware:
  algorithm: ECC-P256
`), 0o600))

	t.Setenv("GEMINI_API_KEY", "gem-key")

	cfg, err := loadConfig(viper.New(), []string{"--config", path, "--http-port", "7000"})
	require.NoError(t, err)

	assert.Equal(t, uint(7000), cfg.Http.Port)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 250*time.Millisecond, cfg.Deploy.Delay)
	assert.True(t, cfg.Deploy.FailOffline)
	assert.Equal(t, "gem-key", cfg.Advisory.APIKey)
	assert.Equal(t, fleet.SignatureECCP256, cfg.Firmware.Algorithm)
}

func TestDefaultFirmwareSignerIsRSA4096(t *testing.T) {
	if testing.Short() {
		t.Skip("RSA-4096 key generation is slow")
	}
	t.Setenv("JWT_SECRET", "from-env")
	t.Chdir(t.TempDir())

	cfg, err := loadConfig(viper.New(), nil)
	require.NoError(t, err)

	signer, err := firmware.LoadOrGenerateSigner(cfg.Firmware.Algorithm, "")
	require.NoError(t, err)
	assert.Equal(t, fleet.SignatureRSA4096, signer.Algorithm())
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Chdir(t.TempDir())
	_, err := loadConfig(viper.New(), nil)
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	var cfg Config
	cfg.Auth.JWTSecret = "secret"
	cfg.Advisory.APIKey = "key"

	r := cfg.redacted()
	assert.Equal(t, "******", r.Auth.JWTSecret)
	assert.Equal(t, "******", r.Advisory.APIKey)
	assert.Empty(t, r.DB.Url)
	assert.Equal(t, "secret", cfg.Auth.JWTSecret)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLogLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("verbose"))
}
