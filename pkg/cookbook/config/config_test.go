package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

// parse runs a throwaway command with the global flags and returns its Config
func parse(t *testing.T, args ...string) (*Config, error) {
	t.Helper()

	var (
		cfg    *Config
		cfgErr error
	)
	cmd := &cli.Command{
		Name:  "test",
		Flags: Flags(),
		Action: func(_ context.Context, c *cli.Command) error {
			cfg, cfgErr = FromCommand(c)
			return nil
		},
	}
	require.NoError(t, cmd.Run(context.Background(), append([]string{"test"}, args...)))
	return cfg, cfgErr
}

func TestDefaults(t *testing.T) {
	cfg, err := parse(t)
	require.NoError(t, err)

	assert.Equal(t, "cookbook.db", cfg.DBPath)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "media", cfg.MediaRoot)
	assert.Equal(t, 1.0, cfg.TokenRate)
	assert.Equal(t, 5, cfg.TokenBurst)
	assert.Equal(t, 30*time.Second, cfg.WaitTimeout)
	assert.Empty(t, cfg.CORSOrigins)
}

func TestFlagsOverrideDefaults(t *testing.T) {
	cfg, err := parse(t,
		"--db-path", "/tmp/x.db",
		"--port", "9000",
		"--jwt-secret", "s3cret",
		"--token-ttl", "1h",
		"--token-rate", "0.5",
		"--token-burst", "2",
		"--cors-origins", "http://a.test, http://b.test",
	)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, ":9000", cfg.Addr())
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, 0.5, cfg.TokenRate)
	assert.Equal(t, 2, cfg.TokenBurst)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestEnvironmentSources(t *testing.T) {
	t.Setenv("COOKBOOK_DB_PATH", "env.db")
	t.Setenv("PORT", "7000")
	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := parse(t)
	require.NoError(t, err)

	assert.Equal(t, "env.db", cfg.DBPath)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, "from-env", cfg.JWTSecret)
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"non-numeric rate", []string{"--token-rate", "fast"}},
		{"zero rate", []string{"--token-rate", "0"}},
		{"zero burst", []string{"--token-burst", "0"}},
		{"bad port", []string{"--port", "http"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestValidateServe(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.ValidateServe())

	cfg.JWTSecret = "x"
	assert.NoError(t, cfg.ValidateServe())
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("COOKBOOK_TEST_VALUE=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("COOKBOOK_TEST_VALUE") })

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "from-file", os.Getenv("COOKBOOK_TEST_VALUE"))

	// Missing files are ignored
	assert.NoError(t, LoadEnv(filepath.Join(dir, "missing.env")))
}

func TestLoadEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("COOKBOOK_TEST_KEEP=file\n"), 0o600))
	t.Setenv("COOKBOOK_TEST_KEEP", "process")

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "process", os.Getenv("COOKBOOK_TEST_KEEP"))
}
