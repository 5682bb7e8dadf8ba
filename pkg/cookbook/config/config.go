// Package config collects server settings from flags, the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

const (
	FlagDBPath      = "db-path"
	FlagPort        = "port"
	FlagJWTSecret   = "jwt-secret"
	FlagTokenTTL    = "token-ttl"
	FlagMediaRoot   = "media-root"
	FlagLogLevel    = "log-level"
	FlagLogFormat   = "log-format"
	FlagCORSOrigins = "cors-origins"
	FlagTokenRate   = "token-rate"
	FlagTokenBurst  = "token-burst"
	FlagWaitTimeout = "wait-timeout"
)

// Config holds everything the server commands need
type Config struct {
	DBPath      string
	Port        string
	JWTSecret   string
	TokenTTL    time.Duration
	MediaRoot   string
	LogLevel    string
	LogFormat   string
	CORSOrigins []string
	TokenRate   float64
	TokenBurst  int
	WaitTimeout time.Duration
}

// Addr is the listen address for Port
func (c *Config) Addr() string {
	return ":" + c.Port
}

// LoadEnv reads a .env file into the process environment. Variables that are
// already set win. A missing file is not an error.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Flags returns the global flags, each also readable from the environment.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    FlagDBPath,
			Value:   "cookbook.db",
			Usage:   "SQLite database path",
			Sources: cli.EnvVars("COOKBOOK_DB_PATH"),
		},
		&cli.StringFlag{
			Name:    FlagPort,
			Value:   "8080",
			Usage:   "HTTP listen port",
			Sources: cli.EnvVars("COOKBOOK_PORT", "PORT"),
		},
		&cli.StringFlag{
			Name:    FlagJWTSecret,
			Usage:   "secret used to sign access tokens",
			Sources: cli.EnvVars("COOKBOOK_JWT_SECRET", "JWT_SECRET"),
		},
		&cli.DurationFlag{
			Name:    FlagTokenTTL,
			Value:   24 * time.Hour,
			Usage:   "lifetime of issued access tokens",
			Sources: cli.EnvVars("COOKBOOK_TOKEN_TTL"),
		},
		&cli.StringFlag{
			Name:    FlagMediaRoot,
			Value:   "media",
			Usage:   "directory uploaded images are stored under",
			Sources: cli.EnvVars("COOKBOOK_MEDIA_ROOT"),
		},
		&cli.StringFlag{
			Name:    FlagLogLevel,
			Value:   "info",
			Usage:   "log level (debug, info, warn, error)",
			Sources: cli.EnvVars("COOKBOOK_LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    FlagLogFormat,
			Value:   "text",
			Usage:   "log format (text, json)",
			Sources: cli.EnvVars("COOKBOOK_LOG_FORMAT"),
		},
		&cli.StringSliceFlag{
			Name:    FlagCORSOrigins,
			Usage:   "allowed CORS origins",
			Sources: cli.EnvVars("COOKBOOK_CORS_ORIGINS"),
		},
		&cli.StringFlag{
			Name:    FlagTokenRate,
			Value:   "1",
			Usage:   "token requests per second allowed per client IP",
			Sources: cli.EnvVars("COOKBOOK_TOKEN_RATE"),
		},
		&cli.StringFlag{
			Name:    FlagTokenBurst,
			Value:   "5",
			Usage:   "token requests a client may burst",
			Sources: cli.EnvVars("COOKBOOK_TOKEN_BURST"),
		},
		&cli.DurationFlag{
			Name:    FlagWaitTimeout,
			Value:   30 * time.Second,
			Usage:   "how long to wait for the database",
			Sources: cli.EnvVars("COOKBOOK_WAIT_TIMEOUT"),
		},
	}
}

// FromCommand builds a Config from parsed flags.
func FromCommand(cmd *cli.Command) (*Config, error) {
	cfg := &Config{
		DBPath:      cmd.String(FlagDBPath),
		Port:        cmd.String(FlagPort),
		JWTSecret:   cmd.String(FlagJWTSecret),
		TokenTTL:    cmd.Duration(FlagTokenTTL),
		MediaRoot:   cmd.String(FlagMediaRoot),
		LogLevel:    cmd.String(FlagLogLevel),
		LogFormat:   cmd.String(FlagLogFormat),
		CORSOrigins: splitOrigins(cmd.StringSlice(FlagCORSOrigins)),
		WaitTimeout: cmd.Duration(FlagWaitTimeout),
	}

	rate, err := strconv.ParseFloat(cmd.String(FlagTokenRate), 64)
	if err != nil || rate <= 0 {
		return nil, fmt.Errorf("invalid --%s %q: must be a positive number", FlagTokenRate, cmd.String(FlagTokenRate))
	}
	cfg.TokenRate = rate

	burst, err := strconv.Atoi(cmd.String(FlagTokenBurst))
	if err != nil || burst < 1 {
		return nil, fmt.Errorf("invalid --%s %q: must be a positive integer", FlagTokenBurst, cmd.String(FlagTokenBurst))
	}
	cfg.TokenBurst = burst

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("invalid --%s %q", FlagPort, cfg.Port)
	}

	return cfg, nil
}

// ValidateServe checks the settings only serving needs
func (c *Config) ValidateServe() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("--%s (or COOKBOOK_JWT_SECRET) is required", FlagJWTSecret)
	}
	return nil
}

// splitOrigins accepts both repeated flags and comma separated values
func splitOrigins(values []string) []string {
	var out []string
	for _, v := range values {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}
