// Package config loads runtime settings from USERBOARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"userboard.io/internal/apperr"
	"userboard.io/internal/token"
)

const envPrefix = "USERBOARD_"

// Config holds runtime configuration sourced from env vars.
type Config struct {
	HTTPAddr string
	// GRPCAddr serves the gRPC health service; "off" disables it.
	GRPCAddr    string
	DatabaseURL string
	RedisURL    string

	EventChannelPrefix string

	PrivateKeyPath string
	PublicKeyPath  string
	Issuer         string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration

	RotateRefreshTokens bool
	PurgeInterval       time.Duration
	RevokedRetention    time.Duration

	LogLevel       string
	CORSOrigins    []string
	SecureCookies  bool
	RateLimitRPS   float64
	RateLimitBurst int
	PhoneRegion    string

	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

// LoadEnvFiles populates the environment from dotenv files without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("%w: load %s: %v", apperr.ErrConfiguration, p, err)
		}
	}
	return nil
}

// Load reads configuration from the environment and validates it.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:               getEnv("GRPC_ADDR", ":9090"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		RedisURL:               getEnv("REDIS_URL", ""),
		EventChannelPrefix:     getEnv("EVENT_CHANNEL_PREFIX", "userboard.events"),
		PrivateKeyPath:         getEnv("JWT_PRIVATE_KEY_PATH", ""),
		PublicKeyPath:          getEnv("JWT_PUBLIC_KEY_PATH", ""),
		Issuer:                 getEnv("JWT_ISSUER", "userboard"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		CORSOrigins:            parseCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
		PhoneRegion:            strings.ToUpper(getEnv("PHONE_REGION", "US")),
		BootstrapAdminEmail:    getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
	}

	if cfg.PrivateKeyPath == "" || cfg.PublicKeyPath == "" {
		return Config{}, fmt.Errorf("%w: %sJWT_PRIVATE_KEY_PATH and %sJWT_PUBLIC_KEY_PATH are required",
			apperr.ErrConfiguration, envPrefix, envPrefix)
	}

	var err error
	if cfg.AccessTTL, err = duration("JWT_ACCESS_TTL", "15m"); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = duration("JWT_REFRESH_TTL", "7d"); err != nil {
		return Config{}, err
	}
	if cfg.PurgeInterval, err = duration("PURGE_INTERVAL", "1h"); err != nil {
		return Config{}, err
	}
	if cfg.RevokedRetention, err = duration("REVOKED_RETENTION", "1d"); err != nil {
		return Config{}, err
	}
	if cfg.RotateRefreshTokens, err = boolean("ROTATE_REFRESH_TOKENS", false); err != nil {
		return Config{}, err
	}
	if cfg.SecureCookies, err = boolean("SECURE_COOKIES", true); err != nil {
		return Config{}, err
	}

	rps, err := strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "5"), 64)
	if err != nil || rps <= 0 {
		return Config{}, invalid("RATE_LIMIT_RPS", err)
	}
	cfg.RateLimitRPS = rps
	burst, err := strconv.Atoi(getEnv("RATE_LIMIT_BURST", "10"))
	if err != nil || burst <= 0 {
		return Config{}, invalid("RATE_LIMIT_BURST", err)
	}
	cfg.RateLimitBurst = burst

	if (cfg.BootstrapAdminEmail == "") != (cfg.BootstrapAdminPassword == "") {
		return Config{}, fmt.Errorf("%w: %sBOOTSTRAP_ADMIN_EMAIL and %sBOOTSTRAP_ADMIN_PASSWORD must be set together",
			apperr.ErrConfiguration, envPrefix, envPrefix)
	}
	return cfg, nil
}

// GRPCEnabled reports whether the gRPC health listener should start.
func (c Config) GRPCEnabled() bool {
	return c.GRPCAddr != "" && !strings.EqualFold(c.GRPCAddr, "off")
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return def
}

func duration(key, def string) (time.Duration, error) {
	d, err := token.ParseDuration(getEnv(key, def))
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return d, nil
}

func boolean(key string, def bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalid(key, err)
	}
	return v, nil
}

func invalid(key string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s%s must be positive", apperr.ErrConfiguration, envPrefix, key)
	}
	return fmt.Errorf("%w: invalid %s%s: %v", apperr.ErrConfiguration, envPrefix, key, err)
}

func parseCSV(input string) []string {
	var out []string
	for _, part := range strings.Split(input, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
