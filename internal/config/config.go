package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Identity  IdentityConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	Environment string // "development", "production", "test"
	Debug       bool
}

type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// IdentityConfig controls how the caller id is derived for each request.
type IdentityConfig struct {
	IssuerURL string
	ClientID  string
	// UserIDClaim names the numeric claim in the ID token that carries the user id.
	UserIDClaim string
	// TrustHeader accepts X-User-ID without a token. Only honoured outside production.
	TrustHeader bool
	CacheTTL    time.Duration
}

type RateLimitConfig struct {
	WriteLimit  int64
	Window      time.Duration
	LocalRPS    float64
	LocalBurst  int
	FailOpen    bool
	KeyPrefix   string
	MessageRate int64
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (i IdentityConfig) OIDCEnabled() bool {
	return strings.TrimSpace(i.IssuerURL) != "" && strings.TrimSpace(i.ClientID) != ""
}

func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        getEnvInt("SERVER_PORT", 8080),
			Environment: getEnv("APP_ENV", "development"),
			Debug:       getEnvBool("DEBUG", false),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnvInt("DB_PORT", 5432),
			User:           getEnv("DB_USER", "bookbuddy"),
			Password:       getEnv("DB_PASSWORD", "bookbuddy"),
			DBName:         getEnv("DB_NAME", "bookbuddy"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MaxConns:       int32(getEnvInt("DB_MAX_CONNS", 25)),
			MigrationsPath: getEnvNonEmpty("DB_MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Identity: IdentityConfig{
			IssuerURL:   getEnv("OIDC_ISSUER_URL", ""),
			ClientID:    getEnv("OIDC_CLIENT_ID", ""),
			UserIDClaim: getEnvNonEmpty("OIDC_USER_ID_CLAIM", "uid"),
			TrustHeader: getEnvBool("IDENTITY_TRUST_HEADER", false),
			CacheTTL:    getEnvDuration("IDENTITY_CACHE_TTL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			WriteLimit:  int64(getEnvInt("RATE_LIMIT_WRITES", 60)),
			MessageRate: int64(getEnvInt("RATE_LIMIT_MESSAGES", 120)),
			Window:      getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			LocalRPS:    getEnvFloat64("RATE_LIMIT_LOCAL_RPS", 2),
			LocalBurst:  getEnvInt("RATE_LIMIT_LOCAL_BURST", 10),
			FailOpen:    getEnvBool("RATE_LIMIT_FAIL_OPEN", true),
			KeyPrefix:   getEnvNonEmpty("RATE_LIMIT_PREFIX", "ratelimit:"),
		},
	}

	if cfg.Server.IsProduction() && cfg.Identity.TrustHeader {
		return nil, fmt.Errorf("IDENTITY_TRUST_HEADER cannot be enabled in production")
	}
	if cfg.Server.IsProduction() && !cfg.Identity.OIDCEnabled() {
		return nil, fmt.Errorf("OIDC_ISSUER_URL and OIDC_CLIENT_ID are required in production")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvNonEmpty(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		if strings.TrimSpace(value) != "" {
			return value
		}
		return defaultValue
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
