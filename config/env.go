package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	HTTP     HTTPConfig
	Redis    RedisConfig
	DB       DBConfig
	Catalog  CatalogConfig
	Auth     AuthConfig
	Archive  ArchiveConfig
	Exports  ExportsConfig
	Cart     CartConfig
	LogLevel string
}

type HTTPConfig struct {
	Addr      string
	GRPCAddr  string
	RateLimit string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// CatalogConfig points at the read-only line-of-business database holding
// clients, products and historical order lines.
type CatalogConfig struct {
	Driver   string
	DSN      string
	CacheTTL time.Duration
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type ArchiveConfig struct {
	GracePeriod   time.Duration
	HistoryWindow time.Duration
	AuditExpired  bool
}

type ExportsConfig struct {
	Dir string
}

type CartConfig struct {
	TTL time.Duration
}

func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, using environment variables")
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	auditExpired, _ := strconv.ParseBool(getEnv("ARCHIVE_AUDIT_EXPIRED", "true"))

	return Config{
		HTTP: HTTPConfig{
			Addr:      getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:  getEnv("GRPC_ADDR", ":50051"),
			RateLimit: getEnv("RATE_LIMIT", "60-M"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "extranet"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "extranet"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Catalog: CatalogConfig{
			Driver:   getEnv("CATALOG_DRIVER", "postgres"),
			DSN:      getEnv("CATALOG_DSN", ""),
			CacheTTL: getDuration("CATALOG_CACHE_TTL", 5*time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  getDuration("JWT_TTL", 12*time.Hour),
		},
		Archive: ArchiveConfig{
			GracePeriod:   getDuration("ARCHIVE_GRACE_PERIOD", 5*time.Minute),
			HistoryWindow: getDuration("ARCHIVE_HISTORY_WINDOW", 24*time.Hour),
			AuditExpired:  auditExpired,
		},
		Exports: ExportsConfig{
			Dir: getEnv("EXPORT_DIR", "./exports"),
		},
		Cart: CartConfig{
			TTL: getDuration("CART_TTL", 7*24*time.Hour),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// DSN builds the postgres connection string for the local store.
func (c DBConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + c.Port +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Name +
		" sslmode=" + c.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("invalid duration, using default")
		return defaultValue
	}
	return d
}
