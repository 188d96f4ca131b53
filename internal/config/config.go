package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Broker   BrokerConfig
	Keycloak KeycloakConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// BrokerConfig holds RabbitMQ connection values and the routing-key
// patterns the inbound consumer binds to.
type BrokerConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	ClientName     string
	ListenPatterns []string
}

// KeycloakConfig identifies the external identity provider. TokenRealm is
// the realm the admin credential is exchanged against; UserRealm is the
// realm user records are deleted from.
type KeycloakConfig struct {
	BaseURL        string
	TokenRealm     string
	UserRealm      string
	ClientID       string
	ClientSecret   string
	AdminUsername  string
	AdminPassword  string
	TimeoutSeconds int
	JWKSURL        string
	Issuer         string
	Audience       string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	brokerPort, err := strconv.Atoi(getEnv("BROKER_PORT", "5672"))
	if err != nil {
		return nil, fmt.Errorf("invalid BROKER_PORT: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "user-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Broker: BrokerConfig{
			Host:           getEnv("BROKER_HOST", "127.0.0.1"),
			Port:           brokerPort,
			Username:       getEnv("BROKER_USERNAME", "guest"),
			Password:       getEnv("BROKER_PASSWORD", "guest"),
			ClientName:     getEnv("BROKER_CLIENT_NAME", "user-service"),
			ListenPatterns: getEnvAsList("BROKER_LISTEN_PATTERNS", "KK.EVENT.*.master.SUCCESS.#"),
		},
		Keycloak: KeycloakConfig{
			BaseURL:        getEnv("KEYCLOAK_BASE_URL", "http://127.0.0.1:8081"),
			TokenRealm:     getEnv("KEYCLOAK_TOKEN_REALM", "master"),
			UserRealm:      getEnv("KEYCLOAK_USER_REALM", "master"),
			ClientID:       getEnv("KEYCLOAK_CLIENT_ID", "admin-cli"),
			ClientSecret:   os.Getenv("KEYCLOAK_CLIENT_SECRET"),
			AdminUsername:  getEnv("KEYCLOAK_ADMIN_USERNAME", "admin"),
			AdminPassword:  os.Getenv("KEYCLOAK_ADMIN_PASSWORD"),
			TimeoutSeconds: getEnvAsInt("KEYCLOAK_TIMEOUT_SECONDS", 15),
			JWKSURL:        os.Getenv("KEYCLOAK_JWKS_URL"),
			Issuer:         os.Getenv("KEYCLOAK_ISSUER"),
			Audience:       os.Getenv("KEYCLOAK_AUDIENCE"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// URL returns the AMQP connection URL.
func (b BrokerConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", b.Username, b.Password, b.Host, b.Port)
}

// TokenEndpoint returns the OpenID Connect token endpoint for the token realm.
func (k KeycloakConfig) TokenEndpoint() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", k.BaseURL, k.TokenRealm)
}

// AdminUserEndpoint returns the admin endpoint for a single user record.
func (k KeycloakConfig) AdminUserEndpoint(keycloakID string) string {
	return fmt.Sprintf("%s/admin/realms/%s/users/%s", k.BaseURL, k.UserRealm, keycloakID)
}

// Timeout returns the bound applied to identity-provider HTTP calls.
func (k KeycloakConfig) Timeout() time.Duration {
	if k.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(k.TimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
