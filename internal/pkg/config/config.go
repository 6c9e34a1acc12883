package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	SessionStoreMemory   = "memory"
	SessionStoreFile     = "file"
	SessionStorePostgres = "postgres"
)

type PostgresConfig struct {
	Host     string
	Port     string
	DB       string
	Username string
	Password string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// ConnectionURL renders the pgx connection string.
func (p PostgresConfig) ConnectionURL() string {
	query := url.Values{}
	query.Set("sslmode", p.SSLMode)
	query.Set("timezone", "utc")

	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(p.Username, p.Password),
		Host:     fmt.Sprintf("%s:%s", p.Host, p.Port),
		Path:     p.DB,
		RawQuery: query.Encode(),
	}
	return u.String()
}

type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

type AuthConfig struct {
	PrivilegedRole string
}

type SessionConfig struct {
	Store    string
	Key      string
	FilePath string
	Secret   string
	Postgres PostgresConfig
}

type ObservabilityConfig struct {
	ServiceName string
	MetricsAddr string
	PprofAddr   string
	OTLPHost    string
}

type Config struct {
	ServerPort    string
	LogLevel      string
	AllowedOrigin string
	Backend       BackendConfig
	Auth          AuthConfig
	Session       SessionConfig
	Observability ObservabilityConfig
}

func Load() (*Config, error) {
	timeout, err := time.ParseDuration(getEnvOrDefault("BACKEND_TIMEOUT", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid BACKEND_TIMEOUT: %w", err)
	}

	cfg := &Config{
		ServerPort:    getEnvOrDefault("SERVER_PORT", "8091"),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		AllowedOrigin: getEnvOrDefault("CORS_ALLOWED_ORIGIN", "*"),
		Backend: BackendConfig{
			BaseURL: strings.TrimRight(getEnvOrDefault("BACKEND_BASE_URL", "https://localhost:7225/api"), "/"),
			Timeout: timeout,
		},
		Auth: AuthConfig{
			PrivilegedRole: getEnvOrDefault("ADMIN_ROLE", "Admin"),
		},
		Session: SessionConfig{
			Store:    getEnvOrDefault("SESSION_STORE", SessionStoreMemory),
			Key:      getEnvOrDefault("SESSION_KEY", "auth"),
			FilePath: getEnvOrDefault("SESSION_FILE", "./data/session.json"),
			Secret:   os.Getenv("SESSION_SECRET"),
			Postgres: PostgresConfig{
				Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
				Port:     getEnvOrDefault("POSTGRES_PORT", "5432"),
				DB:       getEnvOrDefault("POSTGRES_DB", "clinic_admin"),
				Username: getEnvOrDefault("POSTGRES_USER", "postgres"),
				Password: getEnvOrDefault("POSTGRES_PASSWORD", ""),
				SSLMode:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
				MaxConns: 4,
				MinConns: 1,
			},
		},
		Observability: ObservabilityConfig{
			ServiceName: getEnvOrDefault("SERVICE_NAME", "clinic-admin"),
			MetricsAddr: getEnvOrDefault("METRICS_ADDR", ":9092"),
			PprofAddr:   os.Getenv("PPROF_ADDR"),
			OTLPHost:    getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4318"),
		},
	}

	if _, err := url.ParseRequestURI(cfg.Backend.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid BACKEND_BASE_URL %q: %w", cfg.Backend.BaseURL, err)
	}

	switch cfg.Session.Store {
	case SessionStoreMemory, SessionStoreFile:
	case SessionStorePostgres:
		if cfg.Session.Postgres.Password == "" {
			return nil, fmt.Errorf("POSTGRES_PASSWORD environment variable is required for the postgres session store")
		}
	default:
		return nil, fmt.Errorf("unknown SESSION_STORE %q", cfg.Session.Store)
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
