package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0:8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"DEBUG"`
	PostgresConfig
	AuthorityConfig
	StorageConfig
	TokenConfig
}

func NewConfig() (*Config, error) {
	config := &Config{}

	err := env.Parse(config)
	if err != nil {
		err = fmt.Errorf("config.NewConfig: %w", err)
	}
	return config, err
}

type PostgresConfig struct {
	Conn            string `env:"POSTGRES_CONN" envDefault:"postgres://test:test@db:5432/test?sslmode=disable"`
	AutoMigrateUp   string `env:"AUTO_MIGRATE_UP" envDefault:"true"`
	AutoMigrateDown string `env:"AUTO_MIGRATE_DOWN" envDefault:"false"`
	MigrationsURL   string `env:"MIGRATIONS_URL" envDefault:"file://internal/repository/db/migrations"`
}

func NewPostgresConfig() (*PostgresConfig, error) {
	config := &PostgresConfig{}

	err := env.Parse(config)
	if err != nil {
		err = fmt.Errorf("config.NewPostgresConfig: %w", err)
	}
	return config, err
}

// AuthorityConfig points at the external OAuth token authority used for the
// client-credentials grant and token introspection.
type AuthorityConfig struct {
	TokenURL      string        `env:"AUTHORITY_TOKEN_URL" envDefault:"http://localhost:9096/oauth/token"`
	IntrospectURL string        `env:"AUTHORITY_INTROSPECT_URL" envDefault:"http://localhost:9096/oauth/introspect"`
	RevokeURL     string        `env:"AUTHORITY_REVOKE_URL" envDefault:"http://localhost:9096/oauth/revoke"`
	Timeout       time.Duration `env:"AUTHORITY_TIMEOUT" envDefault:"10s"`
}

// StorageConfig configures the blob store holding attestation and bundle artifacts.
type StorageConfig struct {
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	Bucket    string `env:"STORAGE_BUCKET" envDefault:"fasttrack-artifacts"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

type TokenConfig struct {
	RefreshThreshold time.Duration `env:"TOKEN_REFRESH_THRESHOLD" envDefault:"10m"`
}
