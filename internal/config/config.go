// Package config reads the server settings from the environment.
//
// A .env file in the working directory is loaded first when present;
// variables already set in the environment win over it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage backends for accounts.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

type Config struct {
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	Server  ServerConfig
	Storage StorageConfig
	Auth    AuthConfig
	Mail    MailConfig
	Admin   AdminConfig
}

type ServerConfig struct {
	Port int `env:"PORT" envDefault:"8080"`
	// PublicURL is how clients reach the server; verification links are
	// built from it.
	PublicURL     string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`
	SecureCookies bool   `env:"SECURE_COOKIES" envDefault:"false"`
}

type StorageConfig struct {
	Backend string `env:"STORAGE" envDefault:"sqlite"`
	DBPath  string `env:"DB_PATH" envDefault:"data/apicore.db"`

	// Verification tokens go to Redis when RedisAddr is set, otherwise they
	// live next to the accounts.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	TokenTTL       time.Duration `env:"VERIFICATION_TOKEN_TTL" envDefault:"24h"`
	TokenRetention time.Duration `env:"VERIFICATION_TOKEN_RETENTION" envDefault:"168h"`
}

type AuthConfig struct {
	JWTSecret  string        `env:"JWT_SECRET,required"`
	JWTTTL     time.Duration `env:"JWT_TTL" envDefault:"15m"`
	BcryptCost int           `env:"BCRYPT_COST" envDefault:"12"`
}

type MailConfig struct {
	From      string `env:"MAIL_FROM" envDefault:"admin@apicore"`
	Signature string `env:"MAIL_SIGNATURE" envDefault:"Boost team"`

	// With no SMTP host, emails are written to the log instead.
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
}

// AdminConfig describes the superuser created on start. Seeding is skipped
// when Username is empty.
type AdminConfig struct {
	Username  string   `env:"ADMIN_USERNAME"`
	Email     string   `env:"ADMIN_EMAIL"`
	Password  string   `env:"ADMIN_PASSWORD"`
	Firstname string   `env:"ADMIN_FIRSTNAME" envDefault:"Super"`
	Lastname  string   `env:"ADMIN_LASTNAME" envDefault:"Admin"`
	Teams     []string `env:"ADMIN_TEAMS" envSeparator:","`
}

// Load reads .env (if any) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return parse(env.Options{})
}

// FromMap builds a Config from the given variables only.
func FromMap(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case StorageSQLite, StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("STORAGE must be %q or %q, got %q", StorageSQLite, StorageMemory, c.Storage.Backend))
	}
	if c.Storage.Backend == StorageSQLite && c.Storage.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH is required for sqlite storage"))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Server.Port))
	}
	if c.Admin.Username != "" && (c.Admin.Email == "" || c.Admin.Password == "") {
		errs = append(errs, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required with ADMIN_USERNAME"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// VerifyURL is the public address of the verification endpoint.
func (c *Config) VerifyURL() string {
	return strings.TrimRight(c.Server.PublicURL, "/") + "/users/verify"
}
