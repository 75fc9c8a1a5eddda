package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"
)

type Config struct {
	// Server Settings
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Env      string `env:"APP_ENV" envDefault:"development"`

	// Ledger Settings
	Store             string           `env:"LEDGER_STORE" envDefault:"memory"`
	AllowSelfPurchase bool             `env:"LEDGER_ALLOW_SELF_PURCHASE" envDefault:"true"`
	SubscriberBuffer  int              `env:"LEDGER_SUBSCRIBER_BUFFER" envDefault:"64"`
	SeedAccounts      map[string]int64 `env:"LEDGER_SEED_ACCOUNTS" envSeparator:"," envKeyValSeparator:":"`

	MySQL MySQL
}

type MySQL struct {
	User     string `env:"MYSQL_USER" envDefault:"user"`
	Password string `env:"MYSQL_PWD" envDefault:"password"`
	Host     string `env:"MYSQL_HOST" envDefault:"tcp(127.0.0.1:3306)"`
	Database string `env:"MYSQL_DATABASE" envDefault:"chainlist_db"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads configuration from the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreMySQL:
	default:
		return fmt.Errorf("unsupported LEDGER_STORE %q", c.Store)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("LEDGER_SUBSCRIBER_BUFFER must be positive, got %d", c.SubscriberBuffer)
	}
	return nil
}
