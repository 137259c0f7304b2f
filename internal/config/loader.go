package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/certrecon/internal/db"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is the full server configuration.
type Config struct {
	Database        db.Config
	Store           string
	MigrationsPath  string
	ServerAddr      string
	ShutdownTimeout time.Duration
	Workers         int
	CreateBackup    bool
	MaxUploadBytes  int64
	LogLevel        string
	LogFormat       string
}

// Default returns the configuration used when no file or env override exists.
func Default() Config {
	return Config{
		Database:        db.DefaultConfig(),
		Store:           StorePostgres,
		MigrationsPath:  "migrations",
		ServerAddr:      ":8080",
		ShutdownTimeout: 15 * time.Second,
		Workers:         8,
		CreateBackup:    true,
		MaxUploadBytes:  32 << 20,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load reads config.yaml from configPath and applies CERTRECON_* env overrides,
// e.g. CERTRECON_DATABASE_HOST or CERTRECON_PROCESSING_WORKERS.
func Load(configPath string, log logrus.FieldLogger) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("CERTRECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.password", cfg.Database.Password)
	v.SetDefault("database.dbname", cfg.Database.DBName)
	v.SetDefault("database.sslmode", cfg.Database.SSLMode)
	v.SetDefault("database.max_conns", cfg.Database.MaxConns)
	v.SetDefault("database.migrations", cfg.MigrationsPath)
	v.SetDefault("store", cfg.Store)
	v.SetDefault("server.addr", cfg.ServerAddr)
	v.SetDefault("server.shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("server.max_upload_bytes", cfg.MaxUploadBytes)
	v.SetDefault("processing.workers", cfg.Workers)
	v.SetDefault("processing.create_backup", cfg.CreateBackup)
	v.SetDefault("log.level", cfg.LogLevel)
	v.SetDefault("log.format", cfg.LogFormat)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		log.Info("no config.yaml found, using defaults and env vars")
	} else {
		log.WithField("file", v.ConfigFileUsed()).Info("loaded config")
	}

	cfg.Database = db.Config{
		Host:     v.GetString("database.host"),
		Port:     v.GetInt("database.port"),
		User:     v.GetString("database.user"),
		Password: v.GetString("database.password"),
		DBName:   v.GetString("database.dbname"),
		SSLMode:  v.GetString("database.sslmode"),
		MaxConns: v.GetInt32("database.max_conns"),
	}
	cfg.MigrationsPath = v.GetString("database.migrations")
	cfg.Store = strings.ToLower(v.GetString("store"))
	cfg.ServerAddr = v.GetString("server.addr")
	cfg.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")
	cfg.MaxUploadBytes = v.GetInt64("server.max_upload_bytes")
	cfg.Workers = v.GetInt("processing.workers")
	cfg.CreateBackup = v.GetBool("processing.create_backup")
	cfg.LogLevel = v.GetString("log.level")
	cfg.LogFormat = v.GetString("log.format")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Workers < 1 {
		return fmt.Errorf("processing.workers must be positive, got %d", c.Workers)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// NewLogger builds the process logger from the log settings.
func (c Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
