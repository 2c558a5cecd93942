package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/conduit-lang/entmap/internal/orm/platform"
	"github.com/conduit-lang/entmap/internal/orm/schema"
)

// Config represents the entmap configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Schema   SchemaConfig   `mapstructure:"schema"`
	Naming   NamingConfig   `mapstructure:"naming"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
	Schema string `mapstructure:"schema"`
}

// SchemaConfig controls where entity descriptions live and how schema sync behaves
type SchemaConfig struct {
	Entities   string `mapstructure:"entities"`
	Safe       bool   `mapstructure:"safe"`
	DropTables bool   `mapstructure:"drop_tables"`
}

// NamingConfig selects the naming strategy
type NamingConfig struct {
	Strategy string `mapstructure:"strategy"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EnvPrefix prefixes every environment override, e.g. ENTMAP_DATABASE_URL
const EnvPrefix = "ENTMAP"

// Load loads the configuration from path, or from entmap.yml / entmap.yaml in the
// working directory when path is empty
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.schema", "")
	v.SetDefault("schema.entities", "entities.yml")
	v.SetDefault("schema.safe", true)
	v.SetDefault("schema.drop_tables", false)
	v.SetDefault("naming.strategy", "underscore")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("entmap")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// ENTMAP_SCHEMA_DROP_TABLES overrides schema.drop_tables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Platform returns the platform for the configured driver
func (c *Config) Platform() (platform.Platform, error) {
	return platform.ByName(c.Database.Driver)
}

// NamingStrategy returns the configured naming strategy
func (c *Config) NamingStrategy() schema.NamingStrategy {
	naming, _ := schema.NamingStrategyByName(c.Naming.Strategy)
	return naming
}

// SQLDriver returns the database/sql driver name to open connections with
func (c *Config) SQLDriver() string {
	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "postgresql", "pgx":
		return "pgx"
	case "sqlite", "sqlite3":
		return "sqlite3"
	default:
		return "mysql"
	}
}

// FindConfigFile walks up from the working directory looking for entmap.yml or entmap.yaml
func FindConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		for _, name := range []string{"entmap.yml", "entmap.yaml"} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no entmap.yml found")
		}
		dir = parent
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if _, err := platform.ByName(cfg.Database.Driver); err != nil {
		return fmt.Errorf("database.driver must be one of %s: %w",
			strings.Join(platform.Names(), ", "), err)
	}
	if _, ok := schema.NamingStrategyByName(cfg.Naming.Strategy); !ok {
		return fmt.Errorf("naming.strategy must be underscore or pluralizing, got: %s", cfg.Naming.Strategy)
	}
	if cfg.Schema.Entities == "" {
		return fmt.Errorf("schema.entities must not be empty")
	}
	return nil
}
