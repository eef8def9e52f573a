package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fairfund/fairfund-backend/pkg/address"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Database  DatabaseConfig  `mapstructure:"database" json:"database"`
	Ledger    LedgerConfig    `mapstructure:"ledger" json:"ledger"`
	Security  SecurityConfig  `mapstructure:"security" json:"security"`
	Logging   LoggingConfig   `mapstructure:"logging" json:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" json:"scheduler"`
	Storage   StorageConfig   `mapstructure:"storage" json:"storage"`
	Messaging MessagingConfig `mapstructure:"messaging" json:"messaging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host" json:"host"`
	Port         int           `mapstructure:"port" json:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" json:"idle_timeout"`
}

// DatabaseConfig represents database configuration. An empty Host runs the ledger
// without persistence.
type DatabaseConfig struct {
	Host           string        `mapstructure:"host" json:"host"`
	Port           int           `mapstructure:"port" json:"port"`
	User           string        `mapstructure:"user" json:"user"`
	Password       string        `mapstructure:"password" json:"password"`
	DBName         string        `mapstructure:"db_name" json:"db_name"`
	SSLMode        string        `mapstructure:"ssl_mode" json:"ssl_mode"`
	MaxConnections int           `mapstructure:"max_connections" json:"max_connections"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns" json:"max_idle_conns"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime" json:"max_lifetime"`
	AutoMigrate    bool          `mapstructure:"auto_migrate" json:"auto_migrate"`
}

// LedgerConfig holds the deployment parameters of the disbursement ledger
type LedgerConfig struct {
	AdminAddress   string `mapstructure:"admin_address" json:"admin_address"`
	ReputationStep int    `mapstructure:"reputation_step" json:"reputation_step"`
	Decimals       int32  `mapstructure:"decimals" json:"decimals"`
	Symbol         string `mapstructure:"symbol" json:"symbol"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret" json:"jwt_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl" json:"token_ttl"`
	AllowDevTokens bool          `mapstructure:"allow_dev_tokens" json:"allow_dev_tokens"`
}

// LoggingConfig
type LoggingConfig struct {
	Level       string `mapstructure:"level" json:"level"`
	Development bool   `mapstructure:"development" json:"development"`
}

// SchedulerConfig controls the maintenance jobs. Specs use the six-field cron format.
type SchedulerConfig struct {
	Enabled       bool   `mapstructure:"enabled" json:"enabled"`
	ExpirySpec    string `mapstructure:"expiry_spec" json:"expiry_spec"`
	ReconcileSpec string `mapstructure:"reconcile_spec" json:"reconcile_spec"`
}

// StorageConfig configures the S3 archive for exports
type StorageConfig struct {
	Bucket        string        `mapstructure:"bucket" json:"bucket"`
	Region        string        `mapstructure:"region" json:"region"`
	Endpoint      string        `mapstructure:"endpoint" json:"endpoint"`
	AccessKeyID   string        `mapstructure:"access_key_id" json:"-"`
	SecretKey     string        `mapstructure:"secret_access_key" json:"-"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry" json:"presign_expiry"`
}

// MessagingConfig configures ledger event fan-out to SNS
type MessagingConfig struct {
	TopicARN   string `mapstructure:"topic_arn" json:"topic_arn"`
	Region     string `mapstructure:"region" json:"region"`
	BufferSize int    `mapstructure:"buffer_size" json:"buffer_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.password", "")
	v.SetDefault("database.user", os.Getenv("USER"))
	v.SetDefault("database.db_name", "fairfund")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("ledger.admin_address", "")
	v.SetDefault("ledger.reputation_step", 10)
	v.SetDefault("ledger.decimals", 18)
	v.SetDefault("ledger.symbol", "ETH")

	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.token_ttl", 24*time.Hour)
	v.SetDefault("security.allow_dev_tokens", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.expiry_spec", "0 */15 * * * *")
	v.SetDefault("scheduler.reconcile_spec", "0 0 * * * *")

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")
	v.SetDefault("storage.presign_expiry", 15*time.Minute)

	v.SetDefault("messaging.topic_arn", "")
	v.SetDefault("messaging.region", "")
	v.SetDefault("messaging.buffer_size", 256)
}

// LoadConfig loads configuration from defaults, an optional .env file, the config file
// and environment variables, in increasing order of precedence.
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional; a missing file is not an error
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("FAIRFUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// overrideWithEnv keeps the unprefixed variable names used by existing deployments.
func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil {
			config.Server.Port = p
		}
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Ledger.AdminAddress == "" {
		return errors.New("ledger.admin_address is required")
	}
	admin, err := address.Normalize(c.Ledger.AdminAddress)
	if err != nil {
		return fmt.Errorf("ledger.admin_address: %w", err)
	}
	c.Ledger.AdminAddress = admin

	if c.Ledger.Decimals < 0 || c.Ledger.Decimals > 36 {
		return fmt.Errorf("ledger.decimals out of range: %d", c.Ledger.Decimals)
	}
	if c.Ledger.ReputationStep < 1 {
		return fmt.Errorf("ledger.reputation_step must be at least 1: %d", c.Ledger.ReputationStep)
	}
	if c.Security.JWTSecret == "" {
		return errors.New("security.jwt_secret is required")
	}
	return nil
}

// HasDatabase reports whether a postgres connection is configured.
func (c *DatabaseConfig) HasDatabase() bool {
	return c.Host != ""
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// Enabled reports whether exports can be archived.
func (c *StorageConfig) Enabled() bool {
	return c.Bucket != ""
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
