package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Backend     BackendConfig     `mapstructure:"backend"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Redis       RedisConfig       `mapstructure:"redis"`
	MongoDB     MongoDBConfig     `mapstructure:"mongodb"`
	Etcd        EtcdConfig        `mapstructure:"etcd"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Images      ImagesConfig      `mapstructure:"images"`
	ActivityLog ActivityLogConfig `mapstructure:"activity_log"`
	Log         LogConfig         `mapstructure:"log"`
}

// BackendConfig describes the remote logistics backend. BaseURL doubles as the
// host prefix for image paths.
type BackendConfig struct {
	BaseURL      string        `mapstructure:"base_url" validate:"required,url"`
	CompanyRefID string        `mapstructure:"company_ref_id" validate:"required"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RefreshPath  string        `mapstructure:"refresh_path"`
	LoginPath    string        `mapstructure:"login_path"`
	LogoutPath   string        `mapstructure:"logout_path"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
	Prefix   string `mapstructure:"prefix"`
}

type MongoDBConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URI        string `mapstructure:"uri" validate:"required_if=Enabled true"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
}

type GatewayConfig struct {
	Name string `mapstructure:"name"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
	Host string `mapstructure:"host"`
}

type ImagesConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type ActivityLogConfig struct {
	MaxEntriesPerDay int `mapstructure:"max_entries_per_day" validate:"min=1"`
	RetentionDays    int `mapstructure:"retention_days" validate:"min=1"`
}

type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Encoding    string   `mapstructure:"encoding"`
	OutputPaths []string `mapstructure:"output_paths"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.timeout", 15*time.Second)
	v.SetDefault("backend.refresh_path", "/api/auth/refresh")
	v.SetDefault("backend.login_path", "/api/CustomersLoginApp/LoginAppSuccess")
	v.SetDefault("backend.logout_path", "/api/auth/logout")

	v.SetDefault("storage.driver", "memory")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.prefix", "portal:")

	v.SetDefault("mongodb.database", "portal")
	v.SetDefault("mongodb.collection", "activity_logs")

	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.prefix", "/services/")

	v.SetDefault("gateway.name", "customer-portal")
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)

	v.SetDefault("activity_log.max_entries_per_day", 100)
	v.SetDefault("activity_log.retention_days", 7)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.output_paths", []string{"stdout"})
}

// Load reads the YAML file at configPath. Any key can be overridden from the
// environment with the PORTAL_ prefix, e.g. PORTAL_BACKEND_BASE_URL.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("portal")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{"backend.base_url", "backend.company_ref_id", "redis.password", "mongodb.uri"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
