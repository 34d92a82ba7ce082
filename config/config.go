package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/dispatch-api/pkg/cache"
	msgamqp "github.com/jwalitptl/dispatch-api/pkg/messaging/amqp"
	msgredis "github.com/jwalitptl/dispatch-api/pkg/messaging/redis"
	"github.com/jwalitptl/dispatch-api/pkg/validator"
)

type DatabaseConfig struct {
	Host         string `yaml:"host" mapstructure:"host" validate:"required"`
	Port         int    `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	User         string `yaml:"user" mapstructure:"user" validate:"required"`
	Password     string `yaml:"password" mapstructure:"password"`
	Name         string `yaml:"name" mapstructure:"name"`
	SSLMode      string `yaml:"sslmode" mapstructure:"sslmode"`
	MaxOpenConns int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

type RedisConfig struct {
	URL          string        `yaml:"url" mapstructure:"url" validate:"required,url"`
	MaxRetries   int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	OpTimeout    time.Duration `yaml:"op_timeout" mapstructure:"op_timeout"`
}

type AMQPConfig struct {
	URL            string        `yaml:"url" mapstructure:"url" validate:"required"`
	TaskQueue      string        `yaml:"task_queue" mapstructure:"task_queue"`
	Prefetch       int           `yaml:"prefetch" mapstructure:"prefetch"`
	PublishTimeout time.Duration `yaml:"publish_timeout" mapstructure:"publish_timeout"`
}

type DispatchConfig struct {
	CycleInterval  time.Duration `yaml:"cycle_interval" mapstructure:"cycle_interval"`
	SelectLimit    int           `yaml:"select_limit" mapstructure:"select_limit"`
	MaxBatchSize   int           `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	RatePerSecond  float64       `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst          int           `yaml:"burst" mapstructure:"burst"`
	PredictionSize int           `yaml:"prediction_size" mapstructure:"prediction_size"`
}

type CollaboratorConfig struct {
	PredictionURL  string        `yaml:"prediction_url" mapstructure:"prediction_url"`
	SynthesisURL   string        `yaml:"synthesis_url" mapstructure:"synthesis_url"`
	TelephonyURL   string        `yaml:"telephony_url" mapstructure:"telephony_url"`
	SMSProviderURL string        `yaml:"sms_provider_url" mapstructure:"sms_provider_url"`
	SMSAPIKey      string        `yaml:"sms_api_key" mapstructure:"sms_api_key"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type FallbackConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelay        time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	GuardTTL          time.Duration `yaml:"guard_ttl" mapstructure:"guard_ttl"`
	RetentionDays     int           `yaml:"retention_days" mapstructure:"retention_days"`
	RetentionInterval time.Duration `yaml:"retention_interval" mapstructure:"retention_interval"`
}

type EventsConfig struct {
	LifecycleChannel string `yaml:"lifecycle_channel" mapstructure:"lifecycle_channel"`
	DonationChannel  string `yaml:"donation_channel" mapstructure:"donation_channel"`
}

type Config struct {
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Database     DatabaseConfig     `yaml:"database" mapstructure:"database"`
	Redis        RedisConfig        `yaml:"redis" mapstructure:"redis"`
	AMQP         AMQPConfig         `yaml:"amqp" mapstructure:"amqp"`
	Dispatch     DispatchConfig     `yaml:"dispatch" mapstructure:"dispatch"`
	Collaborator CollaboratorConfig `yaml:"collaborators" mapstructure:"collaborators"`
	Fallback     FallbackConfig     `yaml:"fallback" mapstructure:"fallback"`
	Events       EventsConfig       `yaml:"events" mapstructure:"events"`
}

// envOverrides are the deployment-critical settings every binary accepts from
// the environment regardless of the config file.
type envOverrides struct {
	DBHost     string `envconfig:"DB_HOST"`
	DBPort     int    `envconfig:"DB_PORT"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	RedisURL   string `envconfig:"REDIS_URL"`
	AMQPURL    string `envconfig:"AMQP_URL"`
	ServerPort int    `envconfig:"OPS_PORT"`
	SMSAPIKey  string `envconfig:"SMS_API_KEY"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/app/config")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to process env overrides: %w", err)
	}
	if env.DBHost != "" {
		config.Database.Host = env.DBHost
	}
	if env.DBPort != 0 {
		config.Database.Port = env.DBPort
	}
	if env.DBPassword != "" {
		config.Database.Password = env.DBPassword
	}
	if env.RedisURL != "" {
		config.Redis.URL = env.RedisURL
	}
	if env.AMQPURL != "" {
		config.AMQP.URL = env.AMQPURL
	}
	if env.ServerPort != 0 {
		config.Server.Port = env.ServerPort
	}
	if env.SMSAPIKey != "" {
		config.Collaborator.SMSAPIKey = env.SMSAPIKey
	}

	config.applyDefaults()
	if err := validator.New().Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.AMQP.TaskQueue == "" {
		c.AMQP.TaskQueue = "dispatch_tasks"
	}
	if c.Dispatch.CycleInterval == 0 {
		c.Dispatch.CycleInterval = 30 * time.Second
	}
	if c.Dispatch.SelectLimit == 0 {
		c.Dispatch.SelectLimit = 200
	}
	if c.Dispatch.MaxBatchSize == 0 {
		c.Dispatch.MaxBatchSize = 10
	}
	if c.Dispatch.RatePerSecond == 0 {
		c.Dispatch.RatePerSecond = 50
	}
	if c.Dispatch.Burst == 0 {
		c.Dispatch.Burst = 10
	}
	if c.Dispatch.PredictionSize == 0 {
		c.Dispatch.PredictionSize = 100
	}
	if c.Collaborator.Timeout == 0 {
		c.Collaborator.Timeout = 10 * time.Second
	}
	if c.Fallback.RetryAttempts == 0 {
		c.Fallback.RetryAttempts = 2
	}
	if c.Fallback.RetryDelay == 0 {
		c.Fallback.RetryDelay = time.Second
	}
	if c.Fallback.GuardTTL == 0 {
		c.Fallback.GuardTTL = 24 * time.Hour
	}
	if c.Fallback.RetentionDays == 0 {
		c.Fallback.RetentionDays = 30
	}
	if c.Fallback.RetentionInterval == 0 {
		c.Fallback.RetentionInterval = time.Hour
	}
	if c.Events.LifecycleChannel == "" {
		c.Events.LifecycleChannel = "lifecycle_events"
	}
	if c.Events.DonationChannel == "" {
		c.Events.DonationChannel = "donation_requests"
	}
}

// Conversion methods into the package-local config types.

func (c *RedisConfig) ToCacheConfig() cache.Config {
	return cache.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		OpTimeout:    c.OpTimeout,
	}
}

func (c *RedisConfig) ToBrokerConfig() msgredis.Config {
	return msgredis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

func (c *AMQPConfig) ToQueueConfig() msgamqp.Config {
	return msgamqp.Config{
		URL:            c.URL,
		Prefetch:       c.Prefetch,
		PublishTimeout: c.PublishTimeout,
	}
}
