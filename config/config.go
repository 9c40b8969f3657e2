package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/joripage/matching-engine/pkg/engine"
	postgres_wrapper "github.com/joripage/matching-engine/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/matching-engine/pkg/infra/redis"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	ServiceName string        `yaml:"service_name"`
	LogLevel    string        `yaml:"log_level"`
	Instrument  string        `yaml:"instrument"`
	Engine      engine.Config `yaml:"engine"`

	TextGateway TextGatewayConfig `yaml:"text_gateway"`
	HTTP        HTTPConfig        `yaml:"http"`
	FIX         FIXConfig         `yaml:"fix"`
	Generator   GeneratorConfig   `yaml:"generator"`

	Kafka   KafkaConfig                      `yaml:"kafka"`
	Redis   RedisConfig                      `yaml:"redis"`
	TradeDB *postgres_wrapper.PostgresConfig `yaml:"trade_db"`
}

type TextGatewayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type HTTPConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type FIXConfig struct {
	Enabled      bool   `yaml:"enabled"`
	SettingsFile string `yaml:"settings_file"`
}

type GeneratorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Seed     int64         `yaml:"seed"`
}

type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	TradeTopic  string   `yaml:"trade_topic"`
	TopTopic    string   `yaml:"top_topic"`
	GroupID     string   `yaml:"group_id"`
	DLQTopic    string   `yaml:"dlq_topic"`
	WorkerCount int      `yaml:"worker_count"`
	BatchSize   int      `yaml:"batch_size"`
	MaxRetries  int      `yaml:"max_retries"`
}

type RedisConfig struct {
	redis_wrapper.RedisConfig `yaml:",inline"`

	Enabled    bool  `yaml:"enabled"`
	TapeLength int64 `yaml:"tape_length"`
}

const defaultAdmitTimeout = 50 * time.Millisecond

// Load reads an optional .env file, then the YAML config at filePath (or
// $CONFIG_FILE) with environment variables expanded, and fills defaults.
func Load(filePath string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		zap.S().Warnf("load .env fail: %v", err)
	}

	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	sugar := zap.S().With("func", "config.Load", "filePath", filePath)
	sugar.Debug("Load config...")

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}

	cfg, err := Parse(configBytes)
	if err != nil {
		sugar.Error("Failed to parse config file")
		return nil, err
	}

	zap.S().Debugf("config: %+v", cfg)
	return cfg, nil
}

// Parse expands environment variables in raw and decodes it.
func Parse(raw []byte) (*AppConfig, error) {
	raw = []byte(os.ExpandEnv(string(raw)))

	// admit_timeout: 0 is meaningful (fail as soon as the queue is full),
	// so its default is set before decoding rather than in setDefaults.
	cfg := &AppConfig{Engine: engine.Config{AdmitTimeout: defaultAdmitTimeout}}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "matching-engine"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Instrument == "" {
		c.Instrument = "DEFAULT"
	}
	if c.Engine.QueueSize == 0 {
		c.Engine.QueueSize = 4096
	}
	if c.Engine.SubscriberBuffer == 0 {
		c.Engine.SubscriberBuffer = 1024
	}
	if c.TextGateway.Addr == "" {
		c.TextGateway.Addr = ":60000"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"*"}
	}
	if c.FIX.SettingsFile == "" {
		c.FIX.SettingsFile = "config/fix_acceptor.cfg"
	}
	if c.Generator.Interval == 0 {
		c.Generator.Interval = time.Second
	}
	if c.Kafka.TradeTopic == "" {
		c.Kafka.TradeTopic = "trades"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "trade-journal"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "me"
	}
}

func (c *AppConfig) Validate() error {
	if c.Engine.QueueSize < 0 {
		return fmt.Errorf("engine.queue_size must not be negative, got %d", c.Engine.QueueSize)
	}
	if c.Engine.AdmitTimeout < 0 {
		return fmt.Errorf("engine.admit_timeout must not be negative, got %s", c.Engine.AdmitTimeout)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	if c.Redis.Enabled && c.Redis.ConnectionURL == "" {
		return errors.New("redis.connection_url is required when redis is enabled")
	}
	if c.Generator.Enabled && c.Generator.Interval < 0 {
		return fmt.Errorf("generator.interval must be positive, got %s", c.Generator.Interval)
	}
	return nil
}
