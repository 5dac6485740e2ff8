package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Topics    TopicsConfig    `mapstructure:"topics"`
	Consumer  ConsumerConfig  `mapstructure:"consumer"`
	Server    ServerConfig    `mapstructure:"server"`
	Generator GeneratorConfig `mapstructure:"generator"`
}

// KafkaConfig represents Kafka connection configuration
type KafkaConfig struct {
	Brokers          []string       `mapstructure:"brokers"`
	SecurityProtocol string         `mapstructure:"securityProtocol"` // PLAINTEXT, SSL, SASL_SSL, SASL_PLAINTEXT
	SASLMechanism    string         `mapstructure:"saslMechanism"`    // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512, AWS_MSK_IAM
	SASLUsername     string         `mapstructure:"saslUsername"`
	SASLPassword     string         `mapstructure:"saslPassword"`
	TLS              TLSConfig      `mapstructure:"tls"`
	ConsumerGroup    string         `mapstructure:"consumerGroup"`
	ClientID         string         `mapstructure:"clientId"`
	Producer         ProducerConfig `mapstructure:"producer"`
	AWSMSK           AWSMSKConfig   `mapstructure:"awsMsk"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CACertFile         string `mapstructure:"caCertFile"`
	ClientCertFile     string `mapstructure:"clientCertFile"`
	ClientKeyFile      string `mapstructure:"clientKeyFile"`
	InsecureSkipVerify bool   `mapstructure:"insecureSkipVerify"`
}

// ProducerConfig represents Kafka producer configuration
type ProducerConfig struct {
	RequiredAcks     int    `mapstructure:"requiredAcks"`    // 0=NoResponse, 1=WaitForLocal, -1=WaitForAll
	CompressionType  string `mapstructure:"compressionType"` // none, gzip, snappy, lz4, zstd
	MaxMessageBytes  int    `mapstructure:"maxMessageBytes"`
	IdempotentWrites bool   `mapstructure:"idempotentWrites"`
	RetryMax         int    `mapstructure:"retryMax"`
	RetryBackoffMs   int    `mapstructure:"retryBackoffMs"`
}

// AWSMSKConfig represents AWS MSK specific configuration
type AWSMSKConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Region  string `mapstructure:"region"`
}

// TopicsConfig names the streams the consumer works with
type TopicsConfig struct {
	Event      string `mapstructure:"event"`      // incident assignment events
	Control    string `mapstructure:"control"`    // processed-key markers
	Assignment string `mapstructure:"assignment"` // downstream assignment commands
}

// ConsumerConfig represents consumer behavior configuration
type ConsumerConfig struct {
	PollTimeoutMs int `mapstructure:"pollTimeoutMs"`
}

// PollTimeout returns the poll timeout as a duration.
func (c ConsumerConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMs) * time.Millisecond
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownTimeout int `mapstructure:"shutdownTimeoutSec"`
}

// GeneratorConfig represents incident event generator configuration
type GeneratorConfig struct {
	IntervalMs            int     `mapstructure:"intervalMs"`
	AssignmentProbability float64 `mapstructure:"assignmentProbability"` // 0.0 to 1.0
}

// Load loads configuration from a file. An empty path loads defaults and
// environment overrides only.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	_ = v.BindEnv("kafka.saslUsername", "KAFKA_SASL_USERNAME")
	_ = v.BindEnv("kafka.saslPassword", "KAFKA_SASL_PASSWORD")

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideFromEnv(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.securityProtocol", "PLAINTEXT")
	v.SetDefault("kafka.consumerGroup", "incident-service")
	v.SetDefault("kafka.clientId", "kafhaconsumer")
	v.SetDefault("kafka.producer.requiredAcks", -1)
	v.SetDefault("kafka.producer.compressionType", "none")
	v.SetDefault("kafka.producer.maxMessageBytes", 1000000)
	v.SetDefault("kafka.producer.retryMax", 3)
	v.SetDefault("kafka.producer.retryBackoffMs", 100)
	v.SetDefault("topics.event", "topic-incident-event")
	v.SetDefault("topics.control", "topic-incident-command")
	v.SetDefault("topics.assignment", "topic-incident-assignment-event")
	v.SetDefault("consumer.pollTimeoutMs", 1000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdownTimeoutSec", 10)
	v.SetDefault("generator.intervalMs", 1000)
	v.SetDefault("generator.assignmentProbability", 0.8)
}

// validate validates the configuration
func validate(config *Config) error {
	if len(config.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one Kafka broker must be configured")
	}

	if config.Kafka.ConsumerGroup == "" {
		return fmt.Errorf("consumerGroup must be configured")
	}

	if config.Topics.Event == "" {
		return fmt.Errorf("event topic must be configured")
	}

	if config.Topics.Control == "" {
		return fmt.Errorf("control topic must be configured")
	}

	if config.Topics.Event == config.Topics.Control {
		return fmt.Errorf("event and control topics must differ")
	}

	if config.Topics.Assignment == "" {
		return fmt.Errorf("assignment topic must be configured")
	}

	if config.Consumer.PollTimeoutMs <= 0 {
		return fmt.Errorf("consumer pollTimeoutMs must be greater than 0")
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	if config.Generator.IntervalMs <= 0 {
		return fmt.Errorf("generator intervalMs must be greater than 0")
	}

	if p := config.Generator.AssignmentProbability; p < 0 || p > 1 {
		return fmt.Errorf("generator assignmentProbability must be between 0 and 1")
	}

	return nil
}

// overrideFromEnv overrides configuration with environment variables
func overrideFromEnv(config *Config) {
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		config.Kafka.Brokers = splitList(brokers)
	}

	if username := os.Getenv("KAFKA_SASL_USERNAME"); username != "" {
		config.Kafka.SASLUsername = username
	}

	if password := os.Getenv("KAFKA_SASL_PASSWORD"); password != "" {
		config.Kafka.SASLPassword = password
	}

	if topic := os.Getenv("TOPIC_EVENT"); topic != "" {
		config.Topics.Event = topic
	}

	if topic := os.Getenv("TOPIC_CONTROL"); topic != "" {
		config.Topics.Control = topic
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
