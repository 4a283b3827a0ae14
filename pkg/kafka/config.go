package kafka

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// DefaultFlushTimeout bounds how long Close waits for in-flight deliveries.
const DefaultFlushTimeout = 15 * time.Second

// messageMaxBytes caps a single produced event.
const messageMaxBytes = 1 << 20

// SASLConfig holds optional SASL authentication settings.
type SASLConfig struct {
	Username         string `env:"KAFKA_SASL_USERNAME"`
	Password         string `env:"KAFKA_SASL_PASSWORD"`
	Mechanism        string `env:"KAFKA_SASL_MECHANISM"        envDefault:"SCRAM-SHA-512"`
	SecurityProtocol string `env:"KAFKA_SECURITY_PROTOCOL"     envDefault:"SASL_SSL"`
}

// Enabled reports whether credentials were supplied.
func (s SASLConfig) Enabled() bool {
	return s.Username != "" && s.Password != ""
}

// ApplyToConfigMap adds SASL settings to cm when enabled.
func (s SASLConfig) ApplyToConfigMap(cm *kafka.ConfigMap) {
	if !s.Enabled() {
		return
	}
	_ = cm.SetKey("security.protocol", s.SecurityProtocol)
	_ = cm.SetKey("sasl.mechanisms", s.Mechanism)
	_ = cm.SetKey("sasl.username", s.Username)
	_ = cm.SetKey("sasl.password", s.Password)
}

// ProducerConfig configures the event sink producer and its topic.
type ProducerConfig struct {
	Brokers           string        `env:"KAFKA_BROKERS"                  envDefault:"localhost:9092"`
	ClientID          string        `env:"KAFKA_CLIENT_ID"                envDefault:"kanshi"`
	Topic             string        `env:"KAFKA_TOPIC"                    envDefault:"starknet-events"`
	EnableLogs        bool          `env:"KAFKA_ENABLE_LOGS"              envDefault:"false"`
	NumPartitions     int           `env:"KAFKA_TOPIC_NUM_PARTITIONS"     envDefault:"1"`
	ReplicationFactor int           `env:"KAFKA_TOPIC_REPLICATION_FACTOR" envDefault:"1"`
	FlushTimeout      time.Duration `env:"KAFKA_FLUSH_TIMEOUT"            envDefault:"15s"`
	SASL              SASLConfig
}

// LoadProducerConfig reads a ProducerConfig from the environment.
func LoadProducerConfig() (ProducerConfig, error) {
	cfg, err := env.ParseAs[ProducerConfig]()
	if err != nil {
		return ProducerConfig{}, fmt.Errorf("failed to parse kafka producer config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings needed to produce.
func (c ProducerConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Brokers) == "" {
		errs = append(errs, errors.New("kafka brokers are required"))
	}
	if c.Topic == "" {
		errs = append(errs, errors.New("kafka topic is required"))
	}
	if c.FlushTimeout < 0 {
		errs = append(errs, errors.New("kafka flush timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// TopicConfig returns the topic settings EnsureTopic should converge on.
func (c ProducerConfig) TopicConfig() TopicConfig {
	return TopicConfig{
		Name:              c.Topic,
		NumPartitions:     c.NumPartitions,
		ReplicationFactor: c.ReplicationFactor,
	}
}

// AdminConfigMap builds the admin client configuration.
func (c ProducerConfig) AdminConfigMap() *kafka.ConfigMap {
	cm := &kafka.ConfigMap{"bootstrap.servers": c.Brokers}
	c.SASL.ApplyToConfigMap(cm)
	return cm
}

// ConfigMap builds the producer configuration.
func (c ProducerConfig) ConfigMap() *kafka.ConfigMap {
	cm := &kafka.ConfigMap{
		"bootstrap.servers": c.Brokers,
		"client.id":         c.ClientID,

		// Wait for all in-sync replicas.
		"acks":               "all",
		"enable.idempotence": true,

		"linger.ms":        5,
		"compression.type": "lz4",

		"go.logs.channel.enable": c.EnableLogs,
		"message.max.bytes":      messageMaxBytes,
	}
	c.SASL.ApplyToConfigMap(cm)
	return cm
}
