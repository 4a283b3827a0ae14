package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/rougedevs/kanshi/internal/indexer"
	"github.com/rougedevs/kanshi/pkg/checkpointer"
	"github.com/rougedevs/kanshi/pkg/kafka"
	"github.com/rougedevs/kanshi/pkg/queue"
	"github.com/rougedevs/kanshi/pkg/starknet"
	"github.com/rougedevs/kanshi/pkg/stream"
)

const (
	checkpointBackendFile       = "file"
	checkpointBackendStorage    = "storage"
	checkpointBackendClickHouse = "clickhouse"
)

// errConfiguration marks invalid settings detected before startup.
var errConfiguration = errors.New("invalid configuration")

// Config holds all configuration for the kanshi application
type Config struct {
	// Application settings
	Verbose bool

	// Stream settings
	APIKey         string
	Network        stream.Network
	Contract       starknet.Felt
	StartingBlock  uint64
	Finality       stream.Finality
	BatchSize      uint64
	StreamEndpoint string
	StreamInsecure bool

	// Checkpoint settings
	CheckpointBackend string
	CheckpointPath    string
	CheckpointTable   string
	Checkpoint        checkpointer.Config

	// Storage settings
	StorageURL string

	// Queue and supervision settings
	Queue    queue.Config
	Restarts indexer.RestartPolicy

	// Kafka settings
	Kafka kafka.ProducerConfig

	// Metrics settings
	MetricsHost   string
	MetricsPort   int
	Environment   string
	Region        string
	CloudProvider string
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// Endpoint returns the stream endpoint, preferring the explicit override.
func (c *Config) Endpoint() string {
	if c.StreamEndpoint != "" {
		return c.StreamEndpoint
	}
	return c.Network.Endpoint()
}

// ForwardingEnabled reports whether events are produced to Kafka.
func (c *Config) ForwardingEnabled() bool {
	return strings.TrimSpace(c.Kafka.Brokers) != ""
}

// Subscription returns the stream configuration template for the contract.
func (c *Config) Subscription() stream.Configuration {
	return stream.NewConfiguration(c.StartingBlock, c.Finality, stream.HeaderWeak, c.Contract).
		WithBatchSize(c.BatchSize)
}

// buildConfig builds a Config from CLI context flags. All invalid settings are
// reported together.
func buildConfig(c *cli.Context) (*Config, error) {
	var errs []error

	apiKey := strings.TrimSpace(c.String("apibara-key"))
	if apiKey == "" {
		errs = append(errs, errors.New("apibara-key is required"))
	}

	network, err := stream.ParseNetwork(c.String("network"))
	if err != nil {
		errs = append(errs, err)
	}

	var contract starknet.Felt
	if raw := strings.TrimSpace(c.String("contract-address")); raw == "" {
		errs = append(errs, errors.New("contract-address is required"))
	} else if contract, err = starknet.ParseFelt(raw); err != nil {
		errs = append(errs, fmt.Errorf("contract-address: %w", err))
	}

	finality, err := stream.ParseFinality(c.String("finality"))
	if err != nil {
		errs = append(errs, err)
	}

	batchSize := c.Uint64("batch-size")
	if batchSize == 0 {
		errs = append(errs, errors.New("batch-size must be greater than 0"))
	}

	backend := c.String("checkpoint-backend")
	switch backend {
	case checkpointBackendFile, checkpointBackendStorage, checkpointBackendClickHouse:
	default:
		errs = append(errs, fmt.Errorf("invalid checkpoint backend %q (expected %q, %q or %q)",
			backend, checkpointBackendFile, checkpointBackendStorage, checkpointBackendClickHouse))
	}
	checkpointTable := c.String("clickhouse-checkpoint-table")
	if backend == checkpointBackendClickHouse && strings.TrimSpace(checkpointTable) == "" {
		errs = append(errs, errors.New("clickhouse-checkpoint-table must not be empty"))
	}
	checkpointPath := c.String("checkpoint-path")
	if checkpointPath == "" {
		errs = append(errs, errors.New("checkpoint-path must not be empty"))
	}

	checkpointCfg := checkpointer.DefaultConfig()
	checkpointCfg.WriteTimeout = c.Duration("checkpoint-write-timeout")
	checkpointCfg.MaxRetries = c.Int("checkpoint-max-retries")
	checkpointCfg.RetryBackoff = c.Duration("checkpoint-retry-backoff")
	if checkpointCfg.MaxRetries < 0 {
		errs = append(errs, errors.New("checkpoint-max-retries must not be negative"))
	}

	policy, err := queue.ParsePolicy(c.String("queue-policy"))
	if err != nil {
		errs = append(errs, err)
	}
	queueCfg := queue.Config{
		Capacity:    c.Int("queue-capacity"),
		Policy:      policy,
		PushTimeout: c.Duration("queue-push-timeout"),
	}
	if queueCfg.Capacity <= 0 {
		errs = append(errs, errors.New("queue-capacity must be greater than 0"))
	}
	if queueCfg.PushTimeout < 0 {
		errs = append(errs, errors.New("queue-push-timeout must not be negative"))
	}

	kafkaCfg := kafka.ProducerConfig{
		Brokers:           c.String("kafka-brokers"),
		ClientID:          c.String("kafka-client-id"),
		Topic:             c.String("kafka-topic"),
		EnableLogs:        c.Bool("kafka-enable-logs"),
		NumPartitions:     c.Int("kafka-topic-num-partitions"),
		ReplicationFactor: c.Int("kafka-topic-replication-factor"),
		FlushTimeout:      c.Duration("kafka-flush-timeout"),
		SASL: kafka.SASLConfig{
			Username:         c.String("kafka-sasl-username"),
			Password:         c.String("kafka-sasl-password"),
			Mechanism:        c.String("kafka-sasl-mechanism"),
			SecurityProtocol: c.String("kafka-security-protocol"),
		},
	}

	cfg := &Config{
		Verbose:           c.Bool("verbose"),
		APIKey:            apiKey,
		Network:           network,
		Contract:          contract,
		StartingBlock:     c.Uint64("starting-block"),
		Finality:          finality,
		BatchSize:         batchSize,
		StreamEndpoint:    strings.TrimSpace(c.String("stream-endpoint")),
		StreamInsecure:    c.Bool("stream-insecure"),
		CheckpointBackend: backend,
		CheckpointPath:    checkpointPath,
		CheckpointTable:   checkpointTable,
		Checkpoint:        checkpointCfg,
		StorageURL:        c.String("storage-url"),
		Queue:             queueCfg,
		Restarts: indexer.RestartPolicy{
			MaxRestarts:    c.Int("max-restarts"),
			InitialBackoff: c.Duration("restart-backoff"),
			MaxBackoff:     c.Duration("max-restart-backoff"),
		},
		Kafka:         kafkaCfg,
		MetricsHost:   c.String("metrics-host"),
		MetricsPort:   c.Int("metrics-port"),
		Environment:   c.String("environment"),
		Region:        c.String("region"),
		CloudProvider: c.String("cloud-provider"),
	}

	if cfg.ForwardingEnabled() {
		if err := kafkaCfg.Validate(); err != nil {
			errs = append(errs, err)
		}
		if err := kafkaCfg.TopicConfig().Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.CheckpointBackend == checkpointBackendStorage && strings.TrimSpace(cfg.StorageURL) == "" {
		errs = append(errs, errors.New("storage-url is required for the storage checkpoint backend"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", errConfiguration, err)
	}
	return cfg, nil
}
