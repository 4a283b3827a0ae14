package main

import (
	"github.com/urfave/cli/v2"

	"github.com/rougedevs/kanshi/internal/indexer"
	"github.com/rougedevs/kanshi/pkg/checkpointer"
	"github.com/rougedevs/kanshi/pkg/kafka"
	"github.com/rougedevs/kanshi/pkg/queue"
	"github.com/rougedevs/kanshi/pkg/stream"
)

// runFlags returns all CLI flags for the kanshi run command
func runFlags() []cli.Flag {
	defaultRestarts := indexer.DefaultRestartPolicy()
	defaultCheckpoint := checkpointer.DefaultConfig()

	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
			EnvVars: []string{"VERBOSE"},
			Value:   false,
		},

		// Stream
		&cli.StringFlag{
			Name:     "apibara-key",
			Aliases:  []string{"k"},
			Usage:    "The API key used to authenticate with the stream provider",
			EnvVars:  []string{"APIBARA_KEY"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "network",
			Aliases: []string{"n"},
			Usage:   "The Starknet network to index (mainnet or sepolia)",
			EnvVars: []string{"NETWORK"},
			Value:   string(stream.Mainnet),
		},
		&cli.StringFlag{
			Name:     "contract-address",
			Aliases:  []string{"a"},
			Usage:    "The contract whose events are indexed (hex field element)",
			EnvVars:  []string{"CONTRACT_ADDRESS"},
			Required: true,
		},
		&cli.Uint64Flag{
			Name:    "starting-block",
			Aliases: []string{"s"},
			Usage:   "The block to start from when no later checkpoint exists",
			EnvVars: []string{"STARTING_BLOCK"},
		},
		&cli.StringFlag{
			Name:    "finality",
			Usage:   "The finality of streamed data (pending or accepted)",
			EnvVars: []string{"FINALITY"},
			Value:   string(stream.FinalityPending),
		},
		&cli.Uint64Flag{
			Name:    "batch-size",
			Usage:   "The number of blocks requested per stream message",
			EnvVars: []string{"STREAM_BATCH_SIZE"},
			Value:   stream.DefaultBatchSize,
		},
		&cli.StringFlag{
			Name:    "stream-endpoint",
			Usage:   "Override the stream provider endpoint of the selected network",
			EnvVars: []string{"STREAM_ENDPOINT"},
		},
		&cli.BoolFlag{
			Name:    "stream-insecure",
			Usage:   "Connect to the stream endpoint without TLS",
			EnvVars: []string{"STREAM_INSECURE"},
		},

		// Checkpoint
		&cli.StringFlag{
			Name:    "checkpoint-backend",
			Usage:   "Where checkpoints are persisted (file, storage or clickhouse)",
			EnvVars: []string{"CHECKPOINT_BACKEND"},
			Value:   checkpointBackendFile,
		},
		&cli.StringFlag{
			Name:    "checkpoint-path",
			Aliases: []string{"w"},
			Usage:   "The checkpoint file path, or the checkpoint name for the storage and clickhouse backends",
			EnvVars: []string{"WRITE_PATH"},
			Value:   checkpointer.DefaultPath,
		},
		&cli.StringFlag{
			Name:    "clickhouse-checkpoint-table",
			Usage:   "The ClickHouse table holding checkpoints (connection settings come from CLICKHOUSE_* variables)",
			EnvVars: []string{"CLICKHOUSE_CHECKPOINT_TABLE"},
			Value:   checkpointer.DefaultClickHouseTable,
		},
		&cli.DurationFlag{
			Name:    "checkpoint-write-timeout",
			Usage:   "The timeout for each checkpoint write",
			EnvVars: []string{"CHECKPOINT_WRITE_TIMEOUT"},
			Value:   defaultCheckpoint.WriteTimeout,
		},
		&cli.IntFlag{
			Name:    "checkpoint-max-retries",
			Usage:   "The maximum number of retries for a failed checkpoint write",
			EnvVars: []string{"CHECKPOINT_MAX_RETRIES"},
			Value:   defaultCheckpoint.MaxRetries,
		},
		&cli.DurationFlag{
			Name:    "checkpoint-retry-backoff",
			Usage:   "The backoff before the first checkpoint write retry",
			EnvVars: []string{"CHECKPOINT_RETRY_BACKOFF"},
			Value:   defaultCheckpoint.RetryBackoff,
		},

		// Storage
		&cli.StringFlag{
			Name:    "storage-url",
			Usage:   "The object store URL (postgres:// selects PostgreSQL, anything else Redis)",
			EnvVars: []string{"STORAGE_URL", "REDIS_URL"},
			Value:   "redis://127.0.0.1:6379",
		},

		// Queue
		&cli.IntFlag{
			Name:    "queue-capacity",
			Usage:   "The number of events buffered between the stream and the consumer",
			EnvVars: []string{"QUEUE_CAPACITY"},
			Value:   1024,
		},
		&cli.StringFlag{
			Name:    "queue-policy",
			Usage:   "What to do when the queue is full (block, or drop-oldest which discards already checkpointed events: at-most-once delivery)",
			EnvVars: []string{"QUEUE_POLICY"},
			Value:   string(queue.PolicyBlock),
		},
		&cli.DurationFlag{
			Name:    "queue-push-timeout",
			Usage:   "How long a blocked push may wait before failing (0 waits indefinitely)",
			EnvVars: []string{"QUEUE_PUSH_TIMEOUT"},
		},

		// Supervisor
		&cli.IntFlag{
			Name:    "max-restarts",
			Usage:   "The maximum number of consecutive restarts after transient failures (negative for unlimited)",
			EnvVars: []string{"MAX_RESTARTS"},
			Value:   defaultRestarts.MaxRestarts,
		},
		&cli.DurationFlag{
			Name:    "restart-backoff",
			Usage:   "The backoff before the first restart",
			EnvVars: []string{"RESTART_BACKOFF"},
			Value:   defaultRestarts.InitialBackoff,
		},
		&cli.DurationFlag{
			Name:    "max-restart-backoff",
			Usage:   "The upper bound for the backoff between restarts",
			EnvVars: []string{"MAX_RESTART_BACKOFF"},
			Value:   defaultRestarts.MaxBackoff,
		},

		// Kafka
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "The Kafka brokers to forward events to (comma-separated list); events are only logged when empty",
			EnvVars: []string{"KAFKA_BROKERS"},
		},
		&cli.StringFlag{
			Name:    "kafka-topic",
			Aliases: []string{"t"},
			Usage:   "The Kafka topic to use",
			EnvVars: []string{"KAFKA_TOPIC"},
			Value:   "starknet-events",
		},
		&cli.StringFlag{
			Name:    "kafka-client-id",
			Usage:   "The Kafka client ID to use",
			EnvVars: []string{"KAFKA_CLIENT_ID"},
			Value:   "kanshi",
		},
		&cli.BoolFlag{
			Name:    "kafka-enable-logs",
			Aliases: []string{"l"},
			Usage:   "Enable Kafka logs",
			EnvVars: []string{"KAFKA_ENABLE_LOGS"},
		},
		&cli.IntFlag{
			Name:    "kafka-topic-num-partitions",
			Usage:   "The number of partitions to use for the Kafka topic",
			EnvVars: []string{"KAFKA_TOPIC_NUM_PARTITIONS"},
			Value:   1,
		},
		&cli.IntFlag{
			Name:    "kafka-topic-replication-factor",
			Usage:   "The replication factor to use for the Kafka topic",
			EnvVars: []string{"KAFKA_TOPIC_REPLICATION_FACTOR"},
			Value:   1,
		},
		&cli.DurationFlag{
			Name:    "kafka-flush-timeout",
			Usage:   "How long to wait for in-flight deliveries on shutdown",
			EnvVars: []string{"KAFKA_FLUSH_TIMEOUT"},
			Value:   kafka.DefaultFlushTimeout,
		},
		&cli.StringFlag{
			Name:    "kafka-sasl-username",
			Usage:   "The SASL username for Kafka authentication",
			EnvVars: []string{"KAFKA_SASL_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "kafka-sasl-password",
			Usage:   "The SASL password for Kafka authentication",
			EnvVars: []string{"KAFKA_SASL_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "kafka-sasl-mechanism",
			Usage:   "The SASL mechanism (SCRAM-SHA-256, SCRAM-SHA-512 or PLAIN)",
			EnvVars: []string{"KAFKA_SASL_MECHANISM"},
			Value:   "SCRAM-SHA-512",
		},
		&cli.StringFlag{
			Name:    "kafka-security-protocol",
			Usage:   "The Kafka security protocol (SASL_SSL or SASL_PLAINTEXT)",
			EnvVars: []string{"KAFKA_SECURITY_PROTOCOL"},
			Value:   "SASL_SSL",
		},

		// Metrics
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "Host for Prometheus metrics server (empty for all interfaces)",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Aliases: []string{"m"},
			Usage:   "Port for Prometheus metrics server",
			EnvVars: []string{"METRICS_PORT"},
			Value:   9090,
		},
		&cli.StringFlag{
			Name:    "environment",
			Aliases: []string{"E"},
			Usage:   "Deployment environment for metrics labels (e.g., 'production', 'staging')",
			EnvVars: []string{"ENVIRONMENT"},
			Value:   "",
		},
		&cli.StringFlag{
			Name:    "region",
			Aliases: []string{"R"},
			Usage:   "Cloud region for metrics labels (e.g., 'us-east-1')",
			EnvVars: []string{"REGION"},
			Value:   "",
		},
		&cli.StringFlag{
			Name:    "cloud-provider",
			Aliases: []string{"P"},
			Usage:   "Cloud provider for metrics labels (e.g., 'aws', 'oci', 'gcp')",
			EnvVars: []string{"CLOUD_PROVIDER"},
			Value:   "",
		},
	}
}
