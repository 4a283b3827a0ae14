package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	confluentKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/rougedevs/kanshi/internal/consumer"
	"github.com/rougedevs/kanshi/internal/indexer"
	"github.com/rougedevs/kanshi/pkg/checkpointer"
	"github.com/rougedevs/kanshi/pkg/clickhouse"
	"github.com/rougedevs/kanshi/pkg/kafka"
	"github.com/rougedevs/kanshi/pkg/metrics"
	"github.com/rougedevs/kanshi/pkg/queue"
	"github.com/rougedevs/kanshi/pkg/storage"
	"github.com/rougedevs/kanshi/pkg/stream"
	"github.com/rougedevs/kanshi/pkg/types"
	"github.com/rougedevs/kanshi/pkg/utils"
)

const metricsShutdownTimeout = 5 * time.Second

func run(c *cli.Context) error {
	// Build configuration from CLI flags
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose,
		"network", string(cfg.Network),
		"contract", cfg.Contract.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"endpoint", cfg.Endpoint(),
		"startingBlock", cfg.StartingBlock,
		"finality", cfg.Finality,
		"batchSize", cfg.BatchSize,
		"checkpointBackend", cfg.CheckpointBackend,
		"checkpointPath", cfg.CheckpointPath,
		"checkpointTable", cfg.CheckpointTable,
		"queueCapacity", cfg.Queue.Capacity,
		"queuePolicy", cfg.Queue.Policy,
		"queuePushTimeout", cfg.Queue.PushTimeout,
		"maxRestarts", cfg.Restarts.MaxRestarts,
		"restartBackoff", cfg.Restarts.InitialBackoff,
		"maxRestartBackoff", cfg.Restarts.MaxBackoff,
		"kafkaBrokers", cfg.Kafka.Brokers,
		"kafkaTopic", cfg.Kafka.Topic,
		"metricsHost", cfg.MetricsHost,
		"metricsPort", cfg.MetricsPort,
		"environment", cfg.Environment,
		"region", cfg.Region,
		"cloudProvider", cfg.CloudProvider,
	)

	// Initialize Prometheus metrics with labels for multi-instance filtering
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewWithLabels(registry, metrics.Labels{
		Network:       string(cfg.Network),
		Contract:      cfg.Contract.String(),
		Environment:   cfg.Environment,
		Region:        cfg.Region,
		CloudProvider: cfg.CloudProvider,
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cp, closeCheckpoints, err := openCheckpointer(ctx, cfg, sugar)
	if err != nil {
		return err
	}
	defer closeCheckpoints()

	events, err := queue.New[types.Event](cfg.Queue, m)
	if err != nil {
		return fmt.Errorf("failed to create event queue: %w", err)
	}

	client, err := stream.Dial(stream.ClientConfig{
		Endpoint: cfg.Endpoint(),
		Token:    cfg.APIKey,
		Insecure: cfg.StreamInsecure,
	}, sugar)
	if err != nil {
		return fmt.Errorf("failed to create stream client: %w", err)
	}
	defer client.Close()

	open := func(ctx context.Context, sc stream.Configuration) (indexer.Session, error) {
		s, err := client.Open(ctx, sc)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	ix, err := indexer.New(indexer.Config{
		Subscription:         cfg.Subscription(),
		DefaultStartingBlock: cfg.StartingBlock,
	}, open, cp, events, m, sugar)
	if err != nil {
		return fmt.Errorf("failed to create indexer: %w", err)
	}
	supervisor := indexer.NewSupervisor(ix, cfg.Restarts, m, sugar)

	// Start metrics server
	metricsServer := metrics.NewServer(cfg.MetricsAddr(), registry, func() error {
		if st := ix.State(); st == indexer.StateFailed {
			return fmt.Errorf("indexer %s", st)
		}
		return nil
	})
	metricsErrCh := metricsServer.Start()
	if cfg.MetricsHost == "" {
		sugar.Infof("metrics server listening on http://0.0.0.0:%d/metrics", cfg.MetricsPort)
	} else {
		sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			sugar.Warnw("failed to shutdown metrics server", "error", err)
		}
	}()

	var (
		proc           consumer.Processor = consumer.NewLogProcessor(sugar)
		producerErrors <-chan error
	)
	if cfg.ForwardingEnabled() {
		producer, err := newKafkaProducer(ctx, cfg.Kafka, sugar)
		if err != nil {
			return err
		}
		defer producer.Close(cfg.Kafka.FlushTimeout)

		proc, err = consumer.NewKafkaProcessor(producer, cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("failed to create kafka processor: %w", err)
		}
		producerErrors = producer.Errors()
	}

	cons, err := consumer.New(events, proc, m, sugar)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	err = supervise(ctx, pipeline{
		indexer:         supervisor,
		consumer:        cons,
		queue:           events,
		metricsErrors:   metricsErrCh,
		producerErrors:  producerErrors,
		onProducerError: func() { m.IncKafkaError(true) },
		log:             sugar,
	})
	if err != nil {
		sugar.Errorw("run failed", "error", err, "state", ix.State())
		return err
	}

	sugar.Infow("shutting down", "state", ix.State(), "dropped", events.Dropped())
	return nil
}

// openCheckpointer builds the configured checkpoint backend wrapped with write
// retries. The returned func releases any backend connection.
func openCheckpointer(
	ctx context.Context,
	cfg *Config,
	log *zap.SugaredLogger,
) (checkpointer.Checkpointer, func(), error) {
	switch cfg.CheckpointBackend {
	case checkpointBackendFile:
		log.Infow("using file checkpoints", "path", cfg.CheckpointPath)
		return checkpointer.NewRetrying(checkpointer.NewFile(cfg.CheckpointPath), cfg.Checkpoint, log), func() {}, nil
	case checkpointBackendClickHouse:
		return openClickHouseCheckpointer(ctx, cfg, log)
	}

	opts, err := storage.LoadOptions()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load storage options: %w", err)
	}
	store, err := storage.Open(ctx, cfg.StorageURL, opts, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			log.Warnw("failed to close storage", "error", err)
		}
	}
	log.Infow("using storage checkpoints", "backend", store.Kind(), "key", cfg.CheckpointPath)
	return checkpointer.NewRetrying(checkpointer.NewStore(store, cfg.CheckpointPath), cfg.Checkpoint, log), closeStore, nil
}

func openClickHouseCheckpointer(
	ctx context.Context,
	cfg *Config,
	log *zap.SugaredLogger,
) (checkpointer.Checkpointer, func(), error) {
	chCfg, err := clickhouse.Load()
	if err != nil {
		return nil, nil, err
	}
	client, err := clickhouse.New(chCfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create clickhouse client: %w", err)
	}
	closeClient := func() {
		if err := client.Close(); err != nil {
			log.Warnw("failed to close clickhouse client", "error", err)
		}
	}

	cp, err := checkpointer.NewClickHouse(ctx, client, chCfg.Database, cfg.CheckpointTable, cfg.CheckpointPath)
	if err != nil {
		closeClient()
		return nil, nil, err
	}
	log.Infow("using clickhouse checkpoints",
		"hosts", chCfg.Hosts,
		"database", chCfg.Database,
		"table", cfg.CheckpointTable,
		"name", cfg.CheckpointPath,
	)
	return checkpointer.NewRetrying(cp, cfg.Checkpoint, log), closeClient, nil
}

// newKafkaProducer ensures the topic exists and creates the producer.
func newKafkaProducer(ctx context.Context, cfg kafka.ProducerConfig, log *zap.SugaredLogger) (*kafka.Producer, error) {
	adminClient, err := confluentKafka.NewAdminClient(cfg.AdminConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka admin client: %w", err)
	}
	defer adminClient.Close()

	if err := kafka.EnsureTopic(ctx, adminClient, cfg.TopicConfig(), log); err != nil {
		return nil, fmt.Errorf("failed to ensure kafka topic exists: %w", err)
	}

	producer, err := kafka.NewProducer(cfg.ConfigMap(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	log.Infow("forwarding events to kafka", "topic", cfg.Topic)
	return producer, nil
}
