package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "kanshi"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"

	Stream     = "stream"
	Checkpoint = "checkpoint"
	Queue      = "queue"
	Consumer   = "consumer"
	Kafka      = "kafka"
)

// Stream message type label values.
const (
	MessageData       = "data"
	MessageHeartbeat  = "heartbeat"
	MessageInvalidate = "invalidate"
)

// Labels holds constant labels applied to all metrics.
// These are useful for distinguishing metrics from multiple indexer instances.
type Labels struct {
	Network       string // Starknet network (e.g., "mainnet", "sepolia")
	Contract      string // Watched contract address
	Environment   string // Deployment environment (e.g., "production", "staging", "development")
	Region        string // Cloud region (e.g., "us-east-1", "eu-west-1")
	CloudProvider string // Cloud provider (e.g., "aws", "oci", "gcp")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.Network != "" {
		labels["network"] = l.Network
	}
	if l.Contract != "" {
		labels["contract"] = l.Contract
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	if l.Region != "" {
		labels["region"] = l.Region
	}
	if l.CloudProvider != "" {
		labels["cloud_provider"] = l.CloudProvider
	}
	return labels
}

type Metrics struct {
	// Stream session
	streamMessages     *prometheus.CounterVec
	blocksProcessed    prometheus.Counter
	lastProcessedBlock prometheus.Gauge
	eventsEnqueued     prometheus.Counter
	reachedPending     prometheus.Gauge
	indexerState       prometheus.Gauge
	restarts           *prometheus.CounterVec
	errors             *prometheus.CounterVec

	// Checkpoints
	checkpointWrites        *prometheus.CounterVec
	checkpointWriteDuration prometheus.Histogram
	lastCheckpoint          prometheus.Gauge

	// Hand-off queue
	queueDepth   prometheus.Gauge
	queueDropped prometheus.Counter

	// Event consumer
	consumerEvents          *prometheus.CounterVec
	eventProcessingDuration prometheus.Histogram

	// Kafka producer
	kafkaErrors *prometheus.CounterVec
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
// For metrics with constant labels (e.g., network), use NewWithLabels instead.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		streamMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Stream,
			Name:      "messages_total",
			Help:      "Total stream messages received by type",
		}, []string{"type"}),
		blocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "blocks_processed_total",
			Help:      "Total number of blocks whose events were handed off",
		}),
		lastProcessedBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_processed_block",
			Help:      "Number of the last block whose events were handed off",
		}),
		eventsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_enqueued_total",
			Help:      "Total decoded events pushed to the hand-off queue",
		}),
		reachedPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Stream,
			Name:      "reached_pending",
			Help:      "1 once the stream has delivered pending data in this session",
		}),
		indexerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "indexer_state",
			Help:      "Indexer lifecycle state (0=initializing, 1=streaming, 2=stopped, 3=failed)",
		}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "restarts_total",
			Help:      "Total indexer restarts after transient failures by reason",
		}, []string{"reason"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total errors by type",
		}, []string{"type"}),
		checkpointWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Checkpoint,
			Name:      "writes_total",
			Help:      "Total checkpoint writes by status",
		}, []string{"status"}),
		checkpointWriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Checkpoint,
			Name:      "write_duration_seconds",
			Help:      "Time to persist a checkpoint including retries",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		lastCheckpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Checkpoint,
			Name:      "last_block",
			Help:      "Last block number successfully checkpointed",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Queue,
			Name:      "depth",
			Help:      "Number of events waiting in the hand-off queue",
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Queue,
			Name:      "dropped_total",
			Help:      "Total events evicted from a full hand-off queue",
		}),
		consumerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "events_total",
			Help:      "Total events handled by the consumer by status",
		}, []string{"status"}),
		eventProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "event_processing_duration_seconds",
			Help:      "Time to process a single event",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		kafkaErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Kafka,
			Name:      "errors_total",
			Help:      "Total number of Kafka producer errors by severity (fatal/non_fatal)",
		}, []string{"severity"}),
	}

	err := errors.Join(
		reg.Register(m.streamMessages),
		reg.Register(m.blocksProcessed),
		reg.Register(m.lastProcessedBlock),
		reg.Register(m.eventsEnqueued),
		reg.Register(m.reachedPending),
		reg.Register(m.indexerState),
		reg.Register(m.restarts),
		reg.Register(m.errors),
		reg.Register(m.checkpointWrites),
		reg.Register(m.checkpointWriteDuration),
		reg.Register(m.lastCheckpoint),
		reg.Register(m.queueDepth),
		reg.Register(m.queueDropped),
		reg.Register(m.consumerEvents),
		reg.Register(m.eventProcessingDuration),
		reg.Register(m.kafkaErrors),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Error type constants for the errors_total counter.
const (
	ErrTypeConnection   = "connection"
	ErrTypeSetup        = "setup"
	ErrTypeProtocol     = "protocol"
	ErrTypeInvalidation = "invalidation"
	ErrTypeQueueTimeout = "queue_timeout"
)

// IncError increments the error counter for the given error type.
func (m *Metrics) IncError(errType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errType).Inc()
}

// IncStreamMessage counts a received stream message of the given type.
func (m *Metrics) IncStreamMessage(msgType string) {
	if m == nil {
		return
	}
	m.streamMessages.WithLabelValues(msgType).Inc()
}

// RecordBlock records a block whose events were all handed off.
func (m *Metrics) RecordBlock(blockNumber uint64, events int) {
	if m == nil {
		return
	}
	m.blocksProcessed.Inc()
	m.lastProcessedBlock.Set(float64(blockNumber))
	if events > 0 {
		m.eventsEnqueued.Add(float64(events))
	}
}

// SetReachedPending sets the reached-pending gauge.
func (m *Metrics) SetReachedPending(reached bool) {
	if m == nil {
		return
	}
	if reached {
		m.reachedPending.Set(1)
		return
	}
	m.reachedPending.Set(0)
}

// SetIndexerState records the numeric lifecycle state.
func (m *Metrics) SetIndexerState(state int) {
	if m == nil {
		return
	}
	m.indexerState.Set(float64(state))
}

// IncRestart counts a supervisor restart.
func (m *Metrics) IncRestart(reason string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(reason).Inc()
}

// RecordCheckpointWrite records a checkpoint write outcome.
// Pass nil error for successful writes, non-nil for failures.
func (m *Metrics) RecordCheckpointWrite(block uint64, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.checkpointWrites.WithLabelValues(status).Inc()
	m.checkpointWriteDuration.Observe(durationSeconds)
	if err == nil {
		m.lastCheckpoint.Set(float64(block))
	}
}

// SetQueueDepth updates the hand-off queue depth gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// IncQueueDropped counts an event evicted from the hand-off queue.
func (m *Metrics) IncQueueDropped() {
	if m == nil {
		return
	}
	m.queueDropped.Inc()
}

// RecordEventProcessed records a consumer outcome with duration.
func (m *Metrics) RecordEventProcessed(err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.consumerEvents.WithLabelValues(status).Inc()
	m.eventProcessingDuration.Observe(durationSeconds)
}

// IncKafkaError increments the Kafka error counter by severity.
func (m *Metrics) IncKafkaError(fatal bool) {
	if m == nil {
		return
	}
	severity := "non_fatal"
	if fatal {
		severity = "fatal"
	}
	m.kafkaErrors.WithLabelValues(severity).Inc()
}
