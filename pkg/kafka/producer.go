package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Msg is a record to produce.
type Msg struct {
	Topic   string
	Value   []byte
	Key     []byte
	Headers map[string]string
}

// producerClient is the subset of *kafka.Producer used here.
type producerClient interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Logs() chan kafka.LogEvent
	Flush(timeoutMs int) int
	Close()
}

// Producer produces records synchronously: Produce returns once the broker
// acknowledged the record or the context ended.
//
// Close MUST be called to stop background goroutines and flush in-flight records.
type Producer struct {
	client     producerClient
	log        *zap.SugaredLogger
	errCh      chan error
	eventsDone chan struct{}
	logsDone   chan struct{}
	closedCh   chan struct{}
	once       sync.Once
}

var queueFullRetryDelay = time.Second

// NewProducer creates a producer from conf. The goroutines that watch producer
// events and client logs run until Close, so a fatal error raised while the
// pipeline drains after shutdown is still reported on Errors.
func NewProducer(conf *kafka.ConfigMap, log *zap.SugaredLogger) (*Producer, error) {
	p, err := kafka.NewProducer(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	logsEnabled, err := conf.Get("go.logs.channel.enable", false)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to get go.logs.channel.enable: %w", err)
	}
	enabled, _ := logsEnabled.(bool)

	return newProducer(p, enabled, log), nil
}

func newProducer(client producerClient, logsEnabled bool, log *zap.SugaredLogger) *Producer {
	p := &Producer{
		client:     client,
		log:        log,
		errCh:      make(chan error, 1),
		eventsDone: make(chan struct{}),
		logsDone:   make(chan struct{}),
		closedCh:   make(chan struct{}),
	}

	if logsEnabled {
		go p.forwardLogs()
	} else {
		close(p.logsDone)
	}
	go p.watchEvents()

	return p
}

// Produce sends msg and waits for its delivery report. When ctx ends first,
// ctx.Err() is returned and the record may still be delivered later.
func (p *Producer) Produce(ctx context.Context, msg Msg) error {
	deliveryCh := make(chan kafka.Event, 1)

	kMsg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &msg.Topic,
			Partition: kafka.PartitionAny,
		},
		Value: msg.Value,
		Key:   msg.Key,
	}
	for k, v := range msg.Headers {
		kMsg.Headers = append(kMsg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	if err := p.enqueue(ctx, kMsg, deliveryCh); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-deliveryCh:
		return p.deliveryResult(kMsg, ev)
	}
}

// Close stops the background goroutines, flushes pending records for up to
// timeout and closes the client. Records still pending after timeout are lost.
// Calling Close more than once does nothing.
func (p *Producer) Close(timeout time.Duration) {
	p.once.Do(func() {
		p.log.Info("closing kafka producer")
		defer close(p.errCh)

		close(p.closedCh)
		<-p.eventsDone
		<-p.logsDone

		if pending := p.client.Flush(int(timeout.Milliseconds())); pending > 0 {
			p.log.Warnw("flush incomplete, pending records dropped", "pending", pending)
		}
		p.client.Close()
		p.log.Info("kafka producer closed")
	})
}

// Errors returns a channel that receives at most one fatal error and is
// closed by Close. A producer that reported an error is no longer usable.
func (p *Producer) Errors() <-chan error {
	return p.errCh
}

// enqueue hands msg to the client, retrying while the local queue is full.
func (p *Producer) enqueue(ctx context.Context, msg *kafka.Message, deliveryCh chan kafka.Event) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := p.client.Produce(msg, deliveryCh)
		if err == nil {
			return nil
		}

		var kErr kafka.Error
		if !errors.As(err, &kErr) {
			return fmt.Errorf("failed to produce: %w", err)
		}

		switch kErr.Code() {
		case kafka.ErrQueueFull:
			p.log.Warnw("producer queue full, retrying", "delay", queueFullRetryDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(queueFullRetryDelay):
			}
		case kafka.ErrBrokerNotAvailable:
			return fmt.Errorf("broker not available: %w", err)
		case kafka.ErrMsgSizeTooLarge, kafka.ErrInvalidMsgSize:
			return fmt.Errorf("invalid message size: %w", err)
		case kafka.ErrUnknownTopicOrPart:
			return fmt.Errorf("unknown topic or partition: %w", err)
		case kafka.ErrAuthentication:
			return fmt.Errorf("authentication error: %w", err)
		default:
			return fmt.Errorf("failed to produce: %w", err)
		}
	}
}

func (p *Producer) deliveryResult(msg *kafka.Message, ev kafka.Event) error {
	delivered, ok := ev.(*kafka.Message)
	if !ok {
		return fmt.Errorf("unexpected delivery event: %T", ev)
	}
	if err := delivered.TopicPartition.Error; err != nil {
		return fmt.Errorf("delivery failed: %w", err)
	}

	p.log.Debugw("record delivered",
		"topic", *msg.TopicPartition.Topic,
		"partition", delivered.TopicPartition.Partition,
		"offset", delivered.TopicPartition.Offset,
	)
	return nil
}

func (p *Producer) reportFatal(err error) {
	select {
	case p.errCh <- err:
	default:
		p.log.Warnw("dropping kafka error, one already pending", "error", err)
	}
}

func (p *Producer) watchEvents() {
	defer close(p.eventsDone)
	events := p.client.Events()
	for {
		select {
		case <-p.closedCh:
			return
		case ev, ok := <-events:
			if !ok {
				p.reportFatal(errors.New("kafka producer event channel closed"))
				return
			}

			switch e := ev.(type) {
			case kafka.Error:
				if e.IsFatal() || e.Code() == kafka.ErrAllBrokersDown {
					p.reportFatal(fmt.Errorf("kafka producer failed (code %#x): %w", e.Code(), e))
					return
				}
				p.log.Warnw("ignoring kafka error", "code", e.Code(), "error", e)
			case *kafka.Message:
				// Delivery reports go to per-record channels.
				p.log.Warnw("unexpected delivery report on events channel", "topicPartition", e.TopicPartition)
			case kafka.Stats:
				p.log.Debugw("kafka stats", "stats", e.String())
			default:
				p.log.Debugw("ignoring kafka event", "event", e)
			}
		}
	}
}

func (p *Producer) forwardLogs() {
	defer close(p.logsDone)
	logs := p.client.Logs()
	for {
		select {
		case <-p.closedCh:
			return
		case l, ok := <-logs:
			if !ok {
				return
			}
			p.log.Debugw("librdkafka", "level", l.Level, "tag", l.Tag, "message", l.Message)
		}
	}
}
