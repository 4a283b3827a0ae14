package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/rougedevs/kanshi/pkg/kafka"
	"github.com/rougedevs/kanshi/pkg/starknet"
	"github.com/rougedevs/kanshi/pkg/types"
)

// LogProcessor logs every event. It is the default when no sink is configured.
type LogProcessor struct {
	log *zap.SugaredLogger
}

func NewLogProcessor(log *zap.SugaredLogger) *LogProcessor {
	return &LogProcessor{log: log}
}

func (p *LogProcessor) Process(_ context.Context, ev types.Event) error {
	p.log.Infow("event received",
		"block", ev.BlockNumber,
		"from", ev.FromAddress,
		"tx", ev.TransactionHash,
		"index", ev.EventIndex,
		"keys", ev.Keys,
		"keyNames", shortStrings(ev.Keys),
		"dataLen", len(ev.Data),
		"time", ev.Time(),
	)
	return nil
}

// shortStrings renders keys that encode short ASCII names, such as an event
// name, as text. Other keys keep their hex form.
func shortStrings(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		f, err := starknet.ParseFelt(k)
		if err != nil {
			out[i] = k
			continue
		}
		out[i] = f.ShortString()
	}
	return out
}

// Producer produces one record synchronously. *kafka.Producer satisfies it.
type Producer interface {
	Produce(ctx context.Context, msg kafka.Msg) error
}

// KafkaProcessor forwards events as JSON records keyed by the emitting
// contract, so events of one contract stay ordered within a partition.
type KafkaProcessor struct {
	producer Producer
	topic    string
}

func NewKafkaProcessor(producer Producer, topic string) (*KafkaProcessor, error) {
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	return &KafkaProcessor{producer: producer, topic: topic}, nil
}

func (p *KafkaProcessor) Process(ctx context.Context, ev types.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.producer.Produce(ctx, kafka.Msg{
		Topic: p.topic,
		Key:   []byte(ev.FromAddress),
		Value: value,
		Headers: map[string]string{
			"block_number":     strconv.FormatUint(ev.BlockNumber, 10),
			"transaction_hash": ev.TransactionHash,
			"event_index":      strconv.FormatUint(ev.EventIndex, 10),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to produce event: %w", err)
	}
	return nil
}
