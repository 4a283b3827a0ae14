package stream

import (
	"errors"
	"fmt"

	"github.com/rougedevs/kanshi/pkg/starknet"
)

// DefaultBatchSize is the number of blocks requested per data message.
const DefaultBatchSize = 32

// Finality is the provider's classification of delivered data.
type Finality string

const (
	FinalityPending   Finality = "pending"
	FinalityAccepted  Finality = "accepted"
	FinalityFinalized Finality = "finalized"
)

// ParseFinality converts a configuration value into a subscribable Finality.
func ParseFinality(s string) (Finality, error) {
	switch f := Finality(s); f {
	case FinalityPending, FinalityAccepted:
		return f, nil
	default:
		return "", fmt.Errorf("invalid finality %q (expected %q or %q)", s, FinalityPending, FinalityAccepted)
	}
}

// HeaderMode controls when block headers are sent. Weak headers are only
// included for blocks that carry other matching data.
type HeaderMode string

const (
	HeaderWeak HeaderMode = "weak"
	HeaderFull HeaderMode = "full"
)

// Cursor is a position in the provider's stream.
type Cursor struct {
	OrderKey  uint64
	UniqueKey []byte
}

// HeaderFilter selects block headers.
type HeaderFilter struct {
	Weak bool
}

// EventFilter selects events emitted by a contract.
type EventFilter struct {
	FromAddress starknet.Felt
	Keys        []starknet.Felt
}

// Filter is the data selection sent to the provider.
type Filter struct {
	Header HeaderFilter
	Events []EventFilter
}

// Configuration is the immutable subscription for one session. Changing the
// starting block produces a new Configuration.
type Configuration struct {
	StartingBlock uint64
	Finality      Finality
	HeaderMode    HeaderMode
	BatchSize     uint64
	Filter        Filter
}

// NewConfiguration builds a subscription to events emitted by addresses.
func NewConfiguration(start uint64, finality Finality, header HeaderMode, addresses ...starknet.Felt) Configuration {
	events := make([]EventFilter, 0, len(addresses))
	for _, a := range addresses {
		events = append(events, EventFilter{FromAddress: a})
	}
	return Configuration{
		StartingBlock: start,
		Finality:      finality,
		HeaderMode:    header,
		BatchSize:     DefaultBatchSize,
		Filter: Filter{
			Header: HeaderFilter{Weak: header == HeaderWeak},
			Events: events,
		},
	}
}

// WithStartingBlock returns a copy of c starting at block.
func (c Configuration) WithStartingBlock(block uint64) Configuration {
	c.StartingBlock = block
	c.Filter.Events = append([]EventFilter(nil), c.Filter.Events...)
	return c
}

// WithBatchSize returns a copy of c with the given batch size.
func (c Configuration) WithBatchSize(size uint64) Configuration {
	c.BatchSize = size
	c.Filter.Events = append([]EventFilter(nil), c.Filter.Events...)
	return c
}

// StartingCursor returns the cursor after which the stream begins, so that the
// first delivered block is StartingBlock. Block 0 needs no cursor.
func (c Configuration) StartingCursor() *Cursor {
	if c.StartingBlock == 0 {
		return nil
	}
	return &Cursor{OrderKey: c.StartingBlock - 1}
}

// Validate reports malformed configurations wrapped in ErrStreamSetup.
func (c Configuration) Validate() error {
	var errs []error
	if _, err := ParseFinality(string(c.Finality)); err != nil {
		errs = append(errs, err)
	}
	if c.HeaderMode != HeaderWeak && c.HeaderMode != HeaderFull {
		errs = append(errs, fmt.Errorf("invalid header mode %q", c.HeaderMode))
	}
	if c.BatchSize == 0 {
		errs = append(errs, errors.New("batch size must be greater than 0"))
	}
	if len(c.Filter.Events) == 0 {
		errs = append(errs, errors.New("at least one event filter is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrStreamSetup, err)
	}
	return nil
}
