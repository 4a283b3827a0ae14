package stream

import "github.com/rougedevs/kanshi/pkg/starknet"

// Message is one item pulled from a Session: *Data, *Heartbeat or *Invalidate.
// End of stream is reported by Session.Next returning io.EOF.
type Message interface {
	isMessage()
}

// Data carries one or more blocks in ascending order.
type Data struct {
	Cursor    *Cursor
	EndCursor *Cursor
	Finality  Finality
	Batch     []Block
}

// Heartbeat is a liveness signal without data.
type Heartbeat struct{}

// Invalidate signals a chain reorganization: data at or after Cursor may no
// longer be canonical. Cursor may be nil.
type Invalidate struct {
	Cursor *Cursor
}

func (*Data) isMessage()       {}
func (*Heartbeat) isMessage()  {}
func (*Invalidate) isMessage() {}

// Block is a block with the events that matched the filter.
type Block struct {
	Status string
	Header *BlockHeader
	Events []EventWithTransaction
}

// BlockHeader holds the header fields used by the indexer.
type BlockHeader struct {
	BlockHash       starknet.Felt
	ParentBlockHash starknet.Felt
	BlockNumber     uint64
	Timestamp       uint64
}

// EventWithTransaction is a matched event together with its transaction.
type EventWithTransaction struct {
	Transaction *Transaction
	Event       *Event
}

// Transaction identifies the transaction that emitted an event.
type Transaction struct {
	Hash starknet.Felt
}

// Event is a raw Starknet event.
type Event struct {
	FromAddress starknet.Felt
	Keys        []starknet.Felt
	Data        []starknet.Felt
	Index       uint64
}
