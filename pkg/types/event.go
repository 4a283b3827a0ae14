package types

import "time"

// Event is a decoded Starknet event as handed from the indexer to the consumer.
// Field values are rendered as canonical 0x-prefixed 64 digit hex strings.
type Event struct {
	BlockNumber     uint64   `json:"block_number"`
	BlockHash       string   `json:"block_hash,omitempty"`
	FromAddress     string   `json:"from_address"`
	Timestamp       uint64   `json:"timestamp"`
	TransactionHash string   `json:"transaction_hash"`
	EventIndex      uint64   `json:"event_index"`
	Keys            []string `json:"keys,omitempty"`
	Data            []string `json:"data"`
}

// Time returns the block timestamp as UTC time.
func (e *Event) Time() time.Time {
	return time.Unix(int64(e.Timestamp), 0).UTC()
}
