package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_Time(t *testing.T) {
	t.Parallel()

	ev := Event{Timestamp: 1700000000}
	assert.Equal(t, time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC), ev.Time())
}

func TestEvent_JSONFieldNames(t *testing.T) {
	t.Parallel()

	ev := Event{
		BlockNumber:     600001,
		FromAddress:     "0x01",
		Timestamp:       1700000000,
		TransactionHash: "0x02",
		EventIndex:      3,
		Data:            []string{"0x04"},
	}
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"block_number": 600001,
		"from_address": "0x01",
		"timestamp": 1700000000,
		"transaction_hash": "0x02",
		"event_index": 3,
		"data": ["0x04"]
	}`, string(b))
}
