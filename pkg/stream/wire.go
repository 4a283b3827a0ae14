package stream

import (
	"encoding/binary"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/rougedevs/kanshi/pkg/starknet"
)

// Field numbers of the apibara.node.v1alpha2 and apibara.starknet.v1alpha2
// messages exchanged on StreamData.
const (
	reqStreamID       protowire.Number = 1
	reqBatchSize      protowire.Number = 2
	reqStartingCursor protowire.Number = 3
	reqFinality       protowire.Number = 4
	reqFilter         protowire.Number = 5

	respStreamID   protowire.Number = 1
	respInvalidate protowire.Number = 2
	respData       protowire.Number = 3
	respHeartbeat  protowire.Number = 4

	cursorOrderKey  protowire.Number = 1
	cursorUniqueKey protowire.Number = 2

	invalidateCursor protowire.Number = 1

	dataCursor    protowire.Number = 1
	dataEndCursor protowire.Number = 2
	dataFinality  protowire.Number = 3
	dataBlocks    protowire.Number = 4

	filterHeader protowire.Number = 1
	filterEvents protowire.Number = 4

	headerFilterWeak protowire.Number = 1

	eventFilterFromAddress protowire.Number = 1
	eventFilterKeys        protowire.Number = 2

	blockStatus protowire.Number = 1
	blockHeader protowire.Number = 2
	blockEvents protowire.Number = 5

	headerBlockHash       protowire.Number = 1
	headerParentBlockHash protowire.Number = 2
	headerBlockNumber     protowire.Number = 3
	headerTimestamp       protowire.Number = 6

	timestampSeconds protowire.Number = 1

	eventWithTxTransaction protowire.Number = 1
	eventWithTxEvent       protowire.Number = 3

	transactionMeta protowire.Number = 1
	txMetaHash      protowire.Number = 1

	eventFromAddress protowire.Number = 1
	eventKeys        protowire.Number = 2
	eventData        protowire.Number = 3
	eventIndex       protowire.Number = 4
)

// DataFinality enum values.
const (
	wireFinalityUnknown uint64 = iota
	wireFinalityPending
	wireFinalityAccepted
	wireFinalityFinalized
)

// BlockStatus enum values, indexed by wire value.
var blockStatuses = []string{"", "pending", "accepted_on_l2", "accepted_on_l1", "rejected"}

// protoCodec frames StreamData messages as protobuf. Only the request and
// response types of this package can be sent through it.
type protoCodec struct{}

type wireMarshaler interface {
	marshalWire() []byte
}

type wireUnmarshaler interface {
	unmarshalWire(b []byte) error
}

func (protoCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMarshaler)
	if !ok {
		return nil, fmt.Errorf("%w: cannot encode %T", ErrProtocol, v)
	}
	return m.marshalWire(), nil
}

func (protoCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireUnmarshaler)
	if !ok {
		return fmt.Errorf("%w: cannot decode into %T", ErrProtocol, v)
	}
	return m.unmarshalWire(data)
}

func (protoCodec) Name() string { return "proto" }

type streamDataRequest struct {
	StreamID       uint64
	BatchSize      uint64
	StartingCursor *Cursor
	Finality       Finality
	Filter         Filter
}

func (r *streamDataRequest) marshalWire() []byte {
	var b []byte
	b = appendVarint(b, reqStreamID, r.StreamID)
	b = appendVarint(b, reqBatchSize, r.BatchSize)
	if r.StartingCursor != nil {
		b = appendMessage(b, reqStartingCursor, marshalCursor(r.StartingCursor))
	}
	b = appendVarint(b, reqFinality, r.Finality.wire())
	return appendMessage(b, reqFilter, marshalFilter(r.Filter))
}

// streamDataResponse holds the stream id and the one message it carried.
type streamDataResponse struct {
	StreamID uint64
	Message  Message
}

func (r *streamDataResponse) unmarshalWire(b []byte) error {
	*r = streamDataResponse{}
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case respStreamID:
			return varintField(typ, b, &r.StreamID)
		case respInvalidate:
			inv := &Invalidate{}
			r.Message = inv
			return messageField(typ, b, func(v []byte) (err error) {
				inv.Cursor, err = decodeCursorField(v, invalidateCursor)
				return err
			})
		case respData:
			data := &Data{}
			r.Message = data
			return messageField(typ, b, data.unmarshalWire)
		case respHeartbeat:
			r.Message = &Heartbeat{}
			return messageField(typ, b, func([]byte) error { return nil })
		}
		return 0, nil
	})
}

func (d *Data) unmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case dataCursor:
			return messageField(typ, b, func(v []byte) (err error) {
				d.Cursor, err = decodeCursor(v)
				return err
			})
		case dataEndCursor:
			return messageField(typ, b, func(v []byte) (err error) {
				d.EndCursor, err = decodeCursor(v)
				return err
			})
		case dataFinality:
			var f uint64
			n, err := varintField(typ, b, &f)
			d.Finality = finalityFromWire(f)
			return n, err
		case dataBlocks:
			return messageField(typ, b, func(v []byte) error {
				var block Block
				if err := block.unmarshalWire(v); err != nil {
					return fmt.Errorf("block %d: %w", len(d.Batch), err)
				}
				d.Batch = append(d.Batch, block)
				return nil
			})
		}
		return 0, nil
	})
}

func (blk *Block) unmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case blockStatus:
			var s uint64
			n, err := varintField(typ, b, &s)
			if s < uint64(len(blockStatuses)) {
				blk.Status = blockStatuses[s]
			}
			return n, err
		case blockHeader:
			blk.Header = &BlockHeader{}
			return messageField(typ, b, blk.Header.unmarshalWire)
		case blockEvents:
			return messageField(typ, b, func(v []byte) error {
				var ev EventWithTransaction
				if err := ev.unmarshalWire(v); err != nil {
					return err
				}
				blk.Events = append(blk.Events, ev)
				return nil
			})
		}
		return 0, nil
	})
}

func (h *BlockHeader) unmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case headerBlockHash:
			return feltField(typ, b, &h.BlockHash)
		case headerParentBlockHash:
			return feltField(typ, b, &h.ParentBlockHash)
		case headerBlockNumber:
			return varintField(typ, b, &h.BlockNumber)
		case headerTimestamp:
			return messageField(typ, b, func(v []byte) error {
				return decodeFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					if num != timestampSeconds {
						return 0, nil
					}
					var secs uint64
					n, err := varintField(typ, b, &secs)
					if int64(secs) > 0 {
						h.Timestamp = secs
					}
					return n, err
				})
			})
		}
		return 0, nil
	})
}

func (e *EventWithTransaction) unmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case eventWithTxTransaction:
			e.Transaction = &Transaction{}
			return messageField(typ, b, func(v []byte) error {
				return decodeFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					if num != transactionMeta {
						return 0, nil
					}
					return messageField(typ, b, func(meta []byte) error {
						return decodeFields(meta, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
							if num != txMetaHash {
								return 0, nil
							}
							return feltField(typ, b, &e.Transaction.Hash)
						})
					})
				})
			})
		case eventWithTxEvent:
			e.Event = &Event{}
			return messageField(typ, b, e.Event.unmarshalWire)
		}
		return 0, nil
	})
}

func (ev *Event) unmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case eventFromAddress:
			return feltField(typ, b, &ev.FromAddress)
		case eventKeys:
			var f starknet.Felt
			n, err := feltField(typ, b, &f)
			ev.Keys = append(ev.Keys, f)
			return n, err
		case eventData:
			var f starknet.Felt
			n, err := feltField(typ, b, &f)
			ev.Data = append(ev.Data, f)
			return n, err
		case eventIndex:
			return varintField(typ, b, &ev.Index)
		}
		return 0, nil
	})
}

func (f Finality) wire() uint64 {
	switch f {
	case FinalityPending:
		return wireFinalityPending
	case FinalityAccepted:
		return wireFinalityAccepted
	case FinalityFinalized:
		return wireFinalityFinalized
	default:
		return wireFinalityUnknown
	}
}

func finalityFromWire(v uint64) Finality {
	switch v {
	case wireFinalityPending:
		return FinalityPending
	case wireFinalityAccepted:
		return FinalityAccepted
	case wireFinalityFinalized:
		return FinalityFinalized
	default:
		return ""
	}
}

func marshalCursor(c *Cursor) []byte {
	var b []byte
	if c.OrderKey != 0 {
		b = appendVarint(b, cursorOrderKey, c.OrderKey)
	}
	if len(c.UniqueKey) > 0 {
		b = protowire.AppendTag(b, cursorUniqueKey, protowire.BytesType)
		b = protowire.AppendBytes(b, c.UniqueKey)
	}
	return b
}

func decodeCursor(b []byte) (*Cursor, error) {
	c := &Cursor{}
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case cursorOrderKey:
			return varintField(typ, b, &c.OrderKey)
		case cursorUniqueKey:
			return messageField(typ, b, func(v []byte) error {
				c.UniqueKey = append([]byte(nil), v...)
				return nil
			})
		}
		return 0, nil
	})
	return c, err
}

// decodeCursorField decodes the cursor held in field num of b, or nil when absent.
func decodeCursorField(b []byte, num protowire.Number) (*Cursor, error) {
	var c *Cursor
	err := decodeFields(b, func(n protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if n != num {
			return 0, nil
		}
		return messageField(typ, b, func(v []byte) (err error) {
			c, err = decodeCursor(v)
			return err
		})
	})
	return c, err
}

func marshalFilter(f Filter) []byte {
	var header []byte
	if f.Header.Weak {
		header = appendVarint(header, headerFilterWeak, 1)
	}
	b := appendMessage(nil, filterHeader, header)
	for _, ef := range f.Events {
		ev := appendFelt(nil, eventFilterFromAddress, ef.FromAddress)
		for _, k := range ef.Keys {
			ev = appendFelt(ev, eventFilterKeys, k)
		}
		b = appendMessage(b, filterEvents, ev)
	}
	return b
}

// appendFelt encodes f as a FieldElement: four fixed64 limbs, most significant first.
func appendFelt(b []byte, num protowire.Number, f starknet.Felt) []byte {
	raw := f.Bytes32()
	var fe []byte
	for i := 0; i < 4; i++ {
		limb := binary.BigEndian.Uint64(raw[i*8:])
		if limb == 0 {
			continue
		}
		fe = protowire.AppendTag(fe, protowire.Number(i+1), protowire.Fixed64Type)
		fe = protowire.AppendFixed64(fe, limb)
	}
	return appendMessage(b, num, fe)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// fieldFunc decodes one field value at the start of b and reports how many
// bytes it consumed. Returning 0 skips the field.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func decodeFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func varintField(typ protowire.Type, b []byte, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("unexpected wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func messageField(typ protowire.Type, b []byte, decode func([]byte) error) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("unexpected wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, decode(v)
}

func feltField(typ protowire.Type, b []byte, dst *starknet.Felt) (int, error) {
	return messageField(typ, b, func(v []byte) error {
		var raw [32]byte
		err := decodeFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			if num < 1 || num > 4 {
				return 0, nil
			}
			if typ != protowire.Fixed64Type {
				return 0, fmt.Errorf("unexpected wire type %d", typ)
			}
			limb, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			binary.BigEndian.PutUint64(raw[(num-1)*8:], limb)
			return n, nil
		})
		if err != nil {
			return err
		}
		*dst, err = starknet.FeltFromBytes32(raw)
		return err
	})
}
