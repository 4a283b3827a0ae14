package stream

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/rougedevs/kanshi/pkg/starknet"
)

var testContract = starknet.MustParseFelt("0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7")

// frame is an undecoded protobuf message as seen by the provider.
type frame []byte

// frameCodec passes frames through untouched under the proto content subtype.
type frameCodec struct{}

func (frameCodec) Marshal(v any) ([]byte, error) { return v.(frame), nil }

func (frameCodec) Unmarshal(data []byte, v any) error {
	*(v.(*frame)) = append(frame(nil), data...)
	return nil
}

func (frameCodec) Name() string { return "proto" }

func pbVarint(num protowire.Number, v uint64) []byte {
	return protowire.AppendVarint(protowire.AppendTag(nil, num, protowire.VarintType), v)
}

func pbMessage(num protowire.Number, parts ...[]byte) []byte {
	var body []byte
	for _, p := range parts {
		body = append(body, p...)
	}
	return protowire.AppendBytes(protowire.AppendTag(nil, num, protowire.BytesType), body)
}

// pbFelt encodes f as a FieldElement with all four limbs present.
func pbFelt(num protowire.Number, f starknet.Felt) []byte {
	raw := f.Bytes32()
	var limbs []byte
	for i := 0; i < 4; i++ {
		limbs = protowire.AppendTag(limbs, protowire.Number(i+1), protowire.Fixed64Type)
		limbs = protowire.AppendFixed64(limbs, binary.BigEndian.Uint64(raw[i*8:]))
	}
	return pbMessage(num, limbs)
}

func response(streamID uint64, parts ...[]byte) frame {
	return frame(append(pbVarint(1, streamID), bytesJoin(parts)...))
}

func bytesJoin(parts [][]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// startProvider serves handler as the StreamData method over an in-memory listener.
func startProvider(t *testing.T, handler func(grpc.ServerStream) error) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ForceServerCodec(frameCodec{}))
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "apibara.node.v1alpha2.Stream",
		HandlerType: (*interface{})(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "StreamData",
			Handler:       func(_ interface{}, stream grpc.ServerStream) error { return handler(stream) },
			ServerStreams: true,
			ClientStreams: true,
		}},
	}, struct{}{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := Dial(
		ClientConfig{Endpoint: "passthrough:///bufnet", Token: "secret", Insecure: true},
		zaptest.NewLogger(t).Sugar(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testConfig(start uint64) Configuration {
	return NewConfiguration(start, FinalityPending, HeaderWeak, testContract)
}

func TestSession_DeliversMessagesInOrder(t *testing.T) {
	auth := make(chan []string, 1)

	ts, err := proto.Marshal(timestamppb.New(time.Unix(1700000000, 0)))
	require.NoError(t, err)

	event := pbMessage(3,
		pbFelt(1, testContract),
		pbFelt(2, starknet.FeltFromUint64(7)),
		pbFelt(3, starknet.FeltFromUint64(8)),
		pbFelt(3, starknet.FeltFromUint64(9)),
		pbVarint(4, 3),
	)
	block := bytesJoin([][]byte{
		pbVarint(1, 2),
		pbMessage(2,
			pbFelt(1, starknet.FeltFromUint64(0xabc)),
			pbFelt(2, starknet.FeltFromUint64(0xabb)),
			pbVarint(3, 100),
			pbMessage(6, ts),
		),
		// transactions are not requested and must be skipped
		pbMessage(3, pbVarint(9, 1)),
		pbMessage(5,
			pbMessage(1, pbMessage(1, pbFelt(1, starknet.FeltFromUint64(0x1)))),
			pbMessage(2, pbVarint(1, 1)),
			event,
		),
	})

	client := startProvider(t, func(stream grpc.ServerStream) error {
		md, _ := metadata.FromIncomingContext(stream.Context())
		auth <- md.Get("authorization")

		var req frame
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}

		msgs := []frame{
			response(1, pbMessage(3,
				pbMessage(2, pbVarint(1, 100)),
				pbVarint(3, 2),
				pbMessage(4, block),
			)),
			response(1, pbMessage(4)),
			response(1, pbMessage(2, pbMessage(1, pbVarint(1, 99), pbMessage(2, []byte{0xab, 0xcd})))),
		}
		for _, m := range msgs {
			if err := stream.SendMsg(m); err != nil {
				return err
			}
		}
		return nil
	})

	session, err := client.Open(context.Background(), testConfig(100))
	require.NoError(t, err)
	defer session.Close()

	msg, err := session.Next()
	require.NoError(t, err)
	data, ok := msg.(*Data)
	require.True(t, ok, "expected *Data, got %T", msg)
	assert.Equal(t, FinalityAccepted, data.Finality)
	require.NotNil(t, data.EndCursor)
	assert.Equal(t, uint64(100), data.EndCursor.OrderKey)
	assert.Nil(t, data.Cursor)
	require.Len(t, data.Batch, 1)

	got := data.Batch[0]
	assert.Equal(t, "accepted_on_l2", got.Status)
	require.NotNil(t, got.Header)
	assert.Equal(t, uint64(100), got.Header.BlockNumber)
	assert.Equal(t, uint64(0xabc), got.Header.BlockHash.Uint64())
	assert.Equal(t, uint64(0xabb), got.Header.ParentBlockHash.Uint64())
	assert.Equal(t, uint64(1700000000), got.Header.Timestamp)

	require.Len(t, got.Events, 1)
	require.NotNil(t, got.Events[0].Transaction)
	assert.Equal(t, uint64(1), got.Events[0].Transaction.Hash.Uint64())
	ev := got.Events[0].Event
	require.NotNil(t, ev)
	assert.True(t, ev.FromAddress.Equal(testContract))
	require.Len(t, ev.Keys, 1)
	assert.Equal(t, uint64(7), ev.Keys[0].Uint64())
	require.Len(t, ev.Data, 2)
	assert.Equal(t, uint64(9), ev.Data[1].Uint64())
	assert.Equal(t, uint64(3), ev.Index)

	msg, err = session.Next()
	require.NoError(t, err)
	assert.IsType(t, &Heartbeat{}, msg)

	msg, err = session.Next()
	require.NoError(t, err)
	inv, ok := msg.(*Invalidate)
	require.True(t, ok)
	require.NotNil(t, inv.Cursor)
	assert.Equal(t, uint64(99), inv.Cursor.OrderKey)
	assert.Equal(t, []byte{0xab, 0xcd}, inv.Cursor.UniqueKey)

	_, err = session.Next()
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, []string{"Bearer secret"}, <-auth)
}

func TestSession_RequestIsProtobuf(t *testing.T) {
	// stream_id 1, batch_size 32, finality, filter with a weak header and
	// one event filter on address 0x1 (hi_hi limb only)
	const filter = "2a11" + "0a020801" + "220b" + "0a09" + "21" + "0100000000000000"

	tests := []struct {
		name     string
		start    uint64
		finality Finality
		want     string
	}{
		{
			name:     "resume after block 99",
			start:    100,
			finality: FinalityPending,
			want:     "0801" + "1020" + "1a020863" + "2001" + filter,
		},
		{
			name:     "genesis has no starting cursor",
			start:    0,
			finality: FinalityPending,
			want:     "0801" + "1020" + "2001" + filter,
		},
		{
			name:     "block 1 starts after an empty cursor",
			start:    1,
			finality: FinalityAccepted,
			want:     "0801" + "1020" + "1a00" + "2002" + filter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requests := make(chan frame, 1)
			contentType := make(chan []string, 1)
			client := startProvider(t, func(stream grpc.ServerStream) error {
				md, _ := metadata.FromIncomingContext(stream.Context())
				contentType <- md.Get("content-type")

				var req frame
				if err := stream.RecvMsg(&req); err != nil {
					return err
				}
				requests <- req
				return nil
			})

			cfg := NewConfiguration(tt.start, tt.finality, HeaderWeak, starknet.FeltFromUint64(1))
			session, err := client.Open(context.Background(), cfg)
			require.NoError(t, err)
			defer session.Close()

			_, err = session.Next()
			assert.ErrorIs(t, err, io.EOF)

			assert.Equal(t, []string{"application/grpc+proto"}, <-contentType)
			assert.Equal(t, tt.want, hex.EncodeToString(<-requests))
		})
	}
}

func TestSession_SkipsStaleStreamMessages(t *testing.T) {
	client := startProvider(t, func(stream grpc.ServerStream) error {
		var req frame
		if err := stream.RecvMsg(&req); err != nil {
			return err
		}
		if err := stream.SendMsg(response(7, pbMessage(4))); err != nil {
			return err
		}
		return stream.SendMsg(response(1, pbMessage(2)))
	})

	session, err := client.Open(context.Background(), testConfig(5))
	require.NoError(t, err)
	defer session.Close()

	msg, err := session.Next()
	require.NoError(t, err)
	inv, ok := msg.(*Invalidate)
	require.True(t, ok)
	assert.Nil(t, inv.Cursor)
}

func TestSession_ErrorClassification(t *testing.T) {
	reply := func(f frame) func(grpc.ServerStream) error {
		return func(stream grpc.ServerStream) error {
			var req frame
			if err := stream.RecvMsg(&req); err != nil {
				return err
			}
			return stream.SendMsg(f)
		}
	}

	// Four all-ones limbs exceed the field prime.
	aboveModulus := pbMessage(2, bytesJoin([][]byte{
		mustHex(t, "09ffffffffffffffff"), mustHex(t, "11ffffffffffffffff"),
		mustHex(t, "19ffffffffffffffff"), mustHex(t, "21ffffffffffffffff"),
	}))

	tests := []struct {
		name    string
		handler func(grpc.ServerStream) error
		want    error
	}{
		{
			name:    "unauthenticated",
			handler: func(grpc.ServerStream) error { return status.Error(codes.Unauthenticated, "bad key") },
			want:    ErrConnection,
		},
		{
			name:    "unavailable",
			handler: func(grpc.ServerStream) error { return status.Error(codes.Unavailable, "down") },
			want:    ErrConnection,
		},
		{
			name:    "rejected filter",
			handler: func(grpc.ServerStream) error { return status.Error(codes.InvalidArgument, "bad filter") },
			want:    ErrStreamSetup,
		},
		{
			name:    "empty message",
			handler: reply(response(1)),
			want:    ErrProtocol,
		},
		{
			name:    "truncated message",
			handler: reply(frame(mustHex(t, "0801"+"1a0508"))),
			want:    ErrProtocol,
		},
		{
			name:    "wrong wire type",
			handler: reply(frame(mustHex(t, "0801"+"1801"))),
			want:    ErrProtocol,
		},
		{
			name:    "felt above the field prime",
			handler: reply(response(1, pbMessage(3, pbMessage(4, pbMessage(2, aboveModulus))))),
			want:    ErrProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := startProvider(t, tt.handler)

			session, err := client.Open(context.Background(), testConfig(1))
			if err != nil {
				require.ErrorIs(t, err, tt.want)
				return
			}
			defer session.Close()

			_, err = session.Next()
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_OpenRejectsInvalidConfiguration(t *testing.T) {
	client := startProvider(t, func(grpc.ServerStream) error { return nil })

	_, err := client.Open(context.Background(), NewConfiguration(1, FinalityPending, HeaderWeak))
	require.ErrorIs(t, err, ErrStreamSetup)
}

func TestSession_CloseCancels(t *testing.T) {
	client := startProvider(t, func(stream grpc.ServerStream) error {
		<-stream.Context().Done()
		return nil
	})

	session, err := client.Open(context.Background(), testConfig(1))
	require.NoError(t, err)
	session.Close()
	session.Close()

	_, err = session.Next()
	require.ErrorIs(t, err, context.Canceled)
}

func TestDial_Validation(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()

	_, err := Dial(ClientConfig{Token: "k"}, log)
	require.ErrorIs(t, err, ErrStreamSetup)

	_, err = Dial(ClientConfig{Endpoint: Mainnet.Endpoint()}, log)
	require.ErrorIs(t, err, ErrConnection)
}
