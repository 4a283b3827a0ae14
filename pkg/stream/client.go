package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const streamDataMethod = "/apibara.node.v1alpha2.Stream/StreamData"

var streamDataDesc = grpc.StreamDesc{
	StreamName:    "StreamData",
	ServerStreams: true,
	ClientStreams: true,
}

// bearerToken attaches the API key to every call.
type bearerToken struct {
	token  string
	secure bool
}

func (b bearerToken) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}

func (b bearerToken) RequireTransportSecurity() bool { return b.secure }

// ClientConfig configures the connection to the stream provider.
type ClientConfig struct {
	Endpoint string
	Token    string
	// Insecure disables TLS, for local providers.
	Insecure bool
}

// Client opens stream sessions against one provider endpoint.
type Client struct {
	conn *grpc.ClientConn
	log  *zap.SugaredLogger
}

// Dial creates a client. The connection is established lazily when the first
// session is opened.
func Dial(cfg ClientConfig, log *zap.SugaredLogger, extra ...grpc.DialOption) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrStreamSetup)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: api key is required", ErrConnection)
	}

	transport := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if cfg.Insecure {
		transport = insecure.NewCredentials()
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(transport),
		grpc.WithPerRPCCredentials(bearerToken{token: cfg.Token, secure: !cfg.Insecure}),
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return &Client{conn: conn, log: log}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Session is one open subscription. It is not safe for concurrent use.
type Session struct {
	stream   grpc.ClientStream
	cancel   context.CancelFunc
	streamID uint64
	log      *zap.SugaredLogger
}

// Open validates cfg and starts a subscription. The session lives until ctx is
// cancelled or Close is called.
func (c *Client) Open(ctx context.Context, cfg Configuration) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	cs, err := c.conn.NewStream(ctx, &streamDataDesc, streamDataMethod, grpc.ForceCodec(protoCodec{}))
	if err != nil {
		cancel()
		return nil, classify(err)
	}

	const streamID = 1
	req := &streamDataRequest{
		StreamID:       streamID,
		BatchSize:      cfg.BatchSize,
		StartingCursor: cfg.StartingCursor(),
		Finality:       cfg.Finality,
		Filter:         cfg.Filter,
	}
	if err := cs.SendMsg(req); err != nil && !errors.Is(err, io.EOF) {
		// io.EOF means the server ended the stream; the cause surfaces on the first receive.
		cancel()
		return nil, classify(err)
	}

	c.log.Infow("stream session opened",
		"startingBlock", cfg.StartingBlock,
		"finality", cfg.Finality,
		"batchSize", cfg.BatchSize,
		"filters", len(cfg.Filter.Events),
	)
	return &Session{stream: cs, cancel: cancel, streamID: streamID, log: c.log}, nil
}

// Next blocks until the next message arrives. It returns io.EOF when the
// provider ends the stream.
func (s *Session) Next() (Message, error) {
	for {
		var resp streamDataResponse
		if err := s.stream.RecvMsg(&resp); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, classify(err)
		}
		if resp.StreamID != 0 && resp.StreamID != s.streamID {
			s.log.Debugw("skipping message for stale stream", "streamID", resp.StreamID)
			continue
		}

		if resp.Message == nil {
			return nil, fmt.Errorf("%w: message carries no data, invalidate or heartbeat", ErrProtocol)
		}
		return resp.Message, nil
	}
}

// Close cancels the subscription. It is safe to call more than once.
func (s *Session) Close() {
	s.cancel()
}
