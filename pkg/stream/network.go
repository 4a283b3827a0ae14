package stream

import (
	"fmt"
	"strings"
)

// Network is a Starknet network served by the stream provider.
type Network string

const (
	Mainnet Network = "mainnet"
	Sepolia Network = "sepolia"
)

// ParseNetwork converts a case-insensitive configuration value into a Network.
func ParseNetwork(s string) (Network, error) {
	switch n := Network(strings.ToLower(strings.TrimSpace(s))); n {
	case Mainnet, Sepolia:
		return n, nil
	default:
		return "", fmt.Errorf("invalid network name: %s", s)
	}
}

// Endpoint returns the provider's gRPC target for the network.
func (n Network) Endpoint() string {
	switch n {
	case Sepolia:
		return "sepolia.starknet.a5a.ch:443"
	default:
		return "mainnet.starknet.a5a.ch:443"
	}
}
