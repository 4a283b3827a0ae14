// Package starknet holds the Starknet primitives needed to build stream filters
// and to render decoded event payloads.
package starknet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/holiman/uint256"
)

// maxFeltHexDigits is the width of a canonical felt rendering without the 0x prefix.
const maxFeltHexDigits = 64

// ErrInvalidFelt is returned when a value cannot be represented as a field element.
var ErrInvalidFelt = errors.New("invalid field element")

// fieldPrime is the Starknet prime, 2^251 + 17*2^192 + 1.
var fieldPrime = func() *uint256.Int {
	p := new(uint256.Int).Lsh(uint256.NewInt(1), 251)
	p.Add(p, new(uint256.Int).Lsh(uint256.NewInt(17), 192))
	return p.AddUint64(p, 1)
}()

// Felt is a Starknet field element. A Felt is always strictly below the field prime.
type Felt struct {
	v uint256.Int
}

// ParseFelt parses a hexadecimal field element with or without the 0x prefix.
// Leading zeros are accepted up to the canonical width of 64 digits.
func ParseFelt(s string) (Felt, error) {
	h := strings.TrimSpace(s)
	if len(h) >= 2 && (h[:2] == "0x" || h[:2] == "0X") {
		h = h[2:]
	}
	if h == "" {
		return Felt{}, fmt.Errorf("%w: empty value", ErrInvalidFelt)
	}
	if len(h) > maxFeltHexDigits {
		return Felt{}, fmt.Errorf("%w: %q has more than %d hex digits", ErrInvalidFelt, s, maxFeltHexDigits)
	}

	var f Felt
	trimmed := strings.TrimLeft(h, "0")
	if trimmed == "" {
		return f, nil
	}
	if err := f.v.SetFromHex("0x" + trimmed); err != nil {
		return Felt{}, fmt.Errorf("%w: %q: %v", ErrInvalidFelt, s, err)
	}
	if !f.v.Lt(fieldPrime) {
		return Felt{}, fmt.Errorf("%w: %q is not below the field prime", ErrInvalidFelt, s)
	}
	return f, nil
}

// MustParseFelt is like ParseFelt but panics on error. Intended for constants and tests.
func MustParseFelt(s string) Felt {
	f, err := ParseFelt(s)
	if err != nil {
		panic(err)
	}
	return f
}

// FeltFromUint64 returns the field element holding v.
func FeltFromUint64(v uint64) Felt {
	var f Felt
	f.v.SetUint64(v)
	return f
}

// FeltFromBytes32 interprets b as a big-endian element.
func FeltFromBytes32(b [32]byte) (Felt, error) {
	var f Felt
	f.v.SetBytes32(b[:])
	if !f.v.Lt(fieldPrime) {
		return Felt{}, fmt.Errorf("%w: 0x%x is not below the field prime", ErrInvalidFelt, b)
	}
	return f, nil
}

// Bytes32 returns the big-endian 32 byte representation.
func (f Felt) Bytes32() [32]byte {
	return f.v.Bytes32()
}

// Uint64 returns the lower 64 bits of the element.
func (f Felt) Uint64() uint64 {
	return f.v.Uint64()
}

// IsZero reports whether the element is zero.
func (f Felt) IsZero() bool {
	return f.v.IsZero()
}

// Equal reports whether both elements hold the same value.
func (f Felt) Equal(o Felt) bool {
	return f.v.Eq(&o.v)
}

// Hex renders the element as 0x followed by exactly 64 lowercase hex digits.
func (f Felt) Hex() string {
	b := f.v.Bytes32()
	return "0x" + hex.EncodeToString(b[:])
}

func (f Felt) String() string {
	return f.Hex()
}

// ShortString decodes the element as a Cairo short string. Leading NUL padding
// is removed; when the payload is not printable UTF-8 the hex form is returned.
func (f Felt) ShortString() string {
	b := f.v.Bytes32()
	raw := strings.TrimLeft(string(b[:]), "\x00")
	if !utf8.ValidString(raw) || strings.TrimSpace(raw) == "" {
		return f.Hex()
	}
	for _, r := range raw {
		if !unicode.IsPrint(r) {
			return f.Hex()
		}
	}
	return raw
}

func (f Felt) MarshalText() ([]byte, error) {
	return []byte(f.Hex()), nil
}

func (f *Felt) UnmarshalText(text []byte) error {
	parsed, err := ParseFelt(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
