package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Address identifies a ledger participant: a user wallet, a token mint, or a
// derived authority. 32 bytes, 0x-prefixed hex on the wire.
type Address [32]byte

func (a Address) Hex() string    { return hexutil.Encode(a[:]) }
func (a Address) String() string { return a.Hex() }
func (a Address) Bytes() []byte  { return a[:] }
func (a Address) IsZero() bool   { return a == Address{} }

// MarshalText implements encoding.TextMarshaler so addresses serialize as
// hex strings in JSON records and API payloads.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	b, err := hexutil.Decode(string(text))
	if err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	if len(b) != len(a) {
		return fmt.Errorf("address must be %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return nil
}

// HexToAddress parses a 0x-prefixed 32-byte hex string.
func HexToAddress(s string) (Address, error) {
	var a Address
	if err := a.UnmarshalText([]byte(s)); err != nil {
		return Address{}, err
	}
	return a, nil
}
