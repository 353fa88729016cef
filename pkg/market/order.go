// Package market implements the escrow marketplace: sell orders whose tokens
// sit in a vault controlled by a per-order derived authority, filled by any
// buyer at the seller's fixed price, all within single atomic ledger
// transactions.
package market

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wattswap/wattswap/pkg/crypto"
	"github.com/wattswap/wattswap/pkg/ledger"
)

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrInactiveOrder           = errors.New("order is not active")
	ErrInsufficientOrderAmount = errors.New("fill exceeds remaining order amount")
	ErrMathOverflow            = errors.New("arithmetic overflow")
)

// SellOrder is one listing. Lifecycle: Active(remaining>0) shrinks across
// fills until Filled(remaining=0, active=false), or jumps to Cancelled when
// the seller closes it. Both terminal states are absorbing; an order is
// never reactivated.
type SellOrder struct {
	Seller ledger.Address `json:"seller"`
	Token  ledger.Address `json:"token"`
	// UnitPrice is the native payment owed per token unit.
	UnitPrice uint64 `json:"unitPrice"`
	Remaining uint64 `json:"remaining"`
	Active    bool   `json:"active"`
	// Nonce disambiguates multiple concurrent orders by the same
	// seller/token pair.
	Nonce uint64 `json:"nonce"`
	// Stored verification bumps: later operations re-derive the order and
	// vault authorities without re-searching.
	OrderBump uint8 `json:"orderBump"`
	VaultBump uint8 `json:"vaultBump"`
}

// fillable checks the preconditions for taking qty from the order.
func (o *SellOrder) fillable(qty uint64) error {
	if qty == 0 {
		return ledger.ErrInvalidAmount
	}
	if !o.Active {
		return ErrInactiveOrder
	}
	if qty > o.Remaining {
		return fmt.Errorf("%w: want %d, remaining %d", ErrInsufficientOrderAmount, qty, o.Remaining)
	}
	return nil
}

// applyFill decrements remaining; at zero the order deactivates for good.
func (o *SellOrder) applyFill(qty uint64) {
	o.Remaining -= qty
	if o.Remaining == 0 {
		o.Active = false
	}
}

// Trade is one completed fill, kept for history.
type Trade struct {
	ID        string         `json:"id"`
	Order     ledger.Address `json:"order"`
	Buyer     ledger.Address `json:"buyer"`
	Seller    ledger.Address `json:"seller"`
	Token     ledger.Address `json:"token"`
	Qty       uint64         `json:"qty"`
	UnitPrice uint64         `json:"unitPrice"`
	Cost      uint64         `json:"cost"`
	Time      int64          `json:"time"` // unix milliseconds
}

// Authority seed tags. The order id is itself a derived identifier, keyed by
// seller, token, and nonce; the vault authority is keyed by the order id.
var (
	orderSeed          = []byte("order")
	vaultAuthoritySeed = []byte("vault-authority")
)

func orderSeeds(seller, token ledger.Address, nonce uint64) [][]byte {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], nonce)
	return [][]byte{orderSeed, seller.Bytes(), token.Bytes(), n[:]}
}

func vaultSeeds(orderID ledger.Address) [][]byte {
	return [][]byte{vaultAuthoritySeed, orderID.Bytes()}
}

func deriveOrderID(seller, token ledger.Address, nonce uint64) (ledger.Address, uint8, error) {
	id, bump, err := crypto.Derive(orderSeeds(seller, token, nonce)...)
	return ledger.Address(id), bump, err
}

func deriveVault(orderID ledger.Address) (ledger.Address, uint8, error) {
	id, bump, err := crypto.Derive(vaultSeeds(orderID)...)
	return ledger.Address(id), bump, err
}

// vaultAuthority re-derives the vault owner from the stored bump.
func vaultAuthority(orderID ledger.Address, bump uint8) (ledger.Address, error) {
	id, err := crypto.At(bump, vaultSeeds(orderID)...)
	return ledger.Address(id), err
}

// Pebble key schema layered on the ledger's record API:
//
//	order:<orderID>        → SellOrder
//	trade:<time>:<tradeID> → Trade (time zero-padded for chronological scans)
const (
	prefixOrder = "order:"
	prefixTrade = "trade:"
)

func orderKey(id ledger.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixOrder, id.Hex()))
}

func tradeKey(timeMs int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixTrade, timeMs, id))
}
