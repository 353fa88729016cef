package market

import (
	"fmt"
	"math/bits"

	"go.uber.org/zap"

	"github.com/wattswap/wattswap/pkg/ledger"
	"github.com/wattswap/wattswap/pkg/util"
)

// Engine orchestrates create / fill / cancel. Every operation is one ledger
// transaction: authority derivation, balance moves, and order mutation either
// all commit or none do.
type Engine struct {
	store   *ledger.Store
	log     *zap.SugaredLogger
	clock   util.Clock
	onTrade func(Trade)
}

func NewEngine(store *ledger.Store, log *zap.SugaredLogger) *Engine {
	return &Engine{store: store, log: log, clock: util.RealClock{}}
}

// SetClock overrides the trade-timestamp clock (tests).
func (e *Engine) SetClock(c util.Clock) { e.clock = c }

// OnTrade registers a callback invoked after each committed fill. Used by the
// API layer to broadcast trade events; must not block.
func (e *Engine) OnTrade(fn func(Trade)) { e.onTrade = fn }

// Create lists amount tokens at unitPrice each. The order id derives from
// (seller, token, nonce); the escrowed tokens move into a vault account owned
// by the order's derived vault authority. Returns the order id.
//
// Any token may be listed, not just the registered energy token.
func (e *Engine) Create(seller, token ledger.Address, nonce, amount, unitPrice uint64) (ledger.Address, error) {
	if amount == 0 {
		return ledger.Address{}, fmt.Errorf("create order: %w", ledger.ErrInvalidAmount)
	}

	orderID, orderBump, err := deriveOrderID(seller, token, nonce)
	if err != nil {
		return ledger.Address{}, fmt.Errorf("derive order id: %w", err)
	}

	vault, vaultBump, err := deriveVault(orderID)
	if err != nil {
		return ledger.Address{}, fmt.Errorf("derive vault authority: %w", err)
	}

	order := SellOrder{
		Seller:    seller,
		Token:     token,
		UnitPrice: unitPrice,
		Remaining: amount,
		Active:    true,
		Nonce:     nonce,
		OrderBump: orderBump,
		VaultBump: vaultBump,
	}

	tx := e.store.Begin()
	// Nonce collision surfaces here as ErrExists.
	if err := tx.CreateRecord(orderKey(orderID), &order, seller); err != nil {
		return ledger.Address{}, err
	}
	if err := tx.EnsureTokenAccount(vault, token, seller); err != nil {
		return ledger.Address{}, err
	}
	if err := tx.Transfer(token, seller, vault, amount, ledger.Signer(seller)); err != nil {
		return ledger.Address{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Address{}, err
	}

	e.log.Infow("order_created",
		"order", orderID.Hex(),
		"seller", seller.Hex(),
		"token", token.Hex(),
		"amount", amount,
		"unit_price", unitPrice,
	)
	return orderID, nil
}

// Fill buys qty tokens from an active order: cost in native currency moves
// buyer → seller, qty tokens move vault → buyer under the re-derived vault
// authority, and the order's remaining amount shrinks, deactivating at zero.
func (e *Engine) Fill(buyer, orderID ledger.Address, qty uint64) error {
	if qty == 0 {
		return fmt.Errorf("fill: %w", ledger.ErrInvalidAmount)
	}

	tx := e.store.Begin()

	var order SellOrder
	ok, err := tx.GetRecord(orderKey(orderID), &order)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("order %s: %w", orderID.Hex(), ErrOrderNotFound)
	}

	// Snapshot the fields the transfers depend on before mutating the order.
	price, remaining, vaultBump := order.UnitPrice, order.Remaining, order.VaultBump
	if err := order.fillable(qty); err != nil {
		return fmt.Errorf("fill order %s: %w", orderID.Hex(), err)
	}

	// Price and quantity are both externally influenced; the product must
	// not wrap.
	hi, cost := bits.Mul64(qty, price)
	if hi != 0 {
		return fmt.Errorf("fill order %s: %d * %d: %w", orderID.Hex(), qty, price, ErrMathOverflow)
	}

	seeds := vaultSeeds(orderID)
	vault, err := vaultAuthority(orderID, vaultBump)
	if err != nil {
		return fmt.Errorf("vault authority for %s: %w: %v", orderID.Hex(), ledger.ErrUnauthorized, err)
	}
	// The vault authority is off-curve: no signer can hold it, so it can
	// never be a buyer. Accepting it would drain the order without moving
	// escrow.
	if buyer == vault {
		return fmt.Errorf("fill order %s: buyer is the escrow vault: %w", orderID.Hex(), ledger.ErrUnauthorized)
	}

	if cost > 0 {
		if err := tx.TransferNative(buyer, order.Seller, cost, ledger.Signer(buyer)); err != nil {
			return err
		}
	}
	if err := tx.EnsureTokenAccount(buyer, order.Token, buyer); err != nil {
		return err
	}
	if err := tx.Transfer(order.Token, vault, buyer, qty, ledger.Derived{Seeds: seeds, Bump: vaultBump}); err != nil {
		return err
	}

	order.applyFill(qty)
	if err := tx.PutRecord(orderKey(orderID), &order); err != nil {
		return err
	}

	now := e.clock.Now().UnixMilli()
	trade := Trade{
		ID:        fmt.Sprintf("%s-%d", orderID.Hex(), remaining), // unique per order: remaining strictly decreases
		Order:     orderID,
		Buyer:     buyer,
		Seller:    order.Seller,
		Token:     order.Token,
		Qty:       qty,
		UnitPrice: price,
		Cost:      cost,
		Time:      now,
	}
	if err := tx.PutRecord(tradeKey(now, trade.ID), &trade); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	e.log.Infow("order_filled",
		"order", orderID.Hex(),
		"buyer", buyer.Hex(),
		"qty", qty,
		"cost", cost,
		"remaining", order.Remaining,
	)
	if e.onTrade != nil {
		e.onTrade(trade)
	}
	return nil
}

// Cancel closes an order: remaining escrow returns to the seller, the vault
// account and the order record are deleted with their rent deposits refunded.
// Only the order's seller may cancel. Cancelling an already-filled order just
// closes the empty records — deliberately not an error.
func (e *Engine) Cancel(seller, orderID ledger.Address) error {
	tx := e.store.Begin()

	var order SellOrder
	ok, err := tx.GetRecord(orderKey(orderID), &order)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("order %s: %w", orderID.Hex(), ErrOrderNotFound)
	}
	if order.Seller != seller {
		return fmt.Errorf("cancel order %s: caller %s is not the seller: %w", orderID.Hex(), seller.Hex(), ledger.ErrUnauthorized)
	}

	seeds := vaultSeeds(orderID)
	vault, err := vaultAuthority(orderID, order.VaultBump)
	if err != nil {
		return fmt.Errorf("vault authority for %s: %w: %v", orderID.Hex(), ledger.ErrUnauthorized, err)
	}
	auth := ledger.Derived{Seeds: seeds, Bump: order.VaultBump}

	var returned uint64
	vacct, ok, err := tx.TokenAccount(vault, order.Token)
	if err != nil {
		return err
	}
	if ok {
		if vacct.Balance > 0 {
			returned = vacct.Balance
			if err := tx.EnsureTokenAccount(seller, order.Token, seller); err != nil {
				return err
			}
			if err := tx.Transfer(order.Token, vault, seller, returned, auth); err != nil {
				return err
			}
		}
		if err := tx.CloseTokenAccount(vault, order.Token, auth, seller); err != nil {
			return err
		}
	}
	if err := tx.DeleteRecord(orderKey(orderID), seller); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	e.log.Infow("order_cancelled", "order", orderID.Hex(), "seller", seller.Hex(), "returned", returned)
	return nil
}
