package market

import (
	"encoding/json"
	"fmt"

	"github.com/wattswap/wattswap/pkg/ledger"
)

// Order returns the committed state of one order.
func (e *Engine) Order(orderID ledger.Address) (SellOrder, error) {
	var order SellOrder
	ok, err := e.store.GetRecord(orderKey(orderID), &order)
	if err != nil {
		return SellOrder{}, err
	}
	if !ok {
		return SellOrder{}, fmt.Errorf("order %s: %w", orderID.Hex(), ErrOrderNotFound)
	}
	return order, nil
}

// OrderID recomputes the derived identifier for a (seller, token, nonce)
// listing without touching state.
func OrderID(seller, token ledger.Address, nonce uint64) (ledger.Address, error) {
	id, _, err := deriveOrderID(seller, token, nonce)
	return id, err
}

// Orders returns all live orders, optionally filtered by seller.
func (e *Engine) Orders(seller *ledger.Address) ([]SellOrder, error) {
	var orders []SellOrder
	err := e.store.Scan([]byte(prefixOrder), false, func(_ []byte, data []byte) error {
		var o SellOrder
		if err := json.Unmarshal(data, &o); err != nil {
			return nil // skip foreign rows
		}
		if seller != nil && o.Seller != *seller {
			return nil
		}
		orders = append(orders, o)
		return nil
	})
	return orders, err
}

// RecentTrades returns up to limit trades, newest first.
func (e *Engine) RecentTrades(limit int) ([]Trade, error) {
	var trades []Trade
	stop := fmt.Errorf("done")
	err := e.store.Scan([]byte(prefixTrade), true, func(_ []byte, data []byte) error {
		var tr Trade
		if err := json.Unmarshal(data, &tr); err != nil {
			return nil
		}
		trades = append(trades, tr)
		if len(trades) >= limit {
			return stop
		}
		return nil
	})
	if err != nil && err != stop {
		return nil, err
	}
	return trades, nil
}

// VaultAddress returns the derived authority owning an order's escrow.
func (e *Engine) VaultAddress(orderID ledger.Address) (ledger.Address, error) {
	order, err := e.Order(orderID)
	if err != nil {
		return ledger.Address{}, err
	}
	return vaultAuthority(orderID, order.VaultBump)
}

// VaultBalance returns the committed escrow balance backing an order. By
// construction it equals the order's remaining amount.
func (e *Engine) VaultBalance(orderID ledger.Address) (uint64, error) {
	order, err := e.Order(orderID)
	if err != nil {
		return 0, err
	}
	vid, err := vaultAuthority(orderID, order.VaultBump)
	if err != nil {
		return 0, err
	}
	return e.store.TokenBalance(vid, order.Token)
}
