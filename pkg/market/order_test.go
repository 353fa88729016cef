package market

import (
	"errors"
	"testing"

	"github.com/wattswap/wattswap/pkg/ledger"
)

func testOrder(remaining uint64, active bool) *SellOrder {
	return &SellOrder{
		UnitPrice: 5,
		Remaining: remaining,
		Active:    active,
	}
}

func TestFillableChecks(t *testing.T) {
	if err := testOrder(100, true).fillable(0); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("qty=0: err = %v, want ErrInvalidAmount", err)
	}
	if err := testOrder(100, false).fillable(10); !errors.Is(err, ErrInactiveOrder) {
		t.Errorf("inactive: err = %v, want ErrInactiveOrder", err)
	}
	if err := testOrder(100, true).fillable(101); !errors.Is(err, ErrInsufficientOrderAmount) {
		t.Errorf("overdraw: err = %v, want ErrInsufficientOrderAmount", err)
	}
	if err := testOrder(100, true).fillable(100); err != nil {
		t.Errorf("exact fill: err = %v, want nil", err)
	}
}

func TestApplyFillDeactivatesAtZero(t *testing.T) {
	o := testOrder(100, true)

	o.applyFill(40)
	if o.Remaining != 60 || !o.Active {
		t.Errorf("after 40: remaining=%d active=%v, want 60 true", o.Remaining, o.Active)
	}

	o.applyFill(60)
	if o.Remaining != 0 || o.Active {
		t.Errorf("after 60: remaining=%d active=%v, want 0 false", o.Remaining, o.Active)
	}
}

func TestOrderIDDerivation(t *testing.T) {
	var seller, token ledger.Address
	seller[0] = 0xaa
	token[0] = 0x01

	a, _, err := deriveOrderID(seller, token, 1)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, _, err := deriveOrderID(seller, token, 1)
	if err != nil {
		t.Fatalf("re-derive: %v", err)
	}
	if a != b {
		t.Error("order id derivation not deterministic")
	}

	c, _, err := deriveOrderID(seller, token, 2)
	if err != nil {
		t.Fatalf("derive nonce 2: %v", err)
	}
	if a == c {
		t.Error("different nonces derived the same order id")
	}

	// Vault authorities are per-order.
	va, _, err := deriveVault(a)
	if err != nil {
		t.Fatalf("derive vault a: %v", err)
	}
	vc, _, err := deriveVault(c)
	if err != nil {
		t.Fatalf("derive vault c: %v", err)
	}
	if va == vc {
		t.Error("different orders share a vault authority")
	}
}
