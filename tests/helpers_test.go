package tests

import (
	"testing"

	"go.uber.org/zap"

	"github.com/wattswap/wattswap/pkg/ledger"
	"github.com/wattswap/wattswap/pkg/market"
	"github.com/wattswap/wattswap/pkg/token"
)

// rent is the per-record native deposit used across the suite. Small on
// purpose so balance arithmetic in assertions stays readable.
const rent = 10

type env struct {
	store  *ledger.Store
	tokens *token.Manager
	market *market.Engine
}

// newTestEnv opens a fresh ledger in a temp directory and wires the token
// manager and marketplace engine on top of it.
func newTestEnv(t *testing.T) *env {
	t.Helper()

	store, err := ledger.Open(t.TempDir(), rent, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := zap.NewNop().Sugar()
	return &env{
		store:  store,
		tokens: token.NewManager(store, log),
		market: market.NewEngine(store, log),
	}
}

func addr(b byte) ledger.Address {
	var a ledger.Address
	a[0] = b
	return a
}

var (
	admin  = addr(0x01)
	oracle = addr(0x02)
	seller = addr(0xAA)
	buyer  = addr(0xBB)
)

func (e *env) fundNative(t *testing.T, owner ledger.Address, amount uint64) {
	t.Helper()
	tx := e.store.Begin()
	if err := tx.CreditNative(owner, amount); err != nil {
		t.Fatalf("credit native: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit credit: %v", err)
	}
}

func (e *env) nativeBalance(t *testing.T, owner ledger.Address) uint64 {
	t.Helper()
	bal, err := e.store.NativeBalance(owner)
	if err != nil {
		t.Fatalf("native balance: %v", err)
	}
	return bal
}

func (e *env) tokenBalance(t *testing.T, owner, tok ledger.Address) uint64 {
	t.Helper()
	bal, err := e.store.TokenBalance(owner, tok)
	if err != nil {
		t.Fatalf("token balance: %v", err)
	}
	return bal
}

// setupEnergy funds the admin for setup rent and registers the oracle and
// energy token.
func (e *env) setupEnergy(t *testing.T) token.Config {
	t.Helper()
	e.fundNative(t, admin, 10*rent)
	cfg, err := e.tokens.Setup(admin, oracle)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return cfg
}

// mintEnergy has the oracle mint amount to recipient, funding the oracle for
// the recipient's account rent.
func (e *env) mintEnergy(t *testing.T, recipient ledger.Address, amount uint64) {
	t.Helper()
	e.fundNative(t, oracle, rent)
	if err := e.tokens.Mint(oracle, recipient, amount); err != nil {
		t.Fatalf("mint %d to %s: %v", amount, recipient.Hex(), err)
	}
}

// listOrder creates a sell order for the given seller, who must already hold
// the tokens and enough native for the two rent deposits.
func (e *env) listOrder(t *testing.T, s, tok ledger.Address, nonce, amount, unitPrice uint64) ledger.Address {
	t.Helper()
	orderID, err := e.market.Create(s, tok, nonce, amount, unitPrice)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return orderID
}
