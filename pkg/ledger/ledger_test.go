package ledger_test

import (
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/wattswap/wattswap/pkg/crypto"
	"github.com/wattswap/wattswap/pkg/ledger"
)

func newTestStore(t *testing.T, rent uint64) *ledger.Store {
	t.Helper()
	s, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"), rent, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addr(b byte) ledger.Address {
	var a ledger.Address
	a[0] = b
	return a
}

var (
	alice = addr(0xaa)
	bob   = addr(0xbb)
	token = addr(0x01)
)

// newMint registers a token controlled by a derived authority and returns the
// authority's seeds and bump for later gated operations.
func newMint(t *testing.T, s *ledger.Store, payer ledger.Address) ([][]byte, uint8) {
	t.Helper()
	seeds := [][]byte{[]byte("mint-authority")}
	auth, bump, err := crypto.Derive(seeds...)
	if err != nil {
		t.Fatalf("derive mint authority: %v", err)
	}
	tx := s.Begin()
	if err := tx.CreateMint(token, ledger.Address(auth), bump, 0, payer); err != nil {
		t.Fatalf("create mint: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit mint: %v", err)
	}
	return seeds, bump
}

func fund(t *testing.T, s *ledger.Store, owner ledger.Address, amount uint64) {
	t.Helper()
	tx := s.Begin()
	if err := tx.CreditNative(owner, amount); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit credit: %v", err)
	}
}

func TestNativeTransfer(t *testing.T) {
	s := newTestStore(t, 0)
	fund(t, s, alice, 1000)

	tx := s.Begin()
	if err := tx.TransferNative(alice, bob, 400, ledger.Signer(alice)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if got, _ := s.NativeBalance(alice); got != 600 {
		t.Errorf("alice = %d, want 600", got)
	}
	if got, _ := s.NativeBalance(bob); got != 400 {
		t.Errorf("bob = %d, want 400", got)
	}

	// Overdraw is a hard rejection.
	tx = s.Begin()
	err := tx.TransferNative(alice, bob, 700, ledger.Signer(alice))
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("overdraw err = %v, want ErrInsufficientFunds", err)
	}
}

func TestNativeTransferUnauthorized(t *testing.T) {
	s := newTestStore(t, 0)
	fund(t, s, alice, 1000)

	tx := s.Begin()
	err := tx.TransferNative(alice, bob, 100, ledger.Signer(bob))
	if !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	if got, _ := s.NativeBalance(alice); got != 1000 {
		t.Errorf("alice = %d, want 1000 (unchanged)", got)
	}
}

func TestMintAndBurn(t *testing.T) {
	s := newTestStore(t, 0)
	seeds, bump := newMint(t, s, alice)
	auth := ledger.Derived{Seeds: seeds, Bump: bump}

	tx := s.Begin()
	if err := tx.EnsureTokenAccount(alice, token, alice); err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	if err := tx.MintTo(token, alice, 500, auth); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if got, _ := s.TokenBalance(alice, token); got != 500 {
		t.Errorf("balance = %d, want 500", got)
	}
	if m, _, _ := s.MintInfo(token); m.Supply != 500 {
		t.Errorf("supply = %d, want 500", m.Supply)
	}

	tx = s.Begin()
	if err := tx.Burn(token, alice, 200, ledger.Signer(alice)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit burn: %v", err)
	}

	if got, _ := s.TokenBalance(alice, token); got != 300 {
		t.Errorf("balance = %d, want 300", got)
	}
	if m, _, _ := s.MintInfo(token); m.Supply != 300 {
		t.Errorf("supply = %d, want 300", m.Supply)
	}
}

func TestMintUnauthorized(t *testing.T) {
	s := newTestStore(t, 0)
	newMint(t, s, alice)

	tx := s.Begin()
	if err := tx.EnsureTokenAccount(alice, token, alice); err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	// A plain signer, even the account owner, may not mint.
	err := tx.MintTo(token, alice, 10, ledger.Signer(alice))
	if !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestDerivedAuthorityGatesVault(t *testing.T) {
	s := newTestStore(t, 0)
	seeds, bump := newMint(t, s, alice)

	vaultSeeds := [][]byte{[]byte("vault-authority"), []byte("order-xyz")}
	vaultID, vaultBump, err := crypto.Derive(vaultSeeds...)
	if err != nil {
		t.Fatalf("derive vault: %v", err)
	}
	vault := ledger.Address(vaultID)

	tx := s.Begin()
	tx.EnsureTokenAccount(vault, token, alice)
	tx.EnsureTokenAccount(alice, token, alice)
	if err := tx.MintTo(token, vault, 100, ledger.Derived{Seeds: seeds, Bump: bump}); err != nil {
		t.Fatalf("mint to vault: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Wrong seeds must not move vault funds.
	tx = s.Begin()
	bad := ledger.Derived{Seeds: [][]byte{[]byte("vault-authority"), []byte("other-order")}, Bump: vaultBump}
	if err := tx.Transfer(token, vault, alice, 50, bad); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("wrong seeds err = %v, want ErrUnauthorized", err)
	}

	// Neither may a signer claiming the vault address.
	tx = s.Begin()
	if err := tx.Transfer(token, vault, alice, 50, ledger.Signer(alice)); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("signer err = %v, want ErrUnauthorized", err)
	}

	// The exact seed tuple with the stored bump works.
	tx = s.Begin()
	if err := tx.Transfer(token, vault, alice, 50, ledger.Derived{Seeds: vaultSeeds, Bump: vaultBump}); err != nil {
		t.Fatalf("authorized transfer: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got, _ := s.TokenBalance(vault, token); got != 50 {
		t.Errorf("vault = %d, want 50", got)
	}
}

// A transfer to the source account itself must conserve the balance: staging
// both legs against the same key would credit the debited amount back on top
// of the original reading.
func TestSelfTransferConservesBalance(t *testing.T) {
	s := newTestStore(t, 0)
	seeds, bump := newMint(t, s, alice)

	tx := s.Begin()
	if err := tx.EnsureTokenAccount(alice, token, alice); err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	if err := tx.MintTo(token, alice, 100, ledger.Derived{Seeds: seeds, Bump: bump}); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx = s.Begin()
	if err := tx.Transfer(token, alice, alice, 60, ledger.Signer(alice)); err != nil {
		t.Fatalf("self-transfer: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit self-transfer: %v", err)
	}

	if got, _ := s.TokenBalance(alice, token); got != 100 {
		t.Errorf("self-transfer changed balance: got %d, want 100", got)
	}
	if m, _, _ := s.MintInfo(token); m.Supply != 100 {
		t.Errorf("self-transfer changed supply: got %d, want 100", m.Supply)
	}

	// Still subject to the funding check.
	tx = s.Begin()
	if err := tx.Transfer(token, alice, alice, 150, ledger.Signer(alice)); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("overdrawn self-transfer err = %v, want ErrInsufficientFunds", err)
	}
	// And to the authority check.
	tx = s.Begin()
	if err := tx.Transfer(token, alice, alice, 10, ledger.Signer(bob)); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("foreign self-transfer err = %v, want ErrUnauthorized", err)
	}

	// The native leg conserves too.
	fund(t, s, alice, 500)
	tx = s.Begin()
	if err := tx.TransferNative(alice, alice, 200, ledger.Signer(alice)); err != nil {
		t.Fatalf("native self-transfer: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit native self-transfer: %v", err)
	}
	if got, _ := s.NativeBalance(alice); got != 500 {
		t.Errorf("native self-transfer changed balance: got %d, want 500", got)
	}
}

// A dropped transaction must leave no trace, even after successful staged
// steps.
func TestDroppedTxLeavesNoTrace(t *testing.T) {
	s := newTestStore(t, 0)
	fund(t, s, alice, 1000)

	tx := s.Begin()
	if err := tx.TransferNative(alice, bob, 400, ledger.Signer(alice)); err != nil {
		t.Fatalf("staged transfer: %v", err)
	}
	// Second step fails; the whole unit of work is abandoned.
	if err := tx.TransferNative(alice, bob, 5000, ledger.Signer(alice)); err == nil {
		t.Fatal("expected overdraw error")
	}
	// No commit.

	if got, _ := s.NativeBalance(alice); got != 1000 {
		t.Errorf("alice = %d, want 1000", got)
	}
	if got, _ := s.NativeBalance(bob); got != 0 {
		t.Errorf("bob = %d, want 0", got)
	}
}

func TestCommitConflict(t *testing.T) {
	s := newTestStore(t, 0)
	fund(t, s, alice, 1000)

	tx1 := s.Begin()
	tx2 := s.Begin()

	if err := tx1.TransferNative(alice, bob, 600, ledger.Signer(alice)); err != nil {
		t.Fatalf("tx1 transfer: %v", err)
	}
	if err := tx2.TransferNative(alice, bob, 600, ledger.Signer(alice)); err != nil {
		t.Fatalf("tx2 transfer: %v", err)
	}

	if err := tx1.Commit(); err != nil {
		t.Fatalf("tx1 commit: %v", err)
	}
	if err := tx2.Commit(); !errors.Is(err, ledger.ErrConflict) {
		t.Errorf("tx2 commit err = %v, want ErrConflict", err)
	}

	// Only one transfer landed.
	if got, _ := s.NativeBalance(alice); got != 400 {
		t.Errorf("alice = %d, want 400", got)
	}
	if got, _ := s.NativeBalance(bob); got != 600 {
		t.Errorf("bob = %d, want 600", got)
	}
}

func TestRentChargeAndRefund(t *testing.T) {
	const rent = 250
	s := newTestStore(t, rent)
	// Mint creation itself costs rent; fund alice first.
	fund(t, s, alice, 10*rent)
	newMint(t, s, alice)

	before, _ := s.NativeBalance(alice)

	tx := s.Begin()
	if err := tx.EnsureTokenAccount(alice, token, alice); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	after, _ := s.NativeBalance(alice)
	if before-after != rent {
		t.Errorf("rent charged = %d, want %d", before-after, rent)
	}

	tx = s.Begin()
	if err := tx.CloseTokenAccount(alice, token, ledger.Signer(alice), alice); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit close: %v", err)
	}

	final, _ := s.NativeBalance(alice)
	if final != before {
		t.Errorf("balance after close = %d, want %d (rent refunded)", final, before)
	}
	if ok, _ := s.HasTokenAccount(alice, token); ok {
		t.Error("token account still exists after close")
	}
}

func TestCreateRecordCollision(t *testing.T) {
	s := newTestStore(t, 0)
	key := []byte("order:test")

	tx := s.Begin()
	if err := tx.CreateRecord(key, map[string]int{"a": 1}, alice); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx = s.Begin()
	err := tx.CreateRecord(key, map[string]int{"a": 2}, alice)
	if !errors.Is(err, ledger.ErrExists) {
		t.Errorf("err = %v, want ErrExists", err)
	}
}

func TestJournalRecordsCommits(t *testing.T) {
	s := newTestStore(t, 0)
	fund(t, s, alice, 100)
	fund(t, s, bob, 100)

	entries, err := s.JournalTail(10)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("journal entries = %d, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Seq <= entries[1].Seq {
		t.Errorf("journal not newest-first: %d then %d", entries[0].Seq, entries[1].Seq)
	}
}

// Failed commits must not consume journal sequence numbers.
func TestJournalSequenceContiguous(t *testing.T) {
	s := newTestStore(t, 0)
	fund(t, s, alice, 1000)

	tx1 := s.Begin()
	tx2 := s.Begin()
	if err := tx1.TransferNative(alice, bob, 100, ledger.Signer(alice)); err != nil {
		t.Fatalf("tx1 transfer: %v", err)
	}
	if err := tx2.TransferNative(alice, bob, 100, ledger.Signer(alice)); err != nil {
		t.Fatalf("tx2 transfer: %v", err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatalf("tx1 commit: %v", err)
	}
	if err := tx2.Commit(); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("tx2 commit err = %v, want ErrConflict", err)
	}

	fund(t, s, bob, 50)

	entries, err := s.JournalTail(10)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("journal entries = %d, want 3", len(entries))
	}
	for i := 0; i < len(entries)-1; i++ {
		if entries[i].Seq != entries[i+1].Seq+1 {
			t.Errorf("journal gap: seq %d followed by %d", entries[i+1].Seq, entries[i].Seq)
		}
	}
}
