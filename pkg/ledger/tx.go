package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cockroachdb/pebble"
)

// pending is a staged write: serialized record bytes, or a tombstone.
type pending struct {
	data []byte
	del  bool
}

// Tx is a unit of work against the ledger. Reads record the version of every
// committed record they observe; writes stay in memory. Commit revalidates
// all observed versions under the store lock and applies a single Pebble
// batch, so either every mutation lands or none does. Dropping a Tx without
// committing discards it — there is nothing to roll back.
//
// Concurrent transactions touching disjoint records commit independently;
// two transactions that observed the same record race, and the loser fails
// with ErrConflict.
type Tx struct {
	store *Store

	reads  map[string]uint64 // key → version observed (0 = absent)
	writes map[string]pending
	ops    []string // journal summaries, in order
	done   bool
}

// get reads through staged writes first, then committed state. The first
// committed observation of a key pins its version for conflict detection.
func (tx *Tx) get(key []byte, out any) (bool, error) {
	k := string(key)
	if p, ok := tx.writes[k]; ok {
		if p.del {
			return false, nil
		}
		return true, json.Unmarshal(p.data, out)
	}

	env, ok, err := tx.store.get(key)
	if err != nil {
		return false, err
	}
	if _, seen := tx.reads[k]; !seen {
		if ok {
			tx.reads[k] = env.Version
		} else {
			tx.reads[k] = 0
		}
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return false, fmt.Errorf("decode record %s: %w", key, err)
	}
	return true, nil
}

func (tx *Tx) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", key, err)
	}
	tx.writes[string(key)] = pending{data: data}
	return nil
}

func (tx *Tx) del(key []byte) {
	tx.writes[string(key)] = pending{del: true}
}

// note appends a journal summary line for this tx.
func (tx *Tx) note(format string, args ...any) {
	tx.ops = append(tx.ops, fmt.Sprintf(format, args...))
}

// ---------------------------------------------------------------------------
// Mints
// ---------------------------------------------------------------------------

// MintOf reads the mint record for token within this transaction.
func (tx *Tx) MintOf(token Address) (*Mint, bool, error) {
	var m Mint
	ok, err := tx.get(mintKey(token), &m)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &m, true, nil
}

// CreateMint registers a new token type whose supply is controlled by the
// given (usually derived) authority. payer is charged rent for the record.
func (tx *Tx) CreateMint(token, authority Address, authorityBump uint8, decimals uint8, payer Address) error {
	if _, ok, err := tx.MintOf(token); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("mint %s: %w", token.Hex(), ErrExists)
	}
	if err := tx.debitNative(payer, tx.store.rent); err != nil {
		return fmt.Errorf("mint rent: %w", err)
	}
	m := Mint{Token: token, Authority: authority, AuthorityBump: authorityBump, Decimals: decimals}
	tx.note("create-mint %s", token.Hex())
	return tx.put(mintKey(token), &m)
}

// MintTo creates amount new units of token in recipient's existing account.
// Only the mint's registered authority may mint.
func (tx *Tx) MintTo(token, recipient Address, amount uint64, auth Authority) error {
	if amount == 0 {
		return fmt.Errorf("mint: %w", ErrInvalidAmount)
	}
	m, ok, err := tx.MintOf(token)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mint %s: %w", token.Hex(), ErrNotFound)
	}
	if err := auth.Authorize(m.Authority); err != nil {
		return fmt.Errorf("mint: %w", err)
	}

	acct, ok, err := tx.TokenAccount(recipient, token)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mint recipient account %s/%s: %w", recipient.Hex(), token.Hex(), ErrNotFound)
	}

	if m.Supply > math.MaxUint64-amount {
		return fmt.Errorf("mint %s: supply overflow", token.Hex())
	}
	m.Supply += amount
	acct.Balance += amount

	if err := tx.put(mintKey(token), m); err != nil {
		return err
	}
	tx.note("mint %d %s -> %s", amount, token.Hex(), recipient.Hex())
	return tx.put(tokenAccountKey(recipient, token), acct)
}

// Burn destroys amount units of the owner's own balance.
func (tx *Tx) Burn(token, owner Address, amount uint64, auth Authority) error {
	if amount == 0 {
		return fmt.Errorf("burn: %w", ErrInvalidAmount)
	}
	if err := auth.Authorize(owner); err != nil {
		return fmt.Errorf("burn: %w", err)
	}

	acct, ok, err := tx.TokenAccount(owner, token)
	if err != nil {
		return err
	}
	if !ok || acct.Balance < amount {
		return fmt.Errorf("burn %d from %s: %w", amount, owner.Hex(), ErrInsufficientFunds)
	}

	m, ok, err := tx.MintOf(token)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mint %s: %w", token.Hex(), ErrNotFound)
	}

	acct.Balance -= amount
	m.Supply -= amount

	if err := tx.put(mintKey(token), m); err != nil {
		return err
	}
	tx.note("burn %d %s from %s", amount, token.Hex(), owner.Hex())
	return tx.put(tokenAccountKey(owner, token), acct)
}

// ---------------------------------------------------------------------------
// Token accounts
// ---------------------------------------------------------------------------

// TokenAccount reads the (owner, token) balance record within this transaction.
func (tx *Tx) TokenAccount(owner, token Address) (*TokenAccount, bool, error) {
	var acct TokenAccount
	ok, err := tx.get(tokenAccountKey(owner, token), &acct)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &acct, true, nil
}

// EnsureTokenAccount creates the (owner, token) balance record if absent,
// charging payer the rent deposit. No-op when the account already exists.
func (tx *Tx) EnsureTokenAccount(owner, token, payer Address) error {
	if _, ok, err := tx.TokenAccount(owner, token); err != nil {
		return err
	} else if ok {
		return nil
	}
	if err := tx.debitNative(payer, tx.store.rent); err != nil {
		return fmt.Errorf("token account rent: %w", err)
	}
	tx.note("create-account %s/%s", owner.Hex(), token.Hex())
	return tx.put(tokenAccountKey(owner, token), &TokenAccount{Owner: owner, Token: token})
}

// Transfer moves amount units of token between existing accounts. auth must
// authorize the source owner — either the owner's own signer identity or the
// derived authority controlling an escrow vault.
func (tx *Tx) Transfer(token, from, to Address, amount uint64, auth Authority) error {
	if amount == 0 {
		return fmt.Errorf("transfer: %w", ErrInvalidAmount)
	}
	if err := auth.Authorize(from); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}

	src, ok, err := tx.TokenAccount(from, token)
	if err != nil {
		return err
	}
	if !ok || src.Balance < amount {
		return fmt.Errorf("transfer %d %s from %s: %w", amount, token.Hex(), from.Hex(), ErrInsufficientFunds)
	}

	// Self-transfer: authorized and funded, but nothing moves. Staging both
	// legs would double-read the same account and inflate it.
	if from == to {
		return nil
	}

	dst, ok, err := tx.TokenAccount(to, token)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("transfer destination %s/%s: %w", to.Hex(), token.Hex(), ErrNotFound)
	}

	src.Balance -= amount
	dst.Balance += amount

	if err := tx.put(tokenAccountKey(from, token), src); err != nil {
		return err
	}
	tx.note("transfer %d %s %s -> %s", amount, token.Hex(), from.Hex(), to.Hex())
	return tx.put(tokenAccountKey(to, token), dst)
}

// CloseTokenAccount deletes an empty balance record and refunds its rent
// deposit to rentTo.
func (tx *Tx) CloseTokenAccount(owner, token Address, auth Authority, rentTo Address) error {
	if err := auth.Authorize(owner); err != nil {
		return fmt.Errorf("close account: %w", err)
	}
	acct, ok, err := tx.TokenAccount(owner, token)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("close account %s/%s: %w", owner.Hex(), token.Hex(), ErrNotFound)
	}
	if acct.Balance != 0 {
		return fmt.Errorf("close account %s/%s holding %d: drain it first", owner.Hex(), token.Hex(), acct.Balance)
	}
	if err := tx.creditNative(rentTo, tx.store.rent); err != nil {
		return err
	}
	tx.note("close-account %s/%s", owner.Hex(), token.Hex())
	tx.del(tokenAccountKey(owner, token))
	return nil
}

// ---------------------------------------------------------------------------
// Native currency (payment leg)
// ---------------------------------------------------------------------------

// NativeBalance reads the owner's native balance within this transaction.
func (tx *Tx) NativeBalance(owner Address) (uint64, error) {
	var acct NativeAccount
	ok, err := tx.get(nativeKey(owner), &acct)
	if err != nil || !ok {
		return 0, err
	}
	return acct.Balance, nil
}

// CreditNative adds native currency to owner — the bridge/faucet leg.
func (tx *Tx) CreditNative(owner Address, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("credit: %w", ErrInvalidAmount)
	}
	tx.note("credit %d -> %s", amount, owner.Hex())
	return tx.creditNative(owner, amount)
}

// TransferNative moves native currency between owners; the marketplace
// payment leg. auth must authorize the source owner.
func (tx *Tx) TransferNative(from, to Address, amount uint64, auth Authority) error {
	if amount == 0 {
		return fmt.Errorf("pay: %w", ErrInvalidAmount)
	}
	if err := auth.Authorize(from); err != nil {
		return fmt.Errorf("pay: %w", err)
	}
	if err := tx.debitNative(from, amount); err != nil {
		return err
	}
	tx.note("pay %d %s -> %s", amount, from.Hex(), to.Hex())
	return tx.creditNative(to, amount)
}

func (tx *Tx) creditNative(owner Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	var acct NativeAccount
	ok, err := tx.get(nativeKey(owner), &acct)
	if err != nil {
		return err
	}
	if !ok {
		acct = NativeAccount{Owner: owner}
	}
	if acct.Balance > math.MaxUint64-amount {
		return fmt.Errorf("credit %s: balance overflow", owner.Hex())
	}
	acct.Balance += amount
	return tx.put(nativeKey(owner), &acct)
}

func (tx *Tx) debitNative(owner Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	var acct NativeAccount
	ok, err := tx.get(nativeKey(owner), &acct)
	if err != nil {
		return err
	}
	if !ok || acct.Balance < amount {
		return fmt.Errorf("debit %d from %s: %w", amount, owner.Hex(), ErrInsufficientFunds)
	}
	acct.Balance -= amount
	return tx.put(nativeKey(owner), &acct)
}

// ---------------------------------------------------------------------------
// Opaque records (orders, config, trades)
// ---------------------------------------------------------------------------

// GetRecord reads a domain record within this transaction.
func (tx *Tx) GetRecord(key []byte, out any) (bool, error) {
	return tx.get(key, out)
}

// CreateRecord stores a new domain record, failing with ErrExists if the key
// is taken. payer is charged the rent deposit, refunded on DeleteRecord.
func (tx *Tx) CreateRecord(key []byte, v any, payer Address) error {
	var probe json.RawMessage
	if ok, err := tx.get(key, &probe); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("record %s: %w", key, ErrExists)
	}
	if err := tx.debitNative(payer, tx.store.rent); err != nil {
		return fmt.Errorf("record rent: %w", err)
	}
	tx.note("create %s", key)
	return tx.put(key, v)
}

// PutRecord upserts a domain record without rent accounting. Use for updates
// to existing records and for append-only rows like trade history.
func (tx *Tx) PutRecord(key []byte, v any) error {
	// Pin the current version even on blind writes so concurrent updates of
	// the same record conflict instead of silently last-write-winning.
	var probe json.RawMessage
	if _, err := tx.get(key, &probe); err != nil {
		return err
	}
	return tx.put(key, v)
}

// DeleteRecord removes a domain record and refunds its rent deposit to rentTo.
func (tx *Tx) DeleteRecord(key []byte, rentTo Address) error {
	var probe json.RawMessage
	if ok, err := tx.get(key, &probe); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("record %s: %w", key, ErrNotFound)
	}
	if err := tx.creditNative(rentTo, tx.store.rent); err != nil {
		return err
	}
	tx.note("delete %s", key)
	tx.del(key)
	return nil
}

// ---------------------------------------------------------------------------
// Commit
// ---------------------------------------------------------------------------

// Commit validates every observed record version and applies all staged
// writes in one synced Pebble batch, appending a journal entry. On
// ErrConflict nothing is applied and the caller may retry the whole
// operation against fresh state.
func (tx *Tx) Commit() error {
	if tx.done {
		return errors.New("transaction already finished")
	}
	tx.done = true

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, ver := range tx.reads {
		env, ok, err := s.get([]byte(key))
		if err != nil {
			return err
		}
		cur := uint64(0)
		if ok {
			cur = env.Version
		}
		if cur != ver {
			return fmt.Errorf("%w: %s changed (v%d -> v%d)", ErrConflict, key, ver, cur)
		}
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for key, p := range tx.writes {
		if p.del {
			if err := batch.Delete([]byte(key), nil); err != nil {
				return fmt.Errorf("stage delete %s: %w", key, err)
			}
			continue
		}
		ver, seen := tx.reads[key]
		if !seen {
			// Blind write: base the new version on current committed state.
			env, ok, err := s.get([]byte(key))
			if err != nil {
				return err
			}
			if ok {
				ver = env.Version
			}
		}
		buf, err := json.Marshal(envelope{Version: ver + 1, Data: p.data})
		if err != nil {
			return fmt.Errorf("encode envelope %s: %w", key, err)
		}
		if err := batch.Set([]byte(key), buf, nil); err != nil {
			return fmt.Errorf("stage write %s: %w", key, err)
		}
	}

	// The sequence only advances once the batch lands, so a failed commit
	// cannot leave a gap in the journal numbering.
	var seq uint64
	if len(tx.ops) > 0 {
		seq = s.seq + 1
		entry := JournalEntry{Seq: seq, Time: time.Now().UnixMilli(), Ops: tx.ops}
		buf, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode journal entry: %w", err)
		}
		if err := batch.Set(logKey(seq), buf, nil); err != nil {
			return fmt.Errorf("stage journal entry: %w", err)
		}
		seqBuf, _ := json.Marshal(seq)
		if err := batch.Set(logSeqKey, seqBuf, nil); err != nil {
			return fmt.Errorf("stage journal sequence: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	if seq != 0 {
		s.seq = seq
	}
	return nil
}
