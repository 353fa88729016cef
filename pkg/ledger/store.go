// Package ledger is the balance-bearing record store behind the energy
// marketplace: fungible token accounts keyed by (owner, token), native
// payment balances, and opaque domain records, all persisted in Pebble and
// mutated exclusively through all-or-nothing transactions (see Tx).
package ledger

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// envelope wraps every stored record with a version counter for optimistic
// concurrency control. A transaction remembers the version of everything it
// read; commit fails if any of those versions moved underneath it.
type envelope struct {
	Version uint64          `json:"v"`
	Data    json.RawMessage `json:"d"`
}

// Store owns the Pebble database. Commits serialize on mu; reads go straight
// to committed state.
type Store struct {
	mu   sync.Mutex
	db   *pebble.DB
	rent uint64
	log  *zap.SugaredLogger
	seq  uint64 // journal sequence, loaded at Open
}

// Open opens (or creates) the ledger database at path. rent is the native
// deposit charged per created record and refunded on close.
func Open(path string, rent uint64, log *zap.SugaredLogger) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}

	s := &Store{db: db, rent: rent, log: log}

	val, closer, err := db.Get(logSeqKey)
	switch err {
	case nil:
		var seq uint64
		if err := json.Unmarshal(val, &seq); err != nil {
			closer.Close()
			db.Close()
			return nil, fmt.Errorf("decode journal sequence: %w", err)
		}
		closer.Close()
		s.seq = seq
	case pebble.ErrNotFound:
		// fresh database
	default:
		db.Close()
		return nil, fmt.Errorf("load journal sequence: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Rent reports the per-record native deposit.
func (s *Store) Rent() uint64 { return s.rent }

// Begin starts a unit of work. Nothing touches disk until Commit.
func (s *Store) Begin() *Tx {
	return &Tx{
		store:  s,
		reads:  make(map[string]uint64),
		writes: make(map[string]pending),
	}
}

// get reads a committed envelope.
func (s *Store) get(key []byte) (envelope, bool, error) {
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return envelope{}, false, nil
	}
	if err != nil {
		return envelope{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()

	var env envelope
	if err := json.Unmarshal(val, &env); err != nil {
		return envelope{}, false, fmt.Errorf("decode envelope %s: %w", key, err)
	}
	return env, true, nil
}

// GetRecord reads a committed record into out. Returns false if absent.
func (s *Store) GetRecord(key []byte, out any) (bool, error) {
	env, ok, err := s.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return false, fmt.Errorf("decode record %s: %w", key, err)
	}
	return true, nil
}

// Scan walks committed records under prefix in key order (reverse when
// newest-first is wanted, e.g. trade history). fn receives the raw record
// bytes; returning an error stops the scan.
func (s *Store) Scan(prefix []byte, reverse bool, fn func(key []byte, data []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: KeyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", prefix, err)
	}
	defer iter.Close()

	step := func() bool { return iter.Next() }
	ok := iter.First()
	if reverse {
		step = func() bool { return iter.Prev() }
		ok = iter.Last()
	}

	for ; ok; ok = step() {
		var env envelope
		if err := json.Unmarshal(iter.Value(), &env); err != nil {
			continue // skip foreign entries
		}
		if err := fn(iter.Key(), env.Data); err != nil {
			return err
		}
	}
	return nil
}

// TokenBalance reads a committed token balance; zero if the account is absent.
func (s *Store) TokenBalance(owner, token Address) (uint64, error) {
	var acct TokenAccount
	ok, err := s.GetRecord(tokenAccountKey(owner, token), &acct)
	if err != nil || !ok {
		return 0, err
	}
	return acct.Balance, nil
}

// HasTokenAccount reports whether a committed balance record exists for
// (owner, token), regardless of balance.
func (s *Store) HasTokenAccount(owner, token Address) (bool, error) {
	_, ok, err := s.get(tokenAccountKey(owner, token))
	return ok, err
}

// NativeBalance reads a committed native balance; zero if absent.
func (s *Store) NativeBalance(owner Address) (uint64, error) {
	var acct NativeAccount
	ok, err := s.GetRecord(nativeKey(owner), &acct)
	if err != nil || !ok {
		return 0, err
	}
	return acct.Balance, nil
}

// MintInfo reads a committed mint record.
func (s *Store) MintInfo(token Address) (Mint, bool, error) {
	var m Mint
	ok, err := s.GetRecord(mintKey(token), &m)
	return m, ok, err
}
