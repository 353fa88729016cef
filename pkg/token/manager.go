// Package token manages the energy token lifecycle: one-time (idempotent)
// registration of the oracle and token mint, oracle-gated minting, and
// self-service burning. One token represents one kilowatt-hour.
package token

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wattswap/wattswap/pkg/crypto"
	"github.com/wattswap/wattswap/pkg/ledger"
)

// Seed tuples for the system authorities. The token id itself derives from a
// fixed seed so repeated setup converges on the same mint.
var (
	tokenSeed         = []byte("energy-token")
	mintAuthoritySeed = []byte("mint-authority")
)

var configKey = []byte("state:config")

// Config is the singleton oracle/token registration.
type Config struct {
	Token             ledger.Address `json:"token"`
	TokenBump         uint8          `json:"tokenBump"`
	Oracle            ledger.Address `json:"oracle"`
	MintAuthority     ledger.Address `json:"mintAuthority"`
	MintAuthorityBump uint8          `json:"mintAuthorityBump"`
}

type Manager struct {
	store *ledger.Store
	log   *zap.SugaredLogger
}

func NewManager(store *ledger.Store, log *zap.SugaredLogger) *Manager {
	return &Manager{store: store, log: log}
}

// Setup (re)registers the oracle and the energy token. Idempotent: the mint
// is created once (supply survives re-registration) and the oracle is
// overwritten on every call. Open orders are unaffected — they carry their
// own token id. caller pays rent for records created on first run.
func (m *Manager) Setup(caller, oracle ledger.Address) (Config, error) {
	tokenID, tokenBump, err := crypto.Derive(tokenSeed)
	if err != nil {
		return Config{}, fmt.Errorf("derive token id: %w", err)
	}
	authID, authBump, err := crypto.Derive(mintAuthoritySeed)
	if err != nil {
		return Config{}, fmt.Errorf("derive mint authority: %w", err)
	}

	cfg := Config{
		Token:             ledger.Address(tokenID),
		TokenBump:         tokenBump,
		Oracle:            oracle,
		MintAuthority:     ledger.Address(authID),
		MintAuthorityBump: authBump,
	}

	tx := m.store.Begin()

	if _, ok, err := tx.MintOf(cfg.Token); err != nil {
		return Config{}, err
	} else if !ok {
		// Decimals 0: the token is indivisible, one unit per kWh.
		if err := tx.CreateMint(cfg.Token, cfg.MintAuthority, authBump, 0, caller); err != nil {
			return Config{}, fmt.Errorf("create mint: %w", err)
		}
	}

	var prev Config
	if ok, err := tx.GetRecord(configKey, &prev); err != nil {
		return Config{}, err
	} else if !ok {
		if err := tx.CreateRecord(configKey, &cfg, caller); err != nil {
			return Config{}, fmt.Errorf("register config: %w", err)
		}
	} else if err := tx.PutRecord(configKey, &cfg); err != nil {
		return Config{}, fmt.Errorf("re-register config: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Config{}, err
	}

	m.log.Infow("setup_complete",
		"token", cfg.Token.Hex(),
		"oracle", oracle.Hex(),
		"mint_authority", cfg.MintAuthority.Hex(),
	)
	return cfg, nil
}

// Config returns the committed registration, if setup has run.
func (m *Manager) Config() (Config, bool, error) {
	var cfg Config
	ok, err := m.store.GetRecord(configKey, &cfg)
	return cfg, ok, err
}

func (m *Manager) config() (Config, error) {
	cfg, ok, err := m.Config()
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Config{}, fmt.Errorf("oracle registration: %w", ledger.ErrNotFound)
	}
	return cfg, nil
}

// Mint creates amount tokens in recipient's balance. Only the registered
// oracle may call; caller pays rent if the recipient's balance record must
// be created.
func (m *Manager) Mint(caller, recipient ledger.Address, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("mint: %w", ledger.ErrInvalidAmount)
	}
	cfg, err := m.config()
	if err != nil {
		return err
	}
	if caller != cfg.Oracle {
		return fmt.Errorf("mint: caller %s is not the oracle: %w", caller.Hex(), ledger.ErrUnauthorized)
	}

	tx := m.store.Begin()
	if err := tx.EnsureTokenAccount(recipient, cfg.Token, caller); err != nil {
		return err
	}
	auth := ledger.Derived{Seeds: [][]byte{mintAuthoritySeed}, Bump: cfg.MintAuthorityBump}
	if err := tx.MintTo(cfg.Token, recipient, amount, auth); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	m.log.Infow("energy_minted", "recipient", recipient.Hex(), "amount", amount)
	return nil
}

// Burn destroys amount of the caller's own balance, e.g. when the metered
// energy is consumed.
func (m *Manager) Burn(caller ledger.Address, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("burn: %w", ledger.ErrInvalidAmount)
	}
	cfg, err := m.config()
	if err != nil {
		return err
	}

	tx := m.store.Begin()
	if err := tx.Burn(cfg.Token, caller, amount, ledger.Signer(caller)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	m.log.Infow("energy_burned", "owner", caller.Hex(), "amount", amount)
	return nil
}

// Supply returns the committed total supply of the energy token.
func (m *Manager) Supply() (uint64, error) {
	cfg, err := m.config()
	if err != nil {
		return 0, err
	}
	mint, ok, err := m.store.MintInfo(cfg.Token)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("mint %s: %w", cfg.Token.Hex(), ledger.ErrNotFound)
	}
	return mint.Supply, nil
}
