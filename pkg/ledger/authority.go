package ledger

import (
	"fmt"

	"github.com/wattswap/wattswap/pkg/crypto"
)

// Authority authorizes movement out of an account. Two kinds exist: a signer
// whose identity the runtime in front of the ledger has already verified, and
// a derived authority proven by re-supplying its seed tuple and stored bump.
type Authority interface {
	// Authorize returns ErrUnauthorized (wrapped) unless the authority may
	// act as owner.
	Authorize(owner Address) error
}

// Signer is an externally authenticated caller identity.
type Signer Address

func (s Signer) Authorize(owner Address) error {
	if Address(s) != owner {
		return fmt.Errorf("%w: signer %s is not account owner %s", ErrUnauthorized, Address(s).Hex(), owner.Hex())
	}
	return nil
}

// Derived authorizes as a non-private authority. The proof is re-validated on
// every use; holding a Derived value grants nothing unless the seeds and bump
// actually re-derive the account owner.
type Derived struct {
	Seeds [][]byte
	Bump  uint8
}

func (d Derived) Authorize(owner Address) error {
	if !crypto.Verify([32]byte(owner), d.Bump, d.Seeds...) {
		return fmt.Errorf("%w: derived authority proof does not match %s", ErrUnauthorized, owner.Hex())
	}
	return nil
}
