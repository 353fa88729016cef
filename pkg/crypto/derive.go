// Package crypto implements derivation of non-private signing authorities.
//
// An authority is a 32-byte identifier computed from an ordered tuple of
// seeds. Anyone can recompute it, but the ledger only honors it when the
// caller re-supplies the exact seed tuple, so it behaves like a signer that
// lives inside the program rather than behind a private key. To guarantee no
// external keypair can ever collide with an authority, the derivation rejects
// any digest that decodes as a valid ed25519 curve point and retries with the
// next bump value.
package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/sha3"
)

// domainTag separates authority digests from every other keccak use.
const domainTag = "wattswap/authority/v1"

// ErrNoBump means all 256 bump values produced on-curve digests.
// With keccak output this is astronomically unlikely (p ≈ 2^-256).
var ErrNoBump = errors.New("no valid bump in search space")

// Derive maps a seed tuple to an authority identifier and its bump: the
// smallest byte whose appended digest falls off the ed25519 curve.
// Deterministic; callers must persist the bump and re-derive with At or
// Verify instead of re-searching.
func Derive(seeds ...[]byte) ([32]byte, uint8, error) {
	for bump := 0; bump <= 0xff; bump++ {
		id := digest(seeds, uint8(bump))
		if !onCurve(id) {
			return id, uint8(bump), nil
		}
	}
	return [32]byte{}, 0, ErrNoBump
}

// At recomputes the authority for a previously stored bump.
// Errors if the digest lands on-curve, which means the bump does not belong
// to these seeds.
func At(bump uint8, seeds ...[]byte) ([32]byte, error) {
	id := digest(seeds, bump)
	if onCurve(id) {
		return [32]byte{}, fmt.Errorf("bump %d yields an on-curve digest for these seeds", bump)
	}
	return id, nil
}

// Verify reports whether id is exactly the authority derived from seeds and bump.
func Verify(id [32]byte, bump uint8, seeds ...[]byte) bool {
	got, err := At(bump, seeds...)
	return err == nil && got == id
}

// digest hashes the seed tuple with each seed length-prefixed, so two
// tuples with equal concatenation still derive distinct authorities.
func digest(seeds [][]byte, bump uint8) [32]byte {
	h := sha3.NewLegacyKeccak256()
	var n [binary.MaxVarintLen64]byte
	for _, s := range seeds {
		h.Write(n[:binary.PutUvarint(n[:], uint64(len(s)))])
		h.Write(s)
	}
	h.Write([]byte{bump})
	h.Write([]byte(domainTag))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// onCurve reports whether b decodes as a canonical ed25519 point, i.e.
// whether some signer could hold it as a public key.
func onCurve(b [32]byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b[:])
	return err == nil
}
