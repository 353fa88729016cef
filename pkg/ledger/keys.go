package ledger

import "fmt"

// Pebble key schema. Prefix-based so related records scan as a range:
//
//	mint:<token>          → Mint
//	tok:<owner>:<token>   → TokenAccount
//	nat:<owner>           → NativeAccount
//	log:<seq>             → journal entry (20-digit zero-padded seq)
//	logseq                → last journal sequence
//
// Domain packages layer their own prefixes (order:, trade:) on top through
// the opaque record API.
const (
	prefixMint   = "mint:"
	prefixToken  = "tok:"
	prefixNative = "nat:"
	prefixLog    = "log:"
)

var logSeqKey = []byte("logseq")

func mintKey(token Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixMint, token.Hex()))
}

func tokenAccountKey(owner, token Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixToken, owner.Hex(), token.Hex()))
}

func nativeKey(owner Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixNative, owner.Hex()))
}

// logKey zero-pads the sequence so journal entries sort chronologically.
func logKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixLog, seq))
}

// KeyUpperBound returns the exclusive upper bound for a prefix scan.
func KeyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
