package ledger

// Mint describes one fungible token type. Supply changes only through MintTo
// and Burn, both gated by the mint's registered authority or the holder.
type Mint struct {
	Token         Address `json:"token"`
	Authority     Address `json:"authority"` // sole identity allowed to mint
	AuthorityBump uint8   `json:"authorityBump"`
	Decimals      uint8   `json:"decimals"`
	Supply        uint64  `json:"supply"`
}

// TokenAccount holds one owner's balance of one token. Keyed by
// (owner, token); the pair is unique, so a transfer can never credit the
// wrong token type.
type TokenAccount struct {
	Owner   Address `json:"owner"`
	Token   Address `json:"token"`
	Balance uint64  `json:"balance"`
}

// NativeAccount holds payment-currency balance for one owner.
type NativeAccount struct {
	Owner   Address `json:"owner"`
	Balance uint64  `json:"balance"`
}
