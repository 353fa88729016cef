package api

// Request and response types for REST endpoints and WebSocket messages.
// Caller identity travels in the request body; the node runs behind a
// gateway that authenticates signatures before requests reach this layer.

// ==============================
// Requests
// ==============================

type SetupRequest struct {
	Caller string `json:"caller"`
	Oracle string `json:"oracle"`
}

type MintRequest struct {
	Caller    string `json:"caller"` // must be the registered oracle
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

type BurnRequest struct {
	Caller string `json:"caller"`
	Amount uint64 `json:"amount"`
}

type FaucetRequest struct {
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount"`
}

type CreateOrderRequest struct {
	Seller    string `json:"seller"`
	Token     string `json:"token"`
	Nonce     uint64 `json:"nonce"`
	Amount    uint64 `json:"amount"`
	UnitPrice uint64 `json:"unitPrice"`
}

type FillOrderRequest struct {
	Buyer string `json:"buyer"`
	Order string `json:"order"`
	Qty   uint64 `json:"qty"`
}

type CancelOrderRequest struct {
	Seller string `json:"seller"`
	Order  string `json:"order"`
}

// ==============================
// Responses
// ==============================

type ConfigInfo struct {
	Token         string `json:"token"`
	Oracle        string `json:"oracle"`
	MintAuthority string `json:"mintAuthority"`
}

type SupplyInfo struct {
	Token  string `json:"token"`
	Supply uint64 `json:"supply"`
}

type AccountInfo struct {
	Address string `json:"address"`
	Native  uint64 `json:"native"`
}

type TokenBalanceInfo struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Balance uint64 `json:"balance"`
}

type OrderInfo struct {
	ID        string `json:"id"`
	Seller    string `json:"seller"`
	Token     string `json:"token"`
	UnitPrice uint64 `json:"unitPrice"`
	Remaining uint64 `json:"remaining"`
	Active    bool   `json:"active"`
	Nonce     uint64 `json:"nonce"`
}

type TradeInfo struct {
	ID        string `json:"id"`
	Order     string `json:"order"`
	Buyer     string `json:"buyer"`
	Seller    string `json:"seller"`
	Token     string `json:"token"`
	Qty       uint64 `json:"qty"`
	UnitPrice uint64 `json:"unitPrice"`
	Cost      uint64 `json:"cost"`
	Timestamp int64  `json:"timestamp"`
}

type CreateOrderResponse struct {
	Order string `json:"order"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ==============================
// WebSocket Messages
// ==============================

// WSSubscribeRequest subscribes or unsubscribes channels
// Channels: "trades", "orders"
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSEvent is the envelope for pushed events
type WSEvent struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

// OrderEvent is pushed on the "orders" channel when a listing changes.
// Type: "created", "updated", or "cancelled".
type OrderEvent struct {
	Type  string    `json:"type"`
	Order OrderInfo `json:"order"`
}
