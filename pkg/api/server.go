package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/wattswap/wattswap/pkg/ledger"
	"github.com/wattswap/wattswap/pkg/market"
	"github.com/wattswap/wattswap/pkg/token"
)

// Server handles REST API and WebSocket connections
type Server struct {
	store  *ledger.Store
	tokens *token.Manager
	engine *market.Engine
	router *mux.Router
	hub    *Hub
	srv    *http.Server
	log    *zap.SugaredLogger
}

// NewServer wires the REST/WS surface around the ledger, token manager, and
// marketplace engine. Committed fills stream to the "trades" channel.
func NewServer(store *ledger.Store, tokens *token.Manager, engine *market.Engine, log *zap.SugaredLogger) *Server {
	s := &Server{
		store:  store,
		tokens: tokens,
		engine: engine,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}

	engine.OnTrade(func(tr market.Trade) {
		s.hub.BroadcastToChannel("trades", tradeInfo(tr))
	})

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Token lifecycle
	api.HandleFunc("/setup", s.handleSetup).Methods("POST")
	api.HandleFunc("/mint", s.handleMint).Methods("POST")
	api.HandleFunc("/burn", s.handleBurn).Methods("POST")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/supply", s.handleGetSupply).Methods("GET")

	// Native currency faucet (dev convenience)
	api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")

	// Accounts
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/tokens/{token}", s.handleGetTokenBalance).Methods("GET")

	// Marketplace
	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orders/fill", s.handleFillOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	// Ledger journal
	api.HandleFunc("/ledger/log", s.handleGetJournal).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start serves until the context is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.srv = &http.Server{Addr: addr, Handler: c.Handler(s.router)}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_server_starting", "addr", addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// ==============================
// Token Handlers
// ==============================

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req SetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, err := ledger.HexToAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid caller address", err.Error())
		return
	}
	oracle, err := ledger.HexToAddress(req.Oracle)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid oracle address", err.Error())
		return
	}

	cfg, err := s.tokens.Setup(caller, oracle)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, configInfo(cfg))
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, err := ledger.HexToAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid caller address", err.Error())
		return
	}
	recipient, err := ledger.HexToAddress(req.Recipient)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid recipient address", err.Error())
		return
	}

	if err := s.tokens.Mint(caller, recipient, req.Amount); err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, OKResponse{OK: true})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req BurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, err := ledger.HexToAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid caller address", err.Error())
		return
	}

	if err := s.tokens.Burn(caller, req.Amount); err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, OKResponse{OK: true})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, ok, err := s.tokens.Config()
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "not registered", "setup has not run")
		return
	}
	respondJSON(w, configInfo(cfg))
}

func (s *Server) handleGetSupply(w http.ResponseWriter, r *http.Request) {
	cfg, ok, err := s.tokens.Config()
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "not registered", "setup has not run")
		return
	}
	supply, err := s.tokens.Supply()
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, SupplyInfo{Token: cfg.Token.Hex(), Supply: supply})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	owner, err := ledger.HexToAddress(req.Owner)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner address", err.Error())
		return
	}

	tx := s.store.Begin()
	if err := tx.CreditNative(owner, req.Amount); err != nil {
		respondLedgerError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, OKResponse{OK: true})
}

// ==============================
// Account Handlers
// ==============================

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.HexToAddress(mux.Vars(r)["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}

	balance, err := s.store.NativeBalance(addr)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, AccountInfo{Address: addr.Hex(), Native: balance})
}

func (s *Server) handleGetTokenBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, err := ledger.HexToAddress(vars["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	tok, err := ledger.HexToAddress(vars["token"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid token address", err.Error())
		return
	}

	balance, err := s.store.TokenBalance(addr, tok)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, TokenBalanceInfo{Address: addr.Hex(), Token: tok.Hex(), Balance: balance})
}

// ==============================
// Marketplace Handlers
// ==============================

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	seller, err := ledger.HexToAddress(req.Seller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid seller address", err.Error())
		return
	}
	tok, err := ledger.HexToAddress(req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid token address", err.Error())
		return
	}

	orderID, err := s.engine.Create(seller, tok, req.Nonce, req.Amount, req.UnitPrice)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	s.broadcastOrder("created", orderID)
	respondJSON(w, CreateOrderResponse{Order: orderID.Hex()})
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	var req FillOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	buyer, err := ledger.HexToAddress(req.Buyer)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid buyer address", err.Error())
		return
	}
	orderID, err := ledger.HexToAddress(req.Order)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	if err := s.engine.Fill(buyer, orderID, req.Qty); err != nil {
		respondLedgerError(w, err)
		return
	}
	s.broadcastOrder("updated", orderID)
	respondJSON(w, OKResponse{OK: true})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	seller, err := ledger.HexToAddress(req.Seller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid seller address", err.Error())
		return
	}
	orderID, err := ledger.HexToAddress(req.Order)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	if err := s.engine.Cancel(seller, orderID); err != nil {
		respondLedgerError(w, err)
		return
	}
	s.hub.BroadcastToChannel("orders", OrderEvent{
		Type:  "cancelled",
		Order: OrderInfo{ID: orderID.Hex(), Seller: seller.Hex()},
	})
	respondJSON(w, OKResponse{OK: true})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	var seller *ledger.Address
	if q := r.URL.Query().Get("seller"); q != "" {
		addr, err := ledger.HexToAddress(q)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid seller address", err.Error())
			return
		}
		seller = &addr
	}

	orders, err := s.engine.Orders(seller)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = orderInfo(o)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := ledger.HexToAddress(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	order, err := s.engine.Order(orderID)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, orderInfo(order))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", "")
			return
		}
		limit = n
	}

	trades, err := s.engine.RecentTrades(limit)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	response := make([]TradeInfo, len(trades))
	for i, tr := range trades {
		response[i] = tradeInfo(tr)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", "")
			return
		}
		limit = n
	}

	entries, err := s.store.JournalTail(limit)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func configInfo(cfg token.Config) ConfigInfo {
	return ConfigInfo{
		Token:         cfg.Token.Hex(),
		Oracle:        cfg.Oracle.Hex(),
		MintAuthority: cfg.MintAuthority.Hex(),
	}
}

func orderInfo(o market.SellOrder) OrderInfo {
	id, err := market.OrderID(o.Seller, o.Token, o.Nonce)
	idHex := ""
	if err == nil {
		idHex = id.Hex()
	}
	return OrderInfo{
		ID:        idHex,
		Seller:    o.Seller.Hex(),
		Token:     o.Token.Hex(),
		UnitPrice: o.UnitPrice,
		Remaining: o.Remaining,
		Active:    o.Active,
		Nonce:     o.Nonce,
	}
}

func tradeInfo(tr market.Trade) TradeInfo {
	return TradeInfo{
		ID:        tr.ID,
		Order:     tr.Order.Hex(),
		Buyer:     tr.Buyer.Hex(),
		Seller:    tr.Seller.Hex(),
		Token:     tr.Token.Hex(),
		Qty:       tr.Qty,
		UnitPrice: tr.UnitPrice,
		Cost:      tr.Cost,
		Timestamp: tr.Time,
	}
}

// broadcastOrder pushes the committed order state to the "orders" channel.
func (s *Server) broadcastOrder(eventType string, orderID ledger.Address) {
	order, err := s.engine.Order(orderID)
	if err != nil {
		return
	}
	s.hub.BroadcastToChannel("orders", OrderEvent{Type: eventType, Order: orderInfo(order)})
}

// respondLedgerError maps domain errors onto HTTP statuses.
func respondLedgerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, market.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrExists), errors.Is(err, ledger.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, market.ErrInactiveOrder),
		errors.Is(err, market.ErrInsufficientOrderAmount),
		errors.Is(err, market.ErrMathOverflow):
		status = http.StatusBadRequest
	}
	respondError(w, status, fmt.Sprintf("%v", err), "")
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Details: details,
	})
}
