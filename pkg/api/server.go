package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/uhyunpark/limitorders/pkg/app/core"
	"github.com/uhyunpark/limitorders/pkg/app/core/mempool"
	"github.com/uhyunpark/limitorders/pkg/app/core/order"
	"github.com/uhyunpark/limitorders/pkg/app/core/trade"
	"github.com/uhyunpark/limitorders/pkg/app/core/transaction"
	"github.com/uhyunpark/limitorders/pkg/app/limit"
	"github.com/uhyunpark/limitorders/pkg/metrics"
)

const maxTxBody = 64 << 10

// Options configures optional server behaviour.
type Options struct {
	Metrics     *metrics.Metrics
	CORSOrigins []string
	TxLogPath   string // JSON lines of submitted txs; empty disables
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     *limit.App
	router  *mux.Router
	hub     *Hub
	metrics *metrics.Metrics
	origins []string
	txLog   *os.File
}

// NewServer creates a new API server and subscribes it to committed blocks.
func NewServer(app *limit.App, opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}

	s := &Server{
		app:     app,
		router:  mux.NewRouter(),
		hub:     NewHub(),
		metrics: opts.Metrics,
		origins: opts.CORSOrigins,
	}

	if opts.TxLogPath != "" {
		f, err := os.OpenFile(opts.TxLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("[api] WARNING: failed to open tx log file %s: %v", opts.TxLogPath, err)
		} else {
			s.txLog = f
			log.Printf("[api] transaction log: %s", opts.TxLogPath)
		}
	}

	s.setupRoutes()
	app.OnBlock(s.BroadcastBlock)
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.instrument)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Transactions
	api.HandleFunc("/txs", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/txs/{hash}", s.handleGetReceipt).Methods("GET")

	// Orders; by-id is registered before {id} so it is not parsed as an id
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/by-id", s.handleOrdersByID).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")

	// Trades
	api.HandleFunc("/trades", s.handleListTrades).Methods("GET")
	api.HandleFunc("/trades/by-id", s.handleTradesByID).Methods("GET")
	api.HandleFunc("/trades/{id:[0-9]+}", s.handleGetTrade).Methods("GET")

	// Accounts
	api.HandleFunc("/accounts/{address}/balances/{asset}", s.handleGetBalance).Methods("GET")

	// Chain
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if s.txLog != nil {
			_ = s.txLog.Close()
		}
	}()

	log.Printf("[api] server starting on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBody+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	if len(body) > maxTxBody {
		respondError(w, http.StatusRequestEntityTooLarge, "transaction too large", "")
		return
	}

	h, err := s.app.PushTx(body)
	switch {
	case errors.Is(err, transaction.ErrMalformed):
		respondError(w, http.StatusBadRequest, "invalid transaction", err.Error())
		return
	case errors.Is(err, mempool.ErrDuplicate):
		respondError(w, http.StatusConflict, "duplicate transaction", h.Hex())
		return
	case errors.Is(err, mempool.ErrFull):
		respondError(w, http.StatusServiceUnavailable, "mempool full", "")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "submit failed", err.Error())
		return
	}

	s.logTransaction("TX_SUBMIT", map[string]interface{}{
		"hash":     h.Hex(),
		"tx_bytes": len(body),
	})

	w.WriteHeader(http.StatusAccepted)
	respondJSON(w, SubmitTxResponse{Status: "pending", Hash: h.Hex()})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["hash"]
	var h common.Hash
	if err := h.UnmarshalText([]byte(raw)); err != nil {
		respondError(w, http.StatusBadRequest, "invalid hash", err.Error())
		return
	}

	rcpt, err := s.app.Receipt(h)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "receipt lookup failed", err.Error())
		return
	}
	if rcpt == nil {
		respondError(w, http.StatusNotFound, "receipt not found", "")
		return
	}
	respondJSON(w, rcpt)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	offset, ok := parseOffset(w, r)
	if !ok {
		return
	}
	orders := s.app.Exchange().Orders(offset)
	for i, o := range orders {
		if o == nil {
			orders[i] = &order.Order{}
		}
	}
	respondJSON(w, OrderPage{Offset: offset, Orders: orders})
}

// parseIDs reads the comma separated ids query parameter.
func parseIDs(w http.ResponseWriter, r *http.Request) ([]uint64, bool) {
	var ids []uint64
	if raw := r.URL.Query().Get("ids"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid ids", err.Error())
				return nil, false
			}
			ids = append(ids, id)
		}
	}
	return ids, true
}

func (s *Server) handleOrdersByID(w http.ResponseWriter, r *http.Request) {
	ids, ok := parseIDs(w, r)
	if !ok {
		return
	}
	orders, err := s.app.Exchange().OrdersByID(ids)
	if err != nil {
		respondExchangeError(w, err)
		return
	}
	for i, o := range orders {
		if o == nil {
			orders[i] = &order.Order{}
		}
	}
	respondJSON(w, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	o, err := s.app.Exchange().OrderByID(id)
	if err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, o)
}

func (s *Server) handleTradesByID(w http.ResponseWriter, r *http.Request) {
	ids, ok := parseIDs(w, r)
	if !ok {
		return
	}
	trades, err := s.app.Exchange().TradesByID(ids)
	if err != nil {
		respondExchangeError(w, err)
		return
	}
	for i, t := range trades {
		if t == nil {
			trades[i] = &trade.Trade{}
		}
	}
	respondJSON(w, trades)
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	offset, ok := parseOffset(w, r)
	if !ok {
		return
	}
	trades := s.app.Exchange().Trades(offset)
	for i, t := range trades {
		if t == nil {
			trades[i] = &trade.Trade{}
		}
	}
	respondJSON(w, TradePage{Offset: offset, Trades: trades})
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	t, err := s.app.Exchange().TradeByID(id)
	if err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, t)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["address"]) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(vars["address"])
	asset, err := transaction.ParseAsset(vars["asset"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset", err.Error())
		return
	}

	respondJSON(w, BalanceInfo{
		Address: addr.Hex(),
		Asset:   asset.Hex(),
		Balance: s.app.Exchange().Balance(addr, asset),
	})
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	head := s.app.Head()
	stats := s.app.Exchange().Stats()
	respondJSON(w, ChainStatus{
		Height:       head.Height,
		Time:         head.Time,
		AppHash:      head.AppHash.Hex(),
		MempoolSize:  s.app.MempoolLen(),
		Orders:       stats.Orders,
		ActiveOrders: stats.ActiveOrders,
		Trades:       stats.Trades,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called after each committed block)
// ==============================

// BroadcastBlock pushes a block's trades, order changes and receipts to
// WebSocket subscribers.
func (s *Server) BroadcastBlock(blk *limit.BlockEvents) {
	for _, t := range blk.Trades {
		msg := WSMessage{Type: "trade", Height: blk.Height, Data: t}
		s.hub.BroadcastToChannel("trades", msg)
		s.broadcastAccounts(msg, t.Maker, t.Taker)
	}
	for _, o := range blk.Orders {
		msg := WSMessage{Type: "order", Height: blk.Height, Data: o}
		s.hub.BroadcastToChannel("orders", msg)
		s.broadcastAccounts(msg, o.Owner)
	}
	for _, rc := range blk.Receipts {
		if rc.Caller == (common.Address{}) {
			continue
		}
		s.broadcastAccounts(WSMessage{Type: "receipt", Height: blk.Height, Data: rc}, rc.Caller)
	}
}

func (s *Server) broadcastAccounts(msg WSMessage, addrs ...common.Address) {
	for i, a := range addrs {
		if i > 0 && a == addrs[i-1] {
			continue
		}
		s.hub.BroadcastToChannel(AccountChannel(a), msg)
	}
}

// AccountChannel is the WebSocket channel of one account.
func AccountChannel(a common.Address) string {
	return "account:" + strings.ToLower(a.Hex())
}

// ==============================
// Helper Functions
// ==============================

func parseOffset(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := r.URL.Query().Get("offset")
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid offset", err.Error())
		return 0, false
	}
	return v, true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// respondExchangeError maps an exchange error kind onto an HTTP status.
func respondExchangeError(w http.ResponseWriter, err error) {
	kind := core.ErrorKind(err)
	status := http.StatusBadRequest
	switch kind {
	case "NotFound":
		status = http.StatusNotFound
	case "Internal":
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: "request failed", Message: err.Error(), Kind: kind})
}

// logTransaction writes a transaction event to the log file
func (s *Server) logTransaction(eventType string, data map[string]interface{}) {
	if s.txLog == nil {
		return
	}

	entry := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"event":     eventType,
		"data":      data,
	}
	jsonData, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[api] failed to marshal tx log entry: %v", err)
		return
	}
	s.txLog.Write(append(jsonData, '\n'))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts requests by route template and status code.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if route == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.APIRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
