package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"bookstate/internal/ledger"
	"bookstate/internal/orderbook"
	"bookstate/internal/signals"
	"bookstate/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
)

const (
	defaultDepth        = 25
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// Server exposes the book, the ledger and their signals read-only over HTTP
// and pushes signal snapshots to WebSocket clients.
type Server struct {
	engine      *signals.Engine
	history     *store.Store // nil when history is disabled
	hub         *Hub
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	corsOrigins []string // Allowed CORS origins (empty = allow all)
}

func NewServer(engine *signals.Engine, history *store.Store) *Server {
	s := &Server{
		engine:      engine,
		history:     history,
		hub:         NewHub(),
		rateLimiter: NewRateLimiter(600, 1*time.Minute),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.checkCORSOrigin(r.Header.Get("Origin"))
		},
	}
	return s
}

// SetCORSOrigins sets the allowed CORS origins.
// Pass an empty slice to allow all origins (default, for development).
func (s *Server) SetCORSOrigins(origins []string) {
	s.corsOrigins = origins
}

func (s *Server) checkCORSOrigin(origin string) bool {
	// Empty list = allow all (development mode)
	if len(s.corsOrigins) == 0 {
		return true
	}
	// Empty origin header = same-origin request, always allow
	if origin == "" {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.rateLimiter.Middleware)

	allowedOrigins := s.corsOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/book", s.getBook)
		r.Get("/book/top", s.getTop)
		r.Get("/signals", s.getSignals)
		r.Get("/signals/history", s.getHistory)
		r.Get("/gate", s.getGate)
		r.Get("/orders", s.getOrders)
		r.Get("/orders/{side}/{status}/{id}", s.getOrder)
		r.Get("/inventory", s.getInventory)
	})

	r.Get("/ws", s.handleWebSocket)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	book := s.engine.Book()
	writeJSON(w, map[string]interface{}{
		"status":      "ok",
		"symbol":      book.Symbol,
		"last_update": book.LastUpdateTime(),
		"bids":        book.Len(orderbook.Bid),
		"asks":        book.Len(orderbook.Ask),
		"ws_clients":  s.hub.Len(),
	})
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	depth, ok := intParam(w, r, "depth", defaultDepth)
	if !ok {
		return
	}
	writeJSON(w, s.engine.Book().Snapshot(depth))
}

type TopResponse struct {
	BestBid orderbook.Level `json:"best_bid"`
	BestAsk orderbook.Level `json:"best_ask"`
	Mid     float64         `json:"mid"`
	Spread  float64         `json:"spread"`
	Crossed bool            `json:"crossed"`
}

func (s *Server) getTop(w http.ResponseWriter, r *http.Request) {
	bid, ask, err := s.engine.Book().Top()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, TopResponse{
		BestBid: bid,
		BestAsk: ask,
		Mid:     (bid.Price + ask.Price) / 2,
		Spread:  ask.Price - bid.Price,
		Crossed: bid.Price >= ask.Price,
	})
}

func (s *Server) getSignals(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Evaluate()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "signal history disabled", http.StatusNotFound)
		return
	}
	limit, ok := intParam(w, r, "limit", defaultHistoryLimit)
	if !ok {
		return
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	snaps, err := s.history.Recent(s.engine.Book().Symbol, limit)
	if err != nil {
		log.Printf("[api] history query failed: %v", err)
		http.Error(w, "history query failed", http.StatusInternalServerError)
		return
	}
	if snaps == nil {
		snaps = []signals.Snapshot{}
	}
	writeJSON(w, snaps)
}

type GateResponse struct {
	Side    string  `json:"side"`
	Price   float64 `json:"price"`
	Size    float64 `json:"size"`
	Allowed bool    `json:"allowed"`
}

func (s *Server) getGate(w http.ResponseWriter, r *http.Request) {
	side, err := orderbook.ParseSide(r.URL.Query().Get("side"))
	if err != nil {
		http.Error(w, "side must be 'bid' or 'ask'", http.StatusBadRequest)
		return
	}
	price, ok := floatParam(w, r, "price", true)
	if !ok {
		return
	}
	size, ok := floatParam(w, r, "size", true)
	if !ok {
		return
	}

	allowed, err := s.engine.Gate(side, price, size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, GateResponse{Side: side.String(), Price: price, Size: size, Allowed: allowed})
}

func (s *Server) getOrders(w http.ResponseWriter, r *http.Request) {
	side, status, ok := selector(w, r.URL.Query().Get("side"), r.URL.Query().Get("status"))
	if !ok {
		return
	}
	orders, err := s.engine.Ledger().Orders(side, status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, orders)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	side, status, ok := selector(w, chi.URLParam(r, "side"), chi.URLParam(r, "status"))
	if !ok {
		return
	}
	order, err := s.engine.Ledger().Get(side, status, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, order)
}

type InventoryResponse struct {
	Inventory    float64 `json:"inventory"`
	Target       float64 `json:"target"`
	SizeToTarget float64 `json:"size_to_target"`
}

func (s *Server) getInventory(w http.ResponseWriter, r *http.Request) {
	target := s.engine.Config().TargetDelta
	if r.URL.Query().Get("target") != "" {
		var ok bool
		if target, ok = floatParam(w, r, "target", false); !ok {
			return
		}
	}

	l := s.engine.Ledger()
	writeJSON(w, InventoryResponse{
		Inventory:    l.InventoryDelta(),
		Target:       target,
		SizeToTarget: l.SizeToTarget(target),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	if !s.hub.Register(client) {
		conn.Close()
		return
	}

	// Send current signals if the book is ready
	if snap, err := s.engine.Evaluate(); err == nil {
		if data, err := json.Marshal(signalsMessage(snap)); err == nil {
			s.hub.Send(client, data)
		}
	}

	go client.WritePump()
	go client.ReadPump()
}

func signalsMessage(snap signals.Snapshot) map[string]interface{} {
	return map[string]interface{}{
		"type":    "signals",
		"signals": snap,
	}
}

// BroadcastSignals pushes snap to every WebSocket client.
func (s *Server) BroadcastSignals(snap signals.Snapshot) {
	s.hub.Broadcast(signalsMessage(snap))
}

// Shutdown stops internal goroutines (rate limiter cleanup, hub clients)
func (s *Server) Shutdown() {
	s.rateLimiter.Stop()
	s.hub.Stop()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orderbook.ErrEmptySide):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, orderbook.ErrPriceNotFound), errors.Is(err, ledger.ErrOrderNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, orderbook.ErrInvalidSide), errors.Is(err, orderbook.ErrInvalidPrice),
		errors.Is(err, ledger.ErrInvalidSide), errors.Is(err, ledger.ErrInvalidStatus):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("[api] unexpected error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func selector(w http.ResponseWriter, sideStr, statusStr string) (ledger.Side, ledger.Status, bool) {
	side, err := ledger.ParseSide(sideStr)
	if err != nil {
		http.Error(w, "side must be 'buy' or 'sell'", http.StatusBadRequest)
		return 0, 0, false
	}
	status, err := ledger.ParseStatus(statusStr)
	if err != nil {
		http.Error(w, "status must be 'pending' or 'active'", http.StatusBadRequest)
		return 0, 0, false
	}
	return side, status, true
}

func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		http.Error(w, name+" must be an integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func floatParam(w http.ResponseWriter, r *http.Request, name string, required bool) (float64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" && !required {
		return 0, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		http.Error(w, name+" must be a number", http.StatusBadRequest)
		return 0, false
	}
	return f, true
}
