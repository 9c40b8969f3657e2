// Package api serves the engine over HTTP: order entry and book queries as
// JSON, and the live event stream over a websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/joripage/matching-engine/pkg/engine"
	"github.com/joripage/matching-engine/pkg/fanout"
	"github.com/joripage/matching-engine/pkg/logging"
	"github.com/joripage/matching-engine/pkg/marketdata"
	"github.com/joripage/matching-engine/pkg/orderbook"
	"github.com/joripage/matching-engine/pkg/tradestore"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const (
	maxBodyBytes      = 1 << 16
	shutdownTimeout   = 5 * time.Second
	defaultTradeLimit = 50
	maxTradeLimit     = 1000
)

type Engine interface {
	Submit(ctx context.Context, req engine.SubmitRequest) (uint64, error)
	Subscribe(types ...fanout.EventType) *fanout.Subscription
	Snapshot(ctx context.Context, depth int) (orderbook.Snapshot, error)
	LastSequence() uint64
	Stats() engine.Stats
	RunID() string
}

type Config struct {
	Addr           string
	Instrument     string
	AllowedOrigins []string
}

// TradeHistory reads the trade journal. It is satisfied by
// tradestore.TradeSQLRepo.
type TradeHistory interface {
	ListRecent(ctx context.Context, instrument string, limit int) ([]*tradestore.TradeRecord, error)
	ListByOrder(ctx context.Context, runID string, orderID uint64) ([]*tradestore.TradeRecord, error)
}

type Server struct {
	cfg    Config
	engine Engine
	trades TradeHistory
	router *mux.Router
	logger *zap.Logger
	http   *http.Server
}

type Option func(*Server)

// WithTradeHistory enables the journal-backed trade endpoints.
func WithTradeHistory(h TradeHistory) Option {
	return func(s *Server) {
		s.trades = h
	}
}

func NewServer(cfg Config, eng Engine, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		engine: eng,
		router: mux.NewRouter(),
		logger: logger.Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.withRequestID)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	api.HandleFunc("/book", s.handleGetBook).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleGetStats).Methods(http.MethodGet)
	api.HandleFunc("/trades", s.handleGetTrades).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id:[0-9]+}/trades", s.handleGetOrderTrades).Methods(http.MethodGet)

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
	})
	return c.Handler(s.router)
}

// Start serves in the background until Stop.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
	s.logger.Info("http api listening", zap.String("addr", s.cfg.Addr))
	return nil
}

func (s *Server) Stop() {
	if s.http == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logging.NewRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	log, ctx := logging.GetLogger(r.Context(), s.logger)

	var req SubmitOrderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	seq, err := s.engine.Submit(ctx, engine.SubmitRequest{
		Side:  req.Side,
		Type:  req.Type,
		Price: req.Price,
		Qty:   req.Quantity,
	})
	if err != nil {
		var verr *orderbook.ValidationError
		switch {
		case errors.As(err, &verr):
			respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		case errors.Is(err, engine.ErrQueueFull):
			w.Header().Set("Retry-After", "1")
			respondError(w, http.StatusServiceUnavailable, "queue full", err.Error())
		case errors.Is(err, engine.ErrEngineClosed):
			respondError(w, http.StatusServiceUnavailable, "engine closed", err.Error())
		default:
			log.Warn(ctx, "submit failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "submit failed", err.Error())
		}
		return
	}

	log.Debug(ctx, "order admitted", zap.Uint64("seq", seq))
	respondStatusJSON(w, http.StatusAccepted, SubmitOrderResponse{Sequence: seq})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	depth := 0
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid depth", v)
			return
		}
		depth = n
	}

	snap, err := s.engine.Snapshot(r.Context(), depth)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "snapshot unavailable", err.Error())
		return
	}

	respondJSON(w, BookResponse{
		Instrument:   s.cfg.Instrument,
		LastSequence: s.engine.LastSequence(),
		Bids:         snap.Bids,
		Asks:         snap.Asks,
		Timestamp:    time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Stats()
	respondJSON(w, StatsResponse{
		LastSequence: s.engine.LastSequence(),
		Processed:    st.Processed,
		Trades:       st.Trades,
		Volume:       st.Volume,
		Discarded:    st.Discarded,
		Resting:      st.Resting,
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		respondError(w, http.StatusNotImplemented, "trade history disabled", "")
		return
	}

	limit := defaultTradeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = min(n, maxTradeLimit)
	}

	records, err := s.trades.ListRecent(r.Context(), s.cfg.Instrument, limit)
	if err != nil {
		log, ctx := logging.GetLogger(r.Context(), s.logger)
		log.Error(ctx, "list trades failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "list trades failed", err.Error())
		return
	}
	respondJSON(w, toTradeMessages(records))
}

func (s *Server) handleGetOrderTrades(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		respondError(w, http.StatusNotImplemented, "trade history disabled", "")
		return
	}

	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	// order ids restart with every run; default to the running engine's
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		runID = s.engine.RunID()
	}

	records, err := s.trades.ListByOrder(r.Context(), runID, id)
	if err != nil {
		log, ctx := logging.GetLogger(r.Context(), s.logger)
		log.Error(ctx, "list order trades failed", zap.Uint64("order_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "list trades failed", err.Error())
		return
	}
	respondJSON(w, toTradeMessages(records))
}

func toTradeMessages(records []*tradestore.TradeRecord) []marketdata.TradeMessage {
	out := make([]marketdata.TradeMessage, 0, len(records))
	for _, rec := range records {
		out = append(out, marketdata.NewTradeMessage(rec.Instrument, rec.Trade()))
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, data any) {
	respondStatusJSON(w, http.StatusOK, data)
}

func respondStatusJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondStatusJSON(w, status, ErrorResponse{Error: error, Message: message})
}
