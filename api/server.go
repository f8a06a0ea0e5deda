package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"trendtrader/internal/config"
	"trendtrader/pkg/trader"
)

type Server struct {
	trader  *trader.Trader
	configs *config.Store
	logger  *logrus.Logger
	port    string
}

func NewServer(trader *trader.Trader, configs *config.Store, logger *logrus.Logger, port string) *Server {
	return &Server{
		trader:  trader,
		configs: configs,
		logger:  logger,
		port:    port,
	}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/positions", s.handlePositions)
	mux.HandleFunc("/api/scan", s.handleScan)
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/commands/panic-sell", s.handlePanicSell)
	mux.HandleFunc("/api/commands/cancel-buy", s.handleCancelBuy)
	mux.HandleFunc("/api/commands/pause", s.handlePause)
	mux.HandleFunc("/api/commands/resume", s.handleResume)

	// Prometheus scrape endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Enable CORS for the dashboard
	handler := corsMiddleware(mux)

	s.logger.Infof("Starting API server on port %s", s.port)
	return http.ListenAndServe(":"+s.port, handler)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"paused":    s.trader.Paused(),
		"timestamp": time.Now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.trader.Positions())
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot, err := s.trader.LatestScan()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	trades, err := s.trader.TradeHistory(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.configs.Snapshot())

	case http.MethodPut:
		// The update replaces the whole strategy section: start from the
		// live snapshot so omitted fields keep their current values.
		next := *s.configs.Snapshot()
		if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := s.configs.Apply(next); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		s.writeJSON(w, http.StatusOK, s.configs.Snapshot())

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type commandRequest struct {
	Symbol string `json:"symbol"`
}

func (s *Server) handlePanicSell(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.decodeCommand(w, r)
	if !ok {
		return
	}

	if err := s.trader.PanicSell(r.Context(), symbol); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "symbol": symbol})
}

func (s *Server) handleCancelBuy(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.decodeCommand(w, r)
	if !ok {
		return
	}

	if err := s.trader.CancelEntry(r.Context(), symbol); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "symbol": symbol})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.trader.Pause()
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.trader.Resume()
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) decodeCommand(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	if req.Symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return "", false
	}
	return req.Symbol, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
