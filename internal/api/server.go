// Package api exposes a read-only HTTP view of the running bot: prices,
// strategies, trades, candles and the recent activity log.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"candlebot/internal/engine"
	"candlebot/internal/logq"
	"candlebot/internal/model"
	"candlebot/internal/prices"
	"candlebot/internal/strategy"
	"candlebot/internal/workspace"
)

const defaultJournalLimit = 100

// Server serves the read-only API.
type Server struct {
	srv *http.Server
}

// Deps are the live components the API reads from. ws may be nil when the
// workspace is not configured; the journal endpoint then returns 404.
type Deps struct {
	Board    *prices.Board
	Registry *strategy.Registry
	Engine   *engine.Engine
	Logs     *logq.Queue
	WS       *workspace.Workspace
}

// NewRouter wires the read-only routes.
func NewRouter(deps Deps) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/prices", handlePrices(deps.Board)).Methods(http.MethodGet)
	r.HandleFunc("/api/strategies", handleStrategies(deps.Registry)).Methods(http.MethodGet)
	r.HandleFunc("/api/trades", handleTrades(deps.Registry)).Methods(http.MethodGet)
	r.HandleFunc("/api/candles/{symbol}/{timeframe}", handleCandles(deps.Engine)).Methods(http.MethodGet)
	r.HandleFunc("/api/logs", handleLogs(deps.Logs)).Methods(http.MethodGet)
	r.HandleFunc("/api/journal", handleJournal(deps.WS)).Methods(http.MethodGet)
	return r
}

// NewServer builds the router and the HTTP server around it.
func NewServer(addr string, deps Deps) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(deps),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("api server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("api server error", "err", err)
		}
	}()
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api response encode failed", "err", err)
	}
}

func handlePrices(board *prices.Board) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, board.Snapshot())
	}
}

type strategyView struct {
	Name       string          `json:"name"`
	Symbol     string          `json:"symbol"`
	Timeframe  model.Timeframe `json:"timeframe"`
	OpenTrades int             `json:"open_trades"`
	Trades     int             `json:"trades"`
}

func handleStrategies(registry *strategy.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := registry.All()
		views := make([]strategyView, 0, len(all))
		for _, s := range all {
			trades := s.Trades()
			open := 0
			for _, t := range trades {
				if t.Status == model.TradeOpen {
					open++
				}
			}
			views = append(views, strategyView{
				Name:       s.Name(),
				Symbol:     s.Asset().Symbol,
				Timeframe:  s.Timeframe(),
				OpenTrades: open,
				Trades:     len(trades),
			})
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleTrades(registry *strategy.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var trades []model.Trade
		for _, s := range registry.All() {
			trades = append(trades, s.Trades()...)
		}
		if trades == nil {
			trades = []model.Trade{}
		}
		writeJSON(w, http.StatusOK, trades)
	}
}

func handleCandles(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		tf := model.Timeframe(vars["timeframe"])
		b, ok := eng.Builder(vars["symbol"], tf)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no series for symbol/timeframe"})
			return
		}
		writeJSON(w, http.StatusOK, b.Series().Snapshot())
	}
}

func handleLogs(logs *logq.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, logs.Snapshot())
	}
}

func handleJournal(ws *workspace.Workspace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ws == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "workspace not configured"})
			return
		}
		limit := defaultJournalLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		entries, err := ws.Journal(limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if entries == nil {
			entries = []workspace.JournalEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}
