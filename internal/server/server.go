package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"bbot/internal/binance"
	"bbot/internal/config"
	"bbot/internal/engine"
	"bbot/internal/indicator"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Server exposes the HTTP API over the entities the engine mutates: bot
// lifecycle, trades, stats, indicator sync and the global run switch. It
// is a thin pass-through layer; all trading decisions live in the engine.
type Server struct {
	server   *http.Server
	logger   *zap.Logger
	db       *gorm.DB
	client   binance.RestClientInterface
	state    *engine.RunState
	executor *engine.Executor
	sync     *indicator.Service
	cfg      *config.Config
}

// NewServer creates the API server and registers all routes.
func NewServer(
	logger *zap.Logger,
	cfg *config.Config,
	db *gorm.DB,
	client binance.RestClientInterface,
	state *engine.RunState,
	executor *engine.Executor,
	sync *indicator.Service,
) *Server {
	s := &Server{
		logger:   logger.Named("api-server"),
		db:       db,
		client:   client,
		state:    state,
		executor: executor,
		sync:     sync,
		cfg:      cfg,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /system/health", s.healthHandler)
	mux.HandleFunc("GET /system/state", s.getStateHandler)
	mux.HandleFunc("POST /system/state/toggle", s.toggleStateHandler)
	mux.HandleFunc("POST /system/state/set", s.setStateHandler)

	mux.HandleFunc("GET /bots", s.listBotsHandler)
	mux.HandleFunc("POST /bots", s.createBotHandler)
	mux.HandleFunc("GET /bots/{id}", s.getBotHandler)
	mux.HandleFunc("DELETE /bots/{id}", s.deleteBotHandler)
	mux.HandleFunc("POST /bots/{id}/start", s.startBotHandler)
	mux.HandleFunc("POST /bots/{id}/stop", s.stopBotHandler)
	mux.HandleFunc("POST /bots/{id}/block", s.blockBotHandler)
	mux.HandleFunc("POST /bots/{id}/unblock", s.unblockBotHandler)
	mux.HandleFunc("POST /bots/{id}/close_position", s.closePositionHandler)
	mux.HandleFunc("GET /bots/{id}/trades", s.listBotTradesHandler)
	mux.HandleFunc("POST /bots/actions/start_all", s.startAllBotsHandler)
	mux.HandleFunc("POST /bots/actions/stop_all", s.stopAllBotsHandler)

	mux.HandleFunc("GET /trades/recent", s.recentTradesHandler)
	mux.HandleFunc("GET /trades/export", s.exportTradesHandler)

	mux.HandleFunc("GET /stats/summary", s.statsSummaryHandler)
	mux.HandleFunc("GET /stats/by_bot", s.statsByBotHandler)

	mux.HandleFunc("POST /indicators/sync/{symbol}", s.syncIndicatorsHandler)
	mux.HandleFunc("GET /indicators/latest/{symbol}", s.latestIndicatorHandler)

	mux.HandleFunc("GET /analysis/bot/{id}", s.analyzeBotHandler)

	mux.HandleFunc("GET /binance/symbol/{symbol}/validate", s.validateSymbolHandler)
	mux.HandleFunc("GET /binance/account", s.accountSummaryHandler)
	mux.HandleFunc("POST /binance/order/test", s.testOrderHandler)

	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: corsMiddleware(mux),
	}

	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

// corsMiddleware mirrors the permissive CORS setup the local frontend
// expects: every origin, method and header is allowed.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"detail": msg})
}
