package server

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bbot/internal/binance"
	"bbot/internal/indicator"
	"bbot/internal/models"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------
// System
// ---------------------------------------------------------------------

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"app_name": s.cfg.App.Name,
		"app_mode": s.cfg.App.Mode,
	})
}

func (s *Server) getStateHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"system_running": s.state.Running()})
}

func (s *Server) toggleStateHandler(w http.ResponseWriter, r *http.Request) {
	running := s.state.Toggle()
	s.logger.Info("System run switch toggled", zap.Bool("system_running", running))
	s.writeJSON(w, http.StatusOK, map[string]bool{"system_running": running})
}

func (s *Server) setStateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SystemRunning bool `json:"system_running"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	running := s.state.SetRunning(req.SystemRunning)
	s.logger.Info("System run switch set", zap.Bool("system_running", running))
	s.writeJSON(w, http.StatusOK, map[string]bool{"system_running": running})
}

// ---------------------------------------------------------------------
// Trades
// ---------------------------------------------------------------------

func (s *Server) recentTradesHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	query := s.db.Model(&models.Trade{})
	if v := r.URL.Query().Get("bot_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid bot_id")
			return
		}
		query = query.Where("bot_id = ?", uint(id))
	}
	if v := r.URL.Query().Get("symbol"); v != "" {
		query = query.Where("symbol = ?", strings.ToUpper(strings.TrimSpace(v)))
	}

	var trades []models.Trade
	if err := query.Order("id desc").Limit(limit).Find(&trades).Error; err != nil {
		s.logger.Error("Failed to list recent trades", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

// exportTradesHandler streams all trades as CSV, oldest first.
func (s *Server) exportTradesHandler(w http.ResponseWriter, r *http.Request) {
	var trades []models.Trade
	if err := s.db.Order("id").Find(&trades).Error; err != nil {
		s.logger.Error("Failed to export trades", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to export trades")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="trades.csv"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"id", "bot_id", "symbol", "side", "price", "qty", "quote_qty",
		"is_simulated", "realized_pnl", "info", "created_at",
	})
	for _, t := range trades {
		realized := ""
		if t.RealizedPnL != nil {
			realized = strconv.FormatFloat(*t.RealizedPnL, 'f', -1, 64)
		}
		_ = cw.Write([]string{
			strconv.FormatUint(uint64(t.ID), 10),
			strconv.FormatUint(uint64(t.BotID), 10),
			t.Symbol,
			t.Side,
			strconv.FormatFloat(t.Price, 'f', -1, 64),
			strconv.FormatFloat(t.Qty, 'f', -1, 64),
			strconv.FormatFloat(t.QuoteQty, 'f', -1, 64),
			strconv.FormatBool(t.IsSimulated),
			realized,
			t.Info,
			t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.logger.Error("Failed to write CSV export", zap.Error(err))
	}
}

// ---------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------

func (s *Server) statsSummaryHandler(w http.ResponseWriter, r *http.Request) {
	var bots []models.Bot
	if err := s.db.Find(&bots).Error; err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load bots")
		return
	}
	var trades []models.Trade
	if err := s.db.Find(&trades).Error; err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}

	summary := struct {
		TotalBots             int     `json:"total_bots"`
		TotalBotsOnline       int     `json:"total_bots_online"`
		TotalBotsBlocked      int     `json:"total_bots_blocked"`
		TotalBotsWithPosition int     `json:"total_bots_with_open_position"`
		TotalFreeBalance      float64 `json:"total_free_balance_quote"`
		TotalRealizedPnL      float64 `json:"total_realized_pnl"`
		TotalFeesQuote        float64 `json:"total_fees_quote"`
		GeneratedAt           string  `json:"generated_at"`
	}{
		TotalBots:   len(bots),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}

	for _, b := range bots {
		if b.Status == models.BotStatusOnline {
			summary.TotalBotsOnline++
		}
		if b.Blocked {
			summary.TotalBotsBlocked++
		}
		if b.HasOpenPosition {
			summary.TotalBotsWithPosition++
		}
		summary.TotalFreeBalance += b.FreeBalance
	}
	for _, t := range trades {
		if t.RealizedPnL != nil {
			summary.TotalRealizedPnL += *t.RealizedPnL
		}
		if t.FeeAmount != nil && t.FeeAsset != nil && *t.FeeAsset == "USDT" {
			summary.TotalFeesQuote += *t.FeeAmount
		}
	}

	s.writeJSON(w, http.StatusOK, summary)
}

// BotStats is the per-bot performance summary.
type BotStats struct {
	BotID       uint       `json:"bot_id"`
	BotName     string     `json:"bot_name"`
	Symbol      string     `json:"symbol"`
	NumTrades   int        `json:"num_trades"`
	NumBuys     int        `json:"num_buys"`
	NumSells    int        `json:"num_sells"`
	RealizedPnL float64    `json:"realized_pnl"`
	LastTradeAt *time.Time `json:"last_trade_at"`
}

func (s *Server) statsByBotHandler(w http.ResponseWriter, r *http.Request) {
	var bots []models.Bot
	if err := s.db.Find(&bots).Error; err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load bots")
		return
	}

	result := make([]BotStats, 0, len(bots))
	for _, bot := range bots {
		var trades []models.Trade
		if err := s.db.Where("bot_id = ?", bot.ID).Order("created_at").Find(&trades).Error; err != nil {
			s.logger.Error("Failed to load trades for bot stats",
				zap.Uint("bot_id", bot.ID), zap.Error(err))
			continue
		}

		stats := BotStats{
			BotID:     bot.ID,
			BotName:   bot.Name,
			Symbol:    bot.Symbol,
			NumTrades: len(trades),
		}
		for _, t := range trades {
			switch t.Side {
			case models.TradeSideBuy:
				stats.NumBuys++
			case models.TradeSideSell:
				stats.NumSells++
			}
			if t.RealizedPnL != nil {
				stats.RealizedPnL += *t.RealizedPnL
			}
		}
		if len(trades) > 0 {
			last := trades[len(trades)-1].CreatedAt
			stats.LastTradeAt = &last
		}
		result = append(result, stats)
	}

	s.writeJSON(w, http.StatusOK, result)
}

// ---------------------------------------------------------------------
// Indicators
// ---------------------------------------------------------------------

func (s *Server) syncIndicatorsHandler(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.PathValue("symbol")))
	if symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	inserted, err := s.sync.Sync(symbol, s.cfg.Engine.CandleInterval, s.cfg.Engine.CandleLimit)
	if err != nil {
		s.logger.Error("Manual indicator sync failed", zap.String("symbol", symbol), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol":   symbol,
		"inserted": inserted,
	})
}

func (s *Server) latestIndicatorHandler(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.PathValue("symbol")))

	ind, err := indicator.Latest(s.db, symbol, s.cfg.Engine.CandleInterval)
	if err != nil {
		s.logger.Error("Failed to load latest indicator", zap.String("symbol", symbol), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load indicator")
		return
	}
	if ind == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no indicators found for %s", symbol))
		return
	}
	s.writeJSON(w, http.StatusOK, ind)
}

// ---------------------------------------------------------------------
// Binance passthrough
// ---------------------------------------------------------------------

func (s *Server) validateSymbolHandler(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.PathValue("symbol")))
	if symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	valid, err := s.client.ValidateSymbol(symbol)
	if err != nil {
		s.logger.Error("Symbol validation failed", zap.String("symbol", symbol), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "could not validate symbol against Binance")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"valid":  valid,
	})
}

func (s *Server) accountSummaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.client.GetAccountSummary()
	if err != nil {
		s.logger.Error("Failed to get account summary", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) testOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol        string  `json:"symbol"`
		Side          string  `json:"side"`
		Type          string  `json:"type"`
		Quantity      float64 `json:"quantity"`
		QuoteOrderQty float64 `json:"quote_order_qty"`
		TimeInForce   string  `json:"time_in_force"`
		Price         float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.client.PlaceTestOrder(binance.TestOrder{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		QuoteOrderQty: req.QuoteOrderQty,
		TimeInForce:   req.TimeInForce,
		Price:         req.Price,
	})
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
