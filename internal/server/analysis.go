package server

import (
	"fmt"
	"net/http"
	"time"

	"bbot/internal/indicator"
	"bbot/internal/models"
	"go.uber.org/zap"
)

// Recommendation labels produced by the bot analysis. These are rule-of-thumb
// hints for the dashboard, not trading advice.
const (
	RecommendNeutral          = "neutral"
	RecommendConsiderEntry    = "consider_entry"
	RecommendAvoidEntry       = "avoid_entry"
	RecommendReviewProfitTake = "review_profit_taking"
	RecommendProtectProfit    = "protect_profit"
	RecommendHoldButMonitor   = "hold_but_monitor"
	RecommendHoldObservation  = "hold_under_observation"
)

// TradesStats aggregates a bot's trade history for the analysis response.
type TradesStats struct {
	NumTrades     int        `json:"num_trades"`
	NumBuys       int        `json:"num_buys"`
	NumSells      int        `json:"num_sells"`
	RealizedPnL   float64    `json:"realized_pnl"`
	TotalFeesUSDT float64    `json:"total_fees_usdt"`
	LastTradeAt   *time.Time `json:"last_trade_at"`
}

// PositionAnalysis carries the open-position valuation at the latest candle
// close. Both fields are null when there is no position or no indicator yet.
type PositionAnalysis struct {
	CurrentPositionValue *float64 `json:"current_position_value"`
	UnrealizedPnL        *float64 `json:"unrealized_pnl"`
}

// BotAnalysis is the full response of the analysis endpoint.
type BotAnalysis struct {
	Bot       *models.Bot       `json:"bot"`
	Trades    TradesStats       `json:"trades_stats"`
	Indicator *models.Indicator `json:"indicator"`
	Position  PositionAnalysis  `json:"position"`
	Analysis  struct {
		Recommendation string   `json:"recommendation"`
		Reasons        []string `json:"reasons"`
	} `json:"analysis"`
}

// analyzeBotHandler assembles a snapshot view of one bot: trade statistics,
// the latest indicator row, the unrealized P/L of any open position valued
// at the latest candle close, and a signal-driven recommendation.
func (s *Server) analyzeBotHandler(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.botFromPath(w, r)
	if !ok {
		return
	}

	var trades []models.Trade
	if err := s.db.Where("bot_id = ?", bot.ID).Order("created_at").Find(&trades).Error; err != nil {
		s.logger.Error("Failed to load trades for analysis", zap.Uint("bot_id", bot.ID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}

	resp := BotAnalysis{Bot: bot}
	resp.Trades.NumTrades = len(trades)
	for _, t := range trades {
		switch t.Side {
		case models.TradeSideBuy:
			resp.Trades.NumBuys++
		case models.TradeSideSell:
			resp.Trades.NumSells++
		}
		if t.RealizedPnL != nil {
			resp.Trades.RealizedPnL += *t.RealizedPnL
		}
		if t.FeeAmount != nil && t.FeeAsset != nil && *t.FeeAsset == "USDT" {
			resp.Trades.TotalFeesUSDT += *t.FeeAmount
		}
	}
	if len(trades) > 0 {
		last := trades[len(trades)-1].CreatedAt
		resp.Trades.LastTradeAt = &last
	}

	ind, err := indicator.Latest(s.db, bot.Symbol, s.cfg.Engine.CandleInterval)
	if err != nil {
		s.logger.Error("Failed to load indicator for analysis",
			zap.String("symbol", bot.Symbol), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load indicator")
		return
	}
	resp.Indicator = ind

	// Unrealized P/L: the open position valued at the latest candle close,
	// against the last buy price. Approximate on purpose; no fees included.
	if bot.HasOpenPosition && bot.PositionQty > 0 && ind != nil && ind.Close > 0 {
		value := bot.PositionQty * ind.Close
		resp.Position.CurrentPositionValue = &value
		if bot.LastBuyPrice != nil {
			cost := bot.PositionQty * *bot.LastBuyPrice
			unrealized := value - cost
			resp.Position.UnrealizedPnL = &unrealized
		}
	}

	resp.Analysis.Recommendation, resp.Analysis.Reasons =
		recommend(bot, ind, resp.Trades.RealizedPnL, resp.Position.UnrealizedPnL)

	s.writeJSON(w, http.StatusOK, resp)
}

// recommend derives the rule-of-thumb label and its supporting reasons from
// the bot state, the latest indicator and the realized/unrealized P/L.
func recommend(bot *models.Bot, ind *models.Indicator, realized float64, unrealized *float64) (string, []string) {
	var reasons []string

	if bot.HasOpenPosition {
		reasons = append(reasons, "Bot has an open position.")
	} else {
		reasons = append(reasons, "Bot has no open position.")
	}

	if bot.StopLossPercent > 0 {
		reasons = append(reasons, fmt.Sprintf(
			"Stop loss configured at %.2f%% (sell_on_stop_loss=%t).",
			bot.StopLossPercent, bot.SellOnStopLoss))
	}

	if realized > 0 {
		reasons = append(reasons, fmt.Sprintf("Historical realized P/L is positive: %.6f USDT.", realized))
	} else if realized < 0 {
		reasons = append(reasons, fmt.Sprintf("Historical realized P/L is negative: %.6f USDT.", realized))
	}

	buy := ind != nil && ind.BuySignal != nil && *ind.BuySignal
	sell := ind != nil && ind.SellSignal != nil && *ind.SellSignal

	if ind != nil {
		switch {
		case buy && !sell:
			reasons = append(reasons, "Indicators show a BUY signal.")
		case sell && !buy:
			reasons = append(reasons, "Indicators show a SELL signal.")
		case buy && sell:
			reasons = append(reasons, "Indicators show mixed signals (BUY and SELL at the same time).")
		}
		if ind.RSI14 != nil {
			reasons = append(reasons, fmt.Sprintf("Current RSI14: %.2f.", *ind.RSI14))
		}
	} else {
		reasons = append(reasons, "No indicators computed for this symbol yet.")
	}

	if bot.HasOpenPosition && ind != nil {
		switch {
		case sell && realized > 0:
			reasons = append(reasons, "Realized P/L is positive and a SELL signal is present: consider taking part or all of the position.")
			return RecommendReviewProfitTake, reasons
		case sell && unrealized != nil && *unrealized > 0:
			reasons = append(reasons, "Unrealized P/L is positive with a SELL signal: consider reducing the position or tightening the stop.")
			return RecommendProtectProfit, reasons
		case buy && unrealized != nil && *unrealized < 0:
			reasons = append(reasons, "Unrealized P/L is negative but a BUY signal is present: hold the position and watch the risk.")
			return RecommendHoldButMonitor, reasons
		default:
			reasons = append(reasons, "No strong buy/sell signal: keep the position under observation.")
			return RecommendHoldObservation, reasons
		}
	}

	switch {
	case buy:
		reasons = append(reasons, "No open position and indicators show BUY: consider an entry per the bot's configuration.")
		return RecommendConsiderEntry, reasons
	case sell:
		reasons = append(reasons, "Indicators show SELL and the bot is flat: avoid new entries for now.")
		return RecommendAvoidEntry, reasons
	default:
		reasons = append(reasons, "No position and no clear signal: wait for a better market setup.")
		return RecommendNeutral, reasons
	}
}
