package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bbot/internal/engine"
	"bbot/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BotCreateRequest is the payload accepted when creating a bot.
type BotCreateRequest struct {
	Name              string  `json:"name"`
	Symbol            string  `json:"symbol"`
	BalanceLimit      float64 `json:"balance_limit"`
	StopLossPercent   float64 `json:"stop_loss_percent"`
	SellOnStopLoss    bool    `json:"sell_on_stop_loss"`
	BuyDropPercent    float64 `json:"buy_drop_percent"`
	SellRisePercent   float64 `json:"sell_rise_percent"`
	BuyOnStart        bool    `json:"buy_on_start"`
	RequireBuySignal  bool    `json:"require_buy_signal"`
	RequireSellSignal bool    `json:"require_sell_signal"`
	TradeSizeQuote    float64 `json:"trade_size_quote"`
}

func (s *Server) botFromPath(w http.ResponseWriter, r *http.Request) (*models.Bot, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid bot id")
		return nil, false
	}

	var bot models.Bot
	if err := s.db.First(&bot, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("bot id=%d not found", id))
		} else {
			s.logger.Error("Failed to load bot", zap.Uint64("bot_id", id), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to load bot")
		}
		return nil, false
	}
	return &bot, true
}

func (s *Server) listBotsHandler(w http.ResponseWriter, r *http.Request) {
	var bots []models.Bot
	if err := s.db.Find(&bots).Error; err != nil {
		s.logger.Error("Failed to list bots", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list bots")
		return
	}
	s.writeJSON(w, http.StatusOK, bots)
}

func (s *Server) getBotHandler(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.botFromPath(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, bot)
}

// createBotHandler creates a bot in its initial state: offline, unblocked,
// free balance equal to the configured balance limit. The symbol must
// exist on Binance and the name must be unique.
func (s *Server) createBotHandler(w http.ResponseWriter, r *http.Request) {
	var req BotCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Name == "" || symbol == "" {
		s.writeError(w, http.StatusBadRequest, "name and symbol are required")
		return
	}

	valid, err := s.client.ValidateSymbol(symbol)
	if err != nil {
		s.logger.Error("Symbol validation failed", zap.String("symbol", symbol), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "could not validate symbol against Binance")
		return
	}
	if !valid {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("symbol %q does not exist on Binance", symbol))
		return
	}

	var existing models.Bot
	if err := s.db.Where("name = ?", req.Name).First(&existing).Error; err == nil {
		s.writeError(w, http.StatusBadRequest, "a bot with this name already exists")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("Failed to check bot name", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to create bot")
		return
	}

	bot := models.Bot{
		Name:              req.Name,
		Symbol:            symbol,
		BalanceLimit:      req.BalanceLimit,
		StopLossPercent:   req.StopLossPercent,
		SellOnStopLoss:    req.SellOnStopLoss,
		BuyDropPercent:    req.BuyDropPercent,
		SellRisePercent:   req.SellRisePercent,
		BuyOnStart:        req.BuyOnStart,
		RequireBuySignal:  req.RequireBuySignal,
		RequireSellSignal: req.RequireSellSignal,
		TradeSizeQuote:    req.TradeSizeQuote,
		Status:            models.BotStatusOffline,
		Blocked:           false,
		FreeBalance:       req.BalanceLimit,
	}

	if err := s.db.Create(&bot).Error; err != nil {
		s.logger.Error("Failed to create bot", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to create bot")
		return
	}

	s.logger.Info("Bot created", zap.Uint("bot_id", bot.ID), zap.String("symbol", bot.Symbol))
	s.writeJSON(w, http.StatusCreated, bot)
}

func (s *Server) deleteBotHandler(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.botFromPath(w, r)
	if !ok {
		return
	}

	if err := s.db.Delete(bot).Error; err != nil {
		s.logger.Error("Failed to delete bot", zap.Uint("bot_id", bot.ID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to delete bot")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startBotHandler(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.botFromPath(w, r)
	if !ok {
		return
	}

	if bot.Blocked {
		s.writeError(w, http.StatusBadRequest, "bot is blocked and cannot go online")
		return
	}

	if bot.Status != models.BotStatusOnline {
		bot.Status = models.BotStatusOnline
		if bot.StartedAt == nil {
			now := time.Now().UTC()
			bot.StartedAt = &now
		}
		if err := s.db.Save(bot).Error; err != nil {
			s.logger.Error("Failed to start bot", zap.Uint("bot_id", bot.ID), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to start bot")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, bot)
}

func (s *Server) stopBotHandler(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.botFromPath(w, r)
	if !ok {
		return
	}

	if bot.Status != models.BotStatusOffline {
		bot.Status = models.BotStatusOffline
		if err := s.db.Save(bot).Error; err != nil {
			s.logger.Error("Failed to stop bot", zap.Uint("bot_id", bot.ID), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to stop bot")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, bot)
}

// blockBotHandler blocks a bot; blocking always forces it offline.
func (s *Server) blockBotHandler(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.botFromPath(w, r)
	if !ok {
		return
	}

	bot.Blocked = true
	bot.Status = models.BotStatusOffline
	if err := s.db.Save(bot).Error; err != nil {
		s.logger.Error("Failed to block bot", zap.Uint("bot_id", bot.ID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to block bot")
		return
	}
	s.writeJSON(w, http.StatusOK, bot)
}

// unblockBotHandler clears the blocked flag. The bot stays offline; going
// online again is an explicit start action.
func (s *Server) unblockBotHandler(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.botFromPath(w, r)
	if !ok {
		return
	}

	if bot.Blocked {
		bot.Blocked = false
		if err := s.db.Save(bot).Error; err != nil {
			s.logger.Error("Failed to unblock bot", zap.Uint("bot_id", bot.ID), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to unblock bot")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, bot)
}

// closePositionHandler sells the bot's whole position at the current
// market price, bypassing all entry/exit gating. Unlike a stop loss it
// does not block the bot.
func (s *Server) closePositionHandler(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.botFromPath(w, r)
	if !ok {
		return
	}

	if !bot.HasOpenPosition || bot.PositionQty <= 0 {
		s.writeError(w, http.StatusBadRequest, "bot has no open position to close")
		return
	}

	price, err := s.client.GetSymbolPrice(bot.Symbol)
	if err != nil {
		s.logger.Error("Failed to fetch price for manual close",
			zap.Uint("bot_id", bot.ID), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "could not fetch current price from Binance")
		return
	}

	if err := s.executor.Sell(bot, price, engine.ReasonManualClose); err != nil {
		s.logger.Error("Manual close failed", zap.Uint("bot_id", bot.ID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to close position")
		return
	}
	s.writeJSON(w, http.StatusOK, bot)
}

func (s *Server) listBotTradesHandler(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.botFromPath(w, r)
	if !ok {
		return
	}

	var trades []models.Trade
	if err := s.db.Where("bot_id = ?", bot.ID).Order("id").Find(&trades).Error; err != nil {
		s.logger.Error("Failed to list bot trades", zap.Uint("bot_id", bot.ID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

// startAllBotsHandler brings every unblocked, offline bot online.
func (s *Server) startAllBotsHandler(w http.ResponseWriter, r *http.Request) {
	var bots []models.Bot
	if err := s.db.Find(&bots).Error; err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load bots")
		return
	}

	updated := 0
	for i := range bots {
		bot := &bots[i]
		if bot.Blocked || bot.Status == models.BotStatusOnline {
			continue
		}
		bot.Status = models.BotStatusOnline
		if bot.StartedAt == nil {
			now := time.Now().UTC()
			bot.StartedAt = &now
		}
		if err := s.db.Save(bot).Error; err != nil {
			s.logger.Error("Failed to start bot", zap.Uint("bot_id", bot.ID), zap.Error(err))
			continue
		}
		updated++
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// stopAllBotsHandler takes every online bot offline, blocked or not.
func (s *Server) stopAllBotsHandler(w http.ResponseWriter, r *http.Request) {
	var bots []models.Bot
	if err := s.db.Find(&bots).Error; err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load bots")
		return
	}

	updated := 0
	for i := range bots {
		bot := &bots[i]
		if bot.Status == models.BotStatusOffline {
			continue
		}
		bot.Status = models.BotStatusOffline
		if err := s.db.Save(bot).Error; err != nil {
			s.logger.Error("Failed to stop bot", zap.Uint("bot_id", bot.ID), zap.Error(err))
			continue
		}
		updated++
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}
