package engine

import (
	"fmt"

	"bbot/internal/metrics"
	"bbot/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sell reason tags recorded in the trade's Info column.
const (
	ReasonStopLoss    = "stop_loss_triggered"
	ReasonTakeProfit  = "take_profit"
	ReasonManualClose = "manual_close"
)

// Executor applies simulated fills to a bot's virtual balance and position
// and appends the immutable trade record. Each call commits the bot update
// and the trade row as one transaction, so a crash mid-cycle loses at most
// the in-flight bot.
type Executor struct {
	db        *gorm.DB
	logger    *zap.Logger
	simulated bool
}

// NewExecutor creates a new trade executor. simulated tags the recorded
// trades; the executor itself never places real orders.
func NewExecutor(db *gorm.DB, logger *zap.Logger, simulated bool) *Executor {
	return &Executor{
		db:        db,
		logger:    logger.Named("executor"),
		simulated: simulated,
	}
}

// Buy opens or adds to the bot's position at price, spending the bot's
// configured trade size. Insufficient virtual balance or a non-positive
// price refuses the trade with a log line and no state change.
func (e *Executor) Buy(bot *models.Bot, price float64) error {
	l := e.logger.With(zap.Uint("bot_id", bot.ID), zap.String("symbol", bot.Symbol))

	if bot.FreeBalance < bot.TradeSizeQuote {
		l.Warn("Buy refused: insufficient virtual balance",
			zap.Float64("free_balance", bot.FreeBalance),
			zap.Float64("trade_size", bot.TradeSizeQuote))
		return nil
	}
	if price <= 0 {
		l.Warn("Buy refused: invalid price", zap.Float64("price", price))
		return nil
	}

	qty := bot.TradeSizeQuote / price

	bot.HasOpenPosition = true
	bot.PositionQty += qty
	bot.FreeBalance -= bot.TradeSizeQuote
	p := price
	bot.LastBuyPrice = &p
	ref := price
	bot.ReferencePrice = &ref

	trade := models.Trade{
		BotID:       bot.ID,
		Symbol:      bot.Symbol,
		Side:        models.TradeSideBuy,
		Price:       price,
		Qty:         qty,
		QuoteQty:    bot.TradeSizeQuote,
		IsSimulated: e.simulated,
		Info:        "Simulated BUY executed by engine",
	}

	if err := e.commit(bot, &trade); err != nil {
		return fmt.Errorf("could not commit buy for bot %d: %w", bot.ID, err)
	}

	metrics.TradesExecuted.WithLabelValues(models.TradeSideBuy, "entry").Inc()
	l.Info("Simulated BUY executed",
		zap.Float64("price", price),
		zap.Float64("qty", qty),
		zap.Float64("quote_qty", trade.QuoteQty),
		zap.Float64("free_balance", bot.FreeBalance))

	return nil
}

// Sell closes the bot's whole position at price and records the realized
// P/L against the last buy price (falling back to the reference price,
// then to the sell price itself). A stop-loss sell additionally flips the
// bot into the blocked+offline terminal state.
func (e *Executor) Sell(bot *models.Bot, price float64, reason string) error {
	l := e.logger.With(
		zap.Uint("bot_id", bot.ID),
		zap.String("symbol", bot.Symbol),
		zap.String("reason", reason))

	if !bot.HasOpenPosition || bot.PositionQty <= 0 {
		l.Warn("Sell refused: no open position",
			zap.Bool("has_open_position", bot.HasOpenPosition),
			zap.Float64("position_qty", bot.PositionQty))
		return nil
	}
	if price <= 0 {
		l.Warn("Sell refused: invalid price", zap.Float64("price", price))
		return nil
	}

	qty := bot.PositionQty
	quoteValue := qty * price

	basePrice := price
	if bot.LastBuyPrice != nil {
		basePrice = *bot.LastBuyPrice
	} else if bot.ReferencePrice != nil {
		basePrice = *bot.ReferencePrice
	}
	realized := quoteValue - qty*basePrice

	bot.HasOpenPosition = false
	bot.PositionQty = 0
	bot.FreeBalance += quoteValue
	p := price
	bot.LastSellPrice = &p
	ref := price
	bot.ReferencePrice = &ref // next cycle anchors here

	if reason == ReasonStopLoss {
		bot.Blocked = true
		bot.Status = models.BotStatusOffline
	}

	info := "Simulated SELL executed by engine"
	if reason != "" {
		info = fmt.Sprintf("%s (%s)", info, reason)
	}

	trade := models.Trade{
		BotID:       bot.ID,
		Symbol:      bot.Symbol,
		Side:        models.TradeSideSell,
		Price:       price,
		Qty:         qty,
		QuoteQty:    quoteValue,
		IsSimulated: e.simulated,
		RealizedPnL: &realized,
		Info:        info,
	}

	if err := e.commit(bot, &trade); err != nil {
		return fmt.Errorf("could not commit sell for bot %d: %w", bot.ID, err)
	}

	metrics.TradesExecuted.WithLabelValues(models.TradeSideSell, reason).Inc()
	l.Info("Simulated SELL executed",
		zap.Float64("price", price),
		zap.Float64("qty", qty),
		zap.Float64("quote_value", quoteValue),
		zap.Float64("realized_pnl", realized),
		zap.Float64("free_balance", bot.FreeBalance),
		zap.Bool("blocked", bot.Blocked))

	return nil
}

// commit persists the bot mutation and the trade row atomically.
func (e *Executor) commit(bot *models.Bot, trade *models.Trade) error {
	return e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(bot).Error; err != nil {
			return err
		}
		return tx.Create(trade).Error
	})
}
