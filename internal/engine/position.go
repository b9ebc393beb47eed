package engine

import (
	"fmt"

	"bbot/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Processor is the per-bot position state machine. Each cycle it evaluates
// an ordered rule table against the current price and the latest indicator
// snapshot, short-circuiting on the first rule that claims the cycle.
// Precedence is fixed: initial entry before dip entry, stop loss before
// take profit.
type Processor struct {
	db       *gorm.DB
	logger   *zap.Logger
	executor *Executor
}

// NewProcessor creates a new position processor.
func NewProcessor(db *gorm.DB, logger *zap.Logger, executor *Executor) *Processor {
	return &Processor{
		db:       db,
		logger:   logger.Named("position"),
		executor: executor,
	}
}

// cycleInput bundles everything one rule evaluation may look at.
// indicator may be nil when no row exists yet for the bot's symbol.
type cycleInput struct {
	bot       *models.Bot
	price     float64
	indicator *models.Indicator
}

// rule is one tagged predicate/action pair. fire returns true when the
// rule claimed the cycle, whether or not it produced a trade.
type rule struct {
	name string
	fire func(in *cycleInput) (bool, error)
}

// ProcessBot runs one cycle of the state machine for a bot.
func (p *Processor) ProcessBot(bot *models.Bot, price float64, ind *models.Indicator) error {
	in := &cycleInput{bot: bot, price: price, indicator: ind}

	var rules []rule
	if bot.HasOpenPosition {
		rules = p.sellRules()
	} else {
		rules = p.buyRules()
	}

	for _, r := range rules {
		fired, err := r.fire(in)
		if err != nil {
			return fmt.Errorf("rule %s failed for bot %d: %w", r.name, bot.ID, err)
		}
		if fired {
			p.logger.Debug("Rule claimed cycle",
				zap.Uint("bot_id", bot.ID),
				zap.String("rule", r.name))
			return nil
		}
	}

	p.logger.Debug("No rule fired this cycle",
		zap.Uint("bot_id", bot.ID),
		zap.Bool("has_open_position", bot.HasOpenPosition))
	return nil
}

// buyRules is the FLAT -> OPEN table, highest priority first.
func (p *Processor) buyRules() []rule {
	return []rule{
		{name: "initial_entry", fire: p.initialEntry},
		{name: "dip_entry", fire: p.dipEntry},
	}
}

// sellRules is the OPEN -> FLAT table, highest priority first.
func (p *Processor) sellRules() []rule {
	return []rule{
		{name: "stop_loss", fire: p.stopLoss},
		{name: "take_profit", fire: p.takeProfit},
	}
}

// initialEntry buys once for bots configured to enter on start, before any
// trade exists for them.
func (p *Processor) initialEntry(in *cycleInput) (bool, error) {
	if !in.bot.BuyOnStart {
		return false, nil
	}

	var count int64
	if err := p.db.Model(&models.Trade{}).Where("bot_id = ?", in.bot.ID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("could not count trades: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	if in.bot.RequireBuySignal && !signalIsTrue(in.indicator, buySignal) {
		p.logger.Info("Initial entry blocked: buy signal required but not present",
			zap.Uint("bot_id", in.bot.ID),
			zap.String("symbol", in.bot.Symbol))
		return true, nil
	}

	p.logger.Info("Initial entry: no prior trades and buy_on_start set",
		zap.Uint("bot_id", in.bot.ID),
		zap.Float64("price", in.price))
	return true, p.executor.Buy(in.bot, in.price)
}

// dipEntry buys when the price has dropped the configured percentage below
// the reference price. The first eligible cycle only seeds the reference.
func (p *Processor) dipEntry(in *cycleInput) (bool, error) {
	bot := in.bot
	if bot.BuyDropPercent <= 0 {
		return false, nil
	}

	if bot.ReferencePrice == nil {
		ref := in.price
		bot.ReferencePrice = &ref
		if err := p.db.Save(bot).Error; err != nil {
			return false, fmt.Errorf("could not seed reference price: %w", err)
		}
		p.logger.Info("Seeded reference price for dip entry",
			zap.Uint("bot_id", bot.ID),
			zap.Float64("reference_price", in.price))
		return true, nil
	}

	pct := (in.price - *bot.ReferencePrice) / *bot.ReferencePrice * 100
	if pct > -bot.BuyDropPercent {
		return false, nil
	}

	if bot.RequireBuySignal && !signalIsTrue(in.indicator, buySignal) {
		p.logger.Info("Dip entry blocked: buy signal required but not present",
			zap.Uint("bot_id", bot.ID),
			zap.Float64("drop_pct", pct))
		return true, nil
	}

	p.logger.Info("Dip entry triggered",
		zap.Uint("bot_id", bot.ID),
		zap.Float64("reference_price", *bot.ReferencePrice),
		zap.Float64("price", in.price),
		zap.Float64("drop_pct", pct),
		zap.Float64("threshold_pct", -bot.BuyDropPercent))
	return true, p.executor.Buy(bot, in.price)
}

// stopLoss sells (or holds, when configured not to sell) once the price
// falls the configured percentage below the reference price. A stop-loss
// sell leaves the bot blocked and offline until manually unblocked.
func (p *Processor) stopLoss(in *cycleInput) (bool, error) {
	bot := in.bot
	if bot.StopLossPercent <= 0 || bot.ReferencePrice == nil {
		return false, nil
	}

	pct := (in.price - *bot.ReferencePrice) / *bot.ReferencePrice * 100
	if pct > -bot.StopLossPercent {
		return false, nil
	}

	if !bot.SellOnStopLoss {
		p.logger.Warn("Stop loss hit but sell_on_stop_loss disabled; holding position",
			zap.Uint("bot_id", bot.ID),
			zap.Float64("drop_pct", pct))
		return true, nil
	}

	p.logger.Warn("Stop loss triggered",
		zap.Uint("bot_id", bot.ID),
		zap.Float64("reference_price", *bot.ReferencePrice),
		zap.Float64("price", in.price),
		zap.Float64("drop_pct", pct),
		zap.Float64("threshold_pct", -bot.StopLossPercent))
	return true, p.executor.Sell(bot, in.price, ReasonStopLoss)
}

// takeProfit sells once the price has risen the configured percentage above
// the last buy price (or the reference price when no buy recorded one).
func (p *Processor) takeProfit(in *cycleInput) (bool, error) {
	bot := in.bot
	if bot.SellRisePercent <= 0 || bot.ReferencePrice == nil {
		return false, nil
	}

	basePrice := *bot.ReferencePrice
	if bot.LastBuyPrice != nil {
		basePrice = *bot.LastBuyPrice
	}

	pct := (in.price - basePrice) / basePrice * 100
	if pct < bot.SellRisePercent {
		return false, nil
	}

	if bot.RequireSellSignal && !signalIsTrue(in.indicator, sellSignal) {
		// Exit skipped; the rule retries naturally next cycle.
		p.logger.Info("Take profit blocked: sell signal required but not present",
			zap.Uint("bot_id", bot.ID),
			zap.Float64("rise_pct", pct))
		return true, nil
	}

	p.logger.Info("Take profit triggered",
		zap.Uint("bot_id", bot.ID),
		zap.Float64("base_price", basePrice),
		zap.Float64("price", in.price),
		zap.Float64("rise_pct", pct),
		zap.Float64("threshold_pct", bot.SellRisePercent))
	return true, p.executor.Sell(bot, in.price, ReasonTakeProfit)
}

type signalKind int

const (
	buySignal signalKind = iota
	sellSignal
)

// signalIsTrue requires the market signal to be exactly true; an absent
// indicator row or an unset signal blocks the gated action.
func signalIsTrue(ind *models.Indicator, kind signalKind) bool {
	if ind == nil {
		return false
	}
	s := ind.BuySignal
	if kind == sellSignal {
		s = ind.SellSignal
	}
	return s != nil && *s
}
