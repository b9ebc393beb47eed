package engine

import (
	"testing"

	"bbot/internal/models"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newProcessor(db *gorm.DB) *Processor {
	ex := NewExecutor(db, zap.NewNop(), true)
	return NewProcessor(db, zap.NewNop(), ex)
}

func boolPtr(v bool) *bool        { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestInitialEntry(t *testing.T) {
	t.Run("BuysOnFirstCycle", func(t *testing.T) {
		db := setupEngineTest(t)
		p := newProcessor(db)
		bot := newTestBot(db, func(b *models.Bot) { b.BuyOnStart = true })

		assert.NoError(t, p.ProcessBot(bot, 100, nil))

		assert.True(t, bot.HasOpenPosition)
		assert.Equal(t, int64(1), tradeCount(t, db, bot.ID))
	})

	t.Run("SkippedWhenTradesExist", func(t *testing.T) {
		db := setupEngineTest(t)
		p := newProcessor(db)
		bot := newTestBot(db, func(b *models.Bot) { b.BuyOnStart = true })
		db.Create(&models.Trade{BotID: bot.ID, Symbol: bot.Symbol, Side: models.TradeSideSell})

		assert.NoError(t, p.ProcessBot(bot, 100, nil))

		assert.False(t, bot.HasOpenPosition)
		assert.Equal(t, int64(1), tradeCount(t, db, bot.ID)) // only the pre-existing one
	})

	t.Run("BlockedWithoutRequiredBuySignal", func(t *testing.T) {
		db := setupEngineTest(t)
		p := newProcessor(db)
		bot := newTestBot(db, func(b *models.Bot) {
			b.BuyOnStart = true
			b.RequireBuySignal = true
		})

		// Absent indicator blocks the entry.
		assert.NoError(t, p.ProcessBot(bot, 100, nil))
		assert.Equal(t, int64(0), tradeCount(t, db, bot.ID))

		// A non-true signal blocks it as well.
		ind := &models.Indicator{Symbol: bot.Symbol, BuySignal: boolPtr(false)}
		assert.NoError(t, p.ProcessBot(bot, 100, ind))
		assert.Equal(t, int64(0), tradeCount(t, db, bot.ID))

		// Only an exactly-true signal lets the entry through.
		ind.BuySignal = boolPtr(true)
		assert.NoError(t, p.ProcessBot(bot, 100, ind))
		assert.Equal(t, int64(1), tradeCount(t, db, bot.ID))
	})
}

func TestDipEntry(t *testing.T) {
	t.Run("FirstCycleOnlySeedsReference", func(t *testing.T) {
		db := setupEngineTest(t)
		p := newProcessor(db)
		bot := newTestBot(db, func(b *models.Bot) { b.BuyDropPercent = 5 })

		assert.NoError(t, p.ProcessBot(bot, 100, nil))

		if assert.NotNil(t, bot.ReferencePrice) {
			assert.Equal(t, 100.0, *bot.ReferencePrice)
		}
		assert.Equal(t, int64(0), tradeCount(t, db, bot.ID))

		// The seed is durable, not just in-memory.
		var stored models.Bot
		assert.NoError(t, db.First(&stored, bot.ID).Error)
		if assert.NotNil(t, stored.ReferencePrice) {
			assert.Equal(t, 100.0, *stored.ReferencePrice)
		}
	})

	t.Run("BuysOnceDropThresholdReached", func(t *testing.T) {
		db := setupEngineTest(t)
		p := newProcessor(db)
		bot := newTestBot(db, func(b *models.Bot) {
			b.BuyDropPercent = 5
			b.ReferencePrice = floatPtr(100)
		})

		// -4% is not enough.
		assert.NoError(t, p.ProcessBot(bot, 96, nil))
		assert.Equal(t, int64(0), tradeCount(t, db, bot.ID))

		// -6% triggers the buy.
		assert.NoError(t, p.ProcessBot(bot, 94, nil))
		assert.Equal(t, int64(1), tradeCount(t, db, bot.ID))
		assert.True(t, bot.HasOpenPosition)
		if assert.NotNil(t, bot.ReferencePrice) {
			assert.Equal(t, 94.0, *bot.ReferencePrice)
		}
	})

	t.Run("GatedByBuySignal", func(t *testing.T) {
		db := setupEngineTest(t)
		p := newProcessor(db)
		bot := newTestBot(db, func(b *models.Bot) {
			b.BuyDropPercent = 5
			b.RequireBuySignal = true
			b.ReferencePrice = floatPtr(100)
		})

		assert.NoError(t, p.ProcessBot(bot, 90, nil))
		assert.Equal(t, int64(0), tradeCount(t, db, bot.ID))

		ind := &models.Indicator{Symbol: bot.Symbol, BuySignal: boolPtr(true)}
		assert.NoError(t, p.ProcessBot(bot, 90, ind))
		assert.Equal(t, int64(1), tradeCount(t, db, bot.ID))
	})
}

func TestStopLoss(t *testing.T) {
	openBot := func(db *gorm.DB, mutate func(*models.Bot)) *models.Bot {
		return newTestBot(db, func(b *models.Bot) {
			b.StopLossPercent = 10
			b.SellOnStopLoss = true
			b.HasOpenPosition = true
			b.PositionQty = 1
			b.LastBuyPrice = floatPtr(100)
			b.ReferencePrice = floatPtr(100)
			if mutate != nil {
				mutate(b)
			}
		})
	}

	t.Run("FiresBelowThreshold", func(t *testing.T) {
		db := setupEngineTest(t)
		p := newProcessor(db)
		bot := openBot(db, nil)

		// -11% breaches the 10% stop.
		assert.NoError(t, p.ProcessBot(bot, 89, nil))

		assert.False(t, bot.HasOpenPosition)
		assert.True(t, bot.Blocked)
		assert.Equal(t, models.BotStatusOffline, bot.Status)
		assert.Equal(t, int64(1), tradeCount(t, db, bot.ID))
	})

	t.Run("HoldsAboveThreshold", func(t *testing.T) {
		db := setupEngineTest(t)
		p := newProcessor(db)
		bot := openBot(db, nil)

		// -9% does not breach it.
		assert.NoError(t, p.ProcessBot(bot, 91, nil))

		assert.True(t, bot.HasOpenPosition)
		assert.False(t, bot.Blocked)
		assert.Equal(t, int64(0), tradeCount(t, db, bot.ID))
	})

	t.Run("HoldsWhenSellDisabled", func(t *testing.T) {
		db := setupEngineTest(t)
		p := newProcessor(db)
		bot := openBot(db, func(b *models.Bot) { b.SellOnStopLoss = false })

		assert.NoError(t, p.ProcessBot(bot, 80, nil))

		assert.True(t, bot.HasOpenPosition)
		assert.False(t, bot.Blocked)
		assert.Equal(t, int64(0), tradeCount(t, db, bot.ID))
	})

	t.Run("TakesPriorityOverTakeProfit", func(t *testing.T) {
		db := setupEngineTest(t)
		p := newProcessor(db)
		// A stale reference far above the market with a tiny take-profit
		// threshold: both rules would match, stop loss must win.
		bot := openBot(db, func(b *models.Bot) {
			b.SellRisePercent = 1
			b.LastBuyPrice = floatPtr(80)
		})

		assert.NoError(t, p.ProcessBot(bot, 85, nil))

		assert.True(t, bot.Blocked)
		var trade models.Trade
		assert.NoError(t, db.Where("bot_id = ?", bot.ID).First(&trade).Error)
		assert.Contains(t, trade.Info, ReasonStopLoss)
	})
}

func TestTakeProfit(t *testing.T) {
	openBot := func(db *gorm.DB, mutate func(*models.Bot)) *models.Bot {
		return newTestBot(db, func(b *models.Bot) {
			b.SellRisePercent = 5
			b.HasOpenPosition = true
			b.PositionQty = 2
			b.LastBuyPrice = floatPtr(100)
			b.ReferencePrice = floatPtr(100)
			if mutate != nil {
				mutate(b)
			}
		})
	}

	t.Run("SellsAboveThreshold", func(t *testing.T) {
		db := setupEngineTest(t)
		p := newProcessor(db)
		bot := openBot(db, nil)

		assert.NoError(t, p.ProcessBot(bot, 106, nil))

		assert.False(t, bot.HasOpenPosition)
		var trade models.Trade
		assert.NoError(t, db.Where("bot_id = ?", bot.ID).First(&trade).Error)
		if assert.NotNil(t, trade.RealizedPnL) {
			assert.Equal(t, 12.0, *trade.RealizedPnL) // 2*106 - 2*100
		}
		assert.Contains(t, trade.Info, ReasonTakeProfit)
	})

	t.Run("HoldsBelowThreshold", func(t *testing.T) {
		db := setupEngineTest(t)
		p := newProcessor(db)
		bot := openBot(db, nil)

		assert.NoError(t, p.ProcessBot(bot, 104, nil))

		assert.True(t, bot.HasOpenPosition)
		assert.Equal(t, int64(0), tradeCount(t, db, bot.ID))
	})

	t.Run("UsesReferencePriceWithoutLastBuy", func(t *testing.T) {
		db := setupEngineTest(t)
		p := newProcessor(db)
		bot := openBot(db, func(b *models.Bot) {
			b.LastBuyPrice = nil
			b.ReferencePrice = floatPtr(200)
		})

		// +5% of 200 is 210; 208 must not fire.
		assert.NoError(t, p.ProcessBot(bot, 208, nil))
		assert.True(t, bot.HasOpenPosition)

		assert.NoError(t, p.ProcessBot(bot, 210, nil))
		assert.False(t, bot.HasOpenPosition)
	})

	t.Run("GatedBySellSignal", func(t *testing.T) {
		db := setupEngineTest(t)
		p := newProcessor(db)
		bot := openBot(db, func(b *models.Bot) { b.RequireSellSignal = true })

		// No indicator: exit skipped, retried next cycle.
		assert.NoError(t, p.ProcessBot(bot, 110, nil))
		assert.True(t, bot.HasOpenPosition)

		ind := &models.Indicator{Symbol: bot.Symbol, SellSignal: boolPtr(false)}
		assert.NoError(t, p.ProcessBot(bot, 110, ind))
		assert.True(t, bot.HasOpenPosition)

		ind.SellSignal = boolPtr(true)
		assert.NoError(t, p.ProcessBot(bot, 110, ind))
		assert.False(t, bot.HasOpenPosition)
	})
}
