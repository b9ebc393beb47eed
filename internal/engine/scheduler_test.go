package engine

import (
	"errors"
	"testing"
	"time"

	"bbot/internal/binance"
	"bbot/internal/config"
	"bbot/internal/indicator"
	"bbot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MockPriceFetcher is a mock implementation of the PriceFetcher interface.
type MockPriceFetcher struct {
	mock.Mock
}

func (m *MockPriceFetcher) GetSymbolPrice(symbol string) (float64, error) {
	args := m.Called(symbol)
	return args.Get(0).(float64), args.Error(1)
}

// MockKlineFetcher is a mock implementation of indicator.KlineFetcher.
type MockKlineFetcher struct {
	mock.Mock
}

func (m *MockKlineFetcher) GetKlines(symbol, interval string, limit int) ([]binance.Kline, error) {
	args := m.Called(symbol, interval, limit)
	return args.Get(0).([]binance.Kline), args.Error(1)
}

// fakeClock returns a controllable time for throttle tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func engineConfig() config.Engine {
	return config.Engine{
		TickInterval:   5,
		SyncInterval:   60,
		CandleInterval: "5m",
		CandleLimit:    200,
	}
}

func setupScheduler(t *testing.T, running bool) (*gorm.DB, *MockPriceFetcher, *MockKlineFetcher, *fakeClock, *Scheduler) {
	db := setupEngineTest(t)
	prices := new(MockPriceFetcher)
	klines := new(MockKlineFetcher)
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	logger := zap.NewNop()
	svc := indicator.NewService(db, klines, logger)
	executor := NewExecutor(db, logger, true)
	processor := NewProcessor(db, logger, executor)
	state := NewRunState(running)

	sched := NewScheduler(logger, engineConfig(), db, prices, state, clock, svc, processor)
	return db, prices, klines, clock, sched
}

func TestRunCycle_SystemOffDoesNothing(t *testing.T) {
	db, prices, klines, _, sched := setupScheduler(t, false)
	newTestBot(db, func(b *models.Bot) { b.BuyOnStart = true })

	assert.NoError(t, sched.RunCycle())

	// Off means off: no price fetches, no kline fetches, no trades.
	prices.AssertNotCalled(t, "GetSymbolPrice", mock.Anything)
	klines.AssertNotCalled(t, "GetKlines", mock.Anything, mock.Anything, mock.Anything)
	var count int64
	db.Model(&models.Trade{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestRunCycle_SkipsIneligibleBots(t *testing.T) {
	db, prices, klines, _, sched := setupScheduler(t, true)
	newTestBot(db, func(b *models.Bot) {
		b.Name = "offline-bot"
		b.Status = models.BotStatusOffline
		b.BuyOnStart = true
	})
	newTestBot(db, func(b *models.Bot) {
		b.Name = "blocked-bot"
		b.Blocked = true
		b.BuyOnStart = true
	})

	assert.NoError(t, sched.RunCycle())

	prices.AssertNotCalled(t, "GetSymbolPrice", mock.Anything)
	klines.AssertNotCalled(t, "GetKlines", mock.Anything, mock.Anything, mock.Anything)
	var count int64
	db.Model(&models.Trade{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestRunCycle_PriceFetchFailureIsolatedPerBot(t *testing.T) {
	db, prices, klines, _, sched := setupScheduler(t, true)
	broken := newTestBot(db, func(b *models.Bot) {
		b.Name = "broken-bot"
		b.Symbol = "BTCUSDT"
		b.BuyOnStart = true
	})
	healthy := newTestBot(db, func(b *models.Bot) {
		b.Name = "healthy-bot"
		b.Symbol = "ETHUSDT"
		b.BuyOnStart = true
	})

	klines.On("GetKlines", mock.Anything, "5m", 200).Return([]binance.Kline{}, nil)
	prices.On("GetSymbolPrice", "BTCUSDT").Return(0.0, errors.New("connection reset"))
	prices.On("GetSymbolPrice", "ETHUSDT").Return(2000.0, nil)

	assert.NoError(t, sched.RunCycle())

	// The broken bot is skipped; the healthy one still trades.
	assert.Equal(t, int64(0), tradeCount(t, db, broken.ID))
	assert.Equal(t, int64(1), tradeCount(t, db, healthy.ID))
	prices.AssertExpectations(t)
}

func TestRunCycle_SyncThrottledPerSymbol(t *testing.T) {
	db, prices, klines, clock, sched := setupScheduler(t, true)
	newTestBot(db, func(b *models.Bot) { b.Name = "bot-a"; b.Symbol = "BTCUSDT" })
	newTestBot(db, func(b *models.Bot) { b.Name = "bot-b"; b.Symbol = "BTCUSDT" })

	prices.On("GetSymbolPrice", "BTCUSDT").Return(50000.0, nil)
	klines.On("GetKlines", "BTCUSDT", "5m", 200).Return([]binance.Kline{}, nil).Once()

	// Two bots share the symbol and two back-to-back cycles run: one sync.
	assert.NoError(t, sched.RunCycle())
	assert.NoError(t, sched.RunCycle())
	klines.AssertNumberOfCalls(t, "GetKlines", 1)

	// Once the throttle window passes, the symbol syncs again.
	clock.advance(61 * time.Second)
	klines.On("GetKlines", "BTCUSDT", "5m", 200).Return([]binance.Kline{}, nil).Once()
	assert.NoError(t, sched.RunCycle())
	klines.AssertExpectations(t)
}

func TestRunCycle_FailedSyncRetriesNextCycle(t *testing.T) {
	db, prices, klines, _, sched := setupScheduler(t, true)
	newTestBot(db, func(b *models.Bot) { b.Symbol = "BTCUSDT" })

	prices.On("GetSymbolPrice", "BTCUSDT").Return(50000.0, nil)
	klines.On("GetKlines", "BTCUSDT", "5m", 200).
		Return([]binance.Kline{}, errors.New("rate limited")).Once()
	klines.On("GetKlines", "BTCUSDT", "5m", 200).Return([]binance.Kline{}, nil).Once()

	// The failed sync must not advance the throttle timestamp, so the very
	// next cycle retries even though the clock has not moved.
	assert.NoError(t, sched.RunCycle())
	assert.NoError(t, sched.RunCycle())
	klines.AssertExpectations(t)
}
