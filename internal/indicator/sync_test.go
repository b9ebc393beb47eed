package indicator

import (
	"errors"
	"testing"
	"time"

	"bbot/internal/binance"
	"bbot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// MockKlineFetcher is a mock implementation of the KlineFetcher interface.
type MockKlineFetcher struct {
	mock.Mock
}

func (m *MockKlineFetcher) GetKlines(symbol, interval string, limit int) ([]binance.Kline, error) {
	args := m.Called(symbol, interval, limit)
	return args.Get(0).([]binance.Kline), args.Error(1)
}

func setupSyncTest(t *testing.T) (*gorm.DB, *MockKlineFetcher, *Service) {
	// Use a new, non-shared in-memory database for each test to ensure isolation.
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)

	err = db.AutoMigrate(&models.Indicator{})
	assert.NoError(t, err)

	mockClient := new(MockKlineFetcher)
	svc := NewService(db, mockClient, zap.NewNop())

	return db, mockClient, svc
}

// makeKlines builds count sequential 5m candles starting at start, with
// closes taken from the closes slice (cycled if shorter than count).
func makeKlines(start time.Time, closes []float64) []binance.Kline {
	klines := make([]binance.Kline, len(closes))
	for i, c := range closes {
		open := start.Add(time.Duration(i) * 5 * time.Minute)
		klines[i] = binance.Kline{
			OpenTime:  open,
			CloseTime: open.Add(5*time.Minute - time.Millisecond),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    10,
		}
	}
	return klines
}

func seriesCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i%8) - float64(i%5)
	}
	return closes
}

func TestSync_InsertsAllRowsFirstRun(t *testing.T) {
	db, mockClient, svc := setupSyncTest(t)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	klines := makeKlines(start, seriesCloses(30))

	mockClient.On("GetKlines", "BTCUSDT", "5m", 200).Return(klines, nil)

	inserted, err := svc.Sync("BTCUSDT", "5m", 200)
	assert.NoError(t, err)
	assert.Equal(t, 30, inserted)

	var count int64
	db.Model(&models.Indicator{}).Count(&count)
	assert.Equal(t, int64(30), count)

	// Warm-up region has no RSI; the tail is fully populated.
	var first, last models.Indicator
	assert.NoError(t, db.Order("open_time").First(&first).Error)
	assert.NoError(t, db.Order("open_time desc").First(&last).Error)
	assert.Nil(t, first.RSI14)
	assert.NotNil(t, first.EMA9)
	assert.NotNil(t, first.TrendScore)
	assert.NotNil(t, last.RSI14)
	assert.NotNil(t, last.BuySignal)
	assert.NotNil(t, last.SellSignal)
	mockClient.AssertExpectations(t)
}

func TestSync_IdempotentUnderOverlappingWindows(t *testing.T) {
	db, mockClient, svc := setupSyncTest(t)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	closes := seriesCloses(40)

	// First window: candles 0..29. Second window: candles 10..39.
	mockClient.On("GetKlines", "ETHUSDT", "5m", 200).
		Return(makeKlines(start, closes[:30]), nil).Once()
	mockClient.On("GetKlines", "ETHUSDT", "5m", 200).
		Return(makeKlines(start.Add(10*5*time.Minute), closes[10:]), nil).Once()

	inserted, err := svc.Sync("ETHUSDT", "5m", 200)
	assert.NoError(t, err)
	assert.Equal(t, 30, inserted)

	inserted, err = svc.Sync("ETHUSDT", "5m", 200)
	assert.NoError(t, err)
	assert.Equal(t, 10, inserted)

	// Each open_time exists exactly once.
	var count int64
	db.Model(&models.Indicator{}).Where("symbol = ?", "ETHUSDT").Count(&count)
	assert.Equal(t, int64(40), count)

	var distinct int64
	db.Model(&models.Indicator{}).
		Where("symbol = ?", "ETHUSDT").
		Distinct("open_time").
		Count(&distinct)
	assert.Equal(t, int64(40), distinct)
	mockClient.AssertExpectations(t)
}

func TestSync_RerunWithSameWindowInsertsNothing(t *testing.T) {
	_, mockClient, svc := setupSyncTest(t)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	klines := makeKlines(start, seriesCloses(20))

	mockClient.On("GetKlines", "BTCUSDT", "5m", 200).Return(klines, nil)

	_, err := svc.Sync("BTCUSDT", "5m", 200)
	assert.NoError(t, err)

	inserted, err := svc.Sync("BTCUSDT", "5m", 200)
	assert.NoError(t, err)
	assert.Equal(t, 0, inserted)
}

func TestSync_EmptyWindow(t *testing.T) {
	_, mockClient, svc := setupSyncTest(t)

	mockClient.On("GetKlines", "BTCUSDT", "5m", 200).Return([]binance.Kline{}, nil)

	inserted, err := svc.Sync("BTCUSDT", "5m", 200)
	assert.NoError(t, err)
	assert.Equal(t, 0, inserted)
}

func TestSync_FetchErrorPropagates(t *testing.T) {
	_, mockClient, svc := setupSyncTest(t)

	mockClient.On("GetKlines", "BTCUSDT", "5m", 200).
		Return([]binance.Kline{}, errors.New("connection reset"))

	inserted, err := svc.Sync("BTCUSDT", "5m", 200)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "could not fetch klines")
	assert.Equal(t, 0, inserted)
}

func TestLatest(t *testing.T) {
	db, mockClient, svc := setupSyncTest(t)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mockClient.On("GetKlines", "BTCUSDT", "5m", 200).
		Return(makeKlines(start, seriesCloses(25)), nil)

	_, err := svc.Sync("BTCUSDT", "5m", 200)
	assert.NoError(t, err)

	ind, err := Latest(db, "BTCUSDT", "5m")
	assert.NoError(t, err)
	if assert.NotNil(t, ind) {
		assert.True(t, ind.OpenTime.Equal(start.Add(24*5*time.Minute)),
			"latest row should be the newest candle, got %v", ind.OpenTime)
	}

	missing, err := Latest(db, "XRPUSDT", "5m")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}
