package indicator

import (
	"errors"
	"fmt"
	"time"

	"bbot/internal/binance"
	"bbot/internal/metrics"
	"bbot/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// KlineFetcher is the slice of the market-data client the sync service needs.
type KlineFetcher interface {
	GetKlines(symbol, interval string, limit int) ([]binance.Kline, error)
}

// Service pulls candles, runs the indicator math over the whole returned
// window and appends only rows newer than the latest stored open_time.
// Re-running with an overlapping window is therefore a no-op for rows that
// already exist.
type Service struct {
	db     *gorm.DB
	client KlineFetcher
	logger *zap.Logger
}

// NewService creates a new indicator sync service.
func NewService(db *gorm.DB, client KlineFetcher, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		client: client,
		logger: logger.Named("indicator-sync"),
	}
}

// Sync fetches up to limit candles for symbol/interval and persists the new
// indicator rows. It returns how many rows were inserted. Market-data
// failures propagate to the caller; retrying is the scheduler's concern.
func (s *Service) Sync(symbol, interval string, limit int) (int, error) {
	klines, err := s.client.GetKlines(symbol, interval, limit)
	if err != nil {
		return 0, fmt.Errorf("could not fetch klines for %s/%s: %w", symbol, interval, err)
	}
	if len(klines) == 0 {
		return 0, nil
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}

	// Indicators need the whole window to warm up, even though only the
	// tail of it will be persisted.
	ema9 := EMA(closes, 9)
	ema21 := EMA(closes, 21)
	rsi14 := RSI(closes, 14)
	macdLine, macdSignal, macdHist := MACD(closes)

	var lastOpenTime *time.Time
	var last models.Indicator
	err = s.db.
		Where("symbol = ? AND interval = ?", symbol, interval).
		Order("open_time desc").
		First(&last).Error
	switch {
	case err == nil:
		lastOpenTime = &last.OpenTime
	case errors.Is(err, gorm.ErrRecordNotFound):
		// first sync for this symbol/interval
	default:
		return 0, fmt.Errorf("could not load latest indicator for %s/%s: %w", symbol, interval, err)
	}

	var rows []models.Indicator
	for i, k := range klines {
		if lastOpenTime != nil && !k.OpenTime.After(*lastOpenTime) {
			continue
		}

		e9, e21 := ema9[i], ema21[i]
		m, ms, mh := macdLine[i], macdSignal[i], macdHist[i]

		var adx *float64 // reserved, not computed yet
		score, label, buy, sell := Trend(&e9, &e21, &m, &ms, adx, rsi14[i])

		rows = append(rows, models.Indicator{
			Symbol:     symbol,
			Interval:   interval,
			OpenTime:   k.OpenTime,
			CloseTime:  k.CloseTime,
			Close:      k.Close,
			EMA9:       &e9,
			EMA21:      &e21,
			RSI14:      rsi14[i],
			MACD:       &m,
			MACDSignal: &ms,
			MACDHist:   &mh,
			ADX:        adx,
			TrendScore: score,
			TrendLabel: label,
			BuySignal:  buy,
			SellSignal: sell,
		})
	}

	if len(rows) == 0 {
		return 0, nil
	}

	if err := s.db.Create(&rows).Error; err != nil {
		return 0, fmt.Errorf("could not persist indicator rows for %s/%s: %w", symbol, interval, err)
	}

	metrics.IndicatorRowsInserted.WithLabelValues(symbol).Add(float64(len(rows)))
	s.logger.Info("Indicator sync complete",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("inserted", len(rows)))

	return len(rows), nil
}

// Latest returns the most recent indicator row for a symbol/interval, or
// nil when none exists yet.
func Latest(db *gorm.DB, symbol, interval string) (*models.Indicator, error) {
	var ind models.Indicator
	err := db.
		Where("symbol = ? AND interval = ?", symbol, interval).
		Order("close_time desc").
		First(&ind).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not load latest indicator for %s/%s: %w", symbol, interval, err)
	}
	return &ind, nil
}
