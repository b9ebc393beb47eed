package models

import (
	"time"

	"gorm.io/gorm"
)

// Trend labels.
const (
	TrendBullish = "bullish"
	TrendBearish = "bearish"
	TrendNeutral = "neutral"
)

// Indicator is one computed row per (symbol, interval, open_time). Rows are
// append-only with strictly increasing open_time per symbol/interval; the
// engine never updates or deletes them. Nullable columns stay nil while the
// underlying series is still warming up.
type Indicator struct {
	gorm.Model
	Symbol   string `gorm:"index;not null" json:"symbol"`
	Interval string `gorm:"index;default:5m" json:"interval"`

	OpenTime  time.Time `gorm:"index" json:"open_time"`
	CloseTime time.Time `gorm:"index" json:"close_time"`

	Close float64 `json:"close"`

	EMA9  *float64 `json:"ema9"`
	EMA21 *float64 `json:"ema21"`
	RSI14 *float64 `json:"rsi14"`

	MACD       *float64 `json:"macd"`
	MACDSignal *float64 `json:"macd_signal"`
	MACDHist   *float64 `json:"macd_hist"`

	// ADX is reserved; nothing computes it yet, but the trend scorer
	// already honours it when present.
	ADX *float64 `json:"adx"`

	TrendScore *float64 `json:"trend_score"`
	TrendLabel *string  `gorm:"index" json:"trend_label"`

	BuySignal  *bool `gorm:"index" json:"buy_signal"`
	SellSignal *bool `gorm:"index" json:"sell_signal"`
}
