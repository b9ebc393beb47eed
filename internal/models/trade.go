package models

import "gorm.io/gorm"

// Trade sides.
const (
	TradeSideBuy  = "BUY"
	TradeSideSell = "SELL"
)

// Trade is an immutable record of a single simulated fill. Rows are
// append-only; RealizedPnL is populated on SELL only.
type Trade struct {
	gorm.Model
	BotID       uint    `gorm:"index;not null" json:"bot_id"`
	Symbol      string  `gorm:"index" json:"symbol"`
	Side        string  `json:"side"`
	Price       float64 `json:"price"`
	Qty         float64 `json:"qty"`
	QuoteQty    float64 `json:"quote_qty"`
	IsSimulated bool    `gorm:"default:true" json:"is_simulated"`

	FeeAmount *float64 `json:"fee_amount"`
	FeeAsset  *string  `json:"fee_asset"`

	RealizedPnL *float64 `json:"realized_pnl"`
	Info        string   `json:"info"`
}
