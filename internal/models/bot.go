package models

import (
	"time"

	"gorm.io/gorm"
)

// Bot status values. A blocked bot is always offline.
const (
	BotStatusOnline  = "online"
	BotStatusOffline = "offline"
)

// Bot is a named, symbol-bound trading configuration plus its mutable
// runtime state. The engine mutates runtime fields every cycle the bot is
// eligible; configuration fields are only changed through the admin API.
type Bot struct {
	gorm.Model
	Name   string `gorm:"uniqueIndex;not null" json:"name"`
	Symbol string `gorm:"index;not null" json:"symbol"`

	// Configuration.
	BalanceLimit      float64 `json:"balance_limit"`
	StopLossPercent   float64 `json:"stop_loss_percent"` // positive, 20 means -20%
	SellOnStopLoss    bool    `json:"sell_on_stop_loss"`
	BuyDropPercent    float64 `json:"buy_drop_percent"` // 0 disables dip entries
	SellRisePercent   float64 `json:"sell_rise_percent"` // 0 disables take profit
	BuyOnStart        bool    `json:"buy_on_start"`
	RequireBuySignal  bool    `json:"require_buy_signal"`
	RequireSellSignal bool    `json:"require_sell_signal"`
	TradeSizeQuote    float64 `json:"trade_size_quote"`

	// Runtime state.
	Status          string  `gorm:"index;default:offline" json:"status"`
	Blocked         bool    `gorm:"index" json:"blocked"`
	FreeBalance     float64 `json:"free_balance_quote"`
	HasOpenPosition bool    `json:"has_open_position"`
	PositionQty     float64 `json:"position_qty"`

	LastBuyPrice  *float64 `json:"last_buy_price"`
	LastSellPrice *float64 `json:"last_sell_price"`
	// ReferencePrice anchors the percentage-based triggers. It is reset to
	// the execution price on every buy and every sell.
	ReferencePrice *float64 `json:"reference_price"`

	StartedAt *time.Time `json:"started_at"`
}
