package types

import (
	"time"
)

type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Opposite returns the other side of the trade
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "OPEN"
	TradeStatusClosed TradeStatus = "CLOSED"
)

const (
	VenueExchange = "EXCHANGE"
	VenueOTC      = "OTC"
)

// Trade is one ledger record owned by exactly one trader.
// Close fields stay nil while the trade is OPEN and are all set once it is CLOSED.
// For OTC trades MirrorTradeID points at the counterparty's leg, and that leg points back.
type Trade struct {
	ID                 uint        `gorm:"primaryKey" json:"id"`
	TraderID           string      `gorm:"index;not null" json:"trader_id"`
	Type               string      `gorm:"not null" json:"type"`
	Direction          Direction   `gorm:"not null" json:"direction"`
	Hub                string      `gorm:"not null" json:"hub"`
	Volume             float64     `gorm:"not null;check:chk_trades_volume,volume > 0" json:"volume"`
	EntryPrice         float64     `gorm:"not null;check:chk_trades_entry_price,entry_price > 0" json:"entry_price"`
	SpotRef            *float64    `json:"spot_ref,omitempty"`
	Venue              string      `gorm:"not null;default:EXCHANGE" json:"venue"`
	DeliveryMonth      string      `json:"delivery_month,omitempty"`
	Notes              string      `json:"notes,omitempty"`
	Status             TradeStatus `gorm:"index;not null;check:chk_trades_closed_pnl,(status = 'OPEN' AND realized_pnl IS NULL) OR (status = 'CLOSED' AND realized_pnl IS NOT NULL)" json:"status"`
	ClosePrice         *float64    `json:"close_price,omitempty"`
	ClosedAt           *time.Time  `json:"closed_at,omitempty"`
	RealizedPnL        *float64    `json:"realized_pnl,omitempty"`
	CounterpartyTrader *string     `json:"counterparty_trader,omitempty"`
	CounterpartyLabel  *string     `json:"counterparty,omitempty"`
	MirrorTradeID      *uint       `gorm:"index" json:"mirror_trade_id,omitempty"`
	CreatedAt          time.Time   `gorm:"index" json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

func (t *Trade) IsOpen() bool {
	return t.Status == TradeStatusOpen
}

func (t *Trade) IsOTC() bool {
	return t.Venue == VenueOTC || t.MirrorTradeID != nil || t.CounterpartyTrader != nil
}

// Realized returns the realized P&L of a closed trade, or zero.
func (t *Trade) Realized() float64 {
	if t.RealizedPnL == nil {
		return 0
	}
	return *t.RealizedPnL
}
