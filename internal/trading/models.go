package trading

import (
	"github.com/ksred/energydesk-api/internal/risk"
	"github.com/ksred/energydesk-api/internal/types"
	"github.com/ksred/energydesk-api/pkg/response"
)

// TradeRequest is a proposed trade. Numeric fields are pointers so an omitted value
// can be told apart from zero.
type TradeRequest struct {
	Type          string          `json:"type"`
	Direction     types.Direction `json:"direction"`
	Hub           string          `json:"hub"`
	Volume        *float64        `json:"volume"`
	EntryPrice    *float64        `json:"entry_price"`
	SpotRef       *float64        `json:"spot_ref,omitempty"`
	DeliveryMonth string          `json:"delivery_month,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

func (r *TradeRequest) proposal() *risk.Proposal {
	return &risk.Proposal{
		Type:       r.Type,
		Direction:  r.Direction,
		Hub:        r.Hub,
		Volume:     r.Volume,
		EntryPrice: r.EntryPrice,
		SpotRef:    r.SpotRef,
	}
}

// trade builds the ledger record. Only valid after the proposal passed validation.
func (r *TradeRequest) trade(traderID string) *types.Trade {
	return &types.Trade{
		TraderID:      traderID,
		Type:          r.Type,
		Direction:     r.Direction,
		Hub:           r.Hub,
		Volume:        *r.Volume,
		EntryPrice:    *r.EntryPrice,
		SpotRef:       r.SpotRef,
		DeliveryMonth: r.DeliveryMonth,
		Notes:         r.Notes,
	}
}

// OTCRequest is a trade proposed against a named counterparty
type OTCRequest struct {
	TradeRequest
	Counterparty string `json:"counterparty"`
}

type OTCResult struct {
	Trade  *types.Trade `json:"trade"`
	Mirror *types.Trade `json:"mirror"`
}

type CloseRequest struct {
	ClosePrice *float64 `json:"close_price" binding:"required"`
}

// closeResponse reports a committed close. IntegrityError is set when the mirror leg could not be closed.
type closeResponse struct {
	Trade          *types.Trade    `json:"trade"`
	Mirror         *types.Trade    `json:"mirror,omitempty"`
	IntegrityError *response.Error `json:"integrity_error,omitempty"`
}

// Portfolio is a trader's capital position derived from the ledger
type Portfolio struct {
	TraderID        string  `json:"trader_id"`
	StartingBalance float64 `json:"starting_balance"`
	RealizedPnL     float64 `json:"realized_pnl"`
	Equity          float64 `json:"equity"`
	UsedMargin      float64 `json:"used_margin"`
	BuyingPower     float64 `json:"buying_power"`
	ReturnPct       float64 `json:"return_pct"`
	OpenTrades      int     `json:"open_trades"`
	ClosedTrades    int     `json:"closed_trades"`
}
