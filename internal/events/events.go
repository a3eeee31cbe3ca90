package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeTradeSubmitted    Type = "trade_submitted"
	TypeTradeClosed       Type = "trade_closed"
	TypeTradeDeleted      Type = "trade_deleted"
	TypeLeaderboardUpdate Type = "leaderboard_update"
	TypeTradeFeedUpdate   Type = "trade_feed_update"
	TypeTraderRegistered  Type = "trader_registered"
)

// TradeSummary is the part of a trade that is safe to broadcast
type TradeSummary struct {
	DisplayName  string  `json:"display_name"`
	TeamName     string  `json:"team_name,omitempty"`
	Type         string  `json:"type"`
	Direction    string  `json:"direction"`
	Hub          string  `json:"hub"`
	Volume       float64 `json:"volume"`
	EntryPrice   float64 `json:"entry_price"`
	OTC          bool    `json:"otc"`
	Counterparty string  `json:"counterparty,omitempty"`
	// Initiator is false on the mirror leg of an OTC pair
	Initiator bool `json:"initiator"`
}

// Event is a notification emitted after a committed state change
type Event struct {
	ID         string        `json:"id"`
	Type       Type          `json:"type"`
	TraderID   string        `json:"trader_name,omitempty"`
	TradeID    uint          `json:"trade_id,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Summary    string        `json:"summary,omitempty"`
	Trade      *TradeSummary `json:"trade,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Publisher delivers events to one sink. Errors are logged by the dispatcher and never retried.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Emitter accepts events without blocking the caller
type Emitter interface {
	Emit(event Event)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// NopEmitter discards every event
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}

func TradeSubmitted(traderID string, tradeID uint, summary *TradeSummary) Event {
	return Event{Type: TypeTradeSubmitted, TraderID: traderID, TradeID: tradeID, Trade: summary}
}

func TradeClosed(traderID string, tradeID uint) Event {
	return Event{Type: TypeTradeClosed, TraderID: traderID, TradeID: tradeID}
}

func TradeDeleted(traderID string, tradeID uint) Event {
	return Event{Type: TypeTradeDeleted, TraderID: traderID, TradeID: tradeID}
}

func LeaderboardUpdate(reason string) Event {
	return Event{Type: TypeLeaderboardUpdate, Reason: reason}
}

func stamp(event Event) Event {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return event
}
