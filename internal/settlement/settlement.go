package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/ksred/energydesk-api/internal/errs"
	"github.com/ksred/energydesk-api/internal/ledger"
	"github.com/ksred/energydesk-api/internal/types"
	"github.com/rs/zerolog/log"
)

// DeleteWindow is how long after placement an open trade may still be removed
const DeleteWindow = time.Hour

// Engine writes accepted trades to the ledger and keeps OTC pairs in lock-step.
// Every method runs against a transaction-bound ledger.Database supplied by the caller,
// so a failure anywhere aborts all writes of that operation.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// CloseResult holds the closed trade and, for OTC trades, its closed mirror.
// Integrity is set when the mirror could not be closed alongside the trade.
type CloseResult struct {
	Trade     *types.Trade `json:"trade"`
	Mirror    *types.Trade `json:"mirror,omitempty"`
	Integrity error        `json:"-"`
}

// Open persists a unilateral trade as OPEN with the server timestamp
func (e *Engine) Open(ctx context.Context, tx *ledger.Database, trade *types.Trade, now time.Time) error {
	prepareOpen(trade, now)
	if trade.Venue == "" {
		trade.Venue = types.VenueExchange
	}

	if err := tx.CreateTrade(ctx, trade); err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// OpenPair persists an OTC trade for the initiator and its mirror for the counterparty,
// then links the two records to each other.
func (e *Engine) OpenPair(ctx context.Context, tx *ledger.Database, leg *types.Trade, initiator, counterparty *types.Account, now time.Time) (*types.Trade, error) {
	logger := log.With().
		Str("initiator", initiator.TraderID).
		Str("counterparty", counterparty.TraderID).
		Str("service", "settlement").
		Logger()

	prepareOpen(leg, now)
	leg.TraderID = initiator.TraderID
	leg.Venue = types.VenueOTC
	leg.CounterpartyTrader = stringPtr(counterparty.TraderID)
	leg.CounterpartyLabel = stringPtr(counterparty.DisplayName)
	leg.MirrorTradeID = nil

	if err := tx.CreateTrade(ctx, leg); err != nil {
		return nil, fmt.Errorf("failed to create initiating leg: %w", err)
	}

	mirror := &types.Trade{
		TraderID:           counterparty.TraderID,
		Type:               leg.Type,
		Direction:          leg.Direction.Opposite(),
		Hub:                leg.Hub,
		Volume:             leg.Volume,
		EntryPrice:         leg.EntryPrice,
		SpotRef:            copyFloat(leg.SpotRef),
		Venue:              types.VenueOTC,
		DeliveryMonth:      leg.DeliveryMonth,
		Notes:              fmt.Sprintf("OTC mirror, initiated by %s", initiator.DisplayName),
		CounterpartyTrader: stringPtr(initiator.TraderID),
		CounterpartyLabel:  stringPtr(initiator.DisplayName),
		MirrorTradeID:      uintPtr(leg.ID),
	}
	prepareOpen(mirror, now)

	if err := tx.CreateTrade(ctx, mirror); err != nil {
		return nil, fmt.Errorf("failed to create mirror leg: %w", err)
	}

	if err := tx.SetMirror(ctx, leg.ID, mirror.ID); err != nil {
		return nil, fmt.Errorf("failed to link trade %d to mirror %d: %w", leg.ID, mirror.ID, err)
	}
	leg.MirrorTradeID = uintPtr(mirror.ID)

	logger.Debug().
		Uint("trade_id", leg.ID).
		Uint("mirror_id", mirror.ID).
		Msg("created linked OTC pair")

	return mirror, nil
}

// Close marks an open trade CLOSED at closePrice and closes its mirror at the same price.
// A missing or inconsistent mirror does not stop the trade from closing; it is reported on the result.
func (e *Engine) Close(ctx context.Context, tx *ledger.Database, trade *types.Trade, closePrice float64, now time.Time) (*CloseResult, error) {
	if !trade.IsOpen() {
		return nil, errs.Conflict(errs.CodeTradeAlreadyClosed, "Trade %d is already closed", trade.ID)
	}
	if closePrice <= 0 {
		return nil, errs.Validation(errs.CodeInvalidPrice, "Close price must be positive")
	}

	applyClose(trade, closePrice, now)
	if err := tx.SaveTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to close trade %d: %w", trade.ID, err)
	}

	result := &CloseResult{Trade: trade}
	if trade.MirrorTradeID == nil {
		return result, nil
	}

	mirror, err := tx.GetTradeByID(ctx, *trade.MirrorTradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror of trade %d: %w", trade.ID, err)
	}

	switch {
	case mirror == nil:
		result.Integrity = errs.Integrity(errs.CodeMirrorMissing,
			"Mirror trade %d of trade %d not found; only trade %d was closed", *trade.MirrorTradeID, trade.ID, trade.ID)
	case mirror.MirrorTradeID == nil || *mirror.MirrorTradeID != trade.ID:
		result.Integrity = errs.Integrity(errs.CodeMirrorInconsistent,
			"Mirror trade %d does not link back to trade %d; mirror left unchanged", mirror.ID, trade.ID)
	case !mirror.IsOpen():
		result.Integrity = errs.Integrity(errs.CodeMirrorInconsistent,
			"Mirror trade %d was already closed; mirror left unchanged", mirror.ID)
	default:
		applyClose(mirror, closePrice, now)
		if err := tx.SaveTrade(ctx, mirror); err != nil {
			return nil, fmt.Errorf("failed to close mirror trade %d: %w", mirror.ID, err)
		}
		result.Mirror = mirror
	}

	return result, nil
}

// Delete hard-removes an open, non-OTC trade placed within the last hour.
// OTC legs are never deleted since the removal could not stay symmetric; they must be closed.
func (e *Engine) Delete(ctx context.Context, tx *ledger.Database, trade *types.Trade, now time.Time) error {
	if trade.IsOTC() {
		return errs.Conflict(errs.CodeOTCDeleteForbidden, "OTC trades cannot be deleted; close the trade instead")
	}
	if !trade.IsOpen() {
		return errs.Conflict(errs.CodeTradeClosed, "Closed trades cannot be deleted")
	}
	if now.Sub(trade.CreatedAt) > DeleteWindow {
		return errs.Validation(errs.CodeDeleteWindowExpired, "Trade can only be deleted within 1 hour of placement")
	}

	if err := tx.DeleteTrade(ctx, trade.ID); err != nil {
		return fmt.Errorf("failed to delete trade %d: %w", trade.ID, err)
	}
	return nil
}

// RealizedPnL is the profit of a position closed at closePrice, signed by direction
func RealizedPnL(direction types.Direction, entryPrice, closePrice, volume float64) float64 {
	if direction == types.DirectionBuy {
		return (closePrice - entryPrice) * volume
	}
	return (entryPrice - closePrice) * volume
}

func prepareOpen(trade *types.Trade, now time.Time) {
	trade.ID = 0
	trade.Status = types.TradeStatusOpen
	trade.ClosePrice = nil
	trade.ClosedAt = nil
	trade.RealizedPnL = nil
	trade.CreatedAt = now
	trade.UpdatedAt = now
}

func applyClose(trade *types.Trade, closePrice float64, now time.Time) {
	pnl := RealizedPnL(trade.Direction, trade.EntryPrice, closePrice, trade.Volume)
	closedAt := now
	trade.Status = types.TradeStatusClosed
	trade.ClosePrice = &closePrice
	trade.ClosedAt = &closedAt
	trade.RealizedPnL = &pnl
}

func stringPtr(s string) *string { return &s }

func uintPtr(v uint) *uint { return &v }

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
