package risk

import (
	"strings"
	"time"

	"github.com/ksred/energydesk-api/internal/errs"
	"github.com/ksred/energydesk-api/internal/instrument"
	"github.com/ksred/energydesk-api/internal/ledger"
	"github.com/ksred/energydesk-api/internal/types"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// DuplicateWindow is how far back an identical submission counts as a replay
	DuplicateWindow = 5 * time.Second

	buyPriceFloor    = 0.999
	sellPriceCeiling = 1.001
)

var printer = message.NewPrinter(language.English)

// Proposal is a trade as submitted, before acceptance. Nil fields were not supplied.
type Proposal struct {
	Type       string
	Direction  types.Direction
	Hub        string
	Volume     *float64
	EntryPrice *float64
	SpotRef    *float64
}

// Validate decides whether the trader may place the proposed trade given their book.
// Checks run in a fixed order and the first failure is returned.
func Validate(account *types.Account, p *Proposal, book *ledger.Book, now time.Time) error {
	if !account.IsActive() {
		return errs.Authorization(errs.CodeTraderNotActive,
			"Trader status is %s. Must be ACTIVE to trade.", account.Status)
	}

	if missing := missingFields(p); len(missing) > 0 {
		return errs.Validation(errs.CodeMissingFields,
			"Missing required fields: %s", strings.Join(missing, ", "))
	}

	volume, entryPrice := *p.Volume, *p.EntryPrice
	class := instrument.Classify(p.Type)
	if volume <= 0 {
		return errs.Validation(errs.CodeInvalidVolume, "Volume must be positive")
	}
	if volume > class.MaxVolume() {
		return errs.Validation(errs.CodeVolumeExceedsMaximum,
			"Volume exceeds maximum of %s %s", printer.Sprintf("%.0f", class.MaxVolume()), class.Unit())
	}

	if entryPrice <= 0 {
		return errs.Validation(errs.CodeInvalidPrice, "Entry price must be positive")
	}

	if err := checkPriceSanity(p.Direction, entryPrice, p.SpotRef); err != nil {
		return err
	}

	required := instrument.Margin(p.Type, volume)
	available := book.BuyingPower(account.StartingBalance)
	if required > available {
		return errs.Validation(errs.CodeInsufficientBuyingPower,
			"Insufficient buying power. Required: $%s, Available: $%s",
			printer.Sprintf("%.0f", required), printer.Sprintf("%.0f", available))
	}

	if isDuplicate(p, book.All, now) {
		return errs.Conflict(errs.CodeDuplicateTrade, "Duplicate trade detected (within 5 seconds)")
	}

	return nil
}

func missingFields(p *Proposal) []string {
	var missing []string
	if p.Type == "" {
		missing = append(missing, "type")
	}
	if !p.Direction.Valid() {
		missing = append(missing, "direction")
	}
	if p.Hub == "" {
		missing = append(missing, "hub")
	}
	if p.Volume == nil {
		missing = append(missing, "volume")
	}
	if p.EntryPrice == nil {
		missing = append(missing, "entryPrice")
	}
	return missing
}

// checkPriceSanity keeps buys at or above spot and sells at or below it, within a tenth of a percent.
// Without a spot reference the entry price is its own reference and always passes.
func checkPriceSanity(direction types.Direction, entryPrice float64, spotRef *float64) error {
	if spotRef == nil {
		return nil
	}
	spot := *spotRef
	if direction == types.DirectionBuy && entryPrice < spot*buyPriceFloor {
		return errs.Validation(errs.CodePriceOffMarket, "BUY price must be at or above spot")
	}
	if direction == types.DirectionSell && entryPrice > spot*sellPriceCeiling {
		return errs.Validation(errs.CodePriceOffMarket, "SELL price must be at or below spot")
	}
	return nil
}

func isDuplicate(p *Proposal, existing []types.Trade, now time.Time) bool {
	cutoff := now.Add(-DuplicateWindow)
	for _, trade := range existing {
		if !trade.CreatedAt.After(cutoff) {
			continue
		}
		if trade.Type == p.Type &&
			trade.Direction == p.Direction &&
			trade.Hub == p.Hub &&
			trade.Volume == *p.Volume &&
			trade.EntryPrice == *p.EntryPrice {
			return true
		}
	}
	return false
}
