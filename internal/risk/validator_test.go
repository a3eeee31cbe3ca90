package risk

import (
	"testing"
	"time"

	"github.com/ksred/energydesk-api/internal/errs"
	"github.com/ksred/energydesk-api/internal/ledger"
	"github.com/ksred/energydesk-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func activeAccount(balance float64) *types.Account {
	return &types.Account{TraderID: "alice", Status: types.AccountStatusActive, StartingBalance: balance}
}

func proposal(tradeType string, direction types.Direction, volume, price float64) *Proposal {
	return &Proposal{
		Type:       tradeType,
		Direction:  direction,
		Hub:        "HENRY_HUB",
		Volume:     ptr(volume),
		EntryPrice: ptr(price),
	}
}

func emptyBook() *ledger.Book {
	return ledger.NewBook(nil)
}

func TestValidateRejections(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		account  *types.Account
		proposal *Proposal
		wantKind errs.Kind
		wantCode string
	}{
		{
			name:     "pending trader",
			account:  &types.Account{Status: types.AccountStatusPending, StartingBalance: 1000000},
			proposal: proposal("SWAP", types.DirectionBuy, 10000, 3.5),
			wantKind: errs.KindAuthorization,
			wantCode: errs.CodeTraderNotActive,
		},
		{
			name:     "disabled trader with bad fields reports status first",
			account:  &types.Account{Status: types.AccountStatusDisabled, StartingBalance: 1000000},
			proposal: &Proposal{},
			wantKind: errs.KindAuthorization,
			wantCode: errs.CodeTraderNotActive,
		},
		{
			name:     "missing hub and volume",
			account:  activeAccount(1000000),
			proposal: &Proposal{Type: "SWAP", Direction: types.DirectionBuy, EntryPrice: ptr(3.5)},
			wantKind: errs.KindValidation,
			wantCode: errs.CodeMissingFields,
		},
		{
			name:     "unknown direction",
			account:  activeAccount(1000000),
			proposal: proposal("SWAP", types.Direction("HOLD"), 10000, 3.5),
			wantKind: errs.KindValidation,
			wantCode: errs.CodeMissingFields,
		},
		{
			name:     "zero volume",
			account:  activeAccount(1000000),
			proposal: proposal("SWAP", types.DirectionBuy, 0, 3.5),
			wantKind: errs.KindValidation,
			wantCode: errs.CodeInvalidVolume,
		},
		{
			name:     "crude volume above 50k",
			account:  activeAccount(100000000),
			proposal: proposal("CRUDE_WTI", types.DirectionBuy, 50001, 70),
			wantKind: errs.KindValidation,
			wantCode: errs.CodeVolumeExceedsMaximum,
		},
		{
			name:     "gas volume above 500k",
			account:  activeAccount(100000000),
			proposal: proposal("SWAP", types.DirectionBuy, 500001, 3.5),
			wantKind: errs.KindValidation,
			wantCode: errs.CodeVolumeExceedsMaximum,
		},
		{
			name:     "negative price",
			account:  activeAccount(1000000),
			proposal: proposal("SWAP", types.DirectionBuy, 10000, -1),
			wantKind: errs.KindValidation,
			wantCode: errs.CodeInvalidPrice,
		},
		{
			name:    "buy below spot",
			account: activeAccount(1000000),
			proposal: func() *Proposal {
				p := proposal("SWAP", types.DirectionBuy, 10000, 3.49)
				p.SpotRef = ptr(3.5)
				return p
			}(),
			wantKind: errs.KindValidation,
			wantCode: errs.CodePriceOffMarket,
		},
		{
			name:    "sell above spot",
			account: activeAccount(1000000),
			proposal: func() *Proposal {
				p := proposal("SWAP", types.DirectionSell, 10000, 3.51)
				p.SpotRef = ptr(3.5)
				return p
			}(),
			wantKind: errs.KindValidation,
			wantCode: errs.CodePriceOffMarket,
		},
		{
			name:     "margin above buying power",
			account:  activeAccount(1000),
			proposal: proposal("SWAP", types.DirectionBuy, 10000, 3.5),
			wantKind: errs.KindValidation,
			wantCode: errs.CodeInsufficientBuyingPower,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.account, tt.proposal, emptyBook(), now)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, errs.KindOf(err))
			assert.Equal(t, tt.wantCode, errs.CodeOf(err))
		})
	}
}

func TestValidateMessages(t *testing.T) {
	now := time.Now()

	err := Validate(activeAccount(1000000), &Proposal{Type: "SWAP", Direction: types.DirectionBuy}, emptyBook(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hub")
	assert.Contains(t, err.Error(), "volume")
	assert.Contains(t, err.Error(), "entryPrice")

	err = Validate(activeAccount(100000000), proposal("EFP", types.DirectionBuy, 60000, 70), emptyBook(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BBL")

	err = Validate(activeAccount(100000000), proposal("SWAP", types.DirectionBuy, 600000, 3), emptyBook(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MMBtu")
}

func TestValidatePriceSanityWithinTolerance(t *testing.T) {
	now := time.Now()

	buy := proposal("SWAP", types.DirectionBuy, 10000, 3.4966)
	buy.SpotRef = ptr(3.5)
	assert.NoError(t, Validate(activeAccount(1000000), buy, emptyBook(), now))

	sell := proposal("SWAP", types.DirectionSell, 10000, 3.5034)
	sell.SpotRef = ptr(3.5)
	assert.NoError(t, Validate(activeAccount(1000000), sell, emptyBook(), now))

	noSpot := proposal("SWAP", types.DirectionBuy, 10000, 0.01)
	assert.NoError(t, Validate(activeAccount(1000000), noSpot, emptyBook(), now))
}

func TestBuyingPowerBoundary(t *testing.T) {
	now := time.Now()
	// (10000 / 10000) * 1500 = 1500
	p := proposal("SWAP", types.DirectionBuy, 10000, 3.5)

	assert.NoError(t, Validate(activeAccount(1500), p, emptyBook(), now))

	err := Validate(activeAccount(1499.999999), p, emptyBook(), now)
	assert.Equal(t, errs.CodeInsufficientBuyingPower, errs.CodeOf(err))
}

func TestBuyingPowerUsesExistingBook(t *testing.T) {
	now := time.Now()
	pnl := -500.0
	book := ledger.NewBook([]types.Trade{
		{Type: "SWAP", Volume: 50000, EntryPrice: 3, Status: types.TradeStatusOpen, CreatedAt: now.Add(-time.Hour)},
		{Type: "SWAP", Volume: 10000, EntryPrice: 3, Status: types.TradeStatusClosed, RealizedPnL: &pnl, CreatedAt: now.Add(-time.Hour)},
	})
	// equity 10000 - 500 = 9500, used 7500, buying power 2000
	require.InDelta(t, 2000, book.BuyingPower(10000), 1e-9)

	assert.NoError(t, Validate(activeAccount(10000), proposal("SWAP", types.DirectionBuy, 13000, 3), book, now))
	err := Validate(activeAccount(10000), proposal("SWAP", types.DirectionBuy, 14000, 3), book, now)
	assert.Equal(t, errs.CodeInsufficientBuyingPower, errs.CodeOf(err))
}

func TestDuplicateWindow(t *testing.T) {
	created := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	existing := []types.Trade{{
		Type:       "SWAP",
		Direction:  types.DirectionBuy,
		Hub:        "HENRY_HUB",
		Volume:     10000,
		EntryPrice: 3.5,
		Status:     types.TradeStatusOpen,
		CreatedAt:  created,
	}}
	book := ledger.NewBook(existing)
	p := proposal("SWAP", types.DirectionBuy, 10000, 3.5)

	err := Validate(activeAccount(1000000), p, book, created.Add(2*time.Second))
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Equal(t, errs.CodeDuplicateTrade, errs.CodeOf(err))

	assert.NoError(t, Validate(activeAccount(1000000), p, book, created.Add(6*time.Second)))

	different := proposal("SWAP", types.DirectionSell, 10000, 3.5)
	assert.NoError(t, Validate(activeAccount(1000000), different, book, created.Add(time.Second)))
}
