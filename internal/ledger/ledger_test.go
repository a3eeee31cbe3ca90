package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/energydesk-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDB(t *testing.T) *Database {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&types.Trade{}))
	return NewDatabase(db)
}

func openTrade(traderID, tradeType string, volume float64) types.Trade {
	return types.Trade{
		TraderID:   traderID,
		Type:       tradeType,
		Direction:  types.DirectionBuy,
		Hub:        "HENRY_HUB",
		Volume:     volume,
		EntryPrice: 3,
		Venue:      types.VenueExchange,
		Status:     types.TradeStatusOpen,
	}
}

func closedTrade(traderID string, pnl float64) types.Trade {
	trade := openTrade(traderID, "NAT_GAS", 10000)
	price := 3.1
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	trade.Status = types.TradeStatusClosed
	trade.ClosePrice = &price
	trade.ClosedAt = &at
	trade.RealizedPnL = &pnl
	return trade
}

func TestNewBook(t *testing.T) {
	book := NewBook([]types.Trade{
		openTrade("alice", "NAT_GAS", 20000),
		openTrade("alice", "CRUDE_WTI", 2000),
		closedTrade("alice", 500),
		closedTrade("alice", -200),
	})

	assert.Len(t, book.All, 4)
	assert.Len(t, book.Open, 2)
	assert.Len(t, book.Closed, 2)
	assert.InDelta(t, 300.0, book.RealizedPnL, 1e-9)
	assert.InDelta(t, 13000.0, book.UsedMargin, 1e-9)
	assert.InDelta(t, 100300.0, book.Equity(100000), 1e-9)
	assert.InDelta(t, 87300.0, book.BuyingPower(100000), 1e-9)
}

func TestNewBookEmpty(t *testing.T) {
	book := NewBook(nil)
	assert.Zero(t, book.UsedMargin)
	assert.Equal(t, 5000.0, book.BuyingPower(5000))
}

func TestListTradesNewestFirstPerTrader(t *testing.T) {
	d := setupDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	for i, traderID := range []string{"alice", "bob", "alice"} {
		trade := openTrade(traderID, "NAT_GAS", 10000)
		trade.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, d.CreateTrade(ctx, &trade))
	}

	trades, err := d.ListTrades(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.True(t, trades[0].CreatedAt.After(trades[1].CreatedAt))

	byTrader, err := d.ListTradesForTraders(ctx, []string{"alice", "bob", "carol"})
	require.NoError(t, err)
	assert.Len(t, byTrader["alice"], 2)
	assert.Len(t, byTrader["bob"], 1)
	assert.Empty(t, byTrader["carol"])

	empty, err := d.ListTradesForTraders(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetTradeScopedToOwner(t *testing.T) {
	d := setupDB(t)
	ctx := context.Background()

	trade := openTrade("alice", "NAT_GAS", 10000)
	require.NoError(t, d.CreateTrade(ctx, &trade))

	found, err := d.GetTrade(ctx, "alice", trade.ID)
	require.NoError(t, err)
	require.NotNil(t, found)

	other, err := d.GetTrade(ctx, "bob", trade.ID)
	require.NoError(t, err)
	assert.Nil(t, other)

	byID, err := d.GetTradeByID(ctx, trade.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "alice", byID.TraderID)

	missing, err := d.GetTradeByID(ctx, trade.ID+100)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSetMirrorAndDeleteMissingRows(t *testing.T) {
	d := setupDB(t)
	ctx := context.Background()

	assert.ErrorIs(t, d.SetMirror(ctx, 42, 43), gorm.ErrRecordNotFound)
	assert.ErrorIs(t, d.DeleteTrade(ctx, 42), gorm.ErrRecordNotFound)
}

func TestTransactionRollsBack(t *testing.T) {
	d := setupDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := d.Transaction(ctx, func(tx *Database) error {
		trade := openTrade("alice", "NAT_GAS", 10000)
		if err := tx.CreateTrade(ctx, &trade); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	book, err := d.LoadBook(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, book.All)
}

func TestCheckConstraintRejectsClosedWithoutPnL(t *testing.T) {
	d := setupDB(t)
	trade := openTrade("alice", "NAT_GAS", 10000)
	trade.Status = types.TradeStatusClosed

	assert.Error(t, d.CreateTrade(context.Background(), &trade))
}
