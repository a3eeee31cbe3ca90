package ledger

import (
	"context"
	"errors"

	"github.com/ksred/energydesk-api/internal/types"
	"gorm.io/gorm"
)

// Database is the typed trade store. A Database bound to a transaction via WithTx
// runs every call inside that transaction.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// WithTx returns a Database whose operations run inside tx
func (d *Database) WithTx(tx *gorm.DB) *Database {
	return &Database{db: tx}
}

// Transaction runs fn inside a single transaction. Returning an error rolls everything back.
func (d *Database) Transaction(ctx context.Context, fn func(tx *Database) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(d.WithTx(tx))
	})
}

// ListTrades returns every trade owned by the trader, newest first
func (d *Database) ListTrades(ctx context.Context, traderID string) ([]types.Trade, error) {
	var trades []types.Trade
	if err := d.db.WithContext(ctx).
		Where("trader_id = ?", traderID).
		Order("created_at DESC, id DESC").
		Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// ListTradesForTraders returns the trades of every listed trader keyed by trader id
func (d *Database) ListTradesForTraders(ctx context.Context, traderIDs []string) (map[string][]types.Trade, error) {
	byTrader := make(map[string][]types.Trade, len(traderIDs))
	if len(traderIDs) == 0 {
		return byTrader, nil
	}

	var trades []types.Trade
	if err := d.db.WithContext(ctx).
		Where("trader_id IN ?", traderIDs).
		Order("id ASC").
		Find(&trades).Error; err != nil {
		return nil, err
	}

	for _, trade := range trades {
		byTrader[trade.TraderID] = append(byTrader[trade.TraderID], trade)
	}
	return byTrader, nil
}

// GetTrade returns the trade with the given id owned by the trader, or nil when there is none
func (d *Database) GetTrade(ctx context.Context, traderID string, id uint) (*types.Trade, error) {
	var trade types.Trade
	if err := d.db.WithContext(ctx).Where("id = ? AND trader_id = ?", id, traderID).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

// GetTradeByID returns a trade regardless of owner, or nil when there is none
func (d *Database) GetTradeByID(ctx context.Context, id uint) (*types.Trade, error) {
	var trade types.Trade
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

func (d *Database) CreateTrade(ctx context.Context, trade *types.Trade) error {
	return d.db.WithContext(ctx).Create(trade).Error
}

func (d *Database) SaveTrade(ctx context.Context, trade *types.Trade) error {
	return d.db.WithContext(ctx).Save(trade).Error
}

// SetMirror points trade id at its mirror leg
func (d *Database) SetMirror(ctx context.Context, id, mirrorID uint) error {
	result := d.db.WithContext(ctx).Model(&types.Trade{}).
		Where("id = ?", id).
		Update("mirror_trade_id", mirrorID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (d *Database) DeleteTrade(ctx context.Context, id uint) error {
	result := d.db.WithContext(ctx).Delete(&types.Trade{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// LoadBook reads the trader's trades and folds them into a Book
func (d *Database) LoadBook(ctx context.Context, traderID string) (*Book, error) {
	trades, err := d.ListTrades(ctx, traderID)
	if err != nil {
		return nil, err
	}
	return NewBook(trades), nil
}
