package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/ksred/energydesk-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateTrader(ctx context.Context, trader *Trader) error {
	return d.db.WithContext(ctx).Create(trader).Error
}

// GetTrader returns the trader with its team loaded, or nil when there is none
func (d *Database) GetTrader(ctx context.Context, traderName string) (*Trader, error) {
	var trader Trader
	if err := d.db.WithContext(ctx).
		Preload("Team").
		Where("trader_name = ?", traderName).
		First(&trader).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trader, nil
}

func (d *Database) TraderExists(ctx context.Context, traderName string) (bool, error) {
	var count int64
	if err := d.db.WithContext(ctx).Model(&Trader{}).Where("trader_name = ?", traderName).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListTraders returns traders ordered by name, optionally only those in status
func (d *Database) ListTraders(ctx context.Context, status types.AccountStatus) ([]Trader, error) {
	query := d.db.WithContext(ctx).Preload("Team").Order("trader_name ASC")
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var traders []Trader
	if err := query.Find(&traders).Error; err != nil {
		return nil, err
	}
	return traders, nil
}

// UpdateTrader applies column updates to one trader. Returns gorm.ErrRecordNotFound if no row matched.
func (d *Database) UpdateTrader(ctx context.Context, traderName string, updates map[string]interface{}) error {
	result := d.db.WithContext(ctx).Model(&Trader{}).
		Where("trader_name = ?", traderName).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (d *Database) TouchLastSeen(ctx context.Context, traderName string, at time.Time) error {
	return d.db.WithContext(ctx).Model(&Trader{}).
		Where("trader_name = ?", traderName).
		UpdateColumn("last_seen", at).Error
}

func (d *Database) CreateTeam(ctx context.Context, team *Team) error {
	return d.db.WithContext(ctx).Create(team).Error
}

func (d *Database) GetTeam(ctx context.Context, id uint) (*Team, error) {
	var team Team
	if err := d.db.WithContext(ctx).First(&team, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &team, nil
}

func (d *Database) TeamNameExists(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := d.db.WithContext(ctx).Model(&Team{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *Database) ListTeams(ctx context.Context) ([]Team, error) {
	var teams []Team
	if err := d.db.WithContext(ctx).Order("name ASC").Find(&teams).Error; err != nil {
		return nil, err
	}
	return teams, nil
}
