package migrations

import (
	"github.com/ksred/energydesk-api/internal/types"
	"gorm.io/gorm"
)

// AddTradeLedger creates the typed trades table and the indexes the ledger queries rely on
func AddTradeLedger(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Trade{}); err != nil {
		return err
	}

	indexes := []string{
		// Book loads and duplicate checks filter by owner and recency
		`CREATE INDEX IF NOT EXISTS idx_trades_trader_created
		 ON trades(trader_id, created_at)`,

		// Open position scans
		`CREATE INDEX IF NOT EXISTS idx_trades_trader_status
		 ON trades(trader_id, status)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
