package migrations

import (
	"github.com/ksred/energydesk-api/internal/feed"
	"gorm.io/gorm"
)

// AddTradeFeed creates the trade feed table and its recency index
func AddTradeFeed(db *gorm.DB) error {
	if err := db.AutoMigrate(&feed.Entry{}); err != nil {
		return err
	}

	// The feed is only ever read newest first
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_trade_feed_created_at
		 ON trade_feed(created_at)`).Error
}
