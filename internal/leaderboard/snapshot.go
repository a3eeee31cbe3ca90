package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/energydesk-api/internal/errs"
	"github.com/ksred/energydesk-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const snapshotDateLayout = "2006-01-02"

// Snapshot is one trader's standing at the end of a day
type Snapshot struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	TraderName    string    `gorm:"not null;uniqueIndex:idx_snapshot_trader_date" json:"trader_name"`
	SnapshotDate  string    `gorm:"not null;uniqueIndex:idx_snapshot_trader_date" json:"snapshot_date"`
	Equity        float64   `gorm:"not null" json:"equity"`
	RealizedPnL   float64   `gorm:"not null" json:"realized_pnl"`
	UnrealizedPnL float64   `gorm:"not null" json:"unrealized_pnl"`
	TradeCount    int       `gorm:"not null" json:"trade_count"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Snapshot) TableName() string {
	return "performance_snapshots"
}

// SnapshotProcessor periodically records a snapshot per ACTIVE trader. Re-running on the
// same day overwrites that day's row.
type SnapshotProcessor struct {
	db       *gorm.DB
	service  *Service
	interval time.Duration
	now      func() time.Time
}

func NewSnapshotProcessor(db *gorm.DB, service *Service, interval time.Duration) *SnapshotProcessor {
	return &SnapshotProcessor{
		db:       db,
		service:  service,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the snapshot loop until ctx is cancelled
func (p *SnapshotProcessor) Start(ctx context.Context) {
	logger := log.With().Str("component", "snapshot_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting snapshot processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down snapshot processor")
			return
		case <-ticker.C:
			count, err := p.Record(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("failed to record snapshots")
				continue
			}
			logger.Debug().Int("traders", count).Msg("snapshots recorded")
		}
	}
}

// Record writes today's snapshot for every trader on the leaderboard and returns how many were written
func (p *SnapshotProcessor) Record(ctx context.Context) (int, error) {
	entries, err := p.service.compute(ctx)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	date := p.now().Format(snapshotDateLayout)
	snapshots := make([]Snapshot, 0, len(entries))
	for _, entry := range entries {
		snapshots = append(snapshots, Snapshot{
			TraderName:    entry.TraderName,
			SnapshotDate:  date,
			Equity:        entry.Equity,
			RealizedPnL:   entry.RealizedPnL,
			UnrealizedPnL: entry.UnrealizedPnL,
			TradeCount:    entry.TradeCount,
		})
	}

	err = p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trader_name"}, {Name: "snapshot_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"equity", "realized_pnl", "unrealized_pnl", "trade_count"}),
	}).Create(&snapshots).Error
	if err != nil {
		return 0, fmt.Errorf("failed to save snapshots for %s: %w", date, err)
	}
	return len(snapshots), nil
}

// History returns a trader's snapshots, oldest first
func (p *SnapshotProcessor) History(ctx context.Context, traderName string) ([]Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.service.timeout)
	defer cancel()

	var snapshots []Snapshot
	if err := p.db.WithContext(ctx).
		Where("trader_name = ?", traderName).
		Order("snapshot_date ASC").
		Find(&snapshots).Error; err != nil {
		return nil, errs.FromStorage(err, "load snapshots")
	}
	if snapshots == nil {
		snapshots = []Snapshot{}
	}
	return snapshots, nil
}

// SnapshotsHandler handles GET /leaderboard/snapshots/:trader
func (h *GinHandlers) SnapshotsHandler(processor *SnapshotProcessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshots, err := processor.History(c.Request.Context(), c.Param("trader"))
		response.Handle(c, snapshots, err)
	}
}
