package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/energydesk-api/internal/events"
	"github.com/ksred/energydesk-api/pkg/response"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/gorm"
)

const (
	ActionTrade    = "TRADE"
	ActionOTCTrade = "OTC_TRADE"

	// RecentLimit is how many entries the public feed shows
	RecentLimit = 50
)

var printer = message.NewPrinter(language.English)

// Entry is one line of the public trade feed
type Entry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TraderName string    `gorm:"not null" json:"trader_name"`
	Action     string    `gorm:"not null" json:"action"`
	Summary    string    `gorm:"not null" json:"summary"`
	TeamName   string    `json:"team_name"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Entry) TableName() string {
	return "trade_feed"
}

// Recorder writes a feed entry for every newly submitted trade. Mirror legs are skipped
// so an OTC pair shows up once.
type Recorder struct {
	db     *gorm.DB
	notify events.Emitter
}

// NewRecorder creates a recorder. notify, when set, receives a trade_feed_update per entry.
func NewRecorder(db *gorm.DB, notify events.Emitter) *Recorder {
	if notify == nil {
		notify = events.NopEmitter{}
	}
	return &Recorder{db: db, notify: notify}
}

// Summarize renders the feed line for a trade, e.g. "Alice BUY 10,000 HENRY_HUB @ $3.5000"
func Summarize(t *events.TradeSummary) string {
	volume := printer.Sprintf("%.0f", t.Volume)
	if t.OTC {
		return fmt.Sprintf("%s %s %s %s OTC w/ %s @ $%.4f",
			t.DisplayName, t.Direction, volume, t.Hub, t.Counterparty, t.EntryPrice)
	}
	return fmt.Sprintf("%s %s %s %s @ $%.4f", t.DisplayName, t.Direction, volume, t.Hub, t.EntryPrice)
}

func (r *Recorder) Publish(ctx context.Context, event events.Event) error {
	if event.Type != events.TypeTradeSubmitted || event.Trade == nil || !event.Trade.Initiator {
		return nil
	}

	entry := &Entry{
		TraderName: event.TraderID,
		Action:     ActionTrade,
		Summary:    Summarize(event.Trade),
		TeamName:   event.Trade.TeamName,
		CreatedAt:  event.OccurredAt,
	}
	if event.Trade.OTC {
		entry.Action = ActionOTCTrade
	}

	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to record feed entry for trade %d: %w", event.TradeID, err)
	}

	log.Debug().
		Str("service", "feed").
		Uint("entry_id", entry.ID).
		Str("summary", entry.Summary).
		Msg("feed entry recorded")

	r.notify.Emit(events.Event{Type: events.TypeTradeFeedUpdate, Summary: entry.Summary})
	return nil
}

// Recent returns up to limit entries, newest first
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > RecentLimit {
		limit = RecentLimit
	}

	var entries []Entry
	if err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

type GinHandlers struct {
	recorder *Recorder
}

func NewGinHandlers(recorder *Recorder) *GinHandlers {
	return &GinHandlers{recorder: recorder}
}

// RecentHandler handles GET /trade-feed
func (h *GinHandlers) RecentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := h.recorder.Recent(c.Request.Context(), RecentLimit)
		response.Handle(c, entries, err)
	}
}
