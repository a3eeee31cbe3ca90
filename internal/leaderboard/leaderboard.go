package leaderboard

import (
	"sort"
	"time"

	"github.com/ksred/energydesk-api/internal/types"
	"github.com/shopspring/decimal"
)

// ProfitFactorNoLosses is reported when a trader has winning trades and no losing ones
const ProfitFactorNoLosses = 999

// Entry is one ranked row of the leaderboard
type Entry struct {
	Rank            int        `json:"rank"`
	TraderName      string     `json:"trader_name"`
	DisplayName     string     `json:"display_name"`
	TeamName        string     `json:"team_name,omitempty"`
	StartingBalance float64    `json:"starting_balance"`
	Equity          float64    `json:"equity"`
	RealizedPnL     float64    `json:"realized_pnl"`
	UnrealizedPnL   float64    `json:"unrealized_pnl"`
	ReturnPct       float64    `json:"return_pct"`
	WinRate         float64    `json:"win_rate"`
	ProfitFactor    float64    `json:"profit_factor"`
	TradeCount      int        `json:"trade_count"`
	Wins            int        `json:"wins"`
	Losses          int        `json:"losses"`
	LastSeen        *time.Time `json:"last_seen,omitempty"`
}

// Compute ranks accounts by return. Open trades contribute nothing; only realized P&L counts.
// Ties on the displayed return are broken by trader name so the order is stable.
func Compute(accounts []types.Account, tradesByTrader map[string][]types.Trade) []Entry {
	entries := make([]Entry, 0, len(accounts))
	for i := range accounts {
		entries = append(entries, score(&accounts[i], tradesByTrader[accounts[i].TraderID]))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ReturnPct != entries[j].ReturnPct {
			return entries[i].ReturnPct > entries[j].ReturnPct
		}
		return entries[i].TraderName < entries[j].TraderName
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

func score(account *types.Account, trades []types.Trade) Entry {
	var realized, grossWins, grossLosses float64
	var wins, losses int

	for _, trade := range trades {
		if trade.Status != types.TradeStatusClosed {
			continue
		}
		pnl := trade.Realized()
		realized += pnl
		switch {
		case pnl > 0:
			wins++
			grossWins += pnl
		case pnl < 0:
			losses++
			grossLosses -= pnl
		}
	}

	equity := account.StartingBalance + realized

	var returnPct float64
	if account.StartingBalance != 0 {
		returnPct = (equity - account.StartingBalance) / account.StartingBalance * 100
	}

	var winRate float64
	if decisive := wins + losses; decisive > 0 {
		winRate = float64(wins) / float64(decisive) * 100
	}

	var profitFactor float64
	switch {
	case grossLosses > 0:
		profitFactor = grossWins / grossLosses
	case grossWins > 0:
		profitFactor = ProfitFactorNoLosses
	}

	return Entry{
		TraderName:      account.TraderID,
		DisplayName:     account.DisplayName,
		TeamName:        account.TeamName,
		StartingBalance: account.StartingBalance,
		Equity:          equity,
		RealizedPnL:     realized,
		ReturnPct:       round(returnPct, 2),
		WinRate:         round(winRate, 1),
		ProfitFactor:    round(profitFactor, 2),
		TradeCount:      len(trades),
		Wins:            wins,
		Losses:          losses,
		LastSeen:        account.LastSeen,
	}
}

func round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
