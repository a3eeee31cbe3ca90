package ledger

import (
	"github.com/ksred/energydesk-api/internal/instrument"
	"github.com/ksred/energydesk-api/internal/types"
)

// Book is a trader's trade history split into open and closed positions,
// with realized P&L and margin in use already folded.
type Book struct {
	All         []types.Trade
	Open        []types.Trade
	Closed      []types.Trade
	RealizedPnL float64
	UsedMargin  float64
}

func NewBook(trades []types.Trade) *Book {
	book := &Book{All: trades}
	for _, trade := range trades {
		switch trade.Status {
		case types.TradeStatusClosed:
			book.Closed = append(book.Closed, trade)
			book.RealizedPnL += trade.Realized()
		case types.TradeStatusOpen:
			book.Open = append(book.Open, trade)
			book.UsedMargin += instrument.Margin(trade.Type, trade.Volume)
		}
	}
	return book
}

// Equity is starting balance plus realized P&L. Open trades are not marked to market.
func (b *Book) Equity(startingBalance float64) float64 {
	return startingBalance + b.RealizedPnL
}

// BuyingPower is equity minus the margin held by open trades
func (b *Book) BuyingPower(startingBalance float64) float64 {
	return b.Equity(startingBalance) - b.UsedMargin
}
