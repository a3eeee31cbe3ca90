package trading

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/energydesk-api/internal/errs"
	"github.com/ksred/energydesk-api/internal/events"
	"github.com/ksred/energydesk-api/internal/ledger"
	"github.com/ksred/energydesk-api/internal/risk"
	"github.com/ksred/energydesk-api/internal/settlement"
	"github.com/ksred/energydesk-api/internal/types"
	"github.com/ksred/energydesk-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const defaultStorageTimeout = 5 * time.Second

// AccountReader supplies the trader accounts the ledger checks against
type AccountReader interface {
	GetAccount(ctx context.Context, traderID string) (*types.Account, error)
}

// activityRecorder is implemented by account stores that track last activity
type activityRecorder interface {
	TouchLastSeen(ctx context.Context, traderID string, at time.Time) error
}

// Service handles trade submission, closing and deletion.
// Every mutation holds the per-trader lock of each trader it touches and runs in a single transaction.
type Service struct {
	db       *ledger.Database
	accounts AccountReader
	engine   *settlement.Engine
	emitter  events.Emitter
	locks    *keyedLocker
	now      func() time.Time
	timeout  time.Duration
}

type Option func(*Service)

// WithClock replaces the wall clock used for timestamps, the duplicate window and the delete window
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStorageTimeout bounds each operation's storage work
func WithStorageTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithEmitter sets where committed changes are announced
func WithEmitter(e events.Emitter) Option {
	return func(s *Service) { s.emitter = e }
}

// NewService creates a new trading service with the given database connection
func NewService(gormDB *gorm.DB, accounts AccountReader, opts ...Option) *Service {
	s := &Service{
		db:       ledger.NewDatabase(gormDB),
		accounts: accounts,
		engine:   settlement.NewEngine(),
		emitter:  events.NopEmitter{},
		locks:    newKeyedLocker(),
		now:      func() time.Time { return time.Now().UTC() },
		timeout:  defaultStorageTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates and records a unilateral trade for traderID.
// Parameters:
//   - traderID: the submitting trader
//   - req: the proposed trade; nil numeric fields count as missing
func (s *Service) Submit(ctx context.Context, traderID string, req TradeRequest) (*types.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	unlock, err := s.locks.Lock(ctx, traderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	account, err := s.account(ctx, traderID, errs.CodeTraderNotFound)
	if err != nil {
		return nil, err
	}

	var trade *types.Trade
	err = s.db.Transaction(ctx, func(tx *ledger.Database) error {
		book, err := tx.LoadBook(ctx, traderID)
		if err != nil {
			return err
		}

		now := s.now()
		if err := risk.Validate(account, req.proposal(), book, now); err != nil {
			return err
		}

		trade = req.trade(traderID)
		return s.engine.Open(ctx, tx, trade, now)
	})
	if err != nil {
		return nil, errs.FromStorage(err, "submit trade")
	}

	log.Info().
		Str("service", "trading").
		Str("trader", traderID).
		Uint("trade_id", trade.ID).
		Str("type", trade.Type).
		Str("direction", string(trade.Direction)).
		Float64("volume", trade.Volume).
		Msg("trade accepted")

	s.emitter.Emit(events.TradeSubmitted(traderID, trade.ID, summarize(account, trade, nil, true)))
	s.emitter.Emit(events.LeaderboardUpdate("trade_submitted"))
	s.touch(traderID)

	return trade, nil
}

// SubmitOTC records a trade for traderID and its mirror for the named counterparty as one unit.
// The counterparty must be ACTIVE, opted in to OTC, and not on the initiator's team.
func (s *Service) SubmitOTC(ctx context.Context, traderID string, req OTCRequest) (*OTCResult, error) {
	counterpartyID := strings.TrimSpace(req.Counterparty)
	if counterpartyID == "" {
		return nil, errs.Validation(errs.CodeMissingFields, "Missing required fields: counterparty")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	unlock, err := s.locks.Lock(ctx, traderID, counterpartyID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	initiator, err := s.account(ctx, traderID, errs.CodeTraderNotFound)
	if err != nil {
		return nil, err
	}
	if !initiator.IsActive() {
		return nil, errs.Authorization(errs.CodeTraderNotActive,
			"Trader status is %s. Must be ACTIVE to trade.", initiator.Status)
	}

	counterparty, err := s.account(ctx, counterpartyID, errs.CodeCounterpartyNotFound)
	if err != nil {
		return nil, err
	}
	if err := checkEligible(initiator, counterparty); err != nil {
		return nil, err
	}

	result := &OTCResult{}
	err = s.db.Transaction(ctx, func(tx *ledger.Database) error {
		book, err := tx.LoadBook(ctx, traderID)
		if err != nil {
			return err
		}

		now := s.now()
		if err := risk.Validate(initiator, req.proposal(), book, now); err != nil {
			return err
		}

		leg := req.trade(traderID)
		mirror, err := s.engine.OpenPair(ctx, tx, leg, initiator, counterparty, now)
		if err != nil {
			return err
		}
		result.Trade, result.Mirror = leg, mirror
		return nil
	})
	if err != nil {
		return nil, errs.FromStorage(err, "submit OTC trade")
	}

	log.Info().
		Str("service", "trading").
		Str("trader", traderID).
		Str("counterparty", counterpartyID).
		Uint("trade_id", result.Trade.ID).
		Uint("mirror_id", result.Mirror.ID).
		Msg("OTC trade accepted")

	s.emitter.Emit(events.TradeSubmitted(traderID, result.Trade.ID, summarize(initiator, result.Trade, counterparty, true)))
	s.emitter.Emit(events.TradeSubmitted(counterpartyID, result.Mirror.ID, summarize(counterparty, result.Mirror, initiator, false)))
	s.emitter.Emit(events.LeaderboardUpdate("otc_trade"))
	s.touch(traderID)

	return result, nil
}

// Close settles an open trade at closePrice. For OTC trades the counterparty's mirror leg
// closes in the same transaction at the same price.
func (s *Service) Close(ctx context.Context, traderID string, tradeID uint, closePrice float64) (*settlement.CloseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// Find out which traders are involved before taking their locks
	peek, err := s.db.GetTrade(ctx, traderID, tradeID)
	if err != nil {
		return nil, errs.FromStorage(err, "load trade")
	}
	if peek == nil {
		return nil, errs.NotFound(errs.CodeTradeNotFound, "Trade %d not found", tradeID)
	}
	keys := []string{traderID}
	if peek.CounterpartyTrader != nil {
		keys = append(keys, *peek.CounterpartyTrader)
	}

	unlock, err := s.locks.Lock(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var result *settlement.CloseResult
	err = s.db.Transaction(ctx, func(tx *ledger.Database) error {
		trade, err := tx.GetTrade(ctx, traderID, tradeID)
		if err != nil {
			return err
		}
		if trade == nil {
			return errs.NotFound(errs.CodeTradeNotFound, "Trade %d not found", tradeID)
		}

		result, err = s.engine.Close(ctx, tx, trade, closePrice, s.now())
		return err
	})
	if err != nil {
		return nil, errs.FromStorage(err, "close trade")
	}

	logger := log.With().
		Str("service", "trading").
		Str("trader", traderID).
		Uint("trade_id", tradeID).
		Logger()

	if result.Integrity != nil {
		logger.Error().
			Err(result.Integrity).
			Str("code", errs.CodeOf(result.Integrity)).
			Msg("trade closed without its mirror")
	}
	logger.Info().
		Float64("close_price", closePrice).
		Float64("realized_pnl", result.Trade.Realized()).
		Msg("trade closed")

	reason := "trade_closed"
	s.emitter.Emit(events.TradeClosed(traderID, tradeID))
	if result.Mirror != nil {
		reason = "otc_close"
		s.emitter.Emit(events.TradeClosed(result.Mirror.TraderID, result.Mirror.ID))
	}
	s.emitter.Emit(events.LeaderboardUpdate(reason))

	return result, nil
}

// Delete removes an open, non-OTC trade placed within the last hour
func (s *Service) Delete(ctx context.Context, traderID string, tradeID uint) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	unlock, err := s.locks.Lock(ctx, traderID)
	if err != nil {
		return err
	}
	defer unlock()

	err = s.db.Transaction(ctx, func(tx *ledger.Database) error {
		trade, err := tx.GetTrade(ctx, traderID, tradeID)
		if err != nil {
			return err
		}
		if trade == nil {
			return errs.NotFound(errs.CodeTradeNotFound, "Trade %d not found", tradeID)
		}
		return s.engine.Delete(ctx, tx, trade, s.now())
	})
	if err != nil {
		return errs.FromStorage(err, "delete trade")
	}

	log.Info().
		Str("service", "trading").
		Str("trader", traderID).
		Uint("trade_id", tradeID).
		Msg("trade deleted")

	s.emitter.Emit(events.TradeDeleted(traderID, tradeID))
	s.emitter.Emit(events.LeaderboardUpdate("trade_deleted"))
	return nil
}

// List returns every trade owned by traderID, newest first
func (s *Service) List(ctx context.Context, traderID string) ([]types.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	trades, err := s.db.ListTrades(ctx, traderID)
	if err != nil {
		return nil, errs.FromStorage(err, "list trades")
	}
	if trades == nil {
		trades = []types.Trade{}
	}
	return trades, nil
}

// Portfolio reports the trader's equity, margin in use and buying power
func (s *Service) Portfolio(ctx context.Context, traderID string) (*Portfolio, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	account, err := s.account(ctx, traderID, errs.CodeTraderNotFound)
	if err != nil {
		return nil, err
	}
	book, err := s.db.LoadBook(ctx, traderID)
	if err != nil {
		return nil, errs.FromStorage(err, "load book")
	}

	p := &Portfolio{
		TraderID:        traderID,
		StartingBalance: account.StartingBalance,
		RealizedPnL:     book.RealizedPnL,
		Equity:          book.Equity(account.StartingBalance),
		UsedMargin:      book.UsedMargin,
		BuyingPower:     book.BuyingPower(account.StartingBalance),
		OpenTrades:      len(book.Open),
		ClosedTrades:    len(book.Closed),
	}
	if account.StartingBalance > 0 {
		p.ReturnPct = (p.Equity - account.StartingBalance) / account.StartingBalance * 100
	}
	return p, nil
}

func (s *Service) account(ctx context.Context, traderID, notFoundCode string) (*types.Account, error) {
	account, err := s.accounts.GetAccount(ctx, traderID)
	if err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return nil, errs.NotFound(notFoundCode, "Trader %s not found", traderID)
		}
		return nil, errs.FromStorage(err, "load account")
	}
	if account == nil {
		return nil, errs.NotFound(notFoundCode, "Trader %s not found", traderID)
	}
	return account, nil
}

// touch records activity without holding up the caller
func (s *Service) touch(traderID string) {
	recorder, ok := s.accounts.(activityRecorder)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := recorder.TouchLastSeen(ctx, traderID, s.now()); err != nil {
		log.Warn().Err(err).Str("trader", traderID).Msg("failed to update last seen")
	}
}

func checkEligible(initiator, counterparty *types.Account) error {
	switch {
	case counterparty.TraderID == initiator.TraderID:
		return errs.Authorization(errs.CodeCounterpartyIneligible, "Cannot trade OTC with yourself")
	case !counterparty.IsActive():
		return errs.Authorization(errs.CodeCounterpartyIneligible, "Counterparty %s is not active", counterparty.TraderID)
	case !counterparty.OTCAvailable:
		return errs.Authorization(errs.CodeCounterpartyIneligible, "Counterparty %s is not available for OTC", counterparty.TraderID)
	case initiator.SameTeam(counterparty):
		return errs.Authorization(errs.CodeCounterpartyIneligible, "Cannot trade OTC with a teammate")
	}
	return nil
}

func summarize(owner *types.Account, trade *types.Trade, counterparty *types.Account, initiator bool) *events.TradeSummary {
	summary := &events.TradeSummary{
		DisplayName: owner.DisplayName,
		TeamName:    owner.TeamName,
		Type:        trade.Type,
		Direction:   string(trade.Direction),
		Hub:         trade.Hub,
		Volume:      trade.Volume,
		EntryPrice:  trade.EntryPrice,
		OTC:         counterparty != nil,
		Initiator:   initiator,
	}
	if counterparty != nil {
		summary.Counterparty = counterparty.DisplayName
	}
	return summary
}

// GinHandlers contains HTTP handlers for trading endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for trading endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ListTradesHandler handles GET requests for the caller's trades
func (h *GinHandlers) ListTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		trades, err := h.service.List(c.Request.Context(), c.GetString("traderID"))
		response.Handle(c, trades, err)
	}
}

// SubmitTradeHandler handles POST requests to submit a trade
// Requires a valid JWT token; the body is a TradeRequest
func (h *GinHandlers) SubmitTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TradeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		trade, err := h.service.Submit(c.Request.Context(), c.GetString("traderID"), req)
		response.Handle(c, trade, err)
	}
}

// SubmitOTCHandler handles POST requests to submit an OTC trade against a counterparty
func (h *GinHandlers) SubmitOTCHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OTCRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		result, err := h.service.SubmitOTC(c.Request.Context(), c.GetString("traderID"), req)
		response.Handle(c, result, err)
	}
}

// CloseTradeHandler handles POST requests to close a trade
// URL parameter: trade_id
func (h *GinHandlers) CloseTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tradeID, ok := tradeIDParam(c)
		if !ok {
			return
		}

		var req CloseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "close_price is required")
			return
		}

		result, err := h.service.Close(c.Request.Context(), c.GetString("traderID"), tradeID, *req.ClosePrice)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		body := closeResponse{Trade: result.Trade, Mirror: result.Mirror}
		var integrity *errs.Error
		if errors.As(result.Integrity, &integrity) {
			body.IntegrityError = &response.Error{Code: integrity.Code, Message: integrity.Message}
		}
		response.Success(c, body)
	}
}

// DeleteTradeHandler handles DELETE requests for a trade
// URL parameter: trade_id
func (h *GinHandlers) DeleteTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tradeID, ok := tradeIDParam(c)
		if !ok {
			return
		}

		err := h.service.Delete(c.Request.Context(), c.GetString("traderID"), tradeID)
		response.Handle(c, gin.H{"trade_id": tradeID, "deleted": true}, err)
	}
}

// PortfolioHandler handles GET requests for the caller's capital position
func (h *GinHandlers) PortfolioHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		portfolio, err := h.service.Portfolio(c.Request.Context(), c.GetString("traderID"))
		response.Handle(c, portfolio, err)
	}
}

func tradeIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("trade_id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "Invalid trade ID")
		return 0, false
	}
	return uint(id), true
}
