package accounts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/energydesk-api/internal/errs"
	"github.com/ksred/energydesk-api/internal/events"
	"github.com/ksred/energydesk-api/internal/types"
	"github.com/ksred/energydesk-api/pkg/response"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	defaultTeamColor = "#22d3ee"
	noTeamColor      = "#888"
)

// Service manages trader identities, teams and OTC availability
type Service struct {
	db             *Database
	defaultBalance float64
	timeout        time.Duration
	emitter        events.Emitter
}

// NewService creates an accounts service. Every storage call is bounded by timeout.
func NewService(gormDB *gorm.DB, defaultBalance float64, timeout time.Duration, emitter events.Emitter) *Service {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Service{
		db:             NewDatabase(gormDB),
		defaultBalance: defaultBalance,
		timeout:        timeout,
		emitter:        emitter,
	}
}

// TraderName derives the login handle from a person's name
func TraderName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "_"))
}

// Register creates a PENDING trader with a hashed PIN and the default starting balance.
// An admin must activate the trader before they can trade.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Trader, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	name := strings.TrimSpace(req.Name)
	traderName := TraderName(name)
	if traderName == "" {
		return nil, errs.Validation(errs.CodeInvalidRequest, "Name is required")
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = name
	}

	exists, err := s.db.TraderExists(ctx, traderName)
	if err != nil {
		return nil, errs.FromStorage(err, "check trader name")
	}
	if exists {
		return nil, errs.Conflict(errs.CodeDuplicateResource, "Trader name already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.PIN), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	trader := &Trader{
		TraderName:      traderName,
		DisplayName:     displayName,
		Firm:            strings.TrimSpace(req.Firm),
		PINHash:         string(hash),
		Status:          types.AccountStatusPending,
		StartingBalance: s.defaultBalance,
	}
	if err := s.db.CreateTrader(ctx, trader); err != nil {
		return nil, errs.FromStorage(err, "create trader")
	}

	log.Info().
		Str("service", "accounts").
		Str("trader", traderName).
		Msg("trader registered")

	s.emitter.Emit(events.Event{Type: events.TypeTraderRegistered, TraderID: traderName})
	return trader, nil
}

// Authenticate checks a trader's PIN. Disabled traders are refused; pending traders may sign in
// but cannot trade until activated.
func (s *Service) Authenticate(ctx context.Context, traderName, pin string) (*types.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	trader, err := s.db.GetTrader(ctx, traderName)
	if err != nil {
		return nil, errs.FromStorage(err, "load trader")
	}
	if trader == nil {
		return nil, errs.Authorization(errs.CodeInvalidCredentials, "Invalid name or PIN")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(trader.PINHash), []byte(pin)); err != nil {
		return nil, errs.Authorization(errs.CodeInvalidCredentials, "Invalid name or PIN")
	}
	if trader.Status == types.AccountStatusDisabled {
		return nil, errs.Authorization(errs.CodeTraderNotActive, "Your account has been disabled. Contact your admin.")
	}

	if err := s.db.TouchLastSeen(ctx, traderName, time.Now().UTC()); err != nil {
		log.Warn().Err(err).Str("trader", traderName).Msg("failed to update last seen")
	}
	return trader.Account(), nil
}

func (s *Service) GetAccount(ctx context.Context, traderName string) (*types.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	trader, err := s.db.GetTrader(ctx, traderName)
	if err != nil {
		return nil, errs.FromStorage(err, "load trader")
	}
	if trader == nil {
		return nil, errs.NotFound(errs.CodeTraderNotFound, "Trader %s not found", traderName)
	}
	return trader.Account(), nil
}

// ListActive returns every ACTIVE trader ordered by trader name
func (s *Service) ListActive(ctx context.Context) ([]types.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	traders, err := s.db.ListTraders(ctx, types.AccountStatusActive)
	if err != nil {
		return nil, errs.FromStorage(err, "list active traders")
	}

	accounts := make([]types.Account, 0, len(traders))
	for i := range traders {
		accounts = append(accounts, *traders[i].Account())
	}
	return accounts, nil
}

func (s *Service) ListTraders(ctx context.Context) ([]Trader, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	traders, err := s.db.ListTraders(ctx, "")
	if err != nil {
		return nil, errs.FromStorage(err, "list traders")
	}
	return traders, nil
}

// TouchLastSeen records trader activity at the given time
func (s *Service) TouchLastSeen(ctx context.Context, traderName string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return errs.FromStorage(s.db.TouchLastSeen(ctx, traderName, at), "touch last seen")
}

func (s *Service) SetStatus(ctx context.Context, traderName string, status types.AccountStatus) error {
	switch status {
	case types.AccountStatusPending, types.AccountStatusActive, types.AccountStatusDisabled:
	default:
		return errs.Validation(errs.CodeInvalidRequest, "Unknown status %s", status)
	}
	if err := s.update(ctx, traderName, map[string]interface{}{"status": status}); err != nil {
		return err
	}
	s.emitter.Emit(events.LeaderboardUpdate("trader_status"))
	return nil
}

func (s *Service) SetStartingBalance(ctx context.Context, traderName string, balance float64) error {
	if balance <= 0 {
		return errs.Validation(errs.CodeInvalidRequest, "Starting balance must be positive")
	}
	if err := s.update(ctx, traderName, map[string]interface{}{"starting_balance": balance}); err != nil {
		return err
	}
	s.emitter.Emit(events.LeaderboardUpdate("starting_balance"))
	return nil
}

func (s *Service) OTCStatus(ctx context.Context, traderName string) (bool, error) {
	account, err := s.GetAccount(ctx, traderName)
	if err != nil {
		return false, err
	}
	return account.OTCAvailable, nil
}

func (s *Service) SetOTCStatus(ctx context.Context, traderName string, available bool) error {
	return s.update(ctx, traderName, map[string]interface{}{"otc_available": available})
}

// Counterparties lists ACTIVE traders other than traderName who are not on the trader's team.
// Teamless traders see everyone.
func (s *Service) Counterparties(ctx context.Context, traderName string) ([]Counterparty, error) {
	me, err := s.GetAccount(ctx, traderName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	traders, err := s.db.ListTraders(ctx, types.AccountStatusActive)
	if err != nil {
		return nil, errs.FromStorage(err, "list counterparties")
	}

	counterparties := make([]Counterparty, 0, len(traders))
	for i := range traders {
		other := traders[i].Account()
		if other.TraderID == me.TraderID || me.SameTeam(other) {
			continue
		}
		cp := Counterparty{
			TraderName:   other.TraderID,
			DisplayName:  other.DisplayName,
			Firm:         traders[i].Firm,
			OTCAvailable: other.OTCAvailable,
			TeamColor:    noTeamColor,
		}
		if team := traders[i].Team; team != nil {
			cp.TeamName = team.Name
			cp.TeamColor = team.Color
		}
		counterparties = append(counterparties, cp)
	}
	return counterparties, nil
}

func (s *Service) CreateTeam(ctx context.Context, req TeamRequest) (*Team, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errs.Validation(errs.CodeInvalidRequest, "Team name is required")
	}
	exists, err := s.db.TeamNameExists(ctx, name)
	if err != nil {
		return nil, errs.FromStorage(err, "check team name")
	}
	if exists {
		return nil, errs.Conflict(errs.CodeDuplicateResource, "Team name already exists")
	}

	team := &Team{Name: name, Description: req.Description, Color: req.Color}
	if team.Color == "" {
		team.Color = defaultTeamColor
	}
	if err := s.db.CreateTeam(ctx, team); err != nil {
		return nil, errs.FromStorage(err, "create team")
	}
	return team, nil
}

func (s *Service) ListTeams(ctx context.Context) ([]Team, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	teams, err := s.db.ListTeams(ctx)
	if err != nil {
		return nil, errs.FromStorage(err, "list teams")
	}
	return teams, nil
}

// AssignTeam moves the trader onto the team, replacing any previous membership
func (s *Service) AssignTeam(ctx context.Context, teamID uint, traderName string) error {
	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	team, err := s.db.GetTeam(lookupCtx, teamID)
	cancel()
	if err != nil {
		return errs.FromStorage(err, "load team")
	}
	if team == nil {
		return errs.NotFound(errs.CodeNotFound, "Team %d not found", teamID)
	}
	return s.update(ctx, traderName, map[string]interface{}{"team_id": teamID})
}

func (s *Service) RemoveFromTeam(ctx context.Context, traderName string) error {
	return s.update(ctx, traderName, map[string]interface{}{"team_id": nil})
}

func (s *Service) update(ctx context.Context, traderName string, updates map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.UpdateTrader(ctx, traderName, updates); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.NotFound(errs.CodeTraderNotFound, "Trader %s not found", traderName)
		}
		return errs.FromStorage(err, "update trader")
	}
	return nil
}

// GinHandlers contains HTTP handlers for trader and admin endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	RegisterValidations()
	return &GinHandlers{
		service: service,
	}
}

// RegisterHandler handles POST requests to register a new trader
func (h *GinHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, bindingMessage(err))
			return
		}

		trader, err := h.service.Register(c.Request.Context(), req)
		response.Handle(c, trader, err)
	}
}

func (h *GinHandlers) GetOTCStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		available, err := h.service.OTCStatus(c.Request.Context(), c.GetString("traderID"))
		response.Handle(c, gin.H{"otc_available": available}, err)
	}
}

func (h *GinHandlers) SetOTCStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OTCStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, bindingMessage(err))
			return
		}

		err := h.service.SetOTCStatus(c.Request.Context(), c.GetString("traderID"), *req.OTCAvailable)
		response.Handle(c, gin.H{"otc_available": *req.OTCAvailable}, err)
	}
}

func (h *GinHandlers) CounterpartiesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		counterparties, err := h.service.Counterparties(c.Request.Context(), c.GetString("traderID"))
		response.Handle(c, counterparties, err)
	}
}

// Admin handlers. Routes using these must sit behind middleware.AdminAuth.

func (h *GinHandlers) ListTradersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		traders, err := h.service.ListTraders(c.Request.Context())
		response.Handle(c, traders, err)
	}
}

func (h *GinHandlers) SetStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, bindingMessage(err))
			return
		}

		err := h.service.SetStatus(c.Request.Context(), c.Param("trader"), req.Status)
		response.Handle(c, gin.H{"trader_name": c.Param("trader"), "status": req.Status}, err)
	}
}

func (h *GinHandlers) SetBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BalanceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, bindingMessage(err))
			return
		}

		err := h.service.SetStartingBalance(c.Request.Context(), c.Param("trader"), req.StartingBalance)
		response.Handle(c, gin.H{"trader_name": c.Param("trader"), "starting_balance": req.StartingBalance}, err)
	}
}

func (h *GinHandlers) ListTeamsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		teams, err := h.service.ListTeams(c.Request.Context())
		response.Handle(c, teams, err)
	}
}

func (h *GinHandlers) CreateTeamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TeamRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, bindingMessage(err))
			return
		}

		team, err := h.service.CreateTeam(c.Request.Context(), req)
		response.Handle(c, team, err)
	}
}

// AssignTeamHandler handles POST /admin/teams/:team_id/assign
func (h *GinHandlers) AssignTeamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID, ok := uintParam(c, "team_id")
		if !ok {
			return
		}

		var req AssignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, bindingMessage(err))
			return
		}

		err := h.service.AssignTeam(c.Request.Context(), teamID, req.TraderName)
		response.Handle(c, gin.H{"team_id": teamID, "trader_name": req.TraderName}, err)
	}
}

func (h *GinHandlers) RemoveFromTeamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AssignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, bindingMessage(err))
			return
		}

		err := h.service.RemoveFromTeam(c.Request.Context(), req.TraderName)
		response.Handle(c, gin.H{"trader_name": req.TraderName}, err)
	}
}
