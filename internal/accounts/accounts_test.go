package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/energydesk-api/internal/errs"
	"github.com/ksred/energydesk-api/internal/events"
	"github.com/ksred/energydesk-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&Team{}, &Trader{}))
	return NewService(db, 1000000, 5*time.Second, nil)
}

func register(t *testing.T, s *Service, name string, status types.AccountStatus) string {
	t.Helper()
	trader, err := s.Register(context.Background(), RegisterRequest{Name: name, PIN: "1234"})
	require.NoError(t, err)
	if status != types.AccountStatusPending {
		require.NoError(t, s.SetStatus(context.Background(), trader.TraderName, status))
	}
	return trader.TraderName
}

func TestTraderName(t *testing.T) {
	assert.Equal(t, "alice_smith", TraderName("Alice Smith"))
	assert.Equal(t, "bob", TraderName("  BOB "))
	assert.Equal(t, "mary_jo_lee", TraderName("Mary  Jo   Lee"))
	assert.Empty(t, TraderName("   "))
}

func TestIsValidPIN(t *testing.T) {
	assert.True(t, IsValidPIN("0420"))
	assert.False(t, IsValidPIN("123"))
	assert.False(t, IsValidPIN("12345"))
	assert.False(t, IsValidPIN("12a4"))
	assert.False(t, IsValidPIN(""))
}

func TestRegister(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	trader, err := s.Register(ctx, RegisterRequest{Name: "Alice Smith", DisplayName: "Ace", PIN: "1234"})
	require.NoError(t, err)
	assert.Equal(t, "alice_smith", trader.TraderName)
	assert.Equal(t, "Ace", trader.DisplayName)
	assert.Equal(t, types.AccountStatusPending, trader.Status)
	assert.Equal(t, 1000000.0, trader.StartingBalance)
	assert.NotEqual(t, "1234", trader.PINHash)

	_, err = s.Register(ctx, RegisterRequest{Name: "alice  SMITH", PIN: "9999"})
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))

	account, err := s.GetAccount(ctx, "alice_smith")
	require.NoError(t, err)
	assert.False(t, account.IsActive())
	assert.False(t, account.OTCAvailable)
}

func TestAuthenticate(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()
	name := register(t, s, "Alice", types.AccountStatusPending)

	account, err := s.Authenticate(ctx, name, "1234")
	require.NoError(t, err)
	assert.Equal(t, "alice", account.TraderID)

	_, err = s.Authenticate(ctx, name, "4321")
	assert.Equal(t, errs.CodeInvalidCredentials, errs.CodeOf(err))

	_, err = s.Authenticate(ctx, "nobody", "1234")
	assert.Equal(t, errs.CodeInvalidCredentials, errs.CodeOf(err))

	require.NoError(t, s.SetStatus(ctx, name, types.AccountStatusDisabled))
	_, err = s.Authenticate(ctx, name, "1234")
	assert.Equal(t, errs.CodeTraderNotActive, errs.CodeOf(err))
}

func TestAdminUpdates(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()
	name := register(t, s, "Alice", types.AccountStatusActive)

	require.NoError(t, s.SetStartingBalance(ctx, name, 250000))
	account, err := s.GetAccount(ctx, name)
	require.NoError(t, err)
	assert.True(t, account.IsActive())
	assert.Equal(t, 250000.0, account.StartingBalance)

	assert.Equal(t, errs.KindValidation, errs.KindOf(s.SetStartingBalance(ctx, name, 0)))
	assert.Equal(t, errs.KindValidation, errs.KindOf(s.SetStatus(ctx, name, "FROZEN")))
	assert.Equal(t, errs.CodeTraderNotFound, errs.CodeOf(s.SetStatus(ctx, "ghost", types.AccountStatusActive)))

	require.NoError(t, s.SetOTCStatus(ctx, name, true))
	available, err := s.OTCStatus(ctx, name)
	require.NoError(t, err)
	assert.True(t, available)

	require.NoError(t, s.SetOTCStatus(ctx, name, false))
	available, err = s.OTCStatus(ctx, name)
	require.NoError(t, err)
	assert.False(t, available)
}

func TestCounterpartiesExcludeSelfAndTeammates(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	alice := register(t, s, "Alice", types.AccountStatusActive)
	bob := register(t, s, "Bob", types.AccountStatusActive)
	carol := register(t, s, "Carol", types.AccountStatusActive)
	dave := register(t, s, "Dave", types.AccountStatusActive)
	register(t, s, "Erin", types.AccountStatusPending)

	desk, err := s.CreateTeam(ctx, TeamRequest{Name: "Gas Desk"})
	require.NoError(t, err)
	assert.Equal(t, defaultTeamColor, desk.Color)
	crude, err := s.CreateTeam(ctx, TeamRequest{Name: "Crude Desk", Color: "#ff0000"})
	require.NoError(t, err)

	_, err = s.CreateTeam(ctx, TeamRequest{Name: "Gas Desk"})
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))

	require.NoError(t, s.AssignTeam(ctx, desk.ID, alice))
	require.NoError(t, s.AssignTeam(ctx, desk.ID, bob))
	require.NoError(t, s.AssignTeam(ctx, crude.ID, carol))
	assert.Equal(t, errs.KindNotFound, errs.KindOf(s.AssignTeam(ctx, 999, dave)))

	names := func(cps []Counterparty) []string {
		var out []string
		for _, cp := range cps {
			out = append(out, cp.TraderName)
		}
		return out
	}

	forAlice, err := s.Counterparties(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{carol, dave}, names(forAlice))
	assert.Equal(t, "Crude Desk", forAlice[0].TeamName)
	assert.Equal(t, noTeamColor, forAlice[1].TeamColor)

	forDave, err := s.Counterparties(ctx, dave)
	require.NoError(t, err)
	assert.Equal(t, []string{alice, bob, carol}, names(forDave))

	require.NoError(t, s.RemoveFromTeam(ctx, bob))
	forAlice, err = s.Counterparties(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{bob, carol, dave}, names(forAlice))
}

func TestListActive(t *testing.T) {
	s := setupService(t)
	register(t, s, "Zed", types.AccountStatusActive)
	register(t, s, "Amy", types.AccountStatusActive)
	register(t, s, "Pat", types.AccountStatusPending)
	register(t, s, "Dan", types.AccountStatusDisabled)

	active, err := s.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "amy", active[0].TraderID)
	assert.Equal(t, "zed", active[1].TraderID)
}

func TestRegisterHandlerRejectsBadPIN(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := setupService(t)
	h := NewGinHandlers(s)

	router := gin.New()
	router.POST("/traders/register", h.RegisterHandler())

	post := func(body map[string]string) *httptest.ResponseRecorder {
		payload, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/traders/register", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := post(map[string]string{"name": "Alice", "pin": "12ab"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "4-digit PIN")

	w = post(map[string]string{"name": "Alice", "pin": "1234"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"trader_name":"alice"`)
	assert.NotContains(t, w.Body.String(), "pin_hash")

	w = post(map[string]string{"name": "Alice", "pin": "1234"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(e events.Event) {
	r.events = append(r.events, e)
}

func TestAdminChangesRefreshLeaderboard(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()
	name := register(t, s, "Alice", types.AccountStatusPending)

	emitter := &recordingEmitter{}
	s.emitter = emitter

	require.NoError(t, s.SetStatus(ctx, name, types.AccountStatusActive))
	require.NoError(t, s.SetStartingBalance(ctx, name, 500000))
	assert.Error(t, s.SetStatus(ctx, "ghost", types.AccountStatusActive))

	require.Len(t, emitter.events, 2)
	assert.Equal(t, events.TypeLeaderboardUpdate, emitter.events[0].Type)
	assert.Equal(t, "trader_status", emitter.events[0].Reason)
	assert.Equal(t, "starting_balance", emitter.events[1].Reason)
}
