package auth

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/energydesk-api/internal/errs"
	"github.com/ksred/energydesk-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAccounts map[string]string

func (s stubAccounts) Authenticate(_ context.Context, traderName, pin string) (*types.Account, error) {
	if want, ok := s[traderName]; ok && want == pin {
		return &types.Account{TraderID: traderName, Status: types.AccountStatusActive}, nil
	}
	return nil, errs.Authorization(errs.CodeInvalidCredentials, "Invalid name or PIN")
}

func TestGenerateAndValidateToken(t *testing.T) {
	s := NewService("test-secret", time.Hour, stubAccounts{"alice": "1234"})

	token, err := s.GenerateToken(context.Background(), Credentials{TraderName: "alice", PIN: "1234"})
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
	assert.Equal(t, "alice", token.Account.TraderID)

	claims, err := s.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.TraderID)
	assert.Equal(t, "alice", claims.Subject)

	_, err = s.GenerateToken(context.Background(), Credentials{TraderName: "alice", PIN: "0000"})
	assert.Equal(t, errs.CodeInvalidCredentials, errs.CodeOf(err))
}

func TestValidateTokenRejections(t *testing.T) {
	s := NewService("test-secret", time.Hour, stubAccounts{})
	other := NewService("other-secret", time.Hour, stubAccounts{})

	expired, _, err := s.Sign("alice", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = s.ValidateToken(expired)
	assert.Error(t, err)

	foreign, _, err := other.Sign("alice", time.Now())
	require.NoError(t, err)
	_, err = s.ValidateToken(foreign)
	assert.Error(t, err)

	_, err = s.ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestGenerateTokenHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewGinHandlers(NewService("test-secret", time.Hour, stubAccounts{"alice": "1234"}))
	router := gin.New()
	router.POST("/auth/token", h.GenerateTokenHandler())

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "valid", body: `{"trader_name":"alice","pin":"1234"}`, want: http.StatusCreated},
		{name: "wrong pin", body: `{"trader_name":"alice","pin":"9999"}`, want: http.StatusUnauthorized},
		{name: "missing fields", body: `{}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
