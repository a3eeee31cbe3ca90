package auth

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ksred/energydesk-api/internal/errs"
	"github.com/ksred/energydesk-api/internal/types"
	"github.com/ksred/energydesk-api/pkg/response"
)

var (
	ErrTokenGeneration = errors.New("failed to generate token")
	ErrInvalidToken    = errors.New("invalid token")
)

// Authenticator verifies a trader's PIN
type Authenticator interface {
	Authenticate(ctx context.Context, traderName, pin string) (*types.Account, error)
}

// Credentials represents a trader sign-in request
type Credentials struct {
	TraderName string `json:"trader_name" binding:"required"`
	PIN        string `json:"pin" binding:"required"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string         `json:"jwt_token"`
	Expiration time.Time      `json:"expiration"`
	Account    *types.Account `json:"account"`
}

// Claims represents the JWT claims structure
type Claims struct {
	jwt.RegisteredClaims
	TraderID string `json:"trader_id"`
}

// Service issues and validates trader tokens
type Service struct {
	jwtSecret []byte
	ttl       time.Duration
	accounts  Authenticator
}

func NewService(jwtSecret string, ttl time.Duration, accounts Authenticator) *Service {
	return &Service{
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		accounts:  accounts,
	}
}

// GenerateToken signs a token for a trader whose PIN checks out
func (s *Service) GenerateToken(ctx context.Context, creds Credentials) (*TokenResponse, error) {
	account, err := s.accounts.Authenticate(ctx, creds.TraderName, creds.PIN)
	if err != nil {
		return nil, err
	}

	token, expiration, err := s.Sign(account.TraderID, time.Now())
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		Token:      token,
		Expiration: expiration,
		Account:    account,
	}, nil
}

// Sign creates a token for traderID valid from now for the configured TTL
func (s *Service) Sign(traderID string, now time.Time) (string, time.Time, error) {
	expiration := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   traderID,
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		TraderID: traderID,
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, ErrTokenGeneration
	}
	return tokenString, expiration, nil
}

// ValidateToken verifies signature and expiry and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.TraderID != "" {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GenerateTokenHandler handles POST requests to generate JWT tokens
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(c.Request.Context(), creds)
		if errs.CodeOf(err) == errs.CodeInvalidCredentials {
			response.Unauthorized(c, "Invalid name or PIN")
			return
		}
		response.Handle(c, token, err)
	}
}
