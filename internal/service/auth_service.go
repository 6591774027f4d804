package service

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctoring/internal/config"
)

// Capabilities granted by the LMS in the token.
const (
	CapViewStatus  = "proctoring:view"
	CapViewReports = "proctoring:viewreports"
	CapManage      = "proctoring:manage"
)

// Claims is what the LMS puts in the tokens it issues for this service.
type Claims struct {
	jwt.RegisteredClaims
	UserID int `json:"user_id"`
	// SessionID is the LMS session. It scopes the session cache.
	SessionID    string   `json:"sid"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Can reports whether the token grants capability.
func (c *Claims) Can(capability string) bool {
	return slices.Contains(c.Capabilities, capability)
}

// AuthService validates LMS-issued JWTs.
type AuthService struct {
	cfg *config.Config
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg}
}

// IssueToken signs a token the way the LMS does. It is used by tooling and
// tests; production tokens come from the LMS.
func (s *AuthService) IssueToken(userID int, sessionID string, capabilities []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:       userID,
		SessionID:    sessionID,
		Capabilities: capabilities,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.UserID <= 0 {
		return nil, errors.New("token has no user")
	}
	if claims.SessionID == "" {
		return nil, errors.New("token has no session")
	}
	return claims, nil
}
