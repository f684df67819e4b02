// Package session provides the explicit session object behind every
// outbound backend call: acquire on login, refresh on re-issue,
// invalidate on a 401. Nothing here is ambient; callers pass the
// session where it is needed.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dinehub/pos-billing-service/internal/config"
	"github.com/dinehub/pos-billing-service/internal/models/errs"
	"github.com/golang-jwt/jwt/v4"
)

// Claims carried by a staff session token.
type Claims struct {
	jwt.RegisteredClaims
	UserID int `json:"uid"`
}

// Store issues and verifies session tokens.
type Store struct {
	signingKey string
	expiration time.Duration
}

func NewStore(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("nil dependency: config")
	}
	if cfg.Session.SigningKey == "" {
		return nil, errors.New("empty session signing key")
	}
	return &Store{
		signingKey: cfg.Session.SigningKey,
		expiration: cfg.Session.Expiration,
	}, nil
}

// Issue creates a live session for a staff member.
func (s *Store) Issue(userID int) (*Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.expiration)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID: userID,
	})

	signed, err := token.SignedString([]byte(s.signingKey))
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	return &Session{
		token:     signed,
		userID:    userID,
		expiresAt: expiresAt,
		valid:     true,
	}, nil
}

// Verify extracts the staff id from a bearer token string.
func (s *Store) Verify(tokenString string) (int, error) {
	claims := new(Claims)

	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(s.signingKey), nil
		})
	if err != nil {
		return 0, fmt.Errorf("parse session token: %w", err)
	}
	if !token.Valid {
		return 0, errs.ErrSessionExpired
	}

	return claims.UserID, nil
}

// Session is one staff member's live credential. Safe for concurrent
// use by the backend clients.
type Session struct {
	expiresAt time.Time
	token     string
	userID    int
	valid     bool
	mu        sync.RWMutex
}

// Token returns the bearer token, or errs.ErrSessionExpired once the
// session is invalidated or past its expiry.
func (s *Session) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.valid || time.Now().After(s.expiresAt) {
		return "", errs.ErrSessionExpired
	}
	return s.token, nil
}

// UserID returns the staff id the session was issued for.
func (s *Session) UserID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Valid reports whether the session can still authenticate calls.
func (s *Session) Valid() bool {
	_, err := s.Token()
	return err == nil
}

// Invalidate kills the session. Called when a backend answers 401.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = false
}

// Refresh replaces the credential after a re-issue, reviving the
// session.
func (s *Session) Refresh(token string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expiresAt = expiresAt
	s.valid = true
}
