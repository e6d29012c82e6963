// Package auth implements the session store the deep-link handoff
// establishes sessions against.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"merchant-actions-api/internal/cache"
)

// ErrInvalidSession is returned when establishing a session with missing
// required fields.
var ErrInvalidSession = errors.New("auth: token and merchant id are required")

// Session is an authenticated merchant session bootstrapped from a deep
// link or a regular login.
type Session struct {
	ID           string    `json:"id"`
	MerchantID   string    `json:"merchant_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Store keeps sessions in the shared cache with a TTL matching the token
// lifetime.
type Store struct {
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates a session store. A zero ttl defaults to one hour.
func NewStore(c cache.Cache, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{cache: c, ttl: ttl, logger: logger, now: time.Now}
}

func sessionKey(id string) string {
	return "session:" + id
}

// Establish creates and stores a session from a validated token exchange.
func (s *Store) Establish(ctx context.Context, token, merchantID, refreshToken string) (*Session, error) {
	if token == "" || merchantID == "" {
		return nil, ErrInvalidSession
	}

	now := s.now()
	sess := &Session{
		ID:           uuid.NewString(),
		MerchantID:   merchantID,
		AccessToken:  token,
		RefreshToken: refreshToken,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}

	if err := cache.SetJSON(ctx, s.cache, sessionKey(sess.ID), sess, s.ttl); err != nil {
		return nil, fmt.Errorf("auth: store session: %w", err)
	}

	s.logger.Info("session established",
		zap.String("session_id", sess.ID),
		zap.String("merchant_id", merchantID),
	)
	return sess, nil
}

// Get retrieves a session by id, or cache.ErrNotFound when absent or
// expired.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, cache.ErrNotFound
	}
	var sess Session
	if err := cache.GetJSON(ctx, s.cache, sessionKey(id), &sess); err != nil {
		return nil, err
	}
	if !sess.ExpiresAt.After(s.now()) {
		return nil, cache.ErrNotFound
	}
	return &sess, nil
}

// IsAuthenticated reports whether the given session id maps to a live
// session. Lookup failures count as unauthenticated.
func (s *Store) IsAuthenticated(ctx context.Context, id string) bool {
	_, err := s.Get(ctx, id)
	return err == nil
}

// Revoke removes a session.
func (s *Store) Revoke(ctx context.Context, id string) error {
	return s.cache.Delete(ctx, sessionKey(id))
}
