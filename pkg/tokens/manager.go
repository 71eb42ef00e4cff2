// Package tokens issues OAuth access and refresh tokens and keeps an
// in-memory index of them in front of the durable token store.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nonomal/mcphub-sub001/pkg/encryption"
	"github.com/nonomal/mcphub-sub001/pkg/logger"
	"github.com/nonomal/mcphub-sub001/pkg/metrics"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// tokenBytes is the entropy of every generated token.
const tokenBytes = 32

// Store is the durable side of the manager.
type Store interface {
	FindByAccessToken(ctx context.Context, accessToken string) (*types.OAuthToken, error)
	FindByRefreshToken(ctx context.Context, refreshToken string) (*types.OAuthToken, error)
	Create(ctx context.Context, token types.OAuthToken) (*types.OAuthToken, error)
	Replace(ctx context.Context, refreshToken string, token types.OAuthToken) (*types.OAuthToken, error)
	DeleteByToken(ctx context.Context, token string) (bool, error)
	DeleteStale(ctx context.Context, now time.Time) (int, error)
}

// Generator returns a new random token value.
type Generator func() string

// GenerateToken returns 256 bits of randomness, base64url encoded.
func GenerateToken() string {
	return encryption.GenerateRandomString(tokenBytes)
}

type Option func(*Manager)

// WithGenerator replaces the token generator.
func WithGenerator(g Generator) Option {
	return func(m *Manager) {
		m.generate = g
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager issues, resolves and revokes tokens.
type Manager struct {
	store    Store
	log      *zap.Logger
	generate Generator
	now      func() time.Time

	lock      sync.Mutex
	byAccess  map[string]*types.OAuthToken
	byRefresh map[string]*types.OAuthToken
	// generation changes on every index mutation so a lazy load that raced
	// with a revoke does not put the revoked record back.
	generation uint64
	loads      singleflight.Group
}

func NewManager(store Store, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		log:       logger.OrNop(log),
		generate:  GenerateToken,
		now:       time.Now,
		byAccess:  make(map[string]*types.OAuthToken),
		byRefresh: make(map[string]*types.OAuthToken),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IssueRequest describes a token to issue.
type IssueRequest struct {
	ClientID string
	Username string
	Scope    string

	AccessLifetime time.Duration
	// IssueRefresh adds a new refresh token. A zero RefreshLifetime means
	// the refresh token never expires.
	IssueRefresh    bool
	RefreshLifetime time.Duration

	// RefreshToken carries an existing refresh value and expiry over to
	// the new record instead of generating one.
	RefreshToken          string
	RefreshTokenExpiresAt *time.Time
}

// Issue creates a token. Any stored record sharing the new access or refresh
// value is removed first.
func (m *Manager) Issue(ctx context.Context, req IssueRequest) (*types.OAuthToken, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	stored, err := m.store.Create(ctx, m.record(req))
	if err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	m.forget(stored.AccessToken)
	m.forget(stored.RefreshToken)
	m.index(stored)
	return clone(stored), nil
}

// Rotate redeems refreshToken. The record is re-read from the store under the
// lock, build derives the replacement from it, and the old record is swapped
// for the new one in a single store write. Rotate returns nil when the refresh
// token is unknown, expired or already redeemed. Errors from build are
// returned as is.
func (m *Manager) Rotate(ctx context.Context, refreshToken string, build func(old *types.OAuthToken) (IssueRequest, error)) (*types.OAuthToken, error) {
	if refreshToken == "" {
		return nil, nil
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	old, err := m.store.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if old == nil || old.RefreshExpired(m.now()) {
		m.forget(refreshToken)
		return nil, nil
	}

	req, err := build(clone(old))
	if err != nil {
		return nil, err
	}

	stored, err := m.store.Replace(ctx, refreshToken, m.record(req))
	if errors.Is(err, types.ErrNotFound) {
		m.forget(refreshToken)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to rotate token: %w", err)
	}

	m.forget(refreshToken)
	m.forget(stored.AccessToken)
	m.forget(stored.RefreshToken)
	m.index(stored)
	return clone(stored), nil
}

func (m *Manager) record(req IssueRequest) types.OAuthToken {
	now := m.now()
	token := types.OAuthToken{
		AccessToken:          m.generate(),
		AccessTokenExpiresAt: now.Add(req.AccessLifetime),
		Scope:                req.Scope,
		ClientID:             req.ClientID,
		Username:             req.Username,
	}
	switch {
	case req.RefreshToken != "":
		token.RefreshToken = req.RefreshToken
		token.RefreshTokenExpiresAt = req.RefreshTokenExpiresAt
	case req.IssueRefresh:
		token.RefreshToken = m.generate()
		if req.RefreshLifetime > 0 {
			exp := now.Add(req.RefreshLifetime)
			token.RefreshTokenExpiresAt = &exp
		}
	}
	return token
}

// Find returns the record reachable by either token value, expired or not.
func (m *Manager) Find(ctx context.Context, token string) (*types.OAuthToken, error) {
	if rec, err := m.find(ctx, token, false); err != nil || rec != nil {
		return rec, err
	}
	return m.find(ctx, token, true)
}

// Lookup resolves a valid access token or, failing that, a valid refresh token.
func (m *Manager) Lookup(ctx context.Context, token string) (*types.OAuthToken, error) {
	if t, err := m.LookupAccess(ctx, token); err != nil || t != nil {
		return t, err
	}
	return m.LookupRefresh(ctx, token)
}

// LookupAccess returns nil when token is unknown or its access token expired.
func (m *Manager) LookupAccess(ctx context.Context, token string) (*types.OAuthToken, error) {
	rec, err := m.find(ctx, token, false)
	if err != nil || rec == nil || rec.AccessExpired(m.now()) {
		return nil, err
	}
	return rec, nil
}

// LookupRefresh returns nil when token is unknown or its refresh token expired.
func (m *Manager) LookupRefresh(ctx context.Context, token string) (*types.OAuthToken, error) {
	rec, err := m.find(ctx, token, true)
	if err != nil || rec == nil || rec.RefreshExpired(m.now()) {
		return nil, err
	}
	return rec, nil
}

// Revoke removes the record whose access or refresh token equals token.
func (m *Manager) Revoke(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	deleted, err := m.store.DeleteByToken(ctx, token)
	if err != nil {
		return false, fmt.Errorf("failed to revoke token: %w", err)
	}
	m.forget(token)
	if deleted {
		metrics.TokensRevoked.WithLabelValues("revoked").Inc()
	}
	return deleted, nil
}

// Sweep removes records whose access token expired at now and whose refresh
// token is absent or expired.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	removed, err := m.store.DeleteStale(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep tokens: %w", err)
	}

	for access, rec := range m.byAccess {
		if rec.Stale(now) {
			delete(m.byAccess, access)
			if rec.RefreshToken != "" {
				delete(m.byRefresh, rec.RefreshToken)
			}
		}
	}
	m.generation++

	if removed > 0 {
		metrics.TokensRevoked.WithLabelValues("expired").Add(float64(removed))
		m.log.Debug("Removed stale tokens", zap.Int("count", removed))
	}
	return removed, nil
}

// find consults the index, then the store. Concurrent misses for the same
// value share one store read.
func (m *Manager) find(ctx context.Context, value string, refresh bool) (*types.OAuthToken, error) {
	if value == "" {
		return nil, nil
	}

	m.lock.Lock()
	rec, ok := m.byAccess[value]
	if refresh {
		rec, ok = m.byRefresh[value]
	}
	generation := m.generation
	m.lock.Unlock()
	if ok {
		return clone(rec), nil
	}

	key := "access:" + value
	if refresh {
		key = "refresh:" + value
	}
	v, err, _ := m.loads.Do(key, func() (any, error) {
		var (
			loaded *types.OAuthToken
			err    error
		)
		if refresh {
			loaded, err = m.store.FindByRefreshToken(ctx, value)
		} else {
			loaded, err = m.store.FindByAccessToken(ctx, value)
		}
		if err != nil || loaded == nil {
			return loaded, err
		}

		m.lock.Lock()
		if m.generation == generation {
			m.index(loaded)
		}
		m.lock.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	loaded, _ := v.(*types.OAuthToken)
	if loaded == nil {
		return nil, nil
	}
	return clone(loaded), nil
}

// index must be called with the lock held.
func (m *Manager) index(rec *types.OAuthToken) {
	rec = clone(rec)
	m.byAccess[rec.AccessToken] = rec
	if rec.RefreshToken != "" {
		m.byRefresh[rec.RefreshToken] = rec
	}
	m.generation++
}

// forget drops any indexed record reachable by value. It must be called
// with the lock held.
func (m *Manager) forget(value string) {
	if value == "" {
		return
	}
	for _, rec := range []*types.OAuthToken{m.byAccess[value], m.byRefresh[value]} {
		if rec == nil {
			continue
		}
		delete(m.byAccess, rec.AccessToken)
		if rec.RefreshToken != "" {
			delete(m.byRefresh, rec.RefreshToken)
		}
	}
	m.generation++
}

func clone(t *types.OAuthToken) *types.OAuthToken {
	c := *t
	if t.RefreshTokenExpiresAt != nil {
		exp := *t.RefreshTokenExpiresAt
		c.RefreshTokenExpiresAt = &exp
	}
	return &c
}
