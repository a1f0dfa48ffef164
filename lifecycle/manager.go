// Package lifecycle owns the token state machine after issuance: expiry
// pruning, revocation chaining, and the password-forgot attempt ladder.
package lifecycle

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmcleod/bastion/storage"
	"github.com/jmcleod/bastion/token"
)

// ErrInvalidCode is returned for a wrong pass code while verification
// attempts remain. Once tries are exhausted the token is dead and every
// further attempt reports token.ErrInvalidToken instead, so an attacker
// cannot tell an exhausted token from a deleted or expired one.
var ErrInvalidCode = errors.New("invalid pass code")

// Manager drives token lifecycle transitions against the store.
type Manager struct {
	store storage.TokenStore
	cfg   token.Config
	log   *slog.Logger
	cron  *cron.Cron
	now   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.log = logger }
}

// WithClock overrides the manager's time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a lifecycle manager.
func New(store storage.TokenStore, cfg token.Config, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return m
}

// PruneExpired deletes expired rows for every kind with a finite
// lifetime. Safe to run concurrently with live traffic and with itself;
// a failed kind is logged and skipped, not fatal, and will be retried on
// the next scheduled run.
func (m *Manager) PruneExpired(ctx context.Context) (int, error) {
	asOf := m.now().UnixMilli()
	total := 0
	var firstErr error
	for _, kind := range token.Kinds() {
		if m.cfg.Lifetimes[kind] <= 0 {
			continue
		}
		count, err := m.store.DeleteExpired(ctx, kind, asOf)
		if err != nil {
			m.log.Warn("pruning expired tokens failed", "kind", string(kind), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("pruning %s: %w", kind, err)
			}
			continue
		}
		total += count
		if count > 0 {
			m.log.Info("pruned expired tokens", "kind", string(kind), "count", count)
		}
	}
	return total, firstErr
}

// Start schedules PruneExpired at the given interval until Stop is
// called.
func (m *Manager) Start(interval time.Duration) error {
	if m.cron != nil {
		return fmt.Errorf("lifecycle manager already started")
	}
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if _, err := m.PruneExpired(ctx); err != nil {
			m.log.Warn("scheduled prune failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling prune job: %w", err)
	}
	c.Start()
	m.cron = c
	return nil
}

// Stop halts the prune schedule, waiting for a running job to finish.
func (m *Manager) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
		m.cron = nil
	}
}

// RevokeSession runs the revocation chain for a session-revoke token:
// the referenced session, then its key-fetch token if one exists, then
// the revoke token itself. Rows already gone are treated as
// already-revoked, so a partially completed chain can simply be re-run.
func (m *Manager) RevokeSession(ctx context.Context, revokeID string) error {
	row, err := m.store.Fetch(ctx, token.KindSessionRevoke, revokeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("fetching revoke token: %w", err)
	}

	var meta token.RevokeMeta
	if err := row.Meta(&meta); err != nil {
		return err
	}

	if err := m.deleteIgnoreMissing(ctx, token.KindSession, meta.SessionID); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	if meta.KeyFetchID != "" {
		if err := m.deleteIgnoreMissing(ctx, token.KindKeyFetch, meta.KeyFetchID); err != nil {
			return fmt.Errorf("revoking key-fetch token: %w", err)
		}
	}
	if err := m.deleteIgnoreMissing(ctx, token.KindSessionRevoke, revokeID); err != nil {
		return fmt.Errorf("consuming revoke token: %w", err)
	}

	m.log.Info("session revoked",
		slog.String("session_id", meta.SessionID),
		slog.String("key_fetch_id", meta.KeyFetchID))
	return nil
}

// DestroySession deletes a session row directly, without a revoke token.
// Used for explicit logout by the session holder.
func (m *Manager) DestroySession(ctx context.Context, sessionID string) error {
	if err := m.deleteIgnoreMissing(ctx, token.KindSession, sessionID); err != nil {
		return fmt.Errorf("destroying session: %w", err)
	}
	return nil
}

func (m *Manager) deleteIgnoreMissing(ctx context.Context, kind token.Kind, id string) error {
	err := m.store.Delete(ctx, kind, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// CheckForgotCode verifies a password-forgot pass code. On success the
// token is consumed and its row returned. A wrong code burns one try;
// when no tries remain the row is deleted and any further attempt is an
// invalid-token failure.
func (m *Manager) CheckForgotCode(ctx context.Context, tokenID, code string) (*storage.Row, error) {
	row, err := m.store.Fetch(ctx, token.KindPasswordForgot, tokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.log.Info("forgot-code check on unknown token", "token_id", tokenID)
			return nil, token.ErrInvalidToken
		}
		return nil, fmt.Errorf("fetching forgot token: %w", err)
	}
	if row.Expired(m.now().UnixMilli()) {
		m.log.Info("forgot-code check on expired token", "token_id", tokenID)
		_ = m.deleteIgnoreMissing(ctx, token.KindPasswordForgot, tokenID)
		return nil, token.ErrInvalidToken
	}

	var meta token.ForgotMeta
	if err := row.Meta(&meta); err != nil {
		return nil, err
	}
	if meta.TriesLeft <= 0 {
		m.log.Info("forgot-code check on exhausted token", "token_id", tokenID)
		_ = m.deleteIgnoreMissing(ctx, token.KindPasswordForgot, tokenID)
		return nil, token.ErrInvalidToken
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(meta.PassCode)) == 1 {
		if err := m.deleteIgnoreMissing(ctx, token.KindPasswordForgot, tokenID); err != nil {
			return nil, fmt.Errorf("consuming forgot token: %w", err)
		}
		return row, nil
	}

	meta.TriesLeft--
	if meta.TriesLeft <= 0 {
		// Exhausted: the token is dead. From here on the caller sees the
		// unified invalid-token error, not invalid-code.
		if err := m.deleteIgnoreMissing(ctx, token.KindPasswordForgot, tokenID); err != nil {
			return nil, fmt.Errorf("deleting exhausted forgot token: %w", err)
		}
		m.log.Info("forgot token exhausted", "token_id", tokenID)
		return nil, ErrInvalidCode
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding forgot metadata: %w", err)
	}
	if err := m.store.Update(ctx, token.KindPasswordForgot, tokenID, storage.Patch{Data: data}); err != nil {
		return nil, fmt.Errorf("recording failed attempt: %w", err)
	}
	return nil, ErrInvalidCode
}

// Touch bumps a session's last-access timestamp.
func (m *Manager) Touch(ctx context.Context, row *storage.Row) error {
	if row.Kind != token.KindSession {
		return nil
	}
	var meta token.SessionMeta
	if err := row.Meta(&meta); err != nil {
		return err
	}
	meta.LastAccessAt = m.now().UnixMilli()
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding session metadata: %w", err)
	}
	return m.store.Update(ctx, token.KindSession, row.ID, storage.Patch{Data: data})
}
