package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/bastion/storage"
	"github.com/jmcleod/bastion/storage/memory"
	"github.com/jmcleod/bastion/token"
)

type fixture struct {
	store   *memory.Store
	factory *token.Factory
	manager *Manager
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := token.DefaultConfig()
	cfg.IsProduction = false

	fx := &fixture{
		store: memory.NewStore(),
		now:   time.Now(),
	}
	fx.factory = token.NewFactory(cfg, token.WithClock(func() time.Time { return fx.now }))
	fx.manager = New(fx.store, cfg, WithClock(func() time.Time { return fx.now }))
	return fx
}

func (fx *fixture) createToken(t *testing.T, ctx context.Context, kind token.Kind, meta any) *storage.Row {
	t.Helper()
	tok, err := fx.factory.New(ctx, kind, token.Details{UID: "uid-1"})
	require.NoError(t, err)
	row, err := storage.NewRow(tok, meta)
	require.NoError(t, err)
	require.NoError(t, fx.store.Create(ctx, row))
	return row
}

func TestManager_PruneExpired(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	session := fx.createToken(t, ctx, token.KindSession, nil)
	keyFetch := fx.createToken(t, ctx, token.KindKeyFetch, nil)
	forgot := fx.createToken(t, ctx, token.KindPasswordForgot, nil)

	// Nothing has expired yet.
	count, err := fx.manager.PruneExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Jump past every finite lifetime.
	fx.now = fx.now.Add(16 * time.Minute)
	count, err = fx.manager.PruneExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Sessions have no finite lifetime and survive.
	_, err = fx.store.Fetch(ctx, token.KindSession, session.ID)
	require.NoError(t, err)
	_, err = fx.store.Fetch(ctx, token.KindKeyFetch, keyFetch.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = fx.store.Fetch(ctx, token.KindPasswordForgot, forgot.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Running again is a no-op, not an error.
	count, err = fx.manager.PruneExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestManager_RevokeSession_Chain(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	session := fx.createToken(t, ctx, token.KindSession, nil)
	keyFetch := fx.createToken(t, ctx, token.KindKeyFetch, nil)
	revoke := fx.createToken(t, ctx, token.KindSessionRevoke, token.RevokeMeta{
		SessionID:  session.ID,
		KeyFetchID: keyFetch.ID,
	})

	require.NoError(t, fx.manager.RevokeSession(ctx, revoke.ID))

	_, err := fx.store.Fetch(ctx, token.KindSession, session.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = fx.store.Fetch(ctx, token.KindKeyFetch, keyFetch.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = fx.store.Fetch(ctx, token.KindSessionRevoke, revoke.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Re-running the chain is idempotent.
	require.NoError(t, fx.manager.RevokeSession(ctx, revoke.ID))
}

func TestManager_RevokeSession_PartialChain(t *testing.T) {
	// A revoke token whose session is already gone still completes.
	ctx := context.Background()
	fx := newFixture(t)

	keyFetch := fx.createToken(t, ctx, token.KindKeyFetch, nil)
	revoke := fx.createToken(t, ctx, token.KindSessionRevoke, token.RevokeMeta{
		SessionID:  "deadbeef",
		KeyFetchID: keyFetch.ID,
	})

	require.NoError(t, fx.manager.RevokeSession(ctx, revoke.ID))
	_, err := fx.store.Fetch(ctx, token.KindKeyFetch, keyFetch.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestManager_RevokeSession_NoKeyFetch(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	session := fx.createToken(t, ctx, token.KindSession, nil)
	revoke := fx.createToken(t, ctx, token.KindSessionRevoke, token.RevokeMeta{
		SessionID: session.ID,
	})

	require.NoError(t, fx.manager.RevokeSession(ctx, revoke.ID))
	_, err := fx.store.Fetch(ctx, token.KindSession, session.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestManager_CheckForgotCode(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		fx := newFixture(t)
		row := fx.createToken(t, ctx, token.KindPasswordForgot, token.ForgotMeta{
			Email: "user@example.com", PassCode: "c0dec0de", TriesLeft: 3,
		})

		got, err := fx.manager.CheckForgotCode(ctx, row.ID, "c0dec0de")
		require.NoError(t, err)
		assert.Equal(t, row.ID, got.ID)

		// Consumed: the row is gone and further use is invalid-token.
		_, err = fx.manager.CheckForgotCode(ctx, row.ID, "c0dec0de")
		require.ErrorIs(t, err, token.ErrInvalidToken)
	})

	t.Run("TriesLadder", func(t *testing.T) {
		fx := newFixture(t)
		row := fx.createToken(t, ctx, token.KindPasswordForgot, token.ForgotMeta{
			Email: "user@example.com", PassCode: "c0dec0de", TriesLeft: 3,
		})

		// First two failures are invalid-code.
		for i := 0; i < 2; i++ {
			_, err := fx.manager.CheckForgotCode(ctx, row.ID, "wrong")
			require.ErrorIs(t, err, ErrInvalidCode)
		}
		// Third failure exhausts the token.
		_, err := fx.manager.CheckForgotCode(ctx, row.ID, "wrong")
		require.ErrorIs(t, err, ErrInvalidCode)

		// Exhausted tokens are indistinguishable from deleted ones, even
		// with the right code.
		_, err = fx.manager.CheckForgotCode(ctx, row.ID, "c0dec0de")
		require.ErrorIs(t, err, token.ErrInvalidToken)
	})

	t.Run("Expired", func(t *testing.T) {
		fx := newFixture(t)
		row := fx.createToken(t, ctx, token.KindPasswordForgot, token.ForgotMeta{
			Email: "user@example.com", PassCode: "c0dec0de", TriesLeft: 3,
		})

		fx.now = fx.now.Add(16 * time.Minute)
		_, err := fx.manager.CheckForgotCode(ctx, row.ID, "c0dec0de")
		require.ErrorIs(t, err, token.ErrInvalidToken)
	})

	t.Run("Unknown", func(t *testing.T) {
		fx := newFixture(t)
		_, err := fx.manager.CheckForgotCode(ctx, "deadbeef", "c0dec0de")
		require.ErrorIs(t, err, token.ErrInvalidToken)
	})
}

func TestManager_DestroySession(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	session := fx.createToken(t, ctx, token.KindSession, nil)
	require.NoError(t, fx.manager.DestroySession(ctx, session.ID))
	_, err := fx.store.Fetch(ctx, token.KindSession, session.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Destroying an absent session is already-revoked, not an error.
	require.NoError(t, fx.manager.DestroySession(ctx, session.ID))
}

func TestManager_Touch(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	session := fx.createToken(t, ctx, token.KindSession, token.SessionMeta{UserAgent: "cli/1.0"})
	fx.now = fx.now.Add(time.Minute)
	require.NoError(t, fx.manager.Touch(ctx, session))

	got, err := fx.store.Fetch(ctx, token.KindSession, session.ID)
	require.NoError(t, err)
	var meta token.SessionMeta
	require.NoError(t, got.Meta(&meta))
	assert.Equal(t, fx.now.UnixMilli(), meta.LastAccessAt)
	assert.Equal(t, "cli/1.0", meta.UserAgent)
}

func TestManager_StartStop(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.manager.Start(time.Minute))
	require.Error(t, fx.manager.Start(time.Minute), "double start must fail")
	fx.manager.Stop()
	require.NoError(t, fx.manager.Start(time.Minute))
	fx.manager.Stop()
}
