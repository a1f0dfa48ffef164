// Package storage defines the persistence contracts for token rows and
// accounts. The core treats these as a key-value store; the concrete
// backend is an external collaborator.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmcleod/bastion/token"
)

var (
	// ErrNotFound is returned when a token row does not exist. Callers on
	// the authentication path map it to token.ErrInvalidToken so that
	// missing, expired and revoked tokens are indistinguishable.
	ErrNotFound = errors.New("token row not found")
	// ErrExists is returned when creating a token row whose id is already
	// present.
	ErrExists = errors.New("token row already exists")
	// ErrAccountExists is returned when an account identity is already
	// taken. Concurrent creations for the same identity are serialized at
	// the store so that exactly one wins.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound is returned when no account matches the lookup.
	ErrAccountNotFound = errors.New("account not found")
)

// Row is the persisted form of a token. The secrets live only here and
// in transient Token views; they are never serialized to clients except
// inside the opaque client token string.
type Row struct {
	Kind      token.Kind      `json:"kind"`
	ID        string          `json:"id"` // lowercase hex tokenID, the storage key
	AuthKey   []byte          `json:"auth_key"`
	BundleKey []byte          `json:"bundle_key"`
	UID       string          `json:"uid,omitempty"`
	CreatedAt int64           `json:"created_at"`            // epoch millis
	Lifetime  int64           `json:"lifetime_ms,omitempty"` // <=0 never expires
	Data      json.RawMessage `json:"data,omitempty"`        // kind-specific metadata
}

// NewRow builds a Row from a token plus optional kind-specific metadata.
func NewRow(t *token.Token, meta any) (*Row, error) {
	r := &Row{
		Kind:      t.Kind,
		ID:        t.HexID(),
		AuthKey:   t.AuthKey,
		BundleKey: t.BundleKey,
		UID:       t.UID,
		CreatedAt: t.CreatedAt,
		Lifetime:  t.Lifetime.Milliseconds(),
	}
	if meta != nil {
		data, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("encoding token metadata: %w", err)
		}
		r.Data = data
	}
	return r, nil
}

// Expired reports whether the row's lifetime has elapsed as of the given
// epoch-millis timestamp.
func (r *Row) Expired(asOf int64) bool {
	return r.Lifetime > 0 && asOf-r.CreatedAt >= r.Lifetime
}

// Meta unmarshals the row's kind-specific metadata into v.
func (r *Row) Meta(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decoding token metadata: %w", err)
	}
	return nil
}

// Patch describes a partial token-row update.
type Patch struct {
	// Data replaces the row's kind-specific metadata when non-nil.
	Data json.RawMessage
}

// TokenStore is the persistence contract for token rows. Implementations
// must be safe for concurrent use.
type TokenStore interface {
	// Create persists a new row, failing with ErrExists on id collision.
	Create(ctx context.Context, row *Row) error
	// Fetch returns the row for (kind, id) or ErrNotFound.
	Fetch(ctx context.Context, kind token.Kind, id string) (*Row, error)
	// Update applies a patch to an existing row, ErrNotFound if absent.
	Update(ctx context.Context, kind token.Kind, id string, patch Patch) error
	// Delete removes a row. Deleting an absent row returns ErrNotFound;
	// callers running revocation chains treat that as already-revoked.
	Delete(ctx context.Context, kind token.Kind, id string) error
	// DeleteExpired removes every row of the kind whose lifetime elapsed
	// before asOf and reports how many were removed. Idempotent and safe
	// to run concurrently with live traffic.
	DeleteExpired(ctx context.Context, kind token.Kind, asOf int64) (int, error)
}

// Account is the persisted account record. Email is stored normalized
// and is the uniqueness key.
type Account struct {
	UID        string `json:"uid"`
	Email      string `json:"email"`
	VerifyHash []byte `json:"verify_hash"`
	KA         []byte `json:"ka"`
	WrapWrapKB []byte `json:"wrap_wrap_kb"`
	CreatedAt  int64  `json:"created_at"`
}

// AccountStore is the persistence contract for accounts.
type AccountStore interface {
	// CreateAccount persists a new account. The email uniqueness check
	// and the insert happen atomically: of two concurrent creations for
	// the same email exactly one succeeds, the other receives
	// ErrAccountExists.
	CreateAccount(ctx context.Context, a *Account) error
	Account(ctx context.Context, uid string) (*Account, error)
	AccountByEmail(ctx context.Context, email string) (*Account, error)
	UpdatePassword(ctx context.Context, uid string, verifyHash []byte) error
	DeleteAccount(ctx context.Context, uid string) error
}

// Store combines token and account persistence.
type Store interface {
	TokenStore
	AccountStore
}
