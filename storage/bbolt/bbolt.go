// Package bbolt provides a BBolt-backed storage.Store.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/bastion/storage"
	"github.com/jmcleod/bastion/token"
)

var (
	accountsBucket = []byte("accounts")
	emailsBucket   = []byte("emails")
)

// Store implements storage.Store backed by a BBolt database. Token rows
// live in one bucket per kind; accounts keep a secondary email index so
// that creation uniqueness is enforced inside a single update
// transaction.
type Store struct {
	db *bbolt.DB
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store backed by the given BBolt database.
func NewStore(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewStoreFromFile opens a BBolt database at the given path.
func NewStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func tokenBucket(kind token.Kind) []byte {
	return []byte("tok:" + string(kind))
}

func encodeRow(row *storage.Row) ([]byte, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encoding token row: %w", err)
	}
	return data, nil
}

func decodeRow(data []byte) (*storage.Row, error) {
	var row storage.Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("decoding token row: %w", err)
	}
	return &row, nil
}

func (s *Store) Create(ctx context.Context, row *storage.Row) error {
	data, err := encodeRow(row)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(tokenBucket(row.Kind))
		if err != nil {
			return fmt.Errorf("creating token bucket: %w", err)
		}
		if b.Get([]byte(row.ID)) != nil {
			return storage.ErrExists
		}
		return b.Put([]byte(row.ID), data)
	})
}

func (s *Store) Fetch(ctx context.Context, kind token.Kind, id string) (*storage.Row, error) {
	var row *storage.Row
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tokenBucket(kind))
		if b == nil {
			return storage.ErrNotFound
		}
		data := b.Get([]byte(id))
		if data == nil {
			return storage.ErrNotFound
		}
		var derr error
		row, derr = decodeRow(data)
		return derr
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Store) Update(ctx context.Context, kind token.Kind, id string, patch storage.Patch) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tokenBucket(kind))
		if b == nil {
			return storage.ErrNotFound
		}
		data := b.Get([]byte(id))
		if data == nil {
			return storage.ErrNotFound
		}
		row, err := decodeRow(data)
		if err != nil {
			return err
		}
		if patch.Data != nil {
			row.Data = patch.Data
		}
		updated, err := encodeRow(row)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}

func (s *Store) Delete(ctx context.Context, kind token.Kind, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tokenBucket(kind))
		if b == nil || b.Get([]byte(id)) == nil {
			return storage.ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

func (s *Store) DeleteExpired(ctx context.Context, kind token.Kind, asOf int64) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tokenBucket(kind))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			row, err := decodeRow(v)
			if err != nil {
				return err
			}
			if row.Expired(asOf) {
				if err := c.Delete(); err != nil {
					return fmt.Errorf("deleting expired row: %w", err)
				}
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *storage.Account) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding account: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		accounts, err := tx.CreateBucketIfNotExists(accountsBucket)
		if err != nil {
			return fmt.Errorf("creating accounts bucket: %w", err)
		}
		emails, err := tx.CreateBucketIfNotExists(emailsBucket)
		if err != nil {
			return fmt.Errorf("creating emails bucket: %w", err)
		}
		// Uniqueness check and insert share the update transaction, so
		// concurrent creations for the same email serialize here.
		if emails.Get([]byte(a.Email)) != nil || accounts.Get([]byte(a.UID)) != nil {
			return storage.ErrAccountExists
		}
		if err := accounts.Put([]byte(a.UID), data); err != nil {
			return err
		}
		return emails.Put([]byte(a.Email), []byte(a.UID))
	})
}

func (s *Store) Account(ctx context.Context, uid string) (*storage.Account, error) {
	var account *storage.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		if b == nil {
			return storage.ErrAccountNotFound
		}
		data := b.Get([]byte(uid))
		if data == nil {
			return storage.ErrAccountNotFound
		}
		var a storage.Account
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("decoding account: %w", err)
		}
		account = &a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (*storage.Account, error) {
	var uid string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(emailsBucket)
		if b == nil {
			return storage.ErrAccountNotFound
		}
		v := b.Get([]byte(email))
		if v == nil {
			return storage.ErrAccountNotFound
		}
		uid = string(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Account(ctx, uid)
}

func (s *Store) UpdatePassword(ctx context.Context, uid string, verifyHash []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		if b == nil {
			return storage.ErrAccountNotFound
		}
		data := b.Get([]byte(uid))
		if data == nil {
			return storage.ErrAccountNotFound
		}
		var a storage.Account
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("decoding account: %w", err)
		}
		a.VerifyHash = verifyHash
		updated, err := json.Marshal(&a)
		if err != nil {
			return fmt.Errorf("encoding account: %w", err)
		}
		return b.Put([]byte(uid), updated)
	})
}

func (s *Store) DeleteAccount(ctx context.Context, uid string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		accounts := tx.Bucket(accountsBucket)
		if accounts == nil {
			return storage.ErrAccountNotFound
		}
		data := accounts.Get([]byte(uid))
		if data == nil {
			return storage.ErrAccountNotFound
		}
		var a storage.Account
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("decoding account: %w", err)
		}
		if emails := tx.Bucket(emailsBucket); emails != nil {
			if err := emails.Delete([]byte(a.Email)); err != nil {
				return err
			}
		}
		return accounts.Delete([]byte(uid))
	})
}
