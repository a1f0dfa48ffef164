// Package memory provides a thread-safe in-memory implementation of
// storage.Store. Suitable for testing, demos, and single-process use.
package memory

import (
	"context"
	"sync"

	"github.com/jmcleod/bastion/storage"
	"github.com/jmcleod/bastion/token"
)

// Store is a thread-safe in-memory implementation of storage.Store.
// All state is lost on process exit.
type Store struct {
	mu       sync.RWMutex
	tokens   map[token.Kind]map[string]*storage.Row
	accounts map[string]*storage.Account // by uid
	emails   map[string]string           // normalized email -> uid
}

var _ storage.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		tokens:   make(map[token.Kind]map[string]*storage.Row),
		accounts: make(map[string]*storage.Account),
		emails:   make(map[string]string),
	}
}

func cloneRow(r *storage.Row) *storage.Row {
	if r == nil {
		return nil
	}
	cp := *r
	cp.AuthKey = append([]byte(nil), r.AuthKey...)
	cp.BundleKey = append([]byte(nil), r.BundleKey...)
	cp.Data = append([]byte(nil), r.Data...)
	return &cp
}

func cloneAccount(a *storage.Account) *storage.Account {
	if a == nil {
		return nil
	}
	cp := *a
	cp.VerifyHash = append([]byte(nil), a.VerifyHash...)
	cp.KA = append([]byte(nil), a.KA...)
	cp.WrapWrapKB = append([]byte(nil), a.WrapWrapKB...)
	return &cp
}

func (s *Store) Create(ctx context.Context, row *storage.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kindRows, ok := s.tokens[row.Kind]
	if !ok {
		kindRows = make(map[string]*storage.Row)
		s.tokens[row.Kind] = kindRows
	}
	if _, ok := kindRows[row.ID]; ok {
		return storage.ErrExists
	}
	kindRows[row.ID] = cloneRow(row)
	return nil
}

func (s *Store) Fetch(ctx context.Context, kind token.Kind, id string) (*storage.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.tokens[kind][id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneRow(row), nil
}

func (s *Store) Update(ctx context.Context, kind token.Kind, id string, patch storage.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tokens[kind][id]
	if !ok {
		return storage.ErrNotFound
	}
	if patch.Data != nil {
		row.Data = append([]byte(nil), patch.Data...)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, kind token.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kindRows, ok := s.tokens[kind]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := kindRows[id]; !ok {
		return storage.ErrNotFound
	}
	delete(kindRows, id)
	return nil
}

func (s *Store) DeleteExpired(ctx context.Context, kind token.Kind, asOf int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, row := range s.tokens[kind] {
		if row.Expired(asOf) {
			delete(s.tokens[kind], id)
			count++
		}
	}
	return count, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *storage.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[a.Email]; ok {
		return storage.ErrAccountExists
	}
	if _, ok := s.accounts[a.UID]; ok {
		return storage.ErrAccountExists
	}
	s.accounts[a.UID] = cloneAccount(a)
	s.emails[a.Email] = a.UID
	return nil
}

func (s *Store) Account(ctx context.Context, uid string) (*storage.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[uid]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (*storage.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uid, ok := s.emails[email]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return cloneAccount(s.accounts[uid]), nil
}

func (s *Store) UpdatePassword(ctx context.Context, uid string, verifyHash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[uid]
	if !ok {
		return storage.ErrAccountNotFound
	}
	a.VerifyHash = append([]byte(nil), verifyHash...)
	return nil
}

func (s *Store) DeleteAccount(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[uid]
	if !ok {
		return storage.ErrAccountNotFound
	}
	delete(s.emails, a.Email)
	delete(s.accounts, uid)
	return nil
}
