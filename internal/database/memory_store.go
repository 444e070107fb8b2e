package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coinvault/backend/internal/models"
)

// MemoryStore is an in-process account store for local runs and tests.
// Transactions are serialized by a single mutex and staged writes are applied
// only when the transaction function returns nil. The transaction function
// must not call back into the store's non-transactional methods.
type MemoryStore struct {
	mu          sync.Mutex
	accounts    map[string]*models.Account
	documents   map[string]map[string]json.RawMessage
	credentials map[string]models.Credentials
	now         func() time.Time
}

func NewMemoryStore(accounts ...*models.Account) *MemoryStore {
	s := &MemoryStore{
		accounts:    make(map[string]*models.Account),
		documents:   make(map[string]map[string]json.RawMessage),
		credentials: make(map[string]models.Credentials),
		now:         time.Now,
	}
	for _, a := range accounts {
		s.Put(a)
	}
	return s
}

// Put stores a copy of account, replacing any existing record
func (s *MemoryStore) Put(account *models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := account.Clone()
	if cp.Version == 0 {
		cp.Version = 1
	}
	s.accounts[cp.ID] = cp
}

func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx models.AccountTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryAccountTx{store: s, staged: make(map[string]*models.Account)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	now := s.now()
	for id, a := range tx.staged {
		a.UpdatedAt = now
		s.accounts[id] = a
	}
	return nil
}

func (s *MemoryStore) CreateDocument(ctx context.Context, collection, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s document: %w", collection, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.documents[collection]
	if !ok {
		docs = make(map[string]json.RawMessage)
		s.documents[collection] = docs
	}
	if _, exists := docs[id]; !exists {
		docs[id] = payload
	}
	return nil
}

// Document returns a stored document, for inspection
func (s *MemoryStore) Document(collection, id string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[collection][id]
	return doc, ok
}

func (s *MemoryStore) CreateAccount(ctx context.Context, account *models.Account, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(account.Email)
	if _, exists := s.accounts[account.ID]; exists {
		return fmt.Errorf("account %s already exists", account.ID)
	}
	if _, exists := s.credentials[email]; exists {
		return fmt.Errorf("email %s already registered", email)
	}

	cp := account.Clone()
	cp.Email = email
	cp.Version = 1
	cp.UpdatedAt = s.now()
	s.accounts[cp.ID] = cp
	s.credentials[email] = models.Credentials{AccountID: cp.ID, PasswordHash: passwordHash}
	account.Version = 1
	return nil
}

func (s *MemoryStore) FindCredentials(ctx context.Context, email string) (*models.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, ok := s.credentials[strings.ToLower(email)]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return &creds, nil
}

func (s *MemoryStore) ListLegacyAccountIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, a := range s.accounts {
		if len(a.LegacyBalance) > 0 && string(a.LegacyBalance) != "0" && string(a.LegacyBalance) != "null" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type memoryAccountTx struct {
	store  *MemoryStore
	staged map[string]*models.Account
}

func (t *memoryAccountTx) Read(ctx context.Context, id string) (*models.Account, error) {
	if a, ok := t.staged[id]; ok {
		return a.Clone(), nil
	}
	a, ok := t.store.accounts[id]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return a.Clone(), nil
}

func (t *memoryAccountTx) Update(ctx context.Context, account *models.Account) error {
	current, ok := t.staged[account.ID]
	if !ok {
		current, ok = t.store.accounts[account.ID]
	}
	if !ok {
		return models.ErrAccountNotFound
	}
	if current.Version != account.Version {
		return fmt.Errorf("%w for account %s", models.ErrVersionConflict, account.ID)
	}

	account.Version++
	t.staged[account.ID] = account.Clone()
	return nil
}
