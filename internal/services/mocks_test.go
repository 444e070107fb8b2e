package services

import (
	"context"
	"errors"
	"sync"

	"github.com/coinvault/backend/internal/models"
	"github.com/coinvault/backend/internal/outbox"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event *outbox.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type MockEmailClient struct {
	mock.Mock
}

func (m *MockEmailClient) Send(ctx context.Context, email models.TransferEmail) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

type MockPriceFeed struct {
	mock.Mock
}

func (m *MockPriceFeed) PriceOrDefault(ctx context.Context, asset string) decimal.Decimal {
	args := m.Called(ctx, asset)
	return args.Get(0).(decimal.Decimal)
}

type MockBalancePublisher struct {
	mock.Mock
}

func (m *MockBalancePublisher) PublishBalances(ctx context.Context, event models.BalanceEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []*outbox.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event *outbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) byType(eventType string) []*outbox.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*outbox.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

var errInjected = errors.New("injected store failure")

// faultyStore wraps a store and fails the nth Update inside a transaction
type faultyStore struct {
	AccountStore
	failOnUpdate int
}

func (s *faultyStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx models.AccountTx) error) error {
	return s.AccountStore.RunTransaction(ctx, func(ctx context.Context, tx models.AccountTx) error {
		return fn(ctx, &faultyTx{AccountTx: tx, failOn: s.failOnUpdate})
	})
}

type faultyTx struct {
	models.AccountTx
	failOn  int
	updates int
}

func (t *faultyTx) Update(ctx context.Context, account *models.Account) error {
	t.updates++
	if t.updates == t.failOn {
		return errInjected
	}
	return t.AccountTx.Update(ctx, account)
}

// drainingStore simulates a concurrent transfer that empties the sender
// between the advisory check and the commit.
type drainingStore struct {
	AccountStore
	drain func(acc *models.Account)
}

func (s *drainingStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx models.AccountTx) error) error {
	return s.AccountStore.RunTransaction(ctx, func(ctx context.Context, tx models.AccountTx) error {
		return fn(ctx, &drainingTx{AccountTx: tx, drain: s.drain})
	})
}

type drainingTx struct {
	models.AccountTx
	drain func(acc *models.Account)
}

func (t *drainingTx) Read(ctx context.Context, id string) (*models.Account, error) {
	acc, err := t.AccountTx.Read(ctx, id)
	if err == nil {
		t.drain(acc)
	}
	return acc, err
}
