package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/coinvault/backend/internal/config"
	"github.com/coinvault/backend/internal/database"
	"github.com/coinvault/backend/internal/middleware"
	"github.com/coinvault/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testTransferConfig = &config.TransferConfig{
	MinUSDT:         decimal.NewFromInt(1),
	MinDefault:      decimal.New(1, -3),
	SupportedAssets: []string{"BTC", "ETH", "USDT"},
}

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

func newTestTransferService(store AccountStore, publisher EventPublisher, opts ...TransferOption) *TransferService {
	opts = append([]TransferOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewTransferService(store, publisher, zap.NewNop(), testTransferConfig, opts...)
}

func usdtAccount(id, name, email, amount string) *models.Account {
	return &models.Account{
		ID:            id,
		DisplayName:   name,
		Email:         email,
		LegacyBalance: json.RawMessage(`0`),
		Assets:        models.Assets{"USDT": {Amount: dec(amount), Name: "Tether"}},
	}
}

func mustGet(t *testing.T, store AccountStore, id string) *models.Account {
	t.Helper()
	account, err := store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return account
}

func TestTransferService_Execute_USDTScenario(t *testing.T) {
	store := database.NewMemoryStore(
		usdtAccount("alice", "Alice", "alice@example.com", "100"),
		usdtAccount("bob", "Bob", "bob@example.com", "5"),
	)
	publisher := &recordingPublisher{}
	service := newTestTransferService(store, publisher)

	result, err := service.Execute(context.Background(), TransferRequest{
		SenderID:    "alice",
		RecipientID: "bob",
		Asset:       "USDT",
		Amount:      dec("40"),
	})
	require.NoError(t, err)

	alice := mustGet(t, store, "alice")
	bob := mustGet(t, store, "bob")

	assert.True(t, alice.Assets["USDT"].Amount.Equal(dec("60")))
	assert.True(t, bob.Assets["USDT"].Amount.Equal(dec("45")))
	assert.Equal(t, "0", string(alice.LegacyBalance))
	assert.Equal(t, "0", string(bob.LegacyBalance))
	assert.True(t, result.SenderBalance.Equal(dec("60")))

	require.Len(t, alice.Transactions, 1)
	require.Len(t, bob.Transactions, 1)
	out, in := alice.Transactions[0], bob.Transactions[0]

	assert.Equal(t, models.DirectionOut, out.Direction)
	assert.Equal(t, models.DirectionIn, in.Direction)
	assert.Equal(t, "USDT", out.Crypto)
	assert.Equal(t, "USDT", in.Crypto)
	assert.True(t, out.CryptoAmount.Equal(dec("40")))
	assert.True(t, in.CryptoAmount.Equal(dec("40")))
	assert.Equal(t, out.TxID, in.TxID)
	assert.Equal(t, out.Timestamp, in.Timestamp)
	assert.Equal(t, "2026-03-14T09:26:53.589Z", out.Timestamp)
	assert.Equal(t, models.LedgerTypeTransfer, out.Type)
	assert.Equal(t, models.StatusCompleted, in.Status)

	assert.Equal(t, "bob", out.CounterpartyID)
	assert.Equal(t, "Bob", out.CounterpartyName)
	assert.Nil(t, out.IsRead)
	assert.Equal(t, "alice", in.CounterpartyID)
	assert.Equal(t, "Alice", in.CounterpartyName)
	require.NotNil(t, in.IsRead)
	assert.False(t, *in.IsRead)
	assert.Equal(t, result.NotificationID, in.NotificationID)

	assert.True(t, bob.HasUnreadNotifications)
	assert.False(t, alice.HasUnreadNotifications)

	assert.Regexp(t, regexp.MustCompile(`^TX\d{13}-[0-9a-f]{8}$`), result.TxID)
	assert.Equal(t, result.TxID, out.TxID)
}

func TestTransferService_Execute_MigratesLegacyOnBothSides(t *testing.T) {
	store := database.NewMemoryStore(
		&models.Account{ID: "alice", DisplayName: "Alice", LegacyBalance: json.RawMessage(`"100"`)},
		&models.Account{ID: "bob", DisplayName: "Bob", LegacyBalance: json.RawMessage(`7`)},
	)
	service := newTestTransferService(store, &recordingPublisher{})

	_, err := service.Execute(context.Background(), TransferRequest{
		SenderID: "alice", RecipientID: "bob", Asset: "USDT", Amount: dec("30"),
	})
	require.NoError(t, err)

	alice := mustGet(t, store, "alice")
	bob := mustGet(t, store, "bob")

	assert.Equal(t, "0", string(alice.LegacyBalance))
	assert.Equal(t, "0", string(bob.LegacyBalance))
	assert.True(t, alice.Assets["USDT"].Amount.Equal(dec("70")))
	assert.True(t, bob.Assets["USDT"].Amount.Equal(dec("37")))
	assert.Equal(t, "Tether", bob.Assets["USDT"].Name)
}

func TestTransferService_Execute_NonUSDTLeavesLegacyAlone(t *testing.T) {
	store := database.NewMemoryStore(
		&models.Account{ID: "alice", DisplayName: "Alice", Assets: models.Assets{"BTC": {Amount: dec("0.01"), Name: "Bitcoin"}}},
		&models.Account{ID: "bob", DisplayName: "Bob", LegacyBalance: json.RawMessage(`"20"`)},
	)
	service := newTestTransferService(store, &recordingPublisher{})

	_, err := service.Execute(context.Background(), TransferRequest{
		SenderID: "alice", RecipientID: "bob", Asset: "BTC", Amount: dec("0.001"),
	})
	require.NoError(t, err)

	bob := mustGet(t, store, "bob")
	assert.True(t, bob.Assets["BTC"].Amount.Equal(dec("0.001")))
	assert.Equal(t, "Bitcoin", bob.Assets["BTC"].Name)
	assert.Equal(t, `"20"`, string(bob.LegacyBalance))

	alice := mustGet(t, store, "alice")
	assert.True(t, alice.Assets["BTC"].Amount.Equal(dec("0.009")))
}

func TestTransferService_Execute_Conservation(t *testing.T) {
	store := database.NewMemoryStore(
		&models.Account{ID: "alice", DisplayName: "Alice", LegacyBalance: json.RawMessage(`"250.75"`)},
		usdtAccount("bob", "Bob", "", "3.5"),
	)
	service := newTestTransferService(store, &recordingPublisher{})

	total := func() decimal.Decimal {
		return ReconcileBalance(mustGet(t, store, "alice"), "USDT").Add(ReconcileBalance(mustGet(t, store, "bob"), "USDT"))
	}
	before := total()

	for _, amount := range []string{"1", "12.345", "0.000001", "100"} {
		_, err := service.Execute(context.Background(), TransferRequest{
			SenderID: "alice", RecipientID: "bob", Asset: "USDT", Amount: dec(amount),
		})
		require.NoError(t, err)
		assert.True(t, total().Equal(before), "total drifted after sending %s", amount)
	}

	_, err := service.Execute(context.Background(), TransferRequest{
		SenderID: "bob", RecipientID: "alice", Asset: "USDT", Amount: dec("50"),
	})
	require.NoError(t, err)
	assert.True(t, total().Equal(before))

	assert.Len(t, mustGet(t, store, "alice").Transactions, 5)
	assert.Len(t, mustGet(t, store, "bob").Transactions, 5)
}

func TestTransferService_Execute_Atomicity(t *testing.T) {
	for _, failOn := range []int{1, 2} {
		base := database.NewMemoryStore(
			usdtAccount("alice", "Alice", "alice@example.com", "100"),
			usdtAccount("bob", "Bob", "bob@example.com", "5"),
		)
		aliceBefore := mustGet(t, base, "alice")
		bobBefore := mustGet(t, base, "bob")

		publisher := &recordingPublisher{}
		service := newTestTransferService(&faultyStore{AccountStore: base, failOnUpdate: failOn}, publisher)

		_, err := service.Execute(context.Background(), TransferRequest{
			SenderID: "alice", RecipientID: "bob", Asset: "USDT", Amount: dec("40"),
		})
		assert.ErrorIs(t, err, errInjected)

		assert.Equal(t, aliceBefore, mustGet(t, base, "alice"))
		assert.Equal(t, bobBefore, mustGet(t, base, "bob"))
		assert.Empty(t, publisher.events)
	}
}

func TestTransferService_Execute_Failures(t *testing.T) {
	newStore := func() *database.MemoryStore {
		return database.NewMemoryStore(
			usdtAccount("alice", "Alice", "alice@example.com", "100"),
			usdtAccount("bob", "Bob", "bob@example.com", "5"),
		)
	}

	t.Run("unknown recipient", func(t *testing.T) {
		store := newStore()
		publisher := &recordingPublisher{}
		service := newTestTransferService(store, publisher)
		before := mustGet(t, store, "alice")

		_, err := service.Execute(context.Background(), TransferRequest{
			SenderID: "alice", RecipientID: "zed", Asset: "USDT", Amount: dec("10"),
		})
		assert.ErrorIs(t, err, models.ErrRecipientNotFound)
		assert.Equal(t, before, mustGet(t, store, "alice"))
		assert.Empty(t, publisher.events)
	})

	t.Run("unknown sender", func(t *testing.T) {
		service := newTestTransferService(newStore(), &recordingPublisher{})
		_, err := service.Execute(context.Background(), TransferRequest{
			SenderID: "aaron", RecipientID: "bob", Asset: "USDT", Amount: dec("10"),
		})
		assert.ErrorIs(t, err, models.ErrSenderNotFound)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		store := newStore()
		service := newTestTransferService(store, &recordingPublisher{})
		_, err := service.Execute(context.Background(), TransferRequest{
			SenderID: "alice", RecipientID: "bob", Asset: "USDT", Amount: dec("100.01"),
		})
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)
		assert.True(t, mustGet(t, store, "alice").Assets["USDT"].Amount.Equal(dec("100")))
	})

	t.Run("funds drained before commit", func(t *testing.T) {
		store := newStore()
		drained := &drainingStore{AccountStore: store, drain: func(acc *models.Account) {
			if acc.ID == "alice" {
				acc.SetHolding("USDT", dec("10"))
			}
		}}
		service := newTestTransferService(drained, &recordingPublisher{})

		_, err := service.Execute(context.Background(), TransferRequest{
			SenderID: "alice", RecipientID: "bob", Asset: "USDT", Amount: dec("40"),
		})
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)
		assert.True(t, mustGet(t, store, "bob").Assets["USDT"].Amount.Equal(dec("5")))
		assert.Empty(t, mustGet(t, store, "bob").Transactions)
	})

	t.Run("self transfer", func(t *testing.T) {
		service := newTestTransferService(newStore(), &recordingPublisher{})
		_, err := service.Execute(context.Background(), TransferRequest{
			SenderID: "alice", RecipientID: "alice", Asset: "USDT", Amount: dec("1"),
		})
		assert.ErrorIs(t, err, models.ErrSelfTransfer)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		service := newTestTransferService(newStore(), &recordingPublisher{})
		_, err := service.Execute(context.Background(), TransferRequest{
			SenderID: "alice", RecipientID: "bob", Asset: "USDT", Amount: decimal.Zero,
		})
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	})
}

type orderRecordingStore struct {
	AccountStore
	reads []string
}

func (s *orderRecordingStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx models.AccountTx) error) error {
	return s.AccountStore.RunTransaction(ctx, func(ctx context.Context, tx models.AccountTx) error {
		return fn(ctx, &orderRecordingTx{AccountTx: tx, store: s})
	})
}

type orderRecordingTx struct {
	models.AccountTx
	store *orderRecordingStore
}

func (t *orderRecordingTx) Read(ctx context.Context, id string) (*models.Account, error) {
	t.store.reads = append(t.store.reads, id)
	return t.AccountTx.Read(ctx, id)
}

func TestTransferService_Execute_LocksInLexicalOrder(t *testing.T) {
	store := &orderRecordingStore{AccountStore: database.NewMemoryStore(
		usdtAccount("zoe", "Zoe", "", "50"),
		usdtAccount("adam", "Adam", "", "50"),
	)}
	service := newTestTransferService(store, &recordingPublisher{})

	_, err := service.Execute(context.Background(), TransferRequest{
		SenderID: "zoe", RecipientID: "adam", Asset: "USDT", Amount: dec("1"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"adam", "zoe"}, store.reads)
}

func TestTransferService_Execute_SideEffects(t *testing.T) {
	t.Run("notification and email are enqueued", func(t *testing.T) {
		store := database.NewMemoryStore(
			usdtAccount("alice", "Alice", "alice@example.com", "100"),
			usdtAccount("bob", "Bob", "bob@example.com", "5"),
		)
		publisher := &recordingPublisher{}
		service := newTestTransferService(store, publisher)

		result, err := service.Execute(context.Background(), TransferRequest{
			SenderID: "alice", RecipientID: "bob", Asset: "USDT", Amount: dec("40"), PriceHint: dec("0.999"),
		})
		require.NoError(t, err)
		assert.True(t, result.USDValue.Equal(dec("39.96")))

		notifications := publisher.byType(EventNotificationTransfer)
		require.Len(t, notifications, 1)
		var notification models.Notification
		require.NoError(t, notifications[0].Decode(&notification))
		assert.Equal(t, result.NotificationID, notification.ID)
		assert.Equal(t, "bob", notification.RecipientID)
		assert.Equal(t, "alice", notification.SenderID)
		assert.Equal(t, "Alice", notification.SenderDisplayName)
		assert.Equal(t, "USDT", notification.Asset)
		assert.True(t, notification.Amount.Equal(dec("40")))
		assert.Equal(t, result.Timestamp, notification.Timestamp)
		assert.False(t, notification.IsRead)

		emails := publisher.byType(EventEmailTransfer)
		require.Len(t, emails, 1)
		var email models.TransferEmail
		require.NoError(t, emails[0].Decode(&email))
		assert.Equal(t, models.TransferEmail{
			RecipientEmail: "alice@example.com",
			Username:       "Alice",
			Type:           "transfer",
			Amount:         "40 USDT",
			Receiver:       "Bob",
		}, email)
	})

	t.Run("sender without email gets no email event", func(t *testing.T) {
		store := database.NewMemoryStore(
			usdtAccount("alice", "Alice", "", "100"),
			usdtAccount("bob", "Bob", "", "5"),
		)
		publisher := &recordingPublisher{}
		service := newTestTransferService(store, publisher)

		_, err := service.Execute(context.Background(), TransferRequest{
			SenderID: "alice", RecipientID: "bob", Asset: "USDT", Amount: dec("1"),
		})
		require.NoError(t, err)
		assert.Len(t, publisher.byType(EventNotificationTransfer), 1)
		assert.Empty(t, publisher.byType(EventEmailTransfer))
	})

	t.Run("enqueue failure does not fail the transfer", func(t *testing.T) {
		store := database.NewMemoryStore(
			usdtAccount("alice", "Alice", "alice@example.com", "100"),
			usdtAccount("bob", "Bob", "bob@example.com", "5"),
		)
		service := newTestTransferService(store, &recordingPublisher{err: errors.New("redis down")})

		result, err := service.Execute(context.Background(), TransferRequest{
			SenderID: "alice", RecipientID: "bob", Asset: "USDT", Amount: dec("40"),
		})
		require.NoError(t, err)
		assert.NotEmpty(t, result.TxID)
		assert.True(t, mustGet(t, store, "bob").Assets["USDT"].Amount.Equal(dec("45")))
	})

	t.Run("balance events for both accounts", func(t *testing.T) {
		store := database.NewMemoryStore(
			usdtAccount("alice", "Alice", "", "100"),
			usdtAccount("bob", "Bob", "", "5"),
		)
		balances := &MockBalancePublisher{}
		balances.On("PublishBalances", mock.Anything, mock.MatchedBy(func(e models.BalanceEvent) bool {
			return e.AccountID == "alice" && e.Balances["USDT"].Equal(dec("60"))
		})).Return(nil).Once()
		balances.On("PublishBalances", mock.Anything, mock.MatchedBy(func(e models.BalanceEvent) bool {
			return e.AccountID == "bob" && e.Balances["USDT"].Equal(dec("45"))
		})).Return(errors.New("subscriber gone")).Once()

		service := newTestTransferService(store, &recordingPublisher{}, WithBalancePublisher(balances))
		_, err := service.Execute(context.Background(), TransferRequest{
			SenderID: "alice", RecipientID: "bob", Asset: "USDT", Amount: dec("40"),
		})
		require.NoError(t, err)
		balances.AssertExpectations(t)
	})
}

func postTransfer(t *testing.T, handler http.HandlerFunc, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", bytes.NewReader(payload))
	if userID != "" {
		r = r.WithContext(middleware.WithUserID(r.Context(), userID))
	}
	w := httptest.NewRecorder()
	handler(w, r)
	return w
}

func TestTransferService_CreateTransfer(t *testing.T) {
	newService := func() (*TransferService, *database.MemoryStore) {
		store := database.NewMemoryStore(
			usdtAccount("alice", "Alice", "alice@example.com", "100"),
			usdtAccount("bob", "Bob", "bob@example.com", "5"),
		)
		prices := &MockPriceFeed{}
		prices.On("PriceOrDefault", mock.Anything, "USDT").Return(dec("1"))
		return newTestTransferService(store, &recordingPublisher{}, WithPriceFeed(prices)), store
	}

	t.Run("successful transfer", func(t *testing.T) {
		service, store := newService()
		w := postTransfer(t, service.CreateTransfer, "alice", models.TransferRequest{
			RecipientID: "bob", Asset: "usdt", Amount: "40",
		})

		require.Equal(t, http.StatusCreated, w.Code)
		var response struct {
			Success  bool                   `json:"success"`
			Transfer models.TransferReceipt `json:"transfer"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.True(t, response.Success)
		assert.Equal(t, "USDT", response.Transfer.Asset)
		assert.Equal(t, "bob", response.Transfer.RecipientID)
		assert.Equal(t, "Bob", response.Transfer.RecipientName)
		assert.True(t, response.Transfer.SenderBalance.Equal(dec("60")))
		assert.True(t, mustGet(t, store, "bob").Assets["USDT"].Amount.Equal(dec("45")))
	})

	t.Run("below minimum", func(t *testing.T) {
		service, _ := newService()
		w := postTransfer(t, service.CreateTransfer, "alice", models.TransferRequest{
			RecipientID: "bob", Asset: "USDT", Amount: "0.5",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, models.ErrBelowMinimum.Error(), response.Error)
	})

	t.Run("unknown recipient", func(t *testing.T) {
		service, _ := newService()
		w := postTransfer(t, service.CreateTransfer, "alice", models.TransferRequest{
			RecipientID: "nobody", Asset: "USDT", Amount: "10",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unsupported asset", func(t *testing.T) {
		service, _ := newService()
		w := postTransfer(t, service.CreateTransfer, "alice", models.TransferRequest{
			RecipientID: "bob", Asset: "FOO", Amount: "10",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		service, _ := newService()
		w := postTransfer(t, service.CreateTransfer, "alice", map[string]string{"asset": "USDT"})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Contains(t, response.Details, "RecipientID")
		assert.Contains(t, response.Details, "Amount")
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		service, _ := newService()
		w := postTransfer(t, service.CreateTransfer, "alice", map[string]string{
			"recipientId": "bob", "asset": "USDT", "amount": "10", "requestId": "abc",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		service, _ := newService()
		w := postTransfer(t, service.CreateTransfer, "", models.TransferRequest{
			RecipientID: "bob", Asset: "USDT", Amount: "10",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestTransferService_ValidateTransferHandler(t *testing.T) {
	store := database.NewMemoryStore(usdtAccount("alice", "Alice", "", "100"))
	service := newTestTransferService(store, &recordingPublisher{})

	t.Run("valid", func(t *testing.T) {
		w := postTransfer(t, service.ValidateTransfer, "alice", models.TransferRequest{
			RecipientID: "bob", Asset: "USDT", Amount: "10",
		})
		require.Equal(t, http.StatusOK, w.Code)

		var response map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, true, response["valid"])
		assert.Equal(t, "10", response["amount"])
	})

	t.Run("invalid", func(t *testing.T) {
		w := postTransfer(t, service.ValidateTransfer, "alice", models.TransferRequest{
			RecipientID: "alice", Asset: "USDT", Amount: "10",
		})
		require.Equal(t, http.StatusOK, w.Code)

		var response map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, false, response["valid"])
		assert.Equal(t, models.ErrSelfTransfer.Error(), response["reason"])
	})
}

func TestTransferErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{models.ErrSelfTransfer, http.StatusBadRequest},
		{models.ErrRecipientNotFound, http.StatusNotFound},
		{models.ErrInsufficientFunds, http.StatusConflict},
		{errors.Join(models.ErrVersionConflict), http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := transferErrorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}

	_, message := transferErrorStatus(errors.New("connection reset"))
	assert.Equal(t, "Transfer Failed", message)
}

func TestTransferService_Execute_ConcurrentDrain(t *testing.T) {
	const (
		senders = 20
		each    = "10"
	)
	store := database.NewMemoryStore(
		usdtAccount("alice", "Alice", "", "95"),
		usdtAccount("bob", "Bob", "", "0"),
	)
	publisher := &recordingPublisher{}
	service := newTestTransferService(store, publisher)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failures  []error
	)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Execute(context.Background(), TransferRequest{
				SenderID: "alice", RecipientID: "bob", Asset: "USDT", Amount: dec(each),
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			succeeded++
		}()
	}
	wg.Wait()

	// floor(95 / 10)
	assert.Equal(t, 9, succeeded)
	require.Len(t, failures, senders-9)
	for _, err := range failures {
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)
	}

	alice := mustGet(t, store, "alice")
	bob := mustGet(t, store, "bob")
	assert.True(t, alice.Assets["USDT"].Amount.Equal(dec("5")), "alice has %s", alice.Assets["USDT"].Amount)
	assert.False(t, alice.Assets["USDT"].Amount.IsNegative())
	assert.True(t, bob.Assets["USDT"].Amount.Equal(dec("90")))
	assert.True(t, alice.Assets["USDT"].Amount.Add(bob.Assets["USDT"].Amount).Equal(dec("95")))

	assert.Len(t, alice.Transactions, succeeded)
	assert.Len(t, bob.Transactions, succeeded)
	assert.Len(t, publisher.byType(EventNotificationTransfer), succeeded)
}

func TestTransferService_Execute_ConcurrentBothDirections(t *testing.T) {
	store := database.NewMemoryStore(
		usdtAccount("alice", "Alice", "", "50"),
		usdtAccount("bob", "Bob", "", "50"),
	)
	service := newTestTransferService(store, &recordingPublisher{})

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		from, to := "alice", "bob"
		if i%2 == 1 {
			from, to = to, from
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Execute(context.Background(), TransferRequest{
				SenderID: from, RecipientID: to, Asset: "USDT", Amount: dec("7"),
			})
			if err != nil {
				assert.ErrorIs(t, err, models.ErrInsufficientFunds)
			}
		}()
	}
	wg.Wait()

	alice := mustGet(t, store, "alice")
	bob := mustGet(t, store, "bob")
	assert.False(t, alice.Assets["USDT"].Amount.IsNegative())
	assert.False(t, bob.Assets["USDT"].Amount.IsNegative())
	assert.True(t, alice.Assets["USDT"].Amount.Add(bob.Assets["USDT"].Amount).Equal(dec("100")))
	assert.Equal(t, len(alice.Transactions), len(bob.Transactions))
}
