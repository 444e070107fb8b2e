package audit

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	a := NewLogger(zap.New(core))

	t.Run("transfer", func(t *testing.T) {
		a.LogTransfer("TX1", "alice", "bob", "BTC", decimal.RequireFromString("0.5"), "SUCCESS")

		entries := logs.TakeAll()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "audit", entries[0].LoggerName)
		assert.Equal(t, "TRANSFER", fields["event_type"])
		assert.Equal(t, "TX1", fields["transaction_id"])
		assert.Equal(t, "0.5", fields["amount"])
		assert.Equal(t, "SUCCESS", fields["status"])
	})

	t.Run("error", func(t *testing.T) {
		a.LogError("TX2", "alice", errors.New("insufficient balance"))

		entries := logs.TakeAll()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "ERROR", fields["event_type"])
		assert.Equal(t, "FAILED", fields["status"])
	})

	t.Run("nil logger is safe", func(t *testing.T) {
		assert.NotPanics(t, func() {
			NewLogger(nil).LogOperation("TX3", "alice", "MIGRATION", "legacy balance moved")
		})
	})
}
