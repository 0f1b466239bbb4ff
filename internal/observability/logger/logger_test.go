package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/stitchery/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(nil, Config{Level: "loud"})
	assert.Error(t, err)

	log, err := New(nil, Config{Level: "debug", ServiceName: "stitchery"})
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := obscontext.WithRequestID(context.Background(), "req-9")
	ctx = obscontext.WithActor(ctx, "customer", "77")

	WithContext(ctx, zap.New(core)).Info("checkout")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, "77", fields["user_id"])
	assert.Equal(t, "customer", fields["actor_role"])
}

func TestOperationAndTableFromSQL(t *testing.T) {
	assert.Equal(t, "UPDATE", operationFromSQL("UPDATE token_accounts SET balance = balance - 1"))
	assert.Equal(t, "token_accounts", tableFromSQL("UPDATE token_accounts SET balance = balance - 1"))
	assert.Equal(t, "orders", tableFromSQL("SELECT id FROM orders WHERE id = 1"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}
