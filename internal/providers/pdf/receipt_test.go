package pdf

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateOrderReceipt(t *testing.T) {
	provider := New()

	r, err := provider.GenerateOrderReceipt(context.Background(), OrderReceipt{
		OrderNumber:   "ORD-2025-001",
		Status:        "completed",
		SubmittedAt:   "2025-01-02 10:00",
		CompletedAt:   "2025-01-03 12:00",
		CustomerName:  "Ana",
		CustomerEmail: "ana@example.com",
		DesignName:    "Fox",
		SizeCM:        20,
		Formats:       []string{"dst", "pes"},
		TokensUsed:    19,
		Features:      []ReceiptLine{{Description: "Metallic thread", Tokens: 10}},
	})
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.True(t, len(data) > 4)
	assert.Equal(t, "%PDF", string(data[:4]))
}
