package email

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildMessageHeaders(t *testing.T) {
	p := NewSMTP(Config{Host: "smtp.local", Port: 25, From: "orders@stitchery.local", FromName: "Stitchery"})

	msg, err := p.buildMessage([]string{"ana@example.com"}, "Order ORD-2025-001 completed", "<p>done</p>")
	require.NoError(t, err)

	raw := string(msg)
	assert.Contains(t, raw, "From: \"Stitchery\" <orders@stitchery.local>\r\n")
	assert.Contains(t, raw, "To: ana@example.com\r\n")
	assert.Contains(t, raw, "Content-Type: text/html")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\n<p>done</p>"))
}

func TestBuildMessageRejectsBadRecipient(t *testing.T) {
	p := NewSMTP(Config{Host: "smtp.local", Port: 25, From: "orders@stitchery.local"})
	_, err := p.buildMessage([]string{"not an address"}, "s", "b")
	assert.Error(t, err)
}

func TestSendWithoutRecipients(t *testing.T) {
	p := NewSMTP(Config{Host: "smtp.local", Port: 25})
	assert.Error(t, p.Send(context.Background(), nil, "s", "b"))
}

func TestNoOpProvider(t *testing.T) {
	assert.NoError(t, NewNoOp(zap.NewNop()).Send(context.Background(), []string{"a@b.c"}, "s", "b"))
}
