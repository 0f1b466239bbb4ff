package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/cart/checkout"),
		attribute.String("stripe.signature", "t=1,v1=abc"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorFlattensChain(t *testing.T) {
	base := errors.New("db down")
	wrapped := fmt.Errorf("checkout: %w", base)

	safe := SafeError(wrapped)
	assert.EqualError(t, safe, "checkout: db down")
	assert.False(t, errors.Is(safe, base))
	assert.Nil(t, SafeError(nil))
}
