package context

import (
	"context"
	"testing"
)

func TestRequestAndActorRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithActor(ctx, "customer", "42")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected request id req-1, got %q", got)
	}
	role, id := ActorFromContext(ctx)
	if role != "customer" || id != "42" {
		t.Fatalf("unexpected actor %q/%q", role, id)
	}
	if role, id := ActorFromContext(context.Background()); role != "" || id != "" {
		t.Fatalf("expected empty actor")
	}
}
