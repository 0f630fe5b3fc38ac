package context

import (
	"context"
	"testing"
)

func TestRequestID(t *testing.T) {
	if got := RequestID(context.Background()); got != "" {
		t.Errorf("RequestID(empty) = %q, want empty", got)
	}

	ctx := WithRequestID(context.Background(), "abc123")
	if got := RequestID(ctx); got != "abc123" {
		t.Errorf("RequestID() = %q, want %q", got, "abc123")
	}

	ctx = context.WithValue(context.Background(), RequestIDKey, 42)
	if got := RequestID(ctx); got != "" {
		t.Errorf("RequestID(non-string) = %q, want empty", got)
	}
}
