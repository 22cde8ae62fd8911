package orgcontext

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
)

func TestOrgIDRoundTrip(t *testing.T) {
	ctx := WithOrgID(context.Background(), snowflake.ID(42))
	got, ok := OrgIDFromContext(ctx)
	if !ok || got != 42 {
		t.Fatalf("expected org 42, got %v (ok=%v)", got, ok)
	}
}

func TestOrgIDMissingOrZero(t *testing.T) {
	if _, ok := OrgIDFromContext(context.Background()); ok {
		t.Fatalf("expected no org id")
	}
	if _, ok := OrgIDFromContext(WithOrgID(context.Background(), 0)); ok {
		t.Fatalf("zero org id must not count as set")
	}
	ctx := context.WithValue(context.Background(), OrgContextKey{}, "77")
	if got, ok := OrgIDFromContext(ctx); !ok || got != 77 {
		t.Fatalf("expected string org id to parse, got %v", got)
	}
}
