package auth

import (
	"context"
	"testing"
)

func TestWithAuthAndFromContext(t *testing.T) {
	ac := AuthContext{
		HouseholdID: 2,
		SessionID:   3,
	}

	ctx := WithAuth(context.Background(), ac)
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected AuthContext in context")
	}
	if got.HouseholdID != 2 {
		t.Errorf("HouseholdID = %d, want 2", got.HouseholdID)
	}
	if got.SessionID != 3 {
		t.Errorf("SessionID = %d, want 3", got.SessionID)
	}
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	if ok {
		t.Error("expected false for missing AuthContext")
	}
}

func TestHouseholdID(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{HouseholdID: 42})
	if HouseholdID(ctx) != 42 {
		t.Errorf("HouseholdID = %d, want 42", HouseholdID(ctx))
	}
}

func TestHouseholdIDMissing(t *testing.T) {
	if HouseholdID(context.Background()) != 0 {
		t.Error("expected 0 for missing context")
	}
}
