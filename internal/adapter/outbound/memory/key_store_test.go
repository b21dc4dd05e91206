package memory

import (
	"context"
	"testing"

	"github.com/workly/workly-gate/internal/domain/auth"
)

func TestKeyStore_ListIsCopy(t *testing.T) {
	t.Parallel()

	store := NewKeyStore(auth.OperatorKey{Name: "a", Hash: auth.HashKey("a")})
	store.Add(auth.OperatorKey{Name: "b", Hash: auth.HashKey("b")})

	keys, err := store.ListOperatorKeys(context.Background())
	if err != nil {
		t.Fatalf("ListOperatorKeys() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
	keys[0].Name = "mutated"

	again, _ := store.ListOperatorKeys(context.Background())
	if again[0].Name != "a" {
		t.Error("ListOperatorKeys() should return a copy")
	}
}

func TestKeyStore_WithOperatorKeyService(t *testing.T) {
	t.Parallel()

	svc := auth.NewOperatorKeyService(NewKeyStore(auth.OperatorKey{Name: "ops", Hash: "sha256:" + auth.HashKey("s3cret")}))
	key, err := svc.Validate(context.Background(), "s3cret")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if key.Name != "ops" {
		t.Errorf("Validate() name = %q", key.Name)
	}
}
