package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, New())
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	owner := uuid.New()
	c := &types.Contact{OwnerID: owner, Name: "Copy", Tags: []string{"a"}}
	if err := s.Contacts().Create(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}
	c.Tags[0] = "mutated"

	got, err := s.Contacts().Get(ctx, owner, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Tags[0] != "a" {
		t.Fatalf("tags=%v, want stored copy", got.Tags)
	}
	got.Tags[0] = "mutated again"
	again, _ := s.Contacts().Get(ctx, owner, c.ID)
	if again.Tags[0] != "a" {
		t.Fatalf("get returned shared slice")
	}
}
