package memstore_test

import (
	"context"
	"testing"

	"github.com/MrWong99/scribeline/pkg/store"
	"github.com/MrWong99/scribeline/pkg/store/memstore"
	"github.com/MrWong99/scribeline/pkg/store/storetest"
	"github.com/MrWong99/scribeline/pkg/types"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memstore.New() })
}

func TestReturnedSessionsAreCopies(t *testing.T) {
	t.Parallel()
	s := memstore.New()
	ctx := context.Background()
	created, err := s.Create(ctx, storetest.Session("Original", types.SessionOther, 0, 1, 0))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	created.Title = "changed"
	created.Transcript[0].Content = "changed"

	got, _ := s.Get(ctx, created.ID)
	if got.Title != "Original" || got.Transcript[0].Content == "changed" {
		t.Errorf("store shares memory with callers: %+v", got)
	}
}
