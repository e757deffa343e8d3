package docstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kotae/internal/models"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "documents.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CreateGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	doc := &models.DocumentRecord{
		ID:       "doc1",
		Filename: "leave-policy.pdf",
		OwnerID:  "user1",
		BlobKey:  "documents/doc1_leave-policy.pdf",
		Size:     1234,
		Status:   models.StatePending,
	}
	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	got, err := s.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Filename != "leave-policy.pdf" || got.OwnerID != "user1" || got.Status != models.StatePending {
		t.Errorf("record: %+v", got)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := newStore(t)
	if _, err := s.GetDocument(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_StatusTransitions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	doc := &models.DocumentRecord{ID: "doc1", Filename: "a.pdf", BlobKey: "documents/a", Status: models.StatePending}
	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	for _, state := range []models.RunState{
		models.StateDownloading, models.StateChunking, models.StateEmbedding,
		models.StateIndexBuilding, models.StateMerging, models.StatePersisting,
	} {
		if err := s.SetStatus(ctx, "doc1", state); err != nil {
			t.Fatalf("SetStatus(%s): %v", state, err)
		}
		got, _ := s.GetDocument(ctx, "doc1")
		if got.Status != state {
			t.Errorf("status: got %s, want %s", got.Status, state)
		}
	}

	if err := s.SetResult(ctx, "doc1", models.StateDone, 42, ""); err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	got, _ := s.GetDocument(ctx, "doc1")
	if got.Status != models.StateDone || got.VectorsTotal != 42 {
		t.Errorf("result: %+v", got)
	}
}

func TestStore_SetResultFailure(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_ = s.CreateDocument(ctx, &models.DocumentRecord{ID: "doc1", Filename: "a.pdf", BlobKey: "k", Status: models.StatePending})

	if err := s.SetResult(ctx, "doc1", models.StateFailed, 0, "embedding call failed"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetDocument(ctx, "doc1")
	if got.Status != models.StateFailed || got.Error != "embedding call failed" {
		t.Errorf("failure record: %+v", got)
	}
}

func TestStore_ListByOwner(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_ = s.CreateDocument(ctx, &models.DocumentRecord{ID: "a", Filename: "a.pdf", BlobKey: "ka", OwnerID: "u1", Status: "pending"})
	_ = s.CreateDocument(ctx, &models.DocumentRecord{ID: "b", Filename: "b.pdf", BlobKey: "kb", OwnerID: "u2", Status: "pending"})
	_ = s.CreateDocument(ctx, &models.DocumentRecord{ID: "c", Filename: "c.pdf", BlobKey: "kc", OwnerID: "u1", Status: "pending"})

	docs, err := s.ListDocuments(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Errorf("got %d docs for u1", len(docs))
	}
	all, err := s.ListDocuments(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("got %d docs total", len(all))
	}

	n, err := s.CountDocuments(ctx)
	if err != nil || n != 3 {
		t.Errorf("count: %d, %v", n, err)
	}
}

func TestStore_Delete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_ = s.CreateDocument(ctx, &models.DocumentRecord{ID: "a", Filename: "a.pdf", BlobKey: "ka", Status: "pending"})
	if err := s.DeleteDocument(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteDocument(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
