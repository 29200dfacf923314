package sqlstore_test

import (
	"path/filepath"
	"testing"
	"time"

	webmention "github.com/cvanloo/gowebmention"
	"github.com/cvanloo/gowebmention/storage/sqlstore"
)

func openTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "webmentions.sqlite")
	store, err := sqlstore.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRetrieveRoundtrip(t *testing.T) {
	store := openTestStore(t)
	published := time.Now().UTC().Truncate(time.Second)

	m := webmention.NewMention("https://example.com/source", "https://example.com/target", webmention.DirectionIn)
	m.Type = webmention.TypeMention
	m.AuthorName = "John Doe"
	m.AuthorURL = "https://example.com/johndoe"
	m.AuthorPhoto = "https://example.com/johndoe/photo.jpg"
	m.Published = published

	if err := store.Store(m); err != nil {
		t.Fatalf("store: %v", err)
	}

	results, err := store.Retrieve("https://example.com/target", webmention.DirectionIn)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	got := results[0]
	if got.Source != m.Source || got.Target != m.Target || got.Direction != m.Direction {
		t.Errorf("key mismatch: got %+v", got.Key())
	}
	if got.Type != m.Type || got.AuthorName != m.AuthorName || got.AuthorURL != m.AuthorURL || got.AuthorPhoto != m.AuthorPhoto {
		t.Errorf("descriptive fields mismatch: got %+v", got)
	}
	if !got.Published.Equal(published) {
		t.Errorf("published mismatch: got %v, want %v", got.Published, published)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("expected created_at/updated_at to be set")
	}
}

func TestStoreIsIdempotentOnKeyAndUpdatesFields(t *testing.T) {
	store := openTestStore(t)

	m := webmention.NewMention("https://example.com/source", "https://example.com/target", webmention.DirectionIn)
	m.Title = "first title"
	if err := store.Store(m); err != nil {
		t.Fatalf("store: %v", err)
	}
	first, err := store.Retrieve("https://example.com/target", webmention.DirectionIn)
	if err != nil || len(first) != 1 {
		t.Fatalf("retrieve: %v, %d results", err, len(first))
	}
	createdAt := first[0].CreatedAt

	m.Title = "updated title"
	if err := store.Store(m); err != nil {
		t.Fatalf("re-store: %v", err)
	}
	second, err := store.Retrieve("https://example.com/target", webmention.DirectionIn)
	if err != nil || len(second) != 1 {
		t.Fatalf("retrieve after update: %v, %d results", err, len(second))
	}
	if second[0].Title != "updated title" {
		t.Errorf("got title %q, want %q", second[0].Title, "updated title")
	}
	if !second[0].CreatedAt.Equal(createdAt) {
		t.Errorf("created_at changed across re-ingestion: %v -> %v", createdAt, second[0].CreatedAt)
	}
}

func TestRetrieveOutgoingFiltersBySource(t *testing.T) {
	store := openTestStore(t)

	sent := webmention.NewMention("https://blog.example/post", "https://other.example/page", webmention.DirectionOut)
	if err := store.Store(sent); err != nil {
		t.Fatalf("store: %v", err)
	}

	results, err := store.Retrieve("https://blog.example/post", webmention.DirectionOut)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 1 || results[0].Target != sent.Target {
		t.Fatalf("got %+v, want a single row targeting %q", results, sent.Target)
	}
}

func TestDelete(t *testing.T) {
	store := openTestStore(t)

	m := webmention.NewMention("https://example.com/source", "https://example.com/target", webmention.DirectionIn)
	if err := store.Store(m); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.Delete(m.Source, m.Target, m.Direction); err != nil {
		t.Fatalf("delete: %v", err)
	}
	results, err := store.Retrieve(m.Target, m.Direction)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no rows after delete, got %d", len(results))
	}
	// Deleting an absent row is not an error.
	if err := store.Delete(m.Source, m.Target, m.Direction); err != nil {
		t.Errorf("delete of absent row returned error: %v", err)
	}
}
