package webmention

import (
	"sort"
	"sync"
	"time"
)

// Storage is the abstract CRUD contract over Mentions keyed by
// (source, target, direction), per spec.md §6. Implementations must be
// thread-safe; each operation is expected to be self-contained (no
// long-lived sessions held across calls).
type Storage interface {
	// Store upserts a Mention by its key. On an existing row it preserves
	// CreatedAt and refreshes UpdatedAt; on a new row it sets both.
	Store(m Mention) error
	// Delete removes the row for (source, target, direction). It is
	// idempotent: deleting an absent row is not an error.
	Delete(source, target string, direction Direction) error
	// Retrieve returns every Mention matching direction whose "about" field
	// equals resource: for DirectionIn that's Target (who mentions this
	// page), for DirectionOut that's Source (what this page has sent
	// mentions for) — per spec.md §4.4's
	// `storage.Retrieve(resource=sourceURL, direction=OUT)` feeding the
	// outgoing diff off of each result's Target.
	Retrieve(resource string, direction Direction) ([]Mention, error)
}

// MemoryStorage is an in-process, mutex-guarded Storage reference
// implementation. It is what the incoming/outgoing processor tests in this
// module exercise against, and is a reasonable choice for small single-node
// deployments; storage/sqlstore provides a durable alternative.
type MemoryStorage struct {
	mu   sync.Mutex
	rows map[Key]Mention
}

// NewMemoryStorage returns an empty, ready-to-use MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{rows: map[Key]Mention{}}
}

func (s *MemoryStorage) Store(m Mention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := m.Key()
	now := time.Now().UTC()
	if existing, ok := s.rows[key]; ok {
		m.CreatedAt = existing.CreatedAt
	} else if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	s.rows[key] = m
	return nil
}

func (s *MemoryStorage) Delete(source, target string, direction Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, Key{Source: source, Target: target, Direction: direction})
	return nil
}

func (s *MemoryStorage) Retrieve(resource string, direction Direction) ([]Mention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Mention
	for _, m := range s.rows {
		if m.Direction != direction {
			continue
		}
		about := m.Target
		if direction == DirectionOut {
			about = m.Source
		}
		if about == resource {
			out = append(out, m)
		}
	}
	// Deterministic ordering makes the reference implementation pleasant
	// to test against even though the contract doesn't require it.
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}
