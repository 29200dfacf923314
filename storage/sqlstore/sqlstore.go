// Package sqlstore implements the webmention.Storage contract on top of
// SQLite, a durable alternative to webmention.MemoryStorage for production
// deployments.
package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	webmention "github.com/cvanloo/gowebmention"
)

// Store wraps a SQLite-backed connection implementing webmention.Storage.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and runs
// its migration, mirroring klppl-klistr's internal/db.Open/Migrate split but
// scoped to SQLite only, since the storage contract here needs exactly one
// durable adapter to exercise it end to end.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	// A single writer with a busy timeout keeps concurrent ProcessIncoming/
	// ProcessOutgoing calls from surfacing SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite pragma (%s): %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS mentions (
	source       TEXT NOT NULL,
	target       TEXT NOT NULL,
	direction    TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	excerpt      TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	author_name  TEXT NOT NULL DEFAULT '',
	author_url   TEXT NOT NULL DEFAULT '',
	author_photo TEXT NOT NULL DEFAULT '',
	published    TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	mention_type TEXT NOT NULL DEFAULT '',
	type_raw     TEXT NOT NULL DEFAULT '',
	metadata     TEXT NOT NULL DEFAULT '{}',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	PRIMARY KEY (source, target, direction)
);
CREATE INDEX IF NOT EXISTS mentions_target_direction ON mentions(target, direction);
CREATE INDEX IF NOT EXISTS mentions_source_direction ON mentions(source, direction);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(migration)
	return err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store implements webmention.Storage.
func (s *Store) Store(m webmention.Mention) error {
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var createdAt string
	err = s.db.QueryRow(
		`SELECT created_at FROM mentions WHERE source = ? AND target = ? AND direction = ?`,
		m.Source, m.Target, string(m.Direction),
	).Scan(&createdAt)
	switch {
	case err == sql.ErrNoRows:
		createdAt = now
		if !m.CreatedAt.IsZero() {
			createdAt = m.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
	case err != nil:
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO mentions (
			source, target, direction, title, excerpt, content,
			author_name, author_url, author_photo, published,
			status, mention_type, type_raw, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, target, direction) DO UPDATE SET
			title = excluded.title,
			excerpt = excluded.excerpt,
			content = excluded.content,
			author_name = excluded.author_name,
			author_url = excluded.author_url,
			author_photo = excluded.author_photo,
			published = excluded.published,
			status = excluded.status,
			mention_type = excluded.mention_type,
			type_raw = excluded.type_raw,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`,
		m.Source, m.Target, string(m.Direction), m.Title, m.Excerpt, m.Content,
		m.AuthorName, m.AuthorURL, m.AuthorPhoto, formatPublished(m.Published),
		string(m.Status), string(m.Type), m.TypeRaw, string(metadata), createdAt, now,
	)
	return err
}

// Delete implements webmention.Storage.
func (s *Store) Delete(source, target string, direction webmention.Direction) error {
	_, err := s.db.Exec(
		`DELETE FROM mentions WHERE source = ? AND target = ? AND direction = ?`,
		source, target, string(direction),
	)
	return err
}

// Retrieve implements webmention.Storage: the "about" column is target for
// DirectionIn and source for DirectionOut, matching webmention.MemoryStorage
// and spec.md §4.4's retrieval contract.
func (s *Store) Retrieve(resource string, direction webmention.Direction) ([]webmention.Mention, error) {
	column := "target"
	if direction == webmention.DirectionOut {
		column = "source"
	}
	rows, err := s.db.Query(
		`SELECT source, target, direction, title, excerpt, content,
			author_name, author_url, author_photo, published,
			status, mention_type, type_raw, metadata, created_at, updated_at
		FROM mentions WHERE `+column+` = ? AND direction = ?
		ORDER BY source`,
		resource, string(direction),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []webmention.Mention
	for rows.Next() {
		var (
			m                                 webmention.Mention
			rowDirection, status, mentionType string
			published, createdAt, updatedAt   string
			metadata                          string
		)
		if err := rows.Scan(
			&m.Source, &m.Target, &rowDirection, &m.Title, &m.Excerpt, &m.Content,
			&m.AuthorName, &m.AuthorURL, &m.AuthorPhoto, &published,
			&status, &mentionType, &m.TypeRaw, &metadata, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}
		m.Direction = webmention.Direction(rowDirection)
		m.Status = webmention.MentionStatus(status)
		m.Type = webmention.MentionType(mentionType)
		m.Published = parseTimestamp(published)
		m.CreatedAt = parseTimestamp(createdAt)
		m.UpdatedAt = parseTimestamp(updatedAt)
		m.Metadata = map[string]any{}
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func formatPublished(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
