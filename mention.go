// Package webmention implements the Webmention protocol: receiving
// notifications about inbound mentions and dispatching notifications about
// outbound mentions when local content changes.
package webmention

import (
	"strings"
	"time"
)

type (
	// Direction distinguishes a Mention received from the outside world
	// (In) from one this server sent out (Out).
	Direction string

	// MentionStatus is the moderation state of a Mention.
	MentionStatus string

	// MentionType classifies a Mention by the microformats2 property that
	// produced it (like-of, repost-of, in-reply-to, ...).
	MentionType string
)

const (
	DirectionIn  Direction = "incoming"
	DirectionOut Direction = "outgoing"
)

const (
	StatusPending   MentionStatus = "pending"
	StatusConfirmed MentionStatus = "confirmed"
	StatusDeleted   MentionStatus = "deleted"
)

const (
	TypeUnknown  MentionType = "unknown"
	TypeMention  MentionType = "mention"
	TypeReply    MentionType = "reply"
	TypeLike     MentionType = "like"
	TypeRepost   MentionType = "repost"
	TypeBookmark MentionType = "bookmark"
	TypeRSVP     MentionType = "rsvp"
	TypeFollow   MentionType = "follow"
)

// mentionTypeAliases maps the mf2 property name (or a handful of synonyms)
// to its MentionType, mirroring original_source/_model.py's from_raw.
var mentionTypeAliases = map[string]MentionType{
	"in-reply-to": TypeReply,
	"reply":       TypeReply,
	"like-of":     TypeLike,
	"like":        TypeLike,
	"repost-of":   TypeRepost,
	"repost":      TypeRepost,
	"bookmark-of": TypeBookmark,
	"bookmark":    TypeBookmark,
	"rsvp":        TypeRSVP,
	"follow-of":   TypeFollow,
	"follow":      TypeFollow,
	"mention":     TypeMention,
}

// MentionTypeFromRaw normalizes a raw mf2 property name (or already-known
// type string) into a MentionType. An empty or unrecognized raw value
// yields TypeUnknown.
func MentionTypeFromRaw(raw string) MentionType {
	if raw == "" {
		return TypeUnknown
	}
	if t, ok := mentionTypeAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return t
	}
	return TypeUnknown
}

// Author holds the descriptive fields extracted for a mention's author, or
// for a comment's author when nested under Mention.Comments.
type Author struct {
	Name  string `json:"name,omitempty"`
	URL   string `json:"url,omitempty"`
	Photo string `json:"photo,omitempty"`
}

// Comment is a materialized mf2 `comment` child, stored under
// Mention.Metadata["comments"].
type Comment struct {
	Type      string    `json:"type,omitempty"`
	Name      string    `json:"name,omitempty"`
	URL       string    `json:"url,omitempty"`
	Published time.Time `json:"published,omitempty"`
	Content   string    `json:"content,omitempty"`
	Author    Author    `json:"author"`
}

// Location is the normalized form of an mf2 h-adr/h-geo location property.
type Location struct {
	Type      string `json:"type,omitempty"`
	Name      string `json:"name,omitempty"`
	URL       string `json:"url,omitempty"`
	Latitude  string `json:"latitude,omitempty"`
	Longitude string `json:"longitude,omitempty"`
}

// Mention is the canonical record of a Webmention, in either direction.
//
// (Source, Target, Direction) is its unique key: re-ingestion of the same
// key updates the descriptive fields but never the CreatedAt timestamp, and
// Direction never changes once a Mention exists (invariants 1 and 5 of
// spec.md §3).
type Mention struct {
	Source      string
	Target      string
	Direction   Direction
	Title       string
	Excerpt     string
	Content     string
	AuthorName  string
	AuthorURL   string
	AuthorPhoto string
	Published   time.Time
	Status      MentionStatus
	Type        MentionType
	TypeRaw     string
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Key identifies a Mention for storage lookups.
type Key struct {
	Source    string
	Target    string
	Direction Direction
}

// Key returns the (source, target, direction) tuple that uniquely
// identifies this Mention.
func (m Mention) Key() Key {
	return Key{Source: m.Source, Target: m.Target, Direction: m.Direction}
}

// NewMention builds a Mention with its defaults applied: Status defaults to
// Confirmed, Type defaults to Unknown, and Metadata is never nil.
func NewMention(source, target string, direction Direction) Mention {
	return Mention{
		Source:    source,
		Target:    target,
		Direction: direction,
		Status:    StatusConfirmed,
		Type:      TypeUnknown,
		Metadata:  map[string]any{},
	}
}

// ToMap renders the Mention as a normalized, JSON-friendly map, the way
// original_source/_model.py's Webmention.to_dict does: timestamps as
// RFC3339, enums as their lowercase string values. Zero timestamps are left
// out by this conversion; string fields and metadata are always included.
func (m Mention) ToMap() map[string]any {
	out := map[string]any{
		"source":           m.Source,
		"target":           m.Target,
		"direction":        string(m.Direction),
		"title":            m.Title,
		"excerpt":          m.Excerpt,
		"content":          m.Content,
		"author_name":      m.AuthorName,
		"author_url":       m.AuthorURL,
		"author_photo":     m.AuthorPhoto,
		"status":           string(m.Status),
		"mention_type":     string(m.Type),
		"mention_type_raw": m.TypeRaw,
		"metadata":         m.Metadata,
	}
	if !m.Published.IsZero() {
		out["published"] = m.Published.UTC().Format(time.RFC3339)
	}
	if !m.CreatedAt.IsZero() {
		out["created_at"] = m.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !m.UpdatedAt.IsZero() {
		out["updated_at"] = m.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return out
}
