package webmention_test

import (
	"testing"
	"time"

	webmention "github.com/cvanloo/gowebmention"
)

func TestMentionTypeFromRaw(t *testing.T) {
	cases := []struct {
		raw  string
		want webmention.MentionType
	}{
		{"", webmention.TypeUnknown},
		{"in-reply-to", webmention.TypeReply},
		{"Reply", webmention.TypeReply},
		{" like-of ", webmention.TypeLike},
		{"REPOST-OF", webmention.TypeRepost},
		{"bookmark-of", webmention.TypeBookmark},
		{"rsvp", webmention.TypeRSVP},
		{"follow-of", webmention.TypeFollow},
		{"mention", webmention.TypeMention},
		{"something-unrecognized", webmention.TypeUnknown},
	}
	for _, c := range cases {
		if got := webmention.MentionTypeFromRaw(c.raw); got != c.want {
			t.Errorf("MentionTypeFromRaw(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestMentionKey(t *testing.T) {
	m := webmention.NewMention("https://a.example/post", "https://b.example/post", webmention.DirectionIn)
	want := webmention.Key{Source: "https://a.example/post", Target: "https://b.example/post", Direction: webmention.DirectionIn}
	if got := m.Key(); got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestNewMentionDefaults(t *testing.T) {
	m := webmention.NewMention("https://a.example", "https://b.example", webmention.DirectionOut)
	if m.Status != webmention.StatusConfirmed {
		t.Errorf("got status %q, want confirmed", m.Status)
	}
	if m.Type != webmention.TypeUnknown {
		t.Errorf("got type %q, want unknown", m.Type)
	}
	if m.Metadata == nil {
		t.Error("expected non-nil Metadata map")
	}
	if len(m.Metadata) != 0 {
		t.Errorf("expected empty Metadata map, got %v", m.Metadata)
	}
}

func TestMentionToMapOmitsZeroTimestamps(t *testing.T) {
	m := webmention.NewMention("https://a.example", "https://b.example", webmention.DirectionIn)
	out := m.ToMap()

	for _, key := range []string{"published", "created_at", "updated_at"} {
		if _, ok := out[key]; ok {
			t.Errorf("expected %q to be omitted for a zero timestamp", key)
		}
	}
	if out["source"] != m.Source || out["target"] != m.Target {
		t.Errorf("got %+v", out)
	}
	if out["direction"] != string(webmention.DirectionIn) {
		t.Errorf("got direction %v", out["direction"])
	}
}

func TestMentionToMapFormatsTimestamps(t *testing.T) {
	published := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	m := webmention.NewMention("https://a.example", "https://b.example", webmention.DirectionIn)
	m.Published = published
	m.CreatedAt = published
	m.UpdatedAt = published

	out := m.ToMap()
	want := published.Format(time.RFC3339)
	for _, key := range []string{"published", "created_at", "updated_at"} {
		if out[key] != want {
			t.Errorf("%s: got %v, want %v", key, out[key], want)
		}
	}
}
