package listener

import (
	"fmt"
	"strings"

	webmention "github.com/cvanloo/gowebmention"
)

// typeOrder fixes a stable, human-sensible order for tallyByType's summary,
// roughly most-specific-reaction first.
var typeOrder = []webmention.MentionType{
	webmention.TypeReply,
	webmention.TypeLike,
	webmention.TypeRepost,
	webmention.TypeBookmark,
	webmention.TypeRSVP,
	webmention.TypeFollow,
	webmention.TypeMention,
	webmention.TypeUnknown,
}

// tallyByType groups mentions by MentionType and renders each non-empty
// group as "N kind(s)", e.g. ["2 likes", "1 reply"].
func tallyByType(mentions []webmention.Mention) []string {
	counts := make(map[webmention.MentionType]int, len(typeOrder))
	for _, m := range mentions {
		counts[m.Type]++
	}
	var parts []string
	for _, t := range typeOrder {
		if n := counts[t]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, pluralType(t, n)))
		}
	}
	return parts
}

func pluralType(t webmention.MentionType, n int) string {
	s := string(t)
	if n == 1 {
		return s
	}
	return s + "s"
}

// describeMention renders a single Mention as a short multi-line summary,
// preferring what the parser actually extracted (type, author, title,
// excerpt) over the bare source/target/status triple when it's available.
func describeMention(m webmention.Mention) string {
	var b strings.Builder
	fmt.Fprintf(&b, "source: %s\ntarget: %s\nstatus: %s\n", m.Source, m.Target, m.Status)
	if m.Type != "" && m.Type != webmention.TypeUnknown {
		fmt.Fprintf(&b, "type: %s\n", m.Type)
	}
	if m.AuthorName != "" {
		fmt.Fprintf(&b, "from: %s\n", m.AuthorName)
	}
	if m.Title != "" {
		fmt.Fprintf(&b, "title: %s\n", m.Title)
	}
	if m.Excerpt != "" {
		fmt.Fprintf(&b, "excerpt: %s\n", m.Excerpt)
	}
	return b.String()
}
