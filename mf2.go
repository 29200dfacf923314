package webmention

import (
	"net/url"
	"time"

	"github.com/andyleap/microformats"
	"golang.org/x/net/html"
)

// extractHEntry finds the first top-level h-entry item, or failing that the
// first h-entry nested as a child of a top-level item, per spec.md §4.1
// step 1. A parse failure or absence of any h-entry yields nil, which the
// caller treats as "skip this enrichment step".
func extractHEntry(doc *html.Node, sourceURL string) *microformats.MicroFormat {
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil
	}

	data := microformats.New().ParseNode(doc, base)
	if data == nil {
		return nil
	}

	for _, item := range data.Items {
		if hasMF2Type(item.Type, "h-entry") {
			return item
		}
	}
	for _, item := range data.Items {
		for _, child := range item.Children {
			if hasMF2Type(child.Type, "h-entry") {
				return child
			}
		}
	}
	return nil
}

func hasMF2Type(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

// mf2FirstString implements the "first-string" helper of spec.md §4.1:
// strings pass through, dicts use value then url, lists recurse on element
// 0, anything else is absent.
func mf2FirstString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["value"].(string); ok && s != "" {
			return s
		}
		if s, ok := t["url"].(string); ok && s != "" {
			return s
		}
		return ""
	case *microformats.MicroFormat:
		if s := mf2PropFirstString(t.Properties, "value"); s != "" {
			return s
		}
		if s := mf2PropFirstString(t.Properties, "url"); s != "" {
			return s
		}
		return t.Value
	case []any:
		if len(t) == 0 {
			return ""
		}
		return mf2FirstString(t[0])
	case []string:
		if len(t) == 0 {
			return ""
		}
		return t[0]
	default:
		return ""
	}
}

// mf2PropFirstString applies mf2FirstString to the first value of a
// property list, the common case of "give me the scalar for this mf2
// property".
func mf2PropFirstString(props map[string][]any, key string) string {
	vs := props[key]
	if len(vs) == 0 {
		return ""
	}
	return mf2FirstString(vs[0])
}

// mf2RawStrings renders every element of a property list down to its
// first-string form, for the "raw arrays" recorded under metadata.mf2
// (category, syndication, bookmark-of, ...) in spec.md §4.1 step 2.
func mf2RawStrings(props map[string][]any, key string) []string {
	vs := props[key]
	if len(vs) == 0 {
		return nil
	}
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		if s := mf2FirstString(v); s != "" {
			out = append(out, s)
		} else if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// mf2Location normalizes an mf2 `location` property to
// {type, name, url, latitude, longitude} per spec.md §4.1 step 2.
func mf2Location(props map[string][]any) *Location {
	vs := props["location"]
	if len(vs) == 0 {
		return nil
	}

	switch v := vs[0].(type) {
	case string:
		return &Location{URL: v}
	case *microformats.MicroFormat:
		return &Location{
			Type:      firstOf(v.Type),
			Name:      mf2PropFirstString(v.Properties, "name"),
			URL:       mf2PropFirstString(v.Properties, "url"),
			Latitude:  mf2PropFirstString(v.Properties, "latitude"),
			Longitude: mf2PropFirstString(v.Properties, "longitude"),
		}
	default:
		return nil
	}
}

func firstOf(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

// mf2Author resolves an `author` property into (name, url, photo): a plain
// string is used as the author URL; an h-card yields its first-string
// name/url/photo, per spec.md §4.1 step 4.
func mf2Author(props map[string][]any) (name, authorURL, photo string) {
	vs := props["author"]
	if len(vs) == 0 {
		return "", "", ""
	}

	switch v := vs[0].(type) {
	case string:
		return "", v, ""
	case *microformats.MicroFormat:
		return mf2PropFirstString(v.Properties, "name"),
			mf2PropFirstString(v.Properties, "url"),
			mf2PropFirstString(v.Properties, "photo")
	default:
		return "", "", ""
	}
}

// mf2Comments materializes an mf2 `comment` property list into Comment
// records, per spec.md §4.1 step 6.
func mf2Comments(props map[string][]any) []Comment {
	vs := props["comment"]
	if len(vs) == 0 {
		return nil
	}

	out := make([]Comment, 0, len(vs))
	for _, v := range vs {
		switch c := v.(type) {
		case string:
			out = append(out, Comment{URL: c})
		case *microformats.MicroFormat:
			name, authorURL, photo := mf2Author(c.Properties)
			content := mf2PropFirstString(c.Properties, "content")
			published := mf2PropFirstString(c.Properties, "published")
			out = append(out, Comment{
				Type:      firstOf(c.Type),
				Name:      mf2PropFirstString(c.Properties, "name"),
				URL:       mf2PropFirstString(c.Properties, "url"),
				Published: parseTimeUTC(published),
				Content:   content,
				Author:    Author{Name: name, URL: authorURL, Photo: photo},
			})
		}
	}
	return out
}

// parseTimeUTC parses an ISO-8601 timestamp, interpreting a timezone-free
// value as UTC per spec.md §3 invariant 2. A blank or unparsable value
// yields the zero time, which callers treat as "absent".
func parseTimeUTC(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Location() == time.UTC || layout != time.RFC3339 {
				return t.UTC()
			}
			return t
		}
	}
	return time.Time{}
}
