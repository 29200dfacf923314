package webmention

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andyleap/microformats"
	"golang.org/x/net/html"
)

const (
	// DefaultHTTPTimeout is the default timeout for outbound HTTP requests
	// issued by the parser, endpoint discoverer, and outgoing processor.
	DefaultHTTPTimeout = 10 * time.Second
	// DefaultUserAgent identifies this library to remote servers.
	DefaultUserAgent = "gowebmention/1.0 (+https://github.com/cvanloo/gowebmention)"
)

// Parser fetches a source URL, verifies it actually links to target, and
// extracts microformats2/Open Graph/Twitter-card metadata into a Mention
// (spec.md §4.1).
type Parser struct {
	// BaseURL, if set, requires target's host to match it; a mismatch
	// fails with a ValidationError.
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	UserAgent  string
}

// NewParser returns a Parser with the library defaults applied.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		HTTPClient: http.DefaultClient,
		Timeout:    DefaultHTTPTimeout,
		UserAgent:  DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParserOption configures a Parser returned by NewParser.
type ParserOption func(*Parser)

// WithParserBaseURL restricts Parse to targets whose host matches base.
func WithParserBaseURL(base string) ParserOption {
	return func(p *Parser) { p.BaseURL = base }
}

// WithParserHTTPClient overrides the HTTP client used to fetch sources.
func WithParserHTTPClient(c *http.Client) ParserOption {
	return func(p *Parser) { p.HTTPClient = c }
}

// WithParserTimeout overrides the fetch timeout.
func WithParserTimeout(d time.Duration) ParserOption {
	return func(p *Parser) { p.Timeout = d }
}

// WithParserUserAgent overrides the fetch User-Agent.
func WithParserUserAgent(ua string) ParserOption {
	return func(p *Parser) { p.UserAgent = ua }
}

// Parse fetches source, verifies it contains target, and builds a Mention
// enriched with whatever metadata spec.md §4.1's pipeline can extract. On
// a 404/410 response, or when target is absent from source's content, it
// returns a GoneError, which callers (the incoming processor) treat as a
// tombstone. Any other non-2xx or transport failure returns an
// UpstreamError.
func (p *Parser) Parse(source, target string) (Mention, error) {
	if source == "" || target == "" {
		return Mention{}, ValidationError("source and target URLs are required")
	}
	if p.BaseURL != "" && !sameHost(p.BaseURL, target) {
		return Mention{}, ValidationError("target URL does not match configured base URL")
	}

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	ua := p.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	reqClient := &http.Client{Transport: client.Transport, CheckRedirect: client.CheckRedirect, Jar: client.Jar, Timeout: timeout}

	req, err := http.NewRequest(http.MethodGet, source, nil)
	if err != nil {
		return Mention{}, ValidationError("source url is malformed: " + err.Error())
	}
	req.Header.Set("User-Agent", ua)

	resp, err := reqClient.Do(req)
	if err != nil {
		return Mention{}, UpstreamError(source, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return Mention{}, GoneError(source, target, "source URL is gone")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Mention{}, UpstreamError(source, target, &statusError{resp.StatusCode})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Mention{}, UpstreamError(source, target, err)
	}
	html := string(body)

	if !sourceContainsTarget(html, target) {
		return Mention{}, GoneError(source, target, "Target URL not found in source content")
	}

	mention := NewMention(source, target, DirectionIn)
	mention.Metadata = map[string]any{}
	enrichMention(&mention, html, source, target)
	return mention, nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return http.StatusText(e.code) }

// sourceContainsTarget implements spec.md §4.1's link-verification rule: an
// exact match of target as the value of some href/src attribute, or as an
// exact substring of the raw body. The HTML parser tolerates malformed
// input; a parse failure falls back to a raw substring search.
func sourceContainsTarget(body, target string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err == nil {
		found := false
		doc.Find("[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if href, ok := s.Attr("href"); ok && href == target {
				found = true
				return false
			}
			return true
		})
		if !found {
			doc.Find("[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
				if src, ok := s.Attr("src"); ok && src == target {
					found = true
					return false
				}
				return true
			})
		}
		if found {
			return true
		}
	}
	return strings.Contains(body, target)
}

// enrichMention runs the additive enrichment pipeline of spec.md §4.1,
// steps 1-8. Every step only fills fields that are still empty.
func enrichMention(m *Mention, rawHTML, source, target string) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err == nil {
		if entry := extractHEntry(doc, source); entry != nil {
			fillFromHEntry(m, entry, target)
		}
	}
	if m.Type == TypeUnknown {
		m.TypeRaw = "mention"
		m.Type = TypeMention
	}

	fillFromHTMLFallbacks(m, rawHTML)

	if m.Excerpt == "" && m.Content != "" {
		excerpt := collapseWhitespace(m.Content)
		if excerpt != "" {
			m.Excerpt = truncateRunes(excerpt, 250)
		}
	}
}

func fillFromHEntry(m *Mention, entry *microformats.MicroFormat, target string) {
	props := entry.Properties

	fillMF2Metadata(m, entry, props)
	fillCoreFieldsFromEntry(m, props)
	fillAuthorFromEntry(m, props)
	inferMentionType(m, props, target)
	fillCommentsFromEntry(m, props)
}

func fillMF2Metadata(m *Mention, entry *microformats.MicroFormat, props map[string][]any) {
	mf2, _ := m.Metadata["mf2"].(map[string]any)
	if mf2 == nil {
		mf2 = map[string]any{}
	}
	mf2["type"] = entry.Type
	mf2["url"] = mf2PropFirstString(props, "url")
	mf2["uid"] = mf2PropFirstString(props, "uid")
	mf2["category"] = mf2RawStrings(props, "category")
	mf2["syndication"] = mf2RawStrings(props, "syndication")
	mf2["rsvp"] = mf2PropFirstString(props, "rsvp")
	mf2["bookmark_of"] = mf2RawStrings(props, "bookmark-of")
	mf2["like_of"] = mf2RawStrings(props, "like-of")
	mf2["repost_of"] = mf2RawStrings(props, "repost-of")
	mf2["in_reply_to"] = mf2RawStrings(props, "in-reply-to")
	mf2["follow_of"] = mf2RawStrings(props, "follow-of")
	mf2["quotation_of"] = mf2RawStrings(props, "quotation-of")
	mf2["photo"] = mf2RawStrings(props, "photo")
	mf2["featured"] = mf2RawStrings(props, "featured")
	mf2["video"] = mf2RawStrings(props, "video")
	mf2["audio"] = mf2RawStrings(props, "audio")
	mf2["location"] = mf2RawStrings(props, "location")
	mf2["photo_url"] = mf2PropFirstString(props, "photo")
	mf2["featured_url"] = mf2PropFirstString(props, "featured")
	mf2["video_url"] = mf2PropFirstString(props, "video")
	mf2["audio_url"] = mf2PropFirstString(props, "audio")
	if loc := mf2Location(props); loc != nil {
		mf2["location_normalized"] = loc
	}
	m.Metadata["mf2"] = mf2
}

func fillCoreFieldsFromEntry(m *Mention, props map[string][]any) {
	if m.Title == "" {
		m.Title = mf2PropFirstString(props, "name")
	}
	if m.Published.IsZero() {
		if s := mf2PropFirstString(props, "published"); s != "" {
			m.Published = parseTimeUTC(s)
		}
	}
	if m.Excerpt == "" {
		m.Excerpt = mf2PropFirstString(props, "summary")
	}
	if m.Content == "" {
		m.Content = mf2PropFirstString(props, "content")
	}
	if m.Excerpt == "" && m.Content != "" {
		excerpt := collapseWhitespace(m.Content)
		if excerpt != "" {
			m.Excerpt = truncateRunes(excerpt, 240)
		}
	}
}

func fillAuthorFromEntry(m *Mention, props map[string][]any) {
	if m.AuthorName != "" || m.AuthorURL != "" || m.AuthorPhoto != "" {
		return
	}
	name, authorURL, photo := mf2Author(props)
	m.AuthorName = name
	m.AuthorURL = authorURL
	m.AuthorPhoto = photo
}

func inferMentionType(m *Mention, props map[string][]any, target string) {
	if m.Type != TypeUnknown {
		return
	}

	order := []string{"like-of", "repost-of", "bookmark-of", "in-reply-to", "follow-of"}
	for _, prop := range order {
		for _, v := range mf2RawStrings(props, prop) {
			if v == target {
				m.TypeRaw = prop
				m.Type = MentionTypeFromRaw(prop)
				return
			}
		}
	}

	if mf2PropFirstString(props, "rsvp") != "" {
		m.TypeRaw = "rsvp"
		m.Type = TypeRSVP
		return
	}

	m.TypeRaw = "mention"
	m.Type = TypeMention
}

func fillCommentsFromEntry(m *Mention, props map[string][]any) {
	if _, ok := m.Metadata["comments"]; ok {
		return
	}
	if comments := mf2Comments(props); len(comments) > 0 {
		m.Metadata["comments"] = comments
	}
}

// fillFromHTMLFallbacks implements spec.md §4.1 step 7: Open Graph/Twitter
// meta tags and <title>, applied only where the field is still empty.
func fillFromHTMLFallbacks(m *Mention, rawHTML string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return
	}

	if m.Title == "" {
		if v, ok := metaContent(doc, "property", "og:title"); ok {
			m.Title = v
		} else if v, ok := metaContent(doc, "name", "twitter:title"); ok {
			m.Title = v
		} else if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
			m.Title = t
		}
	}

	if m.AuthorName == "" {
		if v, ok := metaContent(doc, "name", "author"); ok {
			m.AuthorName = v
		}
	}

	if m.Published.IsZero() {
		if v, ok := metaContent(doc, "property", "article:published_time"); ok {
			m.Published = parseTimeUTC(v)
		}
	}

	if m.Content == "" {
		if v, ok := metaContent(doc, "property", "og:description"); ok {
			m.Content = v
		}
	}
}

func metaContent(doc *goquery.Document, attr, value string) (string, bool) {
	sel := doc.Find("meta[" + attr + "=\"" + value + "\"]").First()
	if sel.Length() == 0 {
		return "", false
	}
	content, ok := sel.Attr("content")
	if !ok || content == "" {
		return "", false
	}
	return content, true
}
