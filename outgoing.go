package webmention

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
)

// TextFormat identifies how an outgoing source's content should be scanned
// for outbound links, per spec.md §4.4.
type TextFormat string

const (
	FormatHTML     TextFormat = "html"
	FormatMarkdown TextFormat = "markdown"
	FormatText     TextFormat = "text"
)

// DefaultOutgoingWorkers bounds the worker pool a single ProcessOutgoing call
// dispatches background notification tasks onto (spec.md §5: "a pool of
// workers shared across a single ProcessOutgoing call").
const DefaultOutgoingWorkers = 4

// OutgoingProcessor implements spec.md §4.4: diff a source's outbound links
// against what was previously recorded, and dispatch add/remove
// notifications to each target's Webmention endpoint.
type OutgoingProcessor struct {
	Storage          Storage
	Discoverer       *Discoverer
	HTTPClient       *http.Client
	Timeout          time.Duration
	UserAgent        string
	Workers          int
	OnMentionDeleted MentionCallback

	// OnDispatchComplete, if set, is called once every notifyAdded/
	// notifyRemoved goroutine a single ProcessOutgoing call dispatched has
	// finished. ProcessOutgoing itself never waits on this — it exists so
	// tests can observe delivery completion without reintroducing the
	// blocking wait production callers don't want. Left nil in production.
	OnDispatchComplete func()
}

// NewOutgoingProcessor builds an OutgoingProcessor with the package defaults
// applied.
func NewOutgoingProcessor(storage Storage) *OutgoingProcessor {
	return &OutgoingProcessor{
		Storage:    storage,
		Discoverer: NewDiscoverer(),
		HTTPClient: http.DefaultClient,
		Timeout:    DefaultHTTPTimeout,
		UserAgent:  DefaultUserAgent,
		Workers:    DefaultOutgoingWorkers,
	}
}

// ProcessOutgoing extracts the outbound targets of sourceURL's content,
// diffs against what storage already has on record for sourceURL, and
// dispatches notification tasks for every added and removed target. text is
// nil to mean "fetch sourceURL and use its body" (an empty format is then
// taken as HTML); a non-nil text, including an empty string, is used as-is, which is
// how the filesystem monitor reports a deleted file (empty text ⇒ every
// previously recorded target becomes a removal). It returns as soon as the
// notification tasks are dispatched onto the worker pool, not once delivery
// of any of them completes: each task runs a discovery GET plus a
// notification POST, bounded only by Timeout, and a caller blocking a
// single-goroutine event loop (the filesystem watcher) on that round-trip
// would stall every other pending file event behind the slowest delivery.
func (p *OutgoingProcessor) ProcessOutgoing(sourceURL string, text *string, format TextFormat) error {
	if sourceURL == "" {
		return ValidationError("source URL is required")
	}

	body := ""
	if text != nil {
		body = *text
	} else {
		fetched, fetchedFormat, err := p.fetchSource(sourceURL)
		if err != nil {
			return err
		}
		body = fetched
		if format == "" {
			format = fetchedFormat
		}
	}

	now := orderedUnique(extractOutboundLinks(body, sourceURL, format))
	nowSet := make(map[string]bool, len(now))
	for _, t := range now {
		nowSet[t] = true
	}

	prevMentions, err := p.Storage.Retrieve(sourceURL, DirectionOut)
	if err != nil {
		slog.Error("retrieving previous outgoing mentions failed, treating as empty", "source", sourceURL, "error", err)
		prevMentions = nil
	}
	prevSet := make(map[string]bool, len(prevMentions))
	for _, m := range prevMentions {
		prevSet[m.Target] = true
	}

	var added, removed []string
	for _, t := range now {
		if !prevSet[t] {
			added = append(added, t)
		}
	}
	for _, m := range prevMentions {
		if !nowSet[m.Target] {
			removed = append(removed, m.Target)
		}
	}

	workers := p.Workers
	if workers <= 0 {
		workers = DefaultOutgoingWorkers
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	dispatch := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			fn()
		}()
	}

	for _, target := range added {
		target := target
		dispatch(func() { p.notifyAdded(sourceURL, target) })
	}
	for _, target := range removed {
		target := target
		dispatch(func() { p.notifyRemoved(sourceURL, target) })
	}

	if onDone := p.OnDispatchComplete; onDone != nil {
		go func() {
			wg.Wait()
			onDone()
		}()
	}

	return nil
}

func (p *OutgoingProcessor) fetchSource(sourceURL string) (text string, format TextFormat, err error) {
	client := p.scopedClient()
	req, reqErr := http.NewRequest(http.MethodGet, sourceURL, nil)
	if reqErr != nil {
		return "", "", ValidationError("invalid source URL: " + reqErr.Error())
	}
	ua := p.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	resp, doErr := client.Do(req)
	if doErr != nil {
		return "", "", UpstreamError(sourceURL, "", doErr)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return "", "", UpstreamError(sourceURL, "", readErr)
	}
	return string(body), FormatHTML, nil
}

// notifyAdded discovers target's endpoint and POSTs a notification; on HTTP
// success it stores a new confirmed outgoing Mention. Any failure, including
// no endpoint being discovered, is logged and leaves storage untouched.
func (p *OutgoingProcessor) notifyAdded(source, target string) {
	endpoint, ok := p.discover(target)
	if !ok {
		return
	}
	if err := p.postNotification(endpoint, source, target); err != nil {
		slog.Error("outgoing webmention notification failed", "source", source, "target", target, "error", err)
		return
	}

	mention := NewMention(source, target, DirectionOut)
	mention.Status = StatusConfirmed
	if err := p.Storage.Store(mention); err != nil {
		slog.Error("storing confirmed outgoing mention failed", "source", source, "target", target, "error", err)
	}
}

// notifyRemoved discovers target's endpoint (which may no longer exist) and
// POSTs the same notification so a conforming receiver can interpret the
// absence as a deletion, then unconditionally deletes the local row.
func (p *OutgoingProcessor) notifyRemoved(source, target string) {
	if endpoint, ok := p.discover(target); ok {
		if err := p.postNotification(endpoint, source, target); err != nil {
			slog.Error("outgoing webmention deletion notice failed", "source", source, "target", target, "error", err)
		}
	}

	if err := p.Storage.Delete(source, target, DirectionOut); err != nil {
		slog.Error("deleting outgoing mention failed", "source", source, "target", target, "error", err)
		return
	}
	if p.OnMentionDeleted != nil {
		m := NewMention(source, target, DirectionOut)
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("on_mention_deleted callback panicked", "source", source, "target", target, "panic", r)
				}
			}()
			p.OnMentionDeleted(m)
		}()
	}
}

func (p *OutgoingProcessor) discover(target string) (string, bool) {
	d := p.Discoverer
	if d == nil {
		d = NewDiscoverer()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = p.HTTPClient
	}
	if d.Timeout == 0 {
		d.Timeout = p.Timeout
	}
	if d.UserAgent == "" || d.UserAgent == DefaultDiscoveryUserAgent {
		d.UserAgent = p.userAgent()
	}
	endpoint, err := d.Discover(target)
	if err != nil {
		return "", false
	}
	return endpoint, true
}

func (p *OutgoingProcessor) scopedClient() *http.Client {
	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	return &http.Client{Transport: client.Transport, CheckRedirect: client.CheckRedirect, Jar: client.Jar, Timeout: timeout}
}

func (p *OutgoingProcessor) userAgent() string {
	if p.UserAgent != "" {
		return p.UserAgent
	}
	return DefaultUserAgent
}

func (p *OutgoingProcessor) postNotification(endpoint, source, target string) error {
	client := p.scopedClient()
	form := url.Values{"source": {source}, "target": {target}}
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	ua := p.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{resp.StatusCode}
	}
	return nil
}

// extractOutboundLinks implements the three extraction strategies of
// spec.md §4.4. HTML and plain-text links come back in the order they first
// appear in the content; for Markdown see extractMarkdownLinks.
func extractOutboundLinks(text, baseURL string, format TextFormat) []string {
	switch format {
	case FormatMarkdown:
		return extractMarkdownLinks(text)
	case FormatText:
		return extractBareLinks(text)
	default:
		return extractHTMLHrefs(text, baseURL)
	}
}

// extractHTMLHrefs collects every href attribute value in text that resolves
// to an absolute http(s) URL, in document order.
func extractHTMLHrefs(text, baseURL string) []string {
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return nil
	}
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				resolved := resolveEndpointRef(baseURL, attr.Val)
				if isAbsoluteHTTPURL(resolved) {
					out = append(out, resolved)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}
