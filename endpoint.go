package webmention

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/tomnomnom/linkheader"
)

// DefaultDiscoveryUserAgent is sent on endpoint-discovery requests, mirroring
// the teacher's UserAgent field on Sender.
const DefaultDiscoveryUserAgent = "Webmention (github.com/cvanloo/gowebmention)"

// Discoverer finds the Webmention endpoint advertised by a target URL, per
// spec.md §4.2. Precedence is, in order: the first HTTP Link header with
// rel=webmention, then the first HTML <link> or <a> element with
// rel=webmention and an href, in document order; the matched href is
// resolved against the final (redirect-followed) response URL.
type Discoverer struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	UserAgent  string
}

// NewDiscoverer returns a Discoverer using http.DefaultClient, which follows
// redirects on its own.
func NewDiscoverer() *Discoverer {
	return &Discoverer{
		HTTPClient: http.DefaultClient,
		Timeout:    DefaultHTTPTimeout,
		UserAgent:  DefaultDiscoveryUserAgent,
	}
}

// Discover fetches targetURL and returns its advertised Webmention endpoint.
// It returns ErrNoEndpointFound if none of the three mechanisms yield a
// relation.
func (d *Discoverer) Discover(targetURL string) (string, error) {
	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	timeout := d.Timeout
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	reqClient := &http.Client{Transport: client.Transport, CheckRedirect: client.CheckRedirect, Jar: client.Jar, Timeout: timeout}

	req, err := http.NewRequest(http.MethodGet, targetURL, nil)
	if err != nil {
		return "", ValidationError("invalid target URL: " + err.Error())
	}
	if d.UserAgent != "" {
		req.Header.Set("User-Agent", d.UserAgent)
	} else {
		req.Header.Set("User-Agent", DefaultDiscoveryUserAgent)
	}

	resp, err := reqClient.Do(req)
	if err != nil {
		return "", UpstreamError("", targetURL, err)
	}
	defer resp.Body.Close()

	finalURL := targetURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	if href, ok := endpointFromLinkHeaders(resp.Header.Values("Link"), finalURL); ok {
		return href, nil
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" || strings.Contains(ct, "html") {
		doc, err := goquery.NewDocumentFromReader(resp.Body)
		if err == nil {
			if href, ok := endpointFromHTML(doc, finalURL); ok {
				return href, nil
			}
		}
	}

	return "", ErrNoEndpointFound
}

// endpointFromLinkHeaders scans raw Link: header values for the first
// relation set containing "webmention" (case-insensitive, space-separated,
// as rel attributes allow), resolving its URL against base.
func endpointFromLinkHeaders(raw []string, base string) (string, bool) {
	links := linkheader.ParseMultiple(raw)
	for _, link := range links {
		if !hasRelWebmention(link.Rel) {
			continue
		}
		return resolveEndpointRef(base, link.URL), true
	}
	return "", false
}

func hasRelWebmention(rel string) bool {
	for _, tok := range strings.Fields(rel) {
		if strings.EqualFold(tok, "webmention") {
			return true
		}
	}
	return false
}

// endpointFromHTML scans doc for the first <link> or <a> element, in
// document order, with rel=webmention and an href attribute, resolving its
// href against base.
func endpointFromHTML(doc *goquery.Document, base string) (string, bool) {
	if href, ok := firstRelWebmentionHref(doc, "link[rel], a[rel]"); ok {
		return resolveEndpointRef(base, href), true
	}
	return "", false
}

func firstRelWebmentionHref(doc *goquery.Document, selector string) (string, bool) {
	var href string
	var found bool
	doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		rel, _ := sel.Attr("rel")
		if !hasRelWebmention(rel) {
			return true
		}
		h, ok := sel.Attr("href")
		if !ok {
			return true
		}
		href, found = h, true
		return false
	})
	return href, found
}

// resolveEndpointRef resolves ref (possibly empty, per webmention.rocks test
// 15) against base using full RFC 3986 reference resolution, unlike
// resolveReference which treats an empty ref as "leave unchanged".
func resolveEndpointRef(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
