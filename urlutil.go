package webmention

import (
	"net/url"
	"regexp"
	"strings"
)

// isAbsoluteHTTPURL reports whether raw parses as an absolute http(s) URL.
func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !u.IsAbs() {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// resolveReference resolves ref against base, returning ref unchanged if it
// fails to parse or base is empty (mirrors how endpoint hrefs are resolved
// relative to the target/response URL throughout §4.2).
func resolveReference(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ref
	}
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

// sameHost reports whether target's host matches base's host, used to
// enforce the Parser precondition that a configured base URL's host must
// match the target URL's host.
func sameHost(base, target string) bool {
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	t, err := url.Parse(target)
	if err != nil {
		return false
	}
	return b.Host == t.Host
}

var markdownLinkRe = regexp.MustCompile(`\[[^\]]*\]\(([^)\s]+)\)`)
var bareURLRe = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// extractMarkdownLinks returns every absolute http(s) URL that is either a
// Markdown [text](url) link target or a bare URL appearing in the text
// (spec.md §4.4, MARKDOWN case), without duplicates. All Markdown link
// targets come first, in the order they appear, followed by the remaining
// bare URLs in the order they appear; the result is not in overall order of
// first appearance when a bare URL precedes a Markdown link.
func extractMarkdownLinks(text string) []string {
	return orderedUnique(append(
		matchesOf(markdownLinkRe, text, 1),
		matchesOf(bareURLRe, text, 0)...,
	))
}

// extractBareLinks returns, in order of first appearance, every bare
// absolute http(s) URL in text (spec.md §4.4, TEXT case).
func extractBareLinks(text string) []string {
	return orderedUnique(matchesOf(bareURLRe, text, 0))
}

func matchesOf(re *regexp.Regexp, text string, group int) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if group < len(m) && isAbsoluteHTTPURL(m[group]) {
			out = append(out, m[group])
		}
	}
	return out
}

// orderedUnique de-duplicates while keeping the first-seen order, matching
// the insertion-order iteration spec.md §4.4 requires for `added`.
func orderedUnique(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

// collapseWhitespace runs of whitespace to a single space and trims the
// result, the first half of the excerpt derivation in spec.md §4.1 step 8.
func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRunRe.ReplaceAllString(s, " "))
}

var whitespaceRunRe = regexp.MustCompile(`\s+`)

// truncateRunes truncates s to at most n Unicode code points.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
