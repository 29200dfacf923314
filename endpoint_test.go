package webmention_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	webmention "github.com/cvanloo/gowebmention"
)

type discoveryCase struct {
	path     string
	comment  string
	expected string // relative to ts.URL; empty means "don't check the exact value"
	handler  func(ts **httptest.Server) http.HandlerFunc
}

// discoveryCases reproduces the webmention.rocks endpoint-discovery test
// suite (https://webmention.rocks/about) against a local httptest server
// instead of the live site.
var discoveryCases = []discoveryCase{
	{
		path:     "/test/1",
		comment:  "HTTP Link header, unquoted rel, relative URL",
		expected: "/test/1/webmention?head=true",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.Header().Add("Link", "</test/1/webmention?head=true>; rel=webmention")
				w.WriteHeader(http.StatusOK)
			}
		},
	},
	{
		path:     "/test/2",
		comment:  "HTTP Link header, unquoted rel, absolute URL",
		expected: "/test/2/webmention?head=true",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				h := w.Header()
				h.Add("Link", `</wrong/link>; rel="whatever"`)
				h.Add("Link", fmt.Sprintf("<%s/test/2/webmention?head=true>; rel=webmention", (*ts).URL))
				w.WriteHeader(http.StatusOK)
			}
		},
	},
	{
		path:     "/test/3",
		comment:  "HTML <link> tag, relative URL",
		expected: "/test/3/webmention",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<!DOCTYPE html><html><head>
					<link rel="stylesheet" href="styles.css">
					<link rel="webmention" href="/test/3/webmention">
					</head><body>hello</body></html>`))
			}
		},
	},
	{
		path:     "/test/4",
		comment:  "HTML <link> tag, absolute URL",
		expected: "/test/4/webmention",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `<!DOCTYPE html><html><head>
					<link rel="webmention" href="%s/test/4/webmention">
					</head><body>hello</body></html>`, (*ts).URL)
			}
		},
	},
	{
		path:     "/test/5",
		comment:  "HTML <a> tag, relative URL",
		expected: "/test/5/webmention",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<!DOCTYPE html><html><body>
					<p>endpoint <a href="/test/5/webmention" rel="webmention">here</a></p>
					</body></html>`))
			}
		},
	},
	{
		path:     "/test/6",
		comment:  "HTML <a> tag, absolute URL",
		expected: "/test/6/webmention",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `<!DOCTYPE html><html><body>
					<p>endpoint <a href="%s/test/6/webmention" rel="webmention">here</a></p>
					</body></html>`, (*ts).URL)
			}
		},
	},
	{
		path:     "/test/7",
		comment:  "HTTP Link header with strange casing",
		expected: "/test/7/webmention?head=true",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.Header().Add("LinK", "</test/7/webmention?head=true>; rel=webmention")
				w.WriteHeader(http.StatusOK)
			}
		},
	},
	{
		path:     "/test/8",
		comment:  "HTTP Link header, quoted rel",
		expected: "/test/8/webmention?head=true",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.Header().Add("Link", `</test/8/webmention?head=true>; rel="webmention"`)
				w.WriteHeader(http.StatusOK)
			}
		},
	},
	{
		path:     "/test/9",
		comment:  "Multiple rel values on a <link> tag",
		expected: "/test/9/webmention",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<!DOCTYPE html><html><head>
					<link rel="something webmention" href="/test/9/webmention">
					</head><body>hello</body></html>`))
			}
		},
	},
	{
		path:     "/test/10",
		comment:  "Multiple rel values on a Link header",
		expected: "/test/10/webmention?head=true",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.Header().Add("Link", `</test/10/webmention?head=true>; rel="somethingelse webmention"`)
				w.WriteHeader(http.StatusOK)
			}
		},
	},
	{
		path:     "/test/11",
		comment:  "Multiple endpoints advertised: Link, <link>, <a> — Link header wins",
		expected: "/test/11/webmention",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.Header().Add("Link", "</test/11/webmention>; rel=webmention")
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`<!DOCTYPE html><html><head>
					<link rel="webmention" href="/test/11/wrong">
					</head><body><a href="/test/11/alsowrong" rel="webmention">x</a></body></html>`))
			}
		},
	},
	{
		path:     "/test/12",
		comment:  "Checking for exact match of rel=webmention",
		expected: "/test/12/webmention",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<!DOCTYPE html><html><head>
					<link rel="not-webmention" href="/test/12/wrong">
					</head><body><a href="/test/12/webmention" rel="webmention">x</a></body></html>`))
			}
		},
	},
	{
		path:     "/test/13",
		comment:  "False endpoint inside an HTML comment",
		expected: "/test/13/webmention",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<!DOCTYPE html><html><body>
					<!-- <a href="/test/13/wrong" rel="webmention">here</a> -->
					<a href="/test/13/webmention" rel="webmention">correct</a>
					</body></html>`))
			}
		},
	},
	{
		path:     "/test/14",
		comment:  "False endpoint in escaped HTML",
		expected: "/test/14/webmention",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<!DOCTYPE html><html><body>
					<code>&lt;a href="/test/14/wrong" rel="webmention"&gt;&lt;/a&gt;</code>
					<a href="/test/14/webmention" rel="webmention">correct</a>
					</body></html>`))
			}
		},
	},
	{
		path:    "/test/15",
		comment: "Webmention href is an empty string, resolves to the document itself",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<!DOCTYPE html><html><head>
					<link href="" rel="webmention">
					</head><body>hello</body></html>`))
			}
		},
	},
	{
		path:     "/test/16",
		comment:  "Multiple endpoints advertised: <a>, <link> — <a> wins since it appears first",
		expected: "/test/16/webmention",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<!DOCTYPE html><html><body>
					<a href="/test/16/webmention" rel="webmention">here</a>
					<link href="/test/16/webmention/error" rel="webmention">
					</body></html>`))
			}
		},
	},
	{
		path:     "/test/20",
		comment:  "<link> tag missing its href attribute is skipped",
		expected: "/test/20/webmention",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<!DOCTYPE html><html><body>
					<link rel="webmention">
					<a href="/test/20/webmention" rel="webmention">here</a>
					</body></html>`))
			}
		},
	},
	{
		path:     "/test/21",
		comment:  "Webmention endpoint has query string parameters",
		expected: "/test/21/webmention?query=yes",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<!DOCTYPE html><html><head>
					<link rel="webmention" href="/test/21/webmention?query=yes">
					</head><body>hello</body></html>`))
			}
		},
	},
	{
		path:     "/test/22",
		comment:  "Webmention endpoint is relative to the path",
		expected: "/test/22/webmention",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<!DOCTYPE html><html><head>
					<link rel="webmention" href="webmention">
					</head><body>hello</body></html>`))
			}
		},
	},
	{
		path:     "/test/23",
		comment:  "Webmention target redirects, endpoint is relative to the redirected page",
		expected: "/redirect/endpoint/webmention",
		handler: func(ts **httptest.Server) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/redirect", http.StatusFound)
			}
		},
	},
}

func TestDiscoverEndpoint(t *testing.T) {
	var ts *httptest.Server
	mux := http.NewServeMux()
	for _, c := range discoveryCases {
		mux.HandleFunc(c.path, c.handler(&ts))
	}
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<!DOCTYPE html><html><body>
			<a href="/redirect/endpoint/webmention" rel="webmention">webmention</a>
			</body></html>`))
	})
	ts = httptest.NewServer(mux)
	defer ts.Close()

	d := webmention.NewDiscoverer()
	for _, c := range discoveryCases {
		c := c
		t.Run(c.path, func(t *testing.T) {
			endpoint, err := d.Discover(ts.URL + c.path)
			if err != nil {
				t.Fatalf("%s: discovery failed: %v", c.comment, err)
			}
			if c.expected == "" {
				return
			}
			want := ts.URL + c.expected
			if endpoint != want {
				t.Errorf("%s: got endpoint %q, want %q", c.comment, endpoint, want)
			}
		})
	}
}

func TestDiscoverEndpointNoneFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<!DOCTYPE html><html><body>no endpoint here</body></html>`))
	}))
	defer ts.Close()

	d := webmention.NewDiscoverer()
	_, err := d.Discover(ts.URL)
	if !errors.Is(err, webmention.ErrNoEndpointFound) {
		t.Fatalf("expected ErrNoEndpointFound, got %v", err)
	}
}
