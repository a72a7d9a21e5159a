package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/uniprot-annotator/internal/annotation"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "Mozilla/5.0", Timeout: time.Second})
	collector := f.buildCollector(annotation.FetchRequest{Identifier: "P69905"}, time.Unix(0, 0),
		&annotation.FetchResponse{}, new(error))
	if collector.UserAgent != "Mozilla/5.0" {
		t.Fatalf("expected user agent override, got %q", collector.UserAgent)
	}
	if !collector.AllowURLRevisit {
		t.Fatal("expected repeated identifiers to be fetchable")
	}
	if !collector.IgnoreRobotsTxt {
		t.Fatal("expected robots txt to be ignored")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := annotation.FetchRequest{
		Identifier: "P69905",
		Headers:    http.Header{"X-Trace": {"yes"}},
	}
	var result annotation.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("X-Trace") != "yes" {
		t.Fatalf("expected header propagation, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://www.uniprot.org/uniprot/P69905"),
		},
	})
	if result.StatusCode != http.StatusOK || string(result.Body) != "body" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.URL != "https://www.uniprot.org/uniprot/P69905" {
		t.Fatalf("unexpected url: %s", result.URL)
	}

	hooks.onError(&colly.Response{StatusCode: http.StatusNotFound}, errors.New("Not Found"))
	if fetchErr == nil || fetchErr.Error() != "status 404: Not Found" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(annotation.FetchRequest{}, collyReq)
	if len(*collyReq.Headers) != 0 {
		t.Fatalf("expected no headers to be copied, got %+v", *collyReq.Headers)
	}
}

func TestFetchAgainstServer(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("User-Agent") != "Mozilla/5.0" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/uniprot/P69905":
			_, _ = w.Write([]byte("<html>hemoglobin</html>"))
		case "/uniprot/BAD":
			_, _ = w.Write([]byte{'<', 0xc3, 0x28, '>'})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := New(Config{BaseURL: srv.URL + "/uniprot/", UserAgent: "Mozilla/5.0", Timeout: 2 * time.Second})
	ctx := context.Background()

	resp, err := f.Fetch(ctx, annotation.FetchRequest{Identifier: "P69905"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>hemoglobin</html>", string(resp.Body))
	assert.Equal(t, srv.URL+"/uniprot/P69905", resp.URL)
	assert.False(t, resp.UsedHeadless)

	// Duplicate identifiers in a table must each be fetched.
	_, err = f.Fetch(ctx, annotation.FetchRequest{Identifier: "P69905"})
	require.NoError(t, err)

	_, err = f.Fetch(ctx, annotation.FetchRequest{Identifier: "Q9Y6K9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = f.Fetch(ctx, annotation.FetchRequest{Identifier: "BAD"})
	require.ErrorIs(t, err, ErrInvalidEncoding)

	assert.Equal(t, int32(4), hits.Load())
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{BaseURL: srv.URL + "/", Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, annotation.FetchRequest{Identifier: "P69905"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
