package relme

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hawx.me/code/assert"
	"hawx.me/code/relme-auth/strategy"
)

func TestLinks(t *testing.T) {
	assert := assert.Wrap(t)

	homepage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Link", `<https://twitter.com/hawx>; rel="me"`)
		w.Header().Add("Link", `<https://example.com/auth>; rel="authorization_endpoint"`)
		w.Write([]byte(`
<html>
<head>
<link rel="me" href="https://github.com/hawx" />
<link rel="stylesheet" href="/style.css" />
</head>
<body>
<a rel="me nofollow" href="/about">About</a>
<a href="https://example.com/not-me">Not me</a>
<a rel="ME" href="https://github.com/hawx">Again</a>
<a rel="me">No href</a>
</body>
</html>
`))
	}))
	defer homepage.Close()

	links, err := New(nil).Links(context.Background(), homepage.URL+"/")
	assert(err).Must.Nil()

	assert(links).Equal([]string{
		"https://twitter.com/hawx",
		"https://github.com/hawx",
		homepage.URL + "/about",
		"https://github.com/hawx",
	})
}

func TestLinksFollowsRedirects(t *testing.T) {
	assert := assert.Wrap(t)

	homepage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/home/", http.StatusFound)
			return
		}
		fmt.Fprint(w, `<a rel="me" href="profile">Profile</a>`)
	}))
	defer homepage.Close()

	links, err := New(nil).Links(context.Background(), homepage.URL+"/")
	assert(err).Must.Nil()
	assert(links).Equal([]string{homepage.URL + "/home/profile"})
}

func TestLinksWhenNone(t *testing.T) {
	assert := assert.Wrap(t)

	homepage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>Hello</p></body></html>`)
	}))
	defer homepage.Close()

	links, err := New(nil).Links(context.Background(), homepage.URL)
	assert(err).Must.Nil()
	assert(links).Len(0)
}

func TestLinksWithBadStatus(t *testing.T) {
	assert := assert.Wrap(t)

	homepage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "", http.StatusInternalServerError)
	}))
	defer homepage.Close()

	_, err := New(nil).Links(context.Background(), homepage.URL)
	reqErr, ok := err.(*RequestError)
	if !ok {
		t.Fatalf("expected *RequestError, got %v", err)
	}
	assert(reqErr.StatusCode).Equal(http.StatusInternalServerError)
}

func TestLinksWithTimeout(t *testing.T) {
	assert := assert.Wrap(t)

	done := make(chan struct{})
	homepage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-done
	}))
	defer homepage.Close()
	defer close(done)

	client := New(&http.Client{Timeout: 50 * time.Millisecond})

	_, err := client.Links(context.Background(), homepage.URL)
	assert(err).NotNil()
}

func TestLinksSharedFetchOutlivesCancelledCaller(t *testing.T) {
	assert := assert.Wrap(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	homepage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		<-release
		fmt.Fprint(w, `<a rel="me" href="https://github.com/john">GitHub</a>`)
	}))
	defer homepage.Close()

	client := New(&http.Client{Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := client.Links(ctx, homepage.URL)
		firstErr <- err
	}()
	<-started

	type result struct {
		links []string
		err   error
	}
	second := make(chan result, 1)
	go func() {
		links, err := client.Links(context.Background(), homepage.URL)
		second <- result{links, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	err := <-firstErr
	assert(errors.Is(err, context.Canceled)).True()

	close(release)
	got := <-second
	assert(got.err).Nil()
	assert(got.links).Equal([]string{"https://github.com/john"})
}

func TestVerify(t *testing.T) {
	assert := assert.Wrap(t)

	var source string

	profile := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/linked":
			fmt.Fprintf(w, `<a rel="me" href="%s">My site</a>`, source)
		case "/linked-without-slash":
			fmt.Fprintf(w, `<a rel="me" href="%s">My site</a>`, source[:len(source)-1])
		case "/other":
			fmt.Fprint(w, `<a rel="me" href="http://other.example.com/">Not my site</a>`)
		case "/not-me":
			fmt.Fprintf(w, `<a href="%s">My site</a>`, source)
		default:
			http.NotFound(w, r)
		}
	}))
	defer profile.Close()

	source = "http://example.com/"
	client := New(nil)
	ctx := context.Background()

	assert(client.Verify(ctx, source, profile.URL+"/linked")).True()
	assert(client.Verify(ctx, source, profile.URL+"/linked-without-slash")).True()
	assert(client.Verify(ctx, source, profile.URL+"/other")).False()
	assert(client.Verify(ctx, source, profile.URL+"/not-me")).False()
	assert(client.Verify(ctx, source, profile.URL+"/missing")).False()
	assert(client.Verify(ctx, source, "http://localhost:0/")).False()
}

type testCache struct {
	mu       sync.Mutex
	verified map[string]bool
}

func (c *testCache) Verified(ctx context.Context, source, link string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verified[source+" "+link]
}

func (c *testCache) SetVerified(ctx context.Context, source, link string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verified[source+" "+link] = true
	return nil
}

func TestVerifyUsesCache(t *testing.T) {
	assert := assert.Wrap(t)

	var requests int32
	profile := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		fmt.Fprint(w, `<a rel="me" href="http://example.com/">My site</a>`)
	}))
	defer profile.Close()

	client := New(nil)
	client.Cache = &testCache{verified: map[string]bool{}}
	ctx := context.Background()

	assert(client.Verify(ctx, "http://example.com/", profile.URL)).True()
	assert(client.Verify(ctx, "http://example.com/", profile.URL)).True()
	assert(atomic.LoadInt32(&requests)).Equal(int32(1))
}

func TestSupported(t *testing.T) {
	assert := assert.Wrap(t)

	links := []string{
		"http://example.com/blog",
		"https://twitter.com/hawx",
		"https://github.com/hawx",
		"https://twitter.com/hawx",
		"https://example.org/",
		"https://github.com/other",
		"https://github.com/hawx",
	}

	assert(Supported(links, strategy.Default)).Equal([]string{
		"https://twitter.com/hawx",
		"https://github.com/hawx",
		"https://github.com/other",
	})

	assert(Supported(nil, strategy.Default)).Len(0)
}

func TestSameURL(t *testing.T) {
	assert := assert.Wrap(t)

	assert(SameURL("http://example.com/", "https://EXAMPLE.com")).True()
	assert(SameURL("http://example.com/me/", "http://example.com/me")).True()
	assert(SameURL("http://example.com/", "http://example.org/")).False()
	assert(SameURL("http://example.com/a", "http://example.com/b")).False()
}
