package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"hawx.me/code/assert"
	relmeauth "hawx.me/code/relme-auth"
	"hawx.me/code/relme-auth/data"
	"hawx.me/code/relme-auth/relme"
	"hawx.me/code/relme-auth/strategy"
)

type hosts map[string]http.Handler

func (h hosts) RoundTrip(r *http.Request) (*http.Response, error) {
	handler, ok := h[r.URL.Host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: r.URL.Host, IsNotFound: true}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	resp := w.Result()
	resp.Request = r
	return resp, nil
}

func page(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, body)
	})
}

// fakeExchanger signs in as username when given the code "good".
type fakeExchanger struct {
	username string
}

func (f fakeExchanger) AuthCodeURL(state, username string) string {
	return "https://provider.example/authorize?" + url.Values{"state": {state}, "login": {username}}.Encode()
}

func (f fakeExchanger) Exchange(ctx context.Context, code string) (string, error) {
	if code != "good" {
		return "", errors.New("bad code")
	}
	return f.username, nil
}

// siteRecorder remembers the domains sites were ensured for.
type siteRecorder struct {
	relmeauth.Store

	mu      sync.Mutex
	domains []string
}

func (s *siteRecorder) EnsureSite(ctx context.Context, domain string) (relmeauth.Site, error) {
	s.mu.Lock()
	s.domains = append(s.domains, domain)
	s.mu.Unlock()

	return s.Store.EnsureSite(ctx, domain)
}

func (s *siteRecorder) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string{}, s.domains...)
}

var defaultHosts = hosts{
	"example.com": page(`<a rel="me" href="https://github.com/john">GitHub</a>`),
	"github.com":  page(`<a rel="me" href="http://example.com/">Homepage</a>`),
}

func newTestServer(t *testing.T, username string) (*httptest.Server, *http.Client, *siteRecorder) {
	store := &siteRecorder{Store: data.NewMemory()}
	auth := relmeauth.New(store, relme.New(&http.Client{Transport: defaultHosts}), strategy.Default, nil)

	metrics, err := NewMetrics(nil)
	if err != nil {
		t.Fatal(err)
	}

	server := New(auth, strategy.Exchangers{"github": fakeExchanger{username: username}}, NewSessions("a-very-secret-secret-for-tests"), metrics, nil)
	s := httptest.NewServer(server.Handler())
	t.Cleanup(s.Close)

	jar, _ := cookiejar.New(nil)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return s, client, store
}

func get(t *testing.T, client *http.Client, uri string) *http.Response {
	resp, err := client.Get(uri)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func readBody(resp *http.Response) string {
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

// signIn runs the flow up to the provider callback, returning the response to
// the callback.
func signIn(t *testing.T, s *httptest.Server, client *http.Client, redirectURI string) *http.Response {
	assert := assert.Wrap(t)

	resp := get(t, client, s.URL+"/auth?"+url.Values{"me": {"example.com"}, "redirect_uri": {redirectURI}}.Encode())
	assert(resp.StatusCode).Must.Equal(http.StatusFound)
	assert(resp.Header.Get("Location")).Equal("/auth/github")

	resp = get(t, client, s.URL+"/auth/github")
	assert(resp.StatusCode).Must.Equal(http.StatusFound)

	location, err := url.Parse(resp.Header.Get("Location"))
	assert(err).Must.Nil()
	assert(location.Host).Equal("provider.example")
	assert(location.Query().Get("login")).Equal("john")

	state := location.Query().Get("state")
	assert(state != "").True()

	return get(t, client, s.URL+"/auth/github/callback?"+url.Values{"code": {"good"}, "state": {state}}.Encode())
}

func TestSignIn(t *testing.T) {
	assert := assert.Wrap(t)

	s, client, store := newTestServer(t, "john")

	resp := signIn(t, s, client, "https://client.example.org/callback")
	assert(resp.StatusCode).Must.Equal(http.StatusFound)

	location, err := url.Parse(resp.Header.Get("Location"))
	assert(err).Must.Nil()
	assert(location.Host).Equal("client.example.org")
	assert(location.Path).Equal("/callback")

	token := location.Query().Get("token")
	assert(token != "").True()

	for i := 1; i <= 2; i++ {
		resp = get(t, client, s.URL+"/session?token="+url.QueryEscape(token))
		assert(resp.StatusCode).Equal(http.StatusOK)
		assert(resp.Header.Get("Content-Type")).Equal("application/json;charset=UTF-8")
		assert(resp.Header.Get("Cache-Control")).Equal("no-store")

		var v sessionResponse
		assert(json.NewDecoder(resp.Body).Decode(&v)).Must.Nil()
		assert(v.Me).Equal("http://example.com/")
	}

	for _, domain := range store.seen() {
		assert(domain).Equal("127.0.0.1")
	}
	assert(store.seen()).Len(5)
}

func TestSignInWithoutRedirectURI(t *testing.T) {
	assert := assert.Wrap(t)

	s, client, _ := newTestServer(t, "john")

	resp := signIn(t, s, client, "")
	assert(resp.StatusCode).Must.Equal(http.StatusFound)

	location := resp.Header.Get("Location")
	assert(strings.HasPrefix(location, "/success?token=")).True()

	resp = get(t, client, s.URL+location)
	assert(resp.StatusCode).Equal(http.StatusOK)

	body := readBody(resp)
	assert(strings.Contains(body, "http://example.com/")).True()
	assert(strings.Contains(body, "https://github.com/john")).True()
}

func TestSignInAsSomeoneElse(t *testing.T) {
	assert := assert.Wrap(t)

	s, client, _ := newTestServer(t, "jane")

	resp := signIn(t, s, client, "https://client.example.org/callback")
	assert(resp.StatusCode).Equal(http.StatusForbidden)

	body := readBody(resp)
	assert(strings.Contains(body, "https://github.com/john")).True()
	assert(strings.Contains(body, "jane")).True()

	// the attempt is over, so going back to the provider does not work
	resp = get(t, client, s.URL+"/auth/github")
	assert(resp.StatusCode).Equal(http.StatusBadRequest)
}

func TestCallbackAfterRejection(t *testing.T) {
	assert := assert.Wrap(t)

	s, client, _ := newTestServer(t, "jane")

	resp := get(t, client, s.URL+"/auth?me=example.com")
	assert(resp.StatusCode).Must.Equal(http.StatusFound)

	resp = get(t, client, s.URL+"/auth/github")
	assert(resp.StatusCode).Must.Equal(http.StatusFound)
	location, _ := url.Parse(resp.Header.Get("Location"))
	callback := s.URL + "/auth/github/callback?" + url.Values{"code": {"good"}, "state": {location.Query().Get("state")}}.Encode()

	// keep the cookie from before the callback, as a replay would
	serverURL, _ := url.Parse(s.URL)
	cookies := client.Jar.Cookies(serverURL)

	resp = get(t, client, callback)
	assert(resp.StatusCode).Equal(http.StatusForbidden)

	client.Jar.SetCookies(serverURL, cookies)
	resp = get(t, client, callback)
	assert(resp.StatusCode).Equal(http.StatusForbidden)
	assert(strings.Contains(readBody(resp), relmeauth.ErrLoginRejected.Error())).True()
}

func TestSignInWithBadState(t *testing.T) {
	assert := assert.Wrap(t)

	s, client, _ := newTestServer(t, "john")

	resp := get(t, client, s.URL+"/auth?me=example.com")
	assert(resp.StatusCode).Must.Equal(http.StatusFound)

	resp = get(t, client, s.URL+"/auth/github")
	assert(resp.StatusCode).Must.Equal(http.StatusFound)

	resp = get(t, client, s.URL+"/auth/github/callback?code=good&state=wrong")
	assert(resp.StatusCode).Equal(http.StatusBadRequest)
}

func TestSignInWithBadCode(t *testing.T) {
	assert := assert.Wrap(t)

	s, client, _ := newTestServer(t, "john")

	resp := get(t, client, s.URL+"/auth?me=example.com")
	assert(resp.StatusCode).Must.Equal(http.StatusFound)

	resp = get(t, client, s.URL+"/auth/github")
	location, _ := url.Parse(resp.Header.Get("Location"))

	resp = get(t, client, s.URL+"/auth/github/callback?"+url.Values{"code": {"bad"}, "state": {location.Query().Get("state")}}.Encode())
	assert(resp.StatusCode).Equal(http.StatusBadGateway)
}

func TestProviderDenied(t *testing.T) {
	assert := assert.Wrap(t)

	s, client, _ := newTestServer(t, "john")

	resp := get(t, client, s.URL+"/auth/github/callback?error=access_denied")
	assert(resp.StatusCode).Must.Equal(http.StatusFound)
	assert(resp.Header.Get("Location")).Equal("/auth/failure?message=access_denied")

	resp = get(t, client, s.URL+resp.Header.Get("Location"))
	assert(resp.StatusCode).Equal(http.StatusOK)
	assert(strings.Contains(readBody(resp), "access_denied")).True()
}

func TestBeginErrors(t *testing.T) {
	assert := assert.Wrap(t)

	s, client, _ := newTestServer(t, "john")

	testCases := map[string]int{
		"/auth":                                  http.StatusBadRequest,
		"/auth?me=unknown.example":               http.StatusBadGateway,
		"/auth?me=example.com&redirect_uri=/cb":  http.StatusBadRequest,
		"/auth?me=github.com/john&redirect_uri=": http.StatusFound,
	}

	for path, status := range testCases {
		resp := get(t, client, s.URL+path)
		assert(resp.StatusCode).Equal(status)
	}
}

func TestRedirectToProviderWithoutAttempt(t *testing.T) {
	assert := assert.Wrap(t)

	s, client, _ := newTestServer(t, "john")

	resp := get(t, client, s.URL+"/auth/github")
	assert(resp.StatusCode).Equal(http.StatusBadRequest)

	resp = get(t, client, s.URL+"/auth/myspace")
	assert(resp.StatusCode).Equal(http.StatusNotFound)
}

func TestSessionErrors(t *testing.T) {
	assert := assert.Wrap(t)

	s, client, _ := newTestServer(t, "john")

	resp := get(t, client, s.URL+"/session")
	assert(resp.StatusCode).Equal(http.StatusBadRequest)
	assert(resp.Header.Get("Cache-Control")).Equal("no-store")

	var v errorResponse
	assert(json.NewDecoder(resp.Body).Decode(&v)).Must.Nil()
	assert(v.Error).Equal("invalid_request")
	assert(v.ErrorDescription).Equal("Missing 'token' parameter")

	resp = get(t, client, s.URL+"/session?token=nope")
	assert(resp.StatusCode).Equal(http.StatusNotFound)
	assert(json.NewDecoder(resp.Body).Decode(&v)).Must.Nil()
	assert(v.Error).Equal("invalid_token")
	assert(v.ErrorDescription).Equal("The token provided was not found")
}

func TestSessionWithIncompleteToken(t *testing.T) {
	assert := assert.Wrap(t)

	store := data.NewMemory()
	auth := relmeauth.New(store, relme.New(&http.Client{Transport: defaultHosts}), strategy.Default, nil)
	metrics, _ := NewMetrics(nil)
	server := httptest.NewServer(New(auth, strategy.Exchangers{}, NewSessions("secret"), metrics, nil).Handler())
	defer server.Close()

	attempt, err := auth.Begin(context.Background(), relmeauth.BeginRequest{Me: "example.com"})
	assert(err).Must.Nil()

	resp, err := http.Get(server.URL + "/session?token=" + url.QueryEscape(attempt.Login.Token))
	assert(err).Must.Nil()
	defer resp.Body.Close()

	var v errorResponse
	assert(resp.StatusCode).Equal(http.StatusNotFound)
	assert(json.NewDecoder(resp.Body).Decode(&v)).Must.Nil()
	assert(v.Error).Equal("invalid_token")
	assert(v.ErrorDescription).Equal("The token provided was not found")
}

func TestEnsureSite(t *testing.T) {
	assert := assert.Wrap(t)

	s, client, store := newTestServer(t, "john")

	get(t, client, s.URL+"/metrics")
	assert(store.seen()).Len(0)

	get(t, client, s.URL+"/session?token=nope")
	get(t, client, s.URL+"/")
	assert(store.seen()).Equal([]string{"127.0.0.1", "127.0.0.1"})
}

func TestSetup(t *testing.T) {
	assert := assert.Wrap(t)

	s, client, _ := newTestServer(t, "john")

	resp := get(t, client, s.URL+"/setup")
	assert(resp.StatusCode).Equal(http.StatusOK)

	body := readBody(resp)
	for _, provider := range strategy.Default {
		assert(strings.Contains(body, provider.Kind.ExampleURL())).True()
	}

	resp = get(t, client, s.URL+"/")
	assert(strings.Contains(readBody(resp), `href="/setup"`)).True()

	resp = get(t, client, s.URL+"/auth/failure?message=oops")
	assert(strings.Contains(readBody(resp), `href="/setup"`)).True()
}

func TestMetrics(t *testing.T) {
	assert := assert.Wrap(t)

	s, client, _ := newTestServer(t, "john")

	get(t, client, s.URL+"/session?token=nope")

	resp := get(t, client, s.URL+"/metrics")
	assert(resp.StatusCode).Equal(http.StatusOK)

	body := readBody(resp)
	assert(strings.Contains(body, `relme_auth_redemptions_total{outcome="error"} 1`)).True()
	assert(strings.Contains(body, `route="/session"`)).True()
}

func TestReset(t *testing.T) {
	assert := assert.Wrap(t)

	s, client, _ := newTestServer(t, "john")

	resp := get(t, client, s.URL+"/auth?me=example.com")
	assert(resp.StatusCode).Must.Equal(http.StatusFound)

	resp = get(t, client, s.URL+"/reset")
	assert(resp.StatusCode).Equal(http.StatusFound)
	assert(resp.Header.Get("Location")).Equal("/")

	resp = get(t, client, s.URL+"/auth/github")
	assert(resp.StatusCode).Equal(http.StatusBadRequest)
}

func TestStatusFor(t *testing.T) {
	assert := assert.Wrap(t)

	assert(statusFor(relmeauth.ErrInvalidIdentifier)).Equal(http.StatusBadRequest)
	assert(statusFor(&relmeauth.FetchError{Kind: relmeauth.ErrHostNotFound})).Equal(http.StatusBadGateway)
	assert(statusFor(&relmeauth.FetchError{Kind: relmeauth.ErrFetchFailed})).Equal(http.StatusBadGateway)
	assert(statusFor(&relmeauth.MismatchError{})).Equal(http.StatusForbidden)
	assert(statusFor(relmeauth.ErrLoginRejected)).Equal(http.StatusForbidden)
	assert(statusFor(fmt.Errorf("wrapped: %w", relmeauth.ErrTokenNotFound))).Equal(http.StatusNotFound)
	assert(statusFor(errors.New("what"))).Equal(http.StatusInternalServerError)
}
