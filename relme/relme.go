// Package relme finds rel="me" links on a page, and checks that the pages they
// point to link back.
//
// See http://microformats.org/wiki/rel-me
package relme

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/tomnomnom/linkheader"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/singleflight"
	"hawx.me/code/relme-auth/strategy"
)

// RequestError is returned when a page responds with a non-2xx status.
type RequestError struct {
	URL        string
	StatusCode int
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("received a %d response from %s", e.StatusCode, e.URL)
}

// Cache remembers links that have been verified.
type Cache interface {
	Verified(ctx context.Context, source, link string) bool
	SetVerified(ctx context.Context, source, link string) error
}

// Client fetches pages. Only a single page is fetched for each call, the links
// found are never followed.
type Client struct {
	// Client is used to fetch pages, it should set a Timeout. If nil
	// http.DefaultClient is used.
	Client *http.Client
	// Cache, if set, is checked before fetching a link to verify it.
	Cache  Cache
	Logger *zap.Logger

	group singleflight.Group
}

// New returns a Client using the http.Client given.
func New(client *http.Client) *Client {
	return &Client{Client: client}
}

func (c *Client) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}

	return http.DefaultClient
}

func (c *Client) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}

	return zap.NewNop()
}

// Links fetches uri and returns all rel="me" links found, first from the Link
// header then from the document, in the order they appear. Duplicates are
// kept. Relative links are resolved against the final URL of the response.
//
// Concurrent calls for the same uri share a single fetch. The fetch is not
// cancelled with ctx, as other callers may be waiting on it, so it is bounded
// only by the Timeout of the http.Client.
func (c *Client) Links(ctx context.Context, uri string) ([]string, error) {
	ch := c.group.DoChan(uri, func() (interface{}, error) {
		return c.fetch(context.WithoutCancel(ctx), uri)
	})

	var result singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result = <-ch:
	}
	if result.Err != nil {
		return nil, result.Err
	}

	shared := result.Val.([]string)
	links := make([]string, len(shared))
	copy(links, shared)

	return links, nil
}

func (c *Client) fetch(ctx context.Context, uri string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{URL: uri, StatusCode: resp.StatusCode}
	}

	base := resp.Request.URL
	var hrefs []string

	for _, link := range linkheader.ParseMultiple(resp.Header["Link"]) {
		if hasRel(link.Rel, "me") {
			hrefs = append(hrefs, link.URL)
		}
	}

	mediatype, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediatype == "" || mediatype == "text/html" || mediatype == "application/xhtml+xml" {
		root, err := html.Parse(resp.Body)
		if err != nil {
			return nil, err
		}
		hrefs = append(hrefs, findRelMe(root)...)
	}

	links := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		linkURL, err := base.Parse(strings.TrimSpace(href))
		if err != nil {
			c.logger().Debug("skipping unparseable link", zap.String("page", uri), zap.String("href", href))
			continue
		}
		links = append(links, linkURL.String())
	}

	return links, nil
}

// Verify reports whether the page at link has a rel="me" link back to source.
// A page that cannot be fetched is not verified.
func (c *Client) Verify(ctx context.Context, source, link string) bool {
	if c.Cache != nil && c.Cache.Verified(ctx, source, link) {
		return true
	}

	links, err := c.Links(ctx, link)
	if err != nil {
		c.logger().Info("could not fetch link to verify",
			zap.String("source", source),
			zap.String("link", link),
			zap.Error(err))
		return false
	}

	for _, candidate := range links {
		if SameURL(candidate, source) {
			if c.Cache != nil {
				if err := c.Cache.SetVerified(ctx, source, link); err != nil {
					c.logger().Warn("could not cache verified link", zap.Error(err))
				}
			}
			return true
		}
	}

	return false
}

// Supported returns the links that are a profile on a provider in registry,
// keeping their order but removing duplicates.
func Supported(links []string, registry strategy.Registry) []string {
	var supported []string
	seen := map[string]struct{}{}

	for _, link := range links {
		if _, ok := seen[link]; ok {
			continue
		}
		if _, ok := registry.ForURL(link); ok {
			seen[link] = struct{}{}
			supported = append(supported, link)
		}
	}

	return supported
}

// SameURL compares two URLs ignoring scheme, the case of the host, and a
// trailing slash on the path.
func SameURL(a, b string) bool {
	aURL, err := url.Parse(a)
	if err != nil {
		return false
	}
	bURL, err := url.Parse(b)
	if err != nil {
		return false
	}

	return strings.EqualFold(aURL.Host, bURL.Host) &&
		strings.TrimSuffix(aURL.Path, "/") == strings.TrimSuffix(bURL.Path, "/") &&
		aURL.RawQuery == bURL.RawQuery
}
