// Package strategy describes the identity providers that a rel="me" link can
// point to, and how to sign a user in with them.
package strategy

import (
	"regexp"
)

// Kind is one of the known providers.
type Kind int

const (
	GitHub Kind = iota
	GitLab
	Twitter
	Flickr
)

// Code is the short name of the provider, used in URLs and stored on logins.
func (k Kind) Code() string {
	switch k {
	case GitHub:
		return "github"
	case GitLab:
		return "gitlab"
	case Twitter:
		return "twitter"
	case Flickr:
		return "flickr"
	default:
		panic("missing provider definition")
	}
}

func (k Kind) String() string {
	return k.Code()
}

// ExampleURL shows what a profile URL on the provider looks like.
func (k Kind) ExampleURL() string {
	switch k {
	case GitHub:
		return "https://github.com/username"
	case GitLab:
		return "https://gitlab.com/username"
	case Twitter:
		return "https://twitter.com/username"
	case Flickr:
		return "https://www.flickr.com/people/username"
	default:
		panic("missing provider definition")
	}
}

func (k Kind) pattern() *regexp.Regexp {
	switch k {
	case GitHub:
		return githubPattern
	case GitLab:
		return gitlabPattern
	case Twitter:
		return twitterPattern
	case Flickr:
		return flickrPattern
	default:
		panic("missing provider definition")
	}
}

// The first capture group of each pattern is the username.
var (
	githubPattern  = regexp.MustCompile(`^https?://(?:www\.)?github\.com/([A-Za-z0-9-]+)/?$`)
	gitlabPattern  = regexp.MustCompile(`^https?://(?:www\.)?gitlab\.com/([A-Za-z0-9_.-]+)/?$`)
	twitterPattern = regexp.MustCompile(`^https?://(?:www\.|mobile\.)?twitter\.com/(?:#!/)?([A-Za-z0-9_]+)/?$`)
	flickrPattern  = regexp.MustCompile(`^https?://(?:www\.)?flickr\.com/(?:people|photos)/([^/?#]+)/?$`)
)

// Provider is an entry in a Registry.
type Provider struct {
	Kind Kind
}

// Code returns the provider's code.
func (p Provider) Code() string {
	return p.Kind.Code()
}

// Matches reports whether url is a profile on the provider.
func (p Provider) Matches(url string) bool {
	return p.Kind.pattern().MatchString(url)
}

// UsernameForURL returns the provider's username for the profile url, or ""
// if url is not a profile on the provider.
func (p Provider) UsernameForURL(url string) string {
	match := p.Kind.pattern().FindStringSubmatch(url)
	if len(match) < 2 {
		return ""
	}

	return match[1]
}

// Registry is an ordered list of providers. Order matters, the first provider
// to match a URL is used.
type Registry []Provider

// Default is the registry of all known providers.
var Default = Registry{
	{Kind: GitHub},
	{Kind: GitLab},
	{Kind: Twitter},
	{Kind: Flickr},
}

// ForURL returns the first provider that url is a profile on.
func (r Registry) ForURL(url string) (Provider, bool) {
	for _, provider := range r {
		if provider.Matches(url) {
			return provider, true
		}
	}

	return Provider{}, false
}

// Lookup returns the provider with the code given.
func (r Registry) Lookup(code string) (Provider, bool) {
	for _, provider := range r {
		if provider.Code() == code {
			return provider, true
		}
	}

	return Provider{}, false
}

// Filter returns the providers for which keep returns true, in the same order.
func (r Registry) Filter(keep func(Provider) bool) Registry {
	var filtered Registry
	for _, provider := range r {
		if keep(provider) {
			filtered = append(filtered, provider)
		}
	}

	return filtered
}
