package relmeauth

import (
	"net/url"
	"strings"
)

// Normalize canonicalizes a user supplied domain or URL. Values without an
// http or https scheme are assumed to be http, and an empty path becomes "/",
// so that "example.com" and "http://example.com" both give
// "http://example.com/". Normalizing a normalized value returns it unchanged.
func Normalize(me string) (string, error) {
	me = strings.TrimSpace(me)
	if me == "" {
		return "", ErrInvalidIdentifier
	}

	lower := strings.ToLower(me)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		me = "http://" + me
	}

	meURL, err := url.Parse(me)
	if err != nil || meURL.Host == "" {
		return "", ErrInvalidIdentifier
	}

	if meURL.Path == "" {
		meURL.Path = "/"
	}

	return meURL.String(), nil
}
