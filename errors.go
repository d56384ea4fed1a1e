package relmeauth

import (
	"fmt"
)

type clientError int

func (e clientError) Error() string {
	switch e {
	case ErrInvalidIdentifier:
		return "me is not a valid URL"
	case ErrHostNotFound:
		return "host name not found"
	case ErrFetchFailed:
		return "could not fetch page"
	case ErrNoLinksFound:
		return `no rel="me" links were found`
	case ErrNoValidProvider:
		return "no valid authentication providers were found"
	case ErrIdentityMismatch:
		return "signed in as a different user than was linked"
	case ErrTokenNotFound:
		return "the token provided was not found"
	case ErrLoginIncomplete:
		return "the token provided has not completed authentication"
	case ErrInvalidRequest:
		return "missing required parameter"
	case ErrLoginRejected:
		return "the sign-in for this token was rejected"
	default:
		panic("missing error definition")
	}
}

const (
	// ErrInvalidIdentifier means the entered 'me' could not be parsed as a URL.
	ErrInvalidIdentifier clientError = iota

	// ErrHostNotFound means the host of a fetched URL did not resolve.
	ErrHostNotFound

	// ErrFetchFailed means a page could not be retrieved, because of a
	// transport error, a timeout or a non-2xx response.
	ErrFetchFailed

	// ErrNoLinksFound means the page at 'me' had no rel="me" links.
	ErrNoLinksFound

	// ErrNoValidProvider means none of the supported rel="me" links on 'me'
	// linked back.
	ErrNoValidProvider

	// ErrIdentityMismatch means the provider returned a username other than the
	// one linked from 'me'.
	ErrIdentityMismatch

	// ErrTokenNotFound means no login exists for the token.
	ErrTokenNotFound

	// ErrLoginIncomplete means the login for the token exists but the provider
	// round-trip has not succeeded.
	ErrLoginIncomplete

	// ErrInvalidRequest means a required parameter was missing.
	ErrInvalidRequest

	// ErrLoginRejected means the provider signed in somebody other than the
	// expected user. A rejected login can never complete.
	ErrLoginRejected
)

// FetchError is returned when a page could not be retrieved. It matches either
// ErrHostNotFound or ErrFetchFailed with errors.Is.
type FetchError struct {
	Kind error
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Kind == ErrHostNotFound {
		return fmt.Sprintf("host name not found: %s", e.URL)
	}

	return fmt.Sprintf("could not fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Is(target error) bool {
	return target == e.Kind
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// MismatchError is returned when the provider signs the user in as someone
// other than the profile linked from 'me'.
type MismatchError struct {
	// ProviderURI is the profile that 'me' linked to.
	ProviderURI string
	Expected    string
	Actual      string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("your website linked to %s, but you were signed in as %s", e.ProviderURI, e.Actual)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrIdentityMismatch
}
