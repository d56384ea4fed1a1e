package relmeauth

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateToken is returned by a Store when a login is created with a token
// that already exists.
var ErrDuplicateToken = errors.New("token already exists")

// Site is a relying party, identified by the host it made requests from.
type Site struct {
	ID     string
	Domain string
}

// User is somebody claiming a "me".
type User struct {
	ID   string
	Href string
	// MeLinks are all rel="me" links found at Href on the most recent attempt.
	MeLinks []string
}

// Profile pairs a User with a provider they have linked to.
type Profile struct {
	ID       string
	UserID   string
	Provider string
	Href     string
	Verified bool
}

// Login is a single authentication attempt.
type Login struct {
	Token       string
	UserID      string
	Me          string
	Provider    string
	ProfileID   string
	RedirectURI string
	// Expected is the username the provider must return for the login to
	// complete, and ProviderURI the profile it was taken from.
	Expected    string
	ProviderURI string
	Complete    bool
	// Rejected is set when the provider signed in the wrong user. Complete and
	// Rejected are never both true.
	Rejected    bool
	CreatedAt   time.Time
	LastUsedAt  *time.Time
	UsedCount   int
}

// Store persists sites, users, profiles and logins. The Ensure methods must be
// atomic, so that concurrent attempts for the same identity never create
// duplicate rows.
type Store interface {
	EnsureSite(ctx context.Context, domain string) (Site, error)

	EnsureUser(ctx context.Context, href string) (User, error)
	SetMeLinks(ctx context.Context, userID string, links []string) error

	// EnsureProfile returns the profile for the user and provider, creating it
	// with href and verified if it does not exist. An existing profile is
	// returned unchanged.
	EnsureProfile(ctx context.Context, userID, provider, href string, verified bool) (Profile, error)
	// VerifyProfile marks the profile verified for href.
	VerifyProfile(ctx context.Context, profileID, href string) error
	// Profiles returns the profiles for a user, oldest first.
	Profiles(ctx context.Context, userID string) ([]Profile, error)

	CreateLogin(ctx context.Context, login Login) error
	// Login returns the login for token, or ErrTokenNotFound.
	Login(ctx context.Context, token string) (Login, error)
	// CompleteLogin marks the login for token complete. It returns
	// ErrTokenNotFound if there is no login for token and ErrLoginRejected if it
	// was rejected.
	CompleteLogin(ctx context.Context, token string) error
	// RejectLogin marks the login for token rejected, unless it has already
	// completed in which case it is left alone. It returns ErrTokenNotFound if
	// there is no login for token.
	RejectLogin(ctx context.Context, token string) error
	// UseLogin atomically increments the used count of a complete login and
	// sets its last used time. It returns ErrTokenNotFound if there is no login
	// for token, ErrLoginRejected if it was rejected and ErrLoginIncomplete if
	// it has not completed.
	UseLogin(ctx context.Context, token string, at time.Time) (Login, error)
}
