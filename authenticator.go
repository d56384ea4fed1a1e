package relmeauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"go.uber.org/zap"
	"hawx.me/code/relme-auth/relme"
	"hawx.me/code/relme-auth/strategy"
)

// LinkFinder finds rel="me" links. It is implemented by *relme.Client.
type LinkFinder interface {
	Links(ctx context.Context, uri string) ([]string, error)
	Verify(ctx context.Context, source, link string) bool
}

// Authenticator runs authentication attempts, from choosing a provider for
// "me" to redeeming the token issued.
type Authenticator struct {
	store    Store
	links    LinkFinder
	registry strategy.Registry
	log      *zap.Logger

	now      func() time.Time
	newToken func() (string, error)
}

// New returns an Authenticator. If logger is nil nothing is logged.
func New(store Store, links LinkFinder, registry strategy.Registry, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Authenticator{
		store:    store,
		links:    links,
		registry: registry,
		log:      logger,
		now:      time.Now,
		newToken: randomToken,
	}
}

// Providers returns the providers that users can sign in with.
func (a *Authenticator) Providers() strategy.Registry {
	return a.registry
}

// EnsureSite records the host a request was made to, if it has not been seen
// before.
func (a *Authenticator) EnsureSite(ctx context.Context, host string) (Site, error) {
	return a.store.EnsureSite(ctx, host)
}

// BeginRequest starts an attempt.
type BeginRequest struct {
	// Me is the URL, or domain, being claimed.
	Me string
	// RedirectURI is where the token is sent once complete. If empty the
	// success page is used.
	RedirectURI string
}

// Attempt is a login that has been created but not completed. The user must
// now sign in to Provider as Username.
type Attempt struct {
	Login    Login
	Provider strategy.Provider
	Profile  Profile
	Username string
}

// Begin chooses a provider for the "me" requested and creates a login for it.
func (a *Authenticator) Begin(ctx context.Context, req BeginRequest) (*Attempt, error) {
	me, err := Normalize(req.Me)
	if err != nil {
		return nil, err
	}

	if req.RedirectURI != "" && !isAbsoluteHTTP(req.RedirectURI) {
		return nil, fmt.Errorf("redirect_uri must be an absolute URL: %w", ErrInvalidRequest)
	}

	user, err := a.store.EnsureUser(ctx, me)
	if err != nil {
		return nil, fmt.Errorf("ensuring user: %w", err)
	}

	provider, profile, err := a.selectProvider(ctx, user)
	if err != nil {
		return nil, err
	}

	login := Login{
		UserID:      user.ID,
		Me:          user.Href,
		Provider:    provider.Code(),
		ProfileID:   profile.ID,
		RedirectURI: req.RedirectURI,
		Expected:    provider.UsernameForURL(profile.Href),
		ProviderURI: profile.Href,
		CreatedAt:   a.now(),
	}

	if err := a.createLogin(ctx, &login); err != nil {
		return nil, err
	}

	a.log.Info("attempting authentication",
		zap.String("me", me),
		zap.String("provider", login.Provider),
		zap.String("username", login.Expected))

	return &Attempt{
		Login:    login,
		Provider: provider,
		Profile:  profile,
		Username: login.Expected,
	}, nil
}

const tokenAttempts = 3

func (a *Authenticator) createLogin(ctx context.Context, login *Login) error {
	for i := 0; i < tokenAttempts; i++ {
		token, err := a.newToken()
		if err != nil {
			return fmt.Errorf("generating token: %w", err)
		}
		login.Token = token

		err = a.store.CreateLogin(ctx, *login)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateToken) {
			return fmt.Errorf("creating login: %w", err)
		}
	}

	return fmt.Errorf("creating login: %w", ErrDuplicateToken)
}

// selectProvider finds the provider to authenticate the user with. If the
// user's href is itself a profile on a provider it is used directly, otherwise
// the first supported rel="me" link that links back is used.
func (a *Authenticator) selectProvider(ctx context.Context, user User) (strategy.Provider, Profile, error) {
	me := user.Href

	if provider, ok := a.registry.ForURL(me); ok {
		profile, err := a.store.EnsureProfile(ctx, user.ID, provider.Code(), me, true)
		if err != nil {
			return provider, profile, fmt.Errorf("ensuring profile: %w", err)
		}

		if !profile.Verified || profile.Href != me {
			if err := a.store.VerifyProfile(ctx, profile.ID, me); err != nil {
				return provider, profile, fmt.Errorf("verifying profile: %w", err)
			}
			profile.Href = me
			profile.Verified = true
		}

		return provider, profile, nil
	}

	links, err := a.links.Links(ctx, me)
	if err != nil {
		return strategy.Provider{}, Profile{}, fetchError(me, err)
	}

	if err := a.store.SetMeLinks(ctx, user.ID, links); err != nil {
		return strategy.Provider{}, Profile{}, fmt.Errorf("saving links: %w", err)
	}

	if len(links) == 0 {
		return strategy.Provider{}, Profile{}, ErrNoLinksFound
	}

	supported := relme.Supported(links, a.registry)
	a.log.Debug("found links", zap.String("me", me), zap.Strings("links", links), zap.Strings("supported", supported))

	profiles := map[string]Profile{}
	for _, link := range supported {
		provider, _ := a.registry.ForURL(link)
		if _, ok := profiles[provider.Code()]; ok {
			continue
		}

		profile, err := a.store.EnsureProfile(ctx, user.ID, provider.Code(), link, false)
		if err != nil {
			return provider, profile, fmt.Errorf("ensuring profile: %w", err)
		}
		profiles[provider.Code()] = profile
	}

	for _, link := range supported {
		if !a.links.Verify(ctx, me, link) {
			continue
		}

		provider, _ := a.registry.ForURL(link)
		profile := profiles[provider.Code()]

		if err := a.store.VerifyProfile(ctx, profile.ID, link); err != nil {
			return provider, profile, fmt.Errorf("verifying profile: %w", err)
		}
		profile.Href = link
		profile.Verified = true

		a.log.Info("found valid provider", zap.String("me", me), zap.String("provider", provider.Code()), zap.String("link", link))
		return provider, profile, nil
	}

	return strategy.Provider{}, Profile{}, ErrNoValidProvider
}

func fetchError(uri string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &FetchError{Kind: ErrHostNotFound, URL: uri, Err: err}
	}

	return &FetchError{Kind: ErrFetchFailed, URL: uri, Err: err}
}

// Completion is a login that has been completed.
type Completion struct {
	Login Login
	// RedirectURL is where the user should be sent, it includes the token.
	RedirectURL string
}

// Complete checks the username the provider signed the user in as against the
// username expected when the login was created. If they are the same the login
// is marked complete, otherwise it is rejected and a *MismatchError returned.
// A rejected login cannot be completed later, ErrLoginRejected is returned.
func (a *Authenticator) Complete(ctx context.Context, token, provider, username string) (*Completion, error) {
	login, err := a.store.Login(ctx, token)
	if err != nil {
		return nil, err
	}
	if login.Rejected {
		return nil, ErrLoginRejected
	}

	if login.Provider != provider || login.Expected != username {
		a.log.Info("identity mismatch",
			zap.String("me", login.Me),
			zap.String("provider", provider),
			zap.String("expected", login.Expected),
			zap.String("actual", username))

		if !login.Complete {
			if err := a.store.RejectLogin(ctx, token); err != nil {
				return nil, fmt.Errorf("rejecting login: %w", err)
			}
		}

		return nil, &MismatchError{
			ProviderURI: login.ProviderURI,
			Expected:    login.Expected,
			Actual:      username,
		}
	}

	if !login.Complete {
		if err := a.store.CompleteLogin(ctx, token); err != nil {
			if errors.Is(err, ErrLoginRejected) {
				return nil, err
			}
			return nil, fmt.Errorf("completing login: %w", err)
		}
		login.Complete = true
	}

	a.log.Info("authentication complete", zap.String("me", login.Me), zap.String("provider", provider))

	return &Completion{
		Login:       login,
		RedirectURL: redirectURL(login),
	}, nil
}

// SuccessPath is where users are sent when a login did not give a
// redirect_uri.
const SuccessPath = "/success"

func redirectURL(login Login) string {
	if login.RedirectURI != "" {
		if redirectURI, err := url.Parse(login.RedirectURI); err == nil {
			query := redirectURI.Query()
			query.Set("token", login.Token)
			redirectURI.RawQuery = query.Encode()
			return redirectURI.String()
		}
	}

	return SuccessPath + "?" + url.Values{"token": {login.Token}}.Encode()
}

func isAbsoluteHTTP(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Redeem exchanges a token for its login, counting the use. Only complete
// logins can be redeemed, but they can be redeemed any number of times.
func (a *Authenticator) Redeem(ctx context.Context, token string) (*Login, error) {
	if token == "" {
		return nil, ErrInvalidRequest
	}

	login, err := a.store.UseLogin(ctx, token, a.now())
	if err != nil {
		return nil, err
	}

	return &login, nil
}

// Lookup returns the complete login for a token without counting it as a use.
func (a *Authenticator) Lookup(ctx context.Context, token string) (*Login, error) {
	if token == "" {
		return nil, ErrInvalidRequest
	}

	login, err := a.store.Login(ctx, token)
	if err != nil {
		return nil, err
	}
	if login.Rejected {
		return nil, ErrLoginRejected
	}
	if !login.Complete {
		return nil, ErrLoginIncomplete
	}

	return &login, nil
}

// Login returns the login for a token, complete or not.
func (a *Authenticator) Login(ctx context.Context, token string) (*Login, error) {
	login, err := a.store.Login(ctx, token)
	if err != nil {
		return nil, err
	}

	return &login, nil
}

// Profiles returns the providers a user has linked to from their "me", with
// those that linked back marked verified.
func (a *Authenticator) Profiles(ctx context.Context, login *Login) ([]Profile, error) {
	return a.store.Profiles(ctx, login.UserID)
}
