package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/gitlab"
)

// Exchanger signs a user in with a provider and returns the username they
// signed in as.
type Exchanger interface {
	// AuthCodeURL returns the provider URL to send the user to. The username is
	// a hint only, the result of Exchange must still be checked.
	AuthCodeURL(state, username string) string

	// Exchange converts the code passed to the callback into the username of
	// the signed in user.
	Exchange(ctx context.Context, code string) (string, error)
}

// Exchangers maps provider codes to a configured Exchanger.
type Exchangers map[string]Exchanger

// OAuth is an Exchanger for providers that use OAuth 2.0 and expose the
// current user as JSON.
type OAuth struct {
	Config oauth2.Config
	// UserURL returns the signed in user, and UsernameField names the property
	// holding their username.
	UserURL       string
	UsernameField string
	// LoginParam, if set, is the authorization parameter used to suggest which
	// account to sign in with.
	LoginParam string
	Client     *http.Client
}

// NewGitHub returns an Exchanger for GitHub.
func NewGitHub(clientID, clientSecret, redirectURL string) *OAuth {
	return &OAuth{
		Config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     github.Endpoint,
		},
		UserURL:       "https://api.github.com/user",
		UsernameField: "login",
		LoginParam:    "login",
	}
}

// NewGitLab returns an Exchanger for GitLab.
func NewGitLab(clientID, clientSecret, redirectURL string) *OAuth {
	return &OAuth{
		Config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read_user"},
			Endpoint:     gitlab.Endpoint,
		},
		UserURL:       "https://gitlab.com/api/v4/user",
		UsernameField: "username",
	}
}

func (o *OAuth) AuthCodeURL(state, username string) string {
	var opts []oauth2.AuthCodeOption
	if o.LoginParam != "" && username != "" {
		opts = append(opts, oauth2.SetAuthURLParam(o.LoginParam, username))
	}

	return o.Config.AuthCodeURL(state, opts...)
}

func (o *OAuth) Exchange(ctx context.Context, code string) (string, error) {
	if o.Client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.Client)
	}

	token, err := o.Config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchanging code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.UserURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.Config.Client(ctx, token).Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("requesting user: received a %d response", resp.StatusCode)
	}

	var data map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("decoding user: %w", err)
	}

	username, _ := data[o.UsernameField].(string)
	if username == "" {
		return "", fmt.Errorf("user response has no %q", o.UsernameField)
	}

	return username, nil
}
