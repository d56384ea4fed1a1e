/*
Package relmeauth signs people in with their domain name.

A user enters the URL of a page they control, their "me". The page is fetched
and searched for rel="me" links that point at profiles on a known provider,
such as GitHub. A profile only counts if it links back to "me", so listing
somebody else's profile is not enough. The user is then sent to that provider
to sign in, and if the provider says they are the same person the profile
belongs to, a token is issued which a relying party can exchange for "me".

Beginning

    auth := relmeauth.New(store, relme.New(nil), strategy.Default, logger)

    attempt, err := auth.Begin(ctx, relmeauth.BeginRequest{
      Me:          r.FormValue("me"),
      RedirectURI: r.FormValue("redirect_uri"),
    })
    if err != nil {
      // err is one of ErrInvalidIdentifier, ErrHostNotFound, ErrFetchFailed,
      // ErrNoLinksFound or ErrNoValidProvider
    }

The attempt names the provider to send the user to, and holds the token that
the provider's callback must be matched against.

Completing

    completion, err := auth.Complete(ctx, token, "github", returnedUsername)
    if errors.Is(err, relmeauth.ErrIdentityMismatch) {
      // signed in to the provider as somebody else
    }

    http.Redirect(w, r, completion.RedirectURL, http.StatusFound)

Redeeming

A relying party exchanges the token for the verified "me". Tokens may be
redeemed any number of times once complete, each use is counted.

    login, err := auth.Redeem(ctx, token)
*/
package relmeauth
