// Package web serves the sign-in flow over HTTP.
//
// A relying party sends the user to
//
//	GET /auth?me=https://example.com/&redirect_uri=https://client.example/callback
//
// and once signed in they are returned to the redirect_uri with a token, which
// the relying party exchanges for the verified "me" with
//
//	GET /session?token=...
package web

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	relmeauth "hawx.me/code/relme-auth"
	"hawx.me/code/relme-auth/strategy"
)

// FailurePath is where the user is sent when a provider refuses to sign them
// in.
const FailurePath = "/auth/failure"

// Server handles requests for an Authenticator.
type Server struct {
	auth       *relmeauth.Authenticator
	exchangers strategy.Exchangers
	sessions   *Sessions
	metrics    *Metrics
	log        *zap.Logger
}

// New returns a Server. Providers without an exchanger cannot be signed in
// with. If logger is nil nothing is logged.
func New(auth *relmeauth.Authenticator, exchangers strategy.Exchangers, sessions *Sessions, metrics *Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		auth:       auth,
		exchangers: exchangers,
		sessions:   sessions,
		metrics:    metrics,
		log:        logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.instrument)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Method(http.MethodGet, "/metrics", s.metrics.handler)

	r.Group(func(r chi.Router) {
		r.Use(s.ensureSite)

		r.Get("/session", s.session)
		r.Get("/", s.index)
		r.Get("/setup", s.setup)
		r.Get("/auth", s.begin)
		r.Get(FailurePath, s.failure)
		r.Get("/auth/{provider}", s.redirectToProvider)
		r.Get("/auth/{provider}/callback", s.callback)
		r.Get(relmeauth.SuccessPath, s.success)
		r.Get("/reset", s.reset)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.log.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

// ensureSite records the host each request was made to. A failure is logged
// but does not stop the request.
func (s *Server) ensureSite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}

		if host != "" {
			if _, err := s.auth.EnsureSite(r.Context(), host); err != nil {
				s.log.Warn("could not ensure site", zap.String("host", host), zap.Error(err))
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "index", indexData{RedirectURI: r.FormValue("redirect_uri")})
}

func (s *Server) setup(w http.ResponseWriter, r *http.Request) {
	var providers []setupProvider
	for _, provider := range s.auth.Providers() {
		providers = append(providers, setupProvider{
			Name:    provider.Code(),
			Example: provider.Kind.ExampleURL(),
		})
	}

	s.render(w, http.StatusOK, "setup", setupData{Providers: providers})
}

func (s *Server) begin(w http.ResponseWriter, r *http.Request) {
	attempt, err := s.auth.Begin(r.Context(), relmeauth.BeginRequest{
		Me:          r.FormValue("me"),
		RedirectURI: r.FormValue("redirect_uri"),
	})
	s.metrics.attempt("begin", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.sessions.set(w, r, sessionData{Token: attempt.Login.Token}); err != nil {
		s.fail(w, r, err)
		return
	}

	http.Redirect(w, r, "/auth/"+attempt.Provider.Code(), http.StatusFound)
}

var errNoAttempt = errors.New("no sign-in is in progress")

func (s *Server) redirectToProvider(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	exchanger, ok := s.exchangers[provider]
	if !ok {
		http.NotFound(w, r)
		return
	}

	data := s.sessions.get(r)
	if data.Token == "" {
		s.render(w, http.StatusBadRequest, "failure", failureData{Message: errNoAttempt.Error()})
		return
	}

	login, err := s.auth.Login(r.Context(), data.Token)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if login.Provider != provider {
		s.render(w, http.StatusBadRequest, "failure", failureData{
			Message: "your website did not link to " + provider,
		})
		return
	}

	state, err := randomState()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	data.State = state
	if err := s.sessions.set(w, r, data); err != nil {
		s.fail(w, r, err)
		return
	}

	http.Redirect(w, r, exchanger.AuthCodeURL(state, login.Expected), http.StatusFound)
}

func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	exchanger, ok := s.exchangers[provider]
	if !ok {
		http.NotFound(w, r)
		return
	}

	if message := r.FormValue("error"); message != "" {
		if description := r.FormValue("error_description"); description != "" {
			message = description
		}
		http.Redirect(w, r, FailurePath+"?"+url.Values{"message": {message}}.Encode(), http.StatusFound)
		return
	}

	data := s.sessions.get(r)
	if data.Token == "" || data.State == "" || r.FormValue("state") != data.State {
		s.render(w, http.StatusBadRequest, "failure", failureData{Message: "unexpected state"})
		return
	}

	username, err := exchanger.Exchange(r.Context(), r.FormValue("code"))
	if err != nil {
		s.metrics.attempt("exchange", err)
		s.log.Warn("provider exchange failed", zap.String("provider", provider), zap.Error(err))
		s.render(w, http.StatusBadGateway, "failure", failureData{Message: "could not sign in with " + provider})
		return
	}

	completion, err := s.auth.Complete(r.Context(), data.Token, provider, username)
	s.metrics.attempt("complete", err)

	if clearErr := s.sessions.clear(w, r); clearErr != nil {
		s.log.Warn("could not clear session", zap.Error(clearErr))
	}

	if err != nil {
		s.fail(w, r, err)
		return
	}

	http.Redirect(w, r, completion.RedirectURL, http.StatusFound)
}

func (s *Server) failure(w http.ResponseWriter, r *http.Request) {
	message := r.FormValue("message")
	if message == "" {
		message = "something went wrong"
	}

	s.render(w, http.StatusOK, "failure", failureData{Message: message})
}

func (s *Server) success(w http.ResponseWriter, r *http.Request) {
	login, err := s.auth.Lookup(r.Context(), r.FormValue("token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	profiles, err := s.auth.Profiles(r.Context(), login)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var verified []string
	for _, profile := range profiles {
		if profile.Verified {
			verified = append(verified, profile.Href)
		}
	}

	s.render(w, http.StatusOK, "success", successData{Me: login.Me, Profiles: verified})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.clear(w, r); err != nil {
		s.log.Warn("could not clear session", zap.Error(err))
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

type sessionResponse struct {
	Me string `json:"me"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store")

	login, err := s.auth.Redeem(r.Context(), r.FormValue("token"))
	s.metrics.redemption(err)
	if err != nil {
		status, response := sessionError(err)
		if status == http.StatusInternalServerError {
			s.log.Error("redeeming token failed", zap.Error(err))
		}

		w.WriteHeader(status)
		json.NewEncoder(w).Encode(response)
		return
	}

	json.NewEncoder(w).Encode(sessionResponse{Me: login.Me})
}

func sessionError(err error) (int, errorResponse) {
	switch {
	case errors.Is(err, relmeauth.ErrInvalidRequest):
		return http.StatusBadRequest, errorResponse{Error: "invalid_request", ErrorDescription: "Missing 'token' parameter"}
	case errors.Is(err, relmeauth.ErrTokenNotFound),
		errors.Is(err, relmeauth.ErrLoginIncomplete),
		errors.Is(err, relmeauth.ErrLoginRejected):
		return http.StatusNotFound, errorResponse{Error: "invalid_token", ErrorDescription: "The token provided was not found"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "server_error", ErrorDescription: "something went wrong"}
	}
}

// fail renders the failure view for err, with a status matching its kind.
// Errors that are not the user's fault are logged and hidden.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()

	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		message = "something went wrong"
	}

	s.render(w, status, "failure", failureData{Message: message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, relmeauth.ErrInvalidIdentifier),
		errors.Is(err, relmeauth.ErrInvalidRequest),
		errors.Is(err, relmeauth.ErrNoLinksFound),
		errors.Is(err, relmeauth.ErrNoValidProvider):
		return http.StatusBadRequest
	case errors.Is(err, relmeauth.ErrHostNotFound),
		errors.Is(err, relmeauth.ErrFetchFailed):
		return http.StatusBadGateway
	case errors.Is(err, relmeauth.ErrIdentityMismatch),
		errors.Is(err, relmeauth.ErrLoginRejected):
		return http.StatusForbidden
	case errors.Is(err, relmeauth.ErrTokenNotFound),
		errors.Is(err, relmeauth.ErrLoginIncomplete):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
