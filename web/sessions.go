package web

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/gob"
	"net/http"

	"github.com/gorilla/sessions"
)

const sessionName = "relme-auth"

// sessionData is kept in a cookie between starting an attempt and the provider
// calling back.
type sessionData struct {
	Token string
	State string
}

func init() {
	gob.Register(sessionData{})
}

// Sessions stores the attempt in progress for a browser.
type Sessions struct {
	store sessions.Store
}

// NewSessions creates a cookie backed Sessions. The secret may be given base64
// encoded, if it does not decode it is used as is.
func NewSessions(secret string) *Sessions {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil || len(key) == 0 {
		key = []byte(secret)
	}

	store := sessions.NewCookieStore(key)
	store.Options.HttpOnly = true

	return &Sessions{store: store}
}

func (s *Sessions) get(r *http.Request) sessionData {
	session, _ := s.store.Get(r, sessionName)
	data, _ := session.Values["data"].(sessionData)

	return data
}

func (s *Sessions) set(w http.ResponseWriter, r *http.Request, data sessionData) error {
	session, _ := s.store.Get(r, sessionName)
	session.Values = map[interface{}]interface{}{
		"data": data,
	}

	return session.Save(r, w)
}

func (s *Sessions) clear(w http.ResponseWriter, r *http.Request) error {
	return s.set(w, r, sessionData{})
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
