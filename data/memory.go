// Package data stores sites, users, profiles and logins.
package data

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	relmeauth "hawx.me/code/relme-auth"
)

// Memory is a Store that keeps everything in memory. It is safe for
// concurrent use, but nothing survives a restart.
type Memory struct {
	mu       sync.Mutex
	sites    map[string]relmeauth.Site
	users    map[string]*relmeauth.User
	profiles map[string]*relmeauth.Profile
	logins   map[string]*relmeauth.Login

	// profileOrder holds profile ids in the order they were created.
	profileOrder []string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		sites:    map[string]relmeauth.Site{},
		users:    map[string]*relmeauth.User{},
		profiles: map[string]*relmeauth.Profile{},
		logins:   map[string]*relmeauth.Login{},
	}
}

func (m *Memory) EnsureSite(ctx context.Context, domain string) (relmeauth.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if site, ok := m.sites[domain]; ok {
		return site, nil
	}

	site := relmeauth.Site{ID: uuid.NewString(), Domain: domain}
	m.sites[domain] = site
	return site, nil
}

func (m *Memory) EnsureUser(ctx context.Context, href string) (relmeauth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.Href == href {
			return copyUser(user), nil
		}
	}

	user := &relmeauth.User{ID: uuid.NewString(), Href: href}
	m.users[user.ID] = user
	return copyUser(user), nil
}

func copyUser(user *relmeauth.User) relmeauth.User {
	c := *user
	c.MeLinks = append([]string(nil), user.MeLinks...)
	return c
}

func (m *Memory) SetMeLinks(ctx context.Context, userID string, links []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}

	user.MeLinks = append([]string(nil), links...)
	return nil
}

func (m *Memory) EnsureProfile(ctx context.Context, userID, provider, href string, verified bool) (relmeauth.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, profile := range m.profiles {
		if profile.UserID == userID && profile.Provider == provider {
			return *profile, nil
		}
	}

	profile := &relmeauth.Profile{
		ID:       uuid.NewString(),
		UserID:   userID,
		Provider: provider,
		Href:     href,
		Verified: verified,
	}
	m.profiles[profile.ID] = profile
	m.profileOrder = append(m.profileOrder, profile.ID)
	return *profile, nil
}

func (m *Memory) VerifyProfile(ctx context.Context, profileID, href string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, ok := m.profiles[profileID]
	if !ok {
		return ErrNotFound
	}

	profile.Href = href
	profile.Verified = true
	return nil
}

func (m *Memory) Profiles(ctx context.Context, userID string) ([]relmeauth.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var profiles []relmeauth.Profile
	for _, id := range m.profileOrder {
		if profile := m.profiles[id]; profile.UserID == userID {
			profiles = append(profiles, *profile)
		}
	}

	return profiles, nil
}

func (m *Memory) CreateLogin(ctx context.Context, login relmeauth.Login) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.logins[login.Token]; ok {
		return relmeauth.ErrDuplicateToken
	}

	user, ok := m.users[login.UserID]
	if !ok {
		return ErrNotFound
	}

	login.Me = user.Href
	if login.CreatedAt.IsZero() {
		login.CreatedAt = time.Now()
	}
	m.logins[login.Token] = &login
	return nil
}

func (m *Memory) Login(ctx context.Context, token string) (relmeauth.Login, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	login, ok := m.logins[token]
	if !ok {
		return relmeauth.Login{}, relmeauth.ErrTokenNotFound
	}

	return copyLogin(login), nil
}

func (m *Memory) CompleteLogin(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	login, ok := m.logins[token]
	if !ok {
		return relmeauth.ErrTokenNotFound
	}
	if login.Rejected {
		return relmeauth.ErrLoginRejected
	}

	login.Complete = true
	return nil
}

func (m *Memory) RejectLogin(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	login, ok := m.logins[token]
	if !ok {
		return relmeauth.ErrTokenNotFound
	}

	if !login.Complete {
		login.Rejected = true
	}
	return nil
}

func (m *Memory) UseLogin(ctx context.Context, token string, at time.Time) (relmeauth.Login, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	login, ok := m.logins[token]
	if !ok {
		return relmeauth.Login{}, relmeauth.ErrTokenNotFound
	}
	if login.Rejected {
		return relmeauth.Login{}, relmeauth.ErrLoginRejected
	}
	if !login.Complete {
		return relmeauth.Login{}, relmeauth.ErrLoginIncomplete
	}

	login.UsedCount++
	login.LastUsedAt = &at
	return copyLogin(login), nil
}

func copyLogin(login *relmeauth.Login) relmeauth.Login {
	c := *login
	if login.LastUsedAt != nil {
		at := *login.LastUsedAt
		c.LastUsedAt = &at
	}
	return c
}
