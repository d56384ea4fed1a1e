package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	relmeauth "hawx.me/code/relme-auth"
)

// Postgres is a Store backed by a PostgreSQL connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database, checking the connection before
// returning. The returned store is safe for concurrent use.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool}, nil
}

// Close releases all connections.
func (s *Postgres) Close() {
	s.pool.Close()
}

func parseID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return parsed, ErrNotFound
	}

	return parsed, nil
}

func (s *Postgres) EnsureSite(ctx context.Context, domain string) (relmeauth.Site, error) {
	site := relmeauth.Site{}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO sites (domain) VALUES ($1)
		ON CONFLICT (domain) DO UPDATE SET domain = EXCLUDED.domain
		RETURNING id::text, domain`,
		domain,
	).Scan(&site.ID, &site.Domain)

	return site, err
}

func (s *Postgres) EnsureUser(ctx context.Context, href string) (relmeauth.User, error) {
	var (
		user    relmeauth.User
		meLinks []byte
	)

	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (href) VALUES ($1)
		ON CONFLICT (href) DO UPDATE SET href = EXCLUDED.href
		RETURNING id::text, href, me_links::text`,
		href,
	).Scan(&user.ID, &user.Href, &meLinks)
	if err != nil {
		return user, err
	}

	if err := json.Unmarshal(meLinks, &user.MeLinks); err != nil {
		return user, fmt.Errorf("decoding me_links: %w", err)
	}

	return user, nil
}

func (s *Postgres) SetMeLinks(ctx context.Context, userID string, links []string) error {
	id, err := parseID(userID)
	if err != nil {
		return err
	}

	if links == nil {
		links = []string{}
	}
	encoded, err := json.Marshal(links)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		"UPDATE users SET me_links = $2::jsonb, updated_at = now() WHERE id = $1",
		id, string(encoded))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *Postgres) EnsureProfile(ctx context.Context, userID, provider, href string, verified bool) (relmeauth.Profile, error) {
	var profile relmeauth.Profile

	id, err := parseID(userID)
	if err != nil {
		return profile, err
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO profiles (user_id, provider, href, verified) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, provider) DO UPDATE SET provider = profiles.provider
		RETURNING id::text, user_id::text, provider, href, verified`,
		id, provider, href, verified,
	).Scan(&profile.ID, &profile.UserID, &profile.Provider, &profile.Href, &profile.Verified)

	return profile, err
}

func (s *Postgres) VerifyProfile(ctx context.Context, profileID, href string) error {
	id, err := parseID(profileID)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		"UPDATE profiles SET href = $2, verified = true WHERE id = $1",
		id, href)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *Postgres) Profiles(ctx context.Context, userID string) ([]relmeauth.Profile, error) {
	id, err := parseID(userID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, user_id::text, provider, href, verified
		FROM profiles WHERE user_id = $1 ORDER BY created_at`,
		id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []relmeauth.Profile
	for rows.Next() {
		var profile relmeauth.Profile
		if err := rows.Scan(&profile.ID, &profile.UserID, &profile.Provider, &profile.Href, &profile.Verified); err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}

	return profiles, rows.Err()
}

func (s *Postgres) CreateLogin(ctx context.Context, login relmeauth.Login) error {
	userID, err := parseID(login.UserID)
	if err != nil {
		return err
	}
	profileID, err := parseID(login.ProfileID)
	if err != nil {
		return err
	}

	createdAt := login.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO logins (token, user_id, provider, profile_id, redirect_uri, expected, provider_uri, complete, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		login.Token, userID, login.Provider, profileID, login.RedirectURI,
		login.Expected, login.ProviderURI, login.Complete, createdAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "logins_pkey" {
		return relmeauth.ErrDuplicateToken
	}

	return err
}

const loginColumns = `
	l.token, l.user_id::text, u.href, l.provider, l.profile_id::text, l.redirect_uri,
	l.expected, l.provider_uri, l.complete, l.rejected, l.created_at, l.last_used_at, l.used_count`

func scanLogin(row pgx.Row) (relmeauth.Login, error) {
	var login relmeauth.Login

	err := row.Scan(&login.Token, &login.UserID, &login.Me, &login.Provider, &login.ProfileID,
		&login.RedirectURI, &login.Expected, &login.ProviderURI, &login.Complete, &login.Rejected,
		&login.CreatedAt, &login.LastUsedAt, &login.UsedCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return login, relmeauth.ErrTokenNotFound
	}

	return login, err
}

func (s *Postgres) Login(ctx context.Context, token string) (relmeauth.Login, error) {
	return scanLogin(s.pool.QueryRow(ctx,
		"SELECT "+loginColumns+" FROM logins l JOIN users u ON u.id = l.user_id WHERE l.token = $1",
		token))
}

func (s *Postgres) CompleteLogin(ctx context.Context, token string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE logins SET complete = true WHERE token = $1 AND NOT rejected",
		token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := s.Login(ctx, token); err != nil {
		return err
	}

	return relmeauth.ErrLoginRejected
}

func (s *Postgres) RejectLogin(ctx context.Context, token string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE logins SET rejected = true WHERE token = $1 AND NOT complete",
		token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, err = s.Login(ctx, token)
	return err
}

func (s *Postgres) UseLogin(ctx context.Context, token string, at time.Time) (relmeauth.Login, error) {
	login, err := scanLogin(s.pool.QueryRow(ctx, `
		WITH l AS (
			UPDATE logins SET used_count = used_count + 1, last_used_at = $2
			WHERE token = $1 AND complete
			RETURNING *
		)
		SELECT `+loginColumns+` FROM l JOIN users u ON u.id = l.user_id`,
		token, at))
	if !errors.Is(err, relmeauth.ErrTokenNotFound) {
		return login, err
	}

	existing, err := s.Login(ctx, token)
	if err != nil {
		return login, err
	}
	if existing.Rejected {
		return login, relmeauth.ErrLoginRejected
	}

	return login, relmeauth.ErrLoginIncomplete
}
