// Package couchbase implements store.Store on Couchbase. Every entity lives
// in its own collection of the application scope; natural keys (normalized
// names) are the document keys, so lookups are KV gets and duplicate
// creates fail with store.ErrConflict.
package couchbase

import (
	"context"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/rs/zerolog/log"

	"lumavet.pet/lumavet/internal/domain"
	"lumavet.pet/lumavet/internal/store"
)

// Store is the Couchbase backend
type Store struct {
	conn   *Connection
	claims claims
}

var _ store.Store = (*Store)(nil)

// Open connects to the cluster and, when ensureSchema is set, creates the
// scope, collections and indexes
func Open(ctx context.Context, cfg Config, ensureSchema bool) (*Store, error) {
	conn, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	if ensureSchema {
		if err := conn.EnsureSchema(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return New(conn), nil
}

// New wraps an established connection
func New(conn *Connection) *Store {
	return &Store{
		conn:   conn,
		claims: claims{docs: documents{col: conn.collection(colClaims)}, now: time.Now},
	}
}

// Close closes the connection
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) docs(collection string) documents {
	return documents{col: s.conn.collection(collection)}
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	if err := s.claims.acquire(ctx, claimUsername, u.Username, u.ID); err != nil {
		return err
	}
	if u.Email != "" {
		if err := s.claims.acquire(ctx, claimEmail, u.Email, u.ID); err != nil {
			s.claims.release(ctx, claimUsername, u.Username, u.ID)
			return err
		}
	}
	if err := s.docs(colUsers).insert(ctx, u.ID, u); err != nil {
		s.claims.release(ctx, claimUsername, u.Username, u.ID)
		if u.Email != "" {
			s.claims.release(ctx, claimEmail, u.Email, u.ID)
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	if _, err := s.docs(colUsers).get(ctx, id, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	if store.NormalizeKey(username) == "" {
		return nil, store.ErrNotFound
	}
	id, err := s.claims.owner(ctx, claimUsername, username)
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	if store.NormalizeKey(email) == "" {
		return nil, store.ErrNotFound
	}
	id, err := s.claims.owner(ctx, claimEmail, email)
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// UpdateUser replaces the account, moving the username and email claims
// when they change
func (s *Store) UpdateUser(ctx context.Context, u *domain.User) error {
	var old domain.User
	cas, err := s.docs(colUsers).get(ctx, u.ID, &old)
	if err != nil {
		return err
	}

	nameChanged := store.NormalizeKey(old.Username) != store.NormalizeKey(u.Username)
	emailChanged := store.NormalizeKey(old.Email) != store.NormalizeKey(u.Email)

	if nameChanged {
		if err := s.claims.acquire(ctx, claimUsername, u.Username, u.ID); err != nil {
			return err
		}
	}
	if emailChanged && u.Email != "" {
		if err := s.claims.acquire(ctx, claimEmail, u.Email, u.ID); err != nil {
			if nameChanged {
				s.claims.release(ctx, claimUsername, u.Username, u.ID)
			}
			return err
		}
	}

	if err := s.docs(colUsers).replace(ctx, u.ID, u, cas); err != nil {
		if nameChanged {
			s.claims.release(ctx, claimUsername, u.Username, u.ID)
		}
		if emailChanged && u.Email != "" {
			s.claims.release(ctx, claimEmail, u.Email, u.ID)
		}
		return err
	}

	if nameChanged {
		s.claims.release(ctx, claimUsername, old.Username, u.ID)
	}
	if emailChanged && old.Email != "" {
		s.claims.release(ctx, claimEmail, old.Email, u.ID)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	query := fmt.Sprintf("SELECT u.* FROM %s u ORDER BY u.username", s.conn.keyspace(colUsers))
	rows, err := s.conn.cluster.Query(query, consistentQuery(ctx, nil))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := []*domain.User{}
	for rows.Next() {
		var u domain.User
		if err := rows.Row(&u); err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable user row")
			continue
		}
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	var p domain.Profile
	if _, err := s.docs(colProfiles).get(ctx, userID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) SaveProfile(ctx context.Context, p *domain.Profile) error {
	return s.docs(colProfiles).upsert(ctx, p.UserID, p)
}

// consistentQuery waits for pending index updates, so results reflect every
// write acknowledged before the query
func consistentQuery(ctx context.Context, params map[string]interface{}) *gocb.QueryOptions {
	return &gocb.QueryOptions{
		Context:         ctx,
		NamedParameters: params,
		ScanConsistency: gocb.QueryScanConsistencyRequestPlus,
	}
}
