// Package session stores signed-in shopper sessions in Redis.
package session

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/internal/domain/identity"
)

// DefaultTTL is the idle lifetime of a session.
const DefaultTTL = 14 * 24 * time.Hour

const keyPrefix = "storefront:session:"

var _ identity.SessionProvider = (*Store)(nil)

// Store keeps sessions as Redis hashes. Every successful Lookup extends the
// session by the store's TTL.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewStore creates a Store. A non-positive ttl selects DefaultTTL.
func NewStore(client redis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

func key(sessionID string) string {
	return keyPrefix + sessionID
}

// Create opens a session for u and returns its identifier.
func (s *Store) Create(ctx context.Context, u identity.User) (string, error) {
	if u.ID == 0 {
		return "", errors.New("session requires a user id")
	}
	id := uuid.NewString()
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key(id),
			"user_id", strconv.FormatInt(u.ID, 10),
			"email", u.Email,
			"name", u.Name,
		)
		p.Expire(ctx, key(id), s.ttl)
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "store session")
	}
	return id, nil
}

// Lookup returns the user of the session, or identity.ErrNoSession.
func (s *Store) Lookup(ctx context.Context, sessionID string) (*identity.User, error) {
	if sessionID == "" {
		return nil, identity.ErrNoSession
	}
	fields, err := s.client.HGetAll(ctx, key(sessionID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}
	if len(fields) == 0 {
		return nil, identity.ErrNoSession
	}
	id, err := strconv.ParseInt(fields["user_id"], 10, 64)
	if err != nil || id <= 0 {
		return nil, errors.Errorf("session %q has malformed user id %q", sessionID, fields["user_id"])
	}
	if err := s.client.Expire(ctx, key(sessionID), s.ttl).Err(); err != nil {
		return nil, errors.Wrap(err, "refresh session")
	}
	return &identity.User{ID: id, Email: fields["email"], Name: fields["name"]}, nil
}

// Delete ends the session. Unknown sessions are ignored.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, key(sessionID)).Err(); err != nil {
		return errors.Wrap(err, "delete session")
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
