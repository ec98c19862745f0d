package memory

import (
	"context"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/identity"
)

// Users holds shoppers and their default addresses.
type Users struct{ *Store }

// CreateUser inserts u and sets its ID.
func (s Users) CreateUser(ctx context.Context, u *identity.User) error {
	defer s.lock(ctx)()
	u.ID = s.d.nextID()
	s.d.users[u.ID] = *u
	return nil
}

// SetDefaultAddress stores a as the user's default address.
func (s Users) SetDefaultAddress(ctx context.Context, userID int64, a identity.Address) error {
	defer s.lock(ctx)()
	s.d.addresses[userID] = a
	return nil
}

func (s Users) DefaultAddress(ctx context.Context, userID int64) (*identity.Address, error) {
	defer s.lock(ctx)()
	a, ok := s.d.addresses[userID]
	if !ok {
		return nil, identity.ErrNoAddress
	}
	return &a, nil
}

// APIKeys implements auth.Repository.
type APIKeys struct{ *Store }

func (s APIKeys) FindByHash(ctx context.Context, hash string) (*auth.APIKey, error) {
	defer s.lock(ctx)()
	k, ok := s.d.apiKeys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return &k, nil
}

func (s APIKeys) Create(ctx context.Context, k *auth.APIKey) error {
	defer s.lock(ctx)()
	k.ID = s.d.nextID()
	s.d.apiKeys[k.KeyHash] = *k
	return nil
}
