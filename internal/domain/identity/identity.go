// Package identity carries the request-scoped actor (signed-in user and/or
// anonymous cart token) and the external collaborators that resolve it.
package identity

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrNoSession is returned by a SessionProvider for unknown or expired sessions.
	ErrNoSession = errors.New("session not found")
	// ErrNoAddress is returned by an AddressBook when the user has no stored address.
	ErrNoAddress = errors.New("no stored address")
)

// User is the identity supplied by the session provider.
type User struct {
	ID    int64
	Email string
	Name  string
}

// Actor is the shopper behind a request. UserID is zero for anonymous
// shoppers; CartToken is the value of the anonymous cart cookie, if any.
type Actor struct {
	UserID    int64
	Email     string
	Name      string
	CartToken string
}

// Authenticated reports whether the actor is a signed-in user.
func (a Actor) Authenticated() bool {
	return a.UserID != 0
}

// WithUser returns a copy of a bound to the given user.
func (a Actor) WithUser(u User) Actor {
	a.UserID = u.ID
	a.Email = u.Email
	a.Name = u.Name
	return a
}

type actorKey struct{}

// WithActor stores the actor in ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// FromContext returns the actor stored in ctx, or an anonymous actor without
// a cart token.
func FromContext(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}

// SessionProvider resolves a session identifier to a user.
type SessionProvider interface {
	Lookup(ctx context.Context, sessionID string) (*User, error)
	// Delete ends the session. Unknown sessions are not an error.
	Delete(ctx context.Context, sessionID string) error
}

// Address is a postal shipping address.
type Address struct {
	FullName    string
	Phone       string
	Line1       string
	Line2       string
	City        string
	Region      string
	PostalCode  string
	CountryCode string
}

// AddressBook returns previously stored shipping addresses.
type AddressBook interface {
	DefaultAddress(ctx context.Context, userID int64) (*Address, error)
}
