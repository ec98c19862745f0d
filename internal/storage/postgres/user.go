package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/identity"
)

const (
	upsertUserSQL = `INSERT INTO users (email, name) VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name RETURNING id`
	getUserSQL = `SELECT id, email, name FROM users WHERE id = $1`

	defaultAddressSQL = `SELECT full_name, phone, line1, line2, city, region, postal_code, country_code
		FROM addresses WHERE user_id = $1 ORDER BY is_default DESC, created_at DESC LIMIT 1`
	clearDefaultAddressSQL = `UPDATE addresses SET is_default = FALSE WHERE user_id = $1 AND is_default`
	insertAddressSQL       = `INSERT INTO addresses (user_id, full_name, phone, line1, line2, city,
			region, postal_code, country_code, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)`
)

var _ identity.AddressBook = (*UserRepository)(nil)

// UserRepository stores shoppers and their address book.
type UserRepository struct {
	db *DB
}

// NewUserRepository returns a UserRepository that uses db.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Save inserts the user or renames the one with the same email, and sets u.ID.
func (r *UserRepository) Save(ctx context.Context, u *identity.User) error {
	if err := r.db.q(ctx).QueryRow(ctx, upsertUserSQL, u.Email, u.Name).Scan(&u.ID); err != nil {
		return errors.Wrapf(err, "save user %q", u.Email)
	}
	return nil
}

// Get returns the user by ID.
func (r *UserRepository) Get(ctx context.Context, id int64) (*identity.User, error) {
	var u identity.User
	err := r.db.q(ctx).QueryRow(ctx, getUserSQL, id).Scan(&u.ID, &u.Email, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.ErrNoSession
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get user %d", id)
	}
	return &u, nil
}

// DefaultAddress returns the user's default address, falling back to the
// most recent one.
func (r *UserRepository) DefaultAddress(ctx context.Context, userID int64) (*identity.Address, error) {
	var a identity.Address
	err := r.db.q(ctx).QueryRow(ctx, defaultAddressSQL, userID).Scan(
		&a.FullName, &a.Phone, &a.Line1, &a.Line2, &a.City, &a.Region, &a.PostalCode, &a.CountryCode,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.ErrNoAddress
	}
	if err != nil {
		return nil, errors.Wrap(err, "get default address")
	}
	return &a, nil
}

// SetDefaultAddress stores a as the user's new default address.
func (r *UserRepository) SetDefaultAddress(ctx context.Context, userID int64, a identity.Address) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		if _, err := q.Exec(ctx, clearDefaultAddressSQL, userID); err != nil {
			return errors.Wrap(err, "clear default address")
		}
		_, err := q.Exec(ctx, insertAddressSQL, userID,
			a.FullName, a.Phone, a.Line1, a.Line2, a.City, a.Region, a.PostalCode, a.CountryCode)
		if err != nil {
			return errors.Wrap(err, "insert address")
		}
		return nil
	})
}
