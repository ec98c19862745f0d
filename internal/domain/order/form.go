package order

import (
	"fmt"
	"maps"
	"net/mail"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/xenking/storefront/internal/domain/identity"
)

const maxNotesLen = 1000

// CheckoutForm is the shopper-supplied checkout input.
type CheckoutForm struct {
	// Email is optional for signed-in shoppers; their account email is used.
	Email      string
	CouponCode string
	Notes      string
	// UseStoredAddress takes the signed-in shopper's default address and
	// ignores Address.
	UseStoredAddress bool
	Address          identity.Address
}

// ValidationError lists checkout form problems keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := slices.Sorted(maps.Keys(e.Fields))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", k, e.Fields[k])
	}
	return "invalid checkout form: " + strings.Join(parts, "; ")
}

// Normalize trims whitespace and upper-cases the country code.
func (f *CheckoutForm) Normalize() {
	f.Email = strings.TrimSpace(f.Email)
	f.CouponCode = strings.TrimSpace(f.CouponCode)
	f.Notes = strings.TrimSpace(f.Notes)
	a := &f.Address
	for _, s := range []*string{&a.FullName, &a.Phone, &a.Line1, &a.Line2, &a.City, &a.Region, &a.PostalCode} {
		*s = strings.TrimSpace(*s)
	}
	a.CountryCode = strings.ToUpper(strings.TrimSpace(a.CountryCode))
}

// Validate checks the form shape for the given actor. It returns nil or a
// *ValidationError.
func (f *CheckoutForm) Validate(actor identity.Actor) error {
	fields := make(map[string]string)

	switch {
	case f.Email == "" && !actor.Authenticated():
		fields["email"] = "required"
	case f.Email != "":
		if _, err := mail.ParseAddress(f.Email); err != nil {
			fields["email"] = "invalid email address"
		}
	}
	if utf8.RuneCountInString(f.Notes) > maxNotesLen {
		fields["notes"] = fmt.Sprintf("must be at most %d characters", maxNotesLen)
	}

	if f.UseStoredAddress {
		if !actor.Authenticated() {
			fields["use_stored_address"] = "requires a signed-in user"
		}
	} else {
		a := f.Address
		required := map[string]string{
			"full_name":    a.FullName,
			"line1":        a.Line1,
			"city":         a.City,
			"postal_code":  a.PostalCode,
			"country_code": a.CountryCode,
		}
		for k, v := range required {
			if v == "" {
				fields[k] = "required"
			}
		}
		if a.CountryCode != "" && !validCountryCode(a.CountryCode) {
			fields["country_code"] = "must be a two-letter country code"
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func validCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
