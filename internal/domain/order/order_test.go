package order

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/identity"
)

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusCreated, StatusPaid, true},
		{StatusCreated, StatusCanceled, true},
		{StatusCreated, StatusShipped, false},
		{StatusCreated, StatusRefunded, false},
		{StatusPaid, StatusProcessing, true},
		{StatusPaid, StatusRefunded, true},
		{StatusProcessing, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusCanceled, false},
		{StatusDelivered, StatusRefunded, true},
		{StatusCanceled, StatusPaid, false},
		{StatusRefunded, StatusCreated, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestNewPublicID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewPublicID()
		assert.True(t, ValidPublicID(id), id)
		assert.Len(t, id, len(publicIDPrefix)+publicIDLen)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 1000)

	for _, bad := range []string{"", "ORD-", "ORD-abcdefghij", "ORD-AAAAAAAAA1", "XYZ-AAAAAAAAAA", "ORD-AAAAAAAAAAA"} {
		assert.False(t, ValidPublicID(bad), bad)
	}
}

func TestCheckoutForm_Validate(t *testing.T) {
	form := CheckoutForm{
		Email: "  user@example.com ",
		Notes: strings.Repeat("n", maxNotesLen+1),
		Address: identity.Address{
			FullName:    " Ada ",
			Line1:       "1 Way",
			City:        "London",
			PostalCode:  "N1",
			CountryCode: " gb ",
		},
	}
	form.Normalize()
	assert.Equal(t, "user@example.com", form.Email)
	assert.Equal(t, "Ada", form.Address.FullName)
	assert.Equal(t, "GB", form.Address.CountryCode)

	err := form.Validate(identity.Actor{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, map[string]string{"notes": "must be at most 1000 characters"}, verr.Fields)
	assert.Equal(t, "invalid checkout form: notes: must be at most 1000 characters", verr.Error())

	form.Notes = ""
	form.Email = ""
	require.NoError(t, form.Validate(identity.Actor{UserID: 1}))
	require.Error(t, form.Validate(identity.Actor{}))

	stored := CheckoutForm{UseStoredAddress: true}
	require.NoError(t, stored.Validate(identity.Actor{UserID: 1}))
}
