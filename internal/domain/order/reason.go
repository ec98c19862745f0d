package order

import (
	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

// ReasonInternal is the reason of errors that are not checkout outcomes.
const ReasonInternal = "internal"

var reasons = []struct {
	err    error
	reason string
}{
	{ErrEmptyCart, "empty_cart"},
	{ErrNoStoredAddress, "no_stored_address"},
	{ErrNotFound, "order_not_found"},
	{ErrInvalidTransition, "invalid_transition"},
	{cart.ErrCartNotFound, "cart_not_found"},
	{cart.ErrItemNotFound, "item_not_found"},
	{cart.ErrInvalidQuantity, "invalid_quantity"},
	{cart.ErrProductUnavailable, "product_unavailable"},
	{product.ErrNotFound, "product_not_found"},
	{product.ErrInsufficientStock, "insufficient_stock"},
	{coupon.ErrNotFound, "coupon_not_found"},
	{coupon.ErrNotYetActive, "coupon_not_yet_active"},
	{coupon.ErrExpired, "coupon_expired"},
	{coupon.ErrMinSubtotalNotMet, "min_subtotal_not_met"},
	{coupon.ErrExhausted, "coupon_exhausted"},
	{coupon.ErrPerUserLimitExceeded, "per_user_limit_exceeded"},
	{coupon.ErrNoEligibleItems, "no_eligible_items"},
}

// Reason returns a stable machine-readable code for a checkout error, or
// ReasonInternal for unexpected failures.
func Reason(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return "validation_error"
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonInternal
}
