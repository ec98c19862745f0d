package product

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sort enumerates the recognized catalog orderings.
type Sort string

const (
	SortNewest    Sort = "newest"
	SortPriceAsc  Sort = "price_asc"
	SortPriceDesc Sort = "price_desc"
	SortName      Sort = "name"
)

const (
	DefaultLimit = 24
	MaxLimit     = 100
)

// ListParams is the fixed set of catalog filters. Zero values mean "no filter".
type ListParams struct {
	Search     string
	CategoryID int64
	MinPrice   decimal.NullDecimal
	MaxPrice   decimal.NullDecimal
	InStock    bool
	Sort       Sort
	Limit      int
	Offset     int
}

// InvalidParamError reports a query parameter that could not be recognized.
type InvalidParamError struct {
	Param  string
	Reason string
}

func (e *InvalidParamError) Error() string {
	return "invalid " + e.Param + ": " + e.Reason
}

// ParseListParams recognizes the catalog filter keys in q. Unknown keys are
// ignored; malformed values of recognized keys are errors.
func ParseListParams(q url.Values) (ListParams, error) {
	p := ListParams{
		Search: strings.TrimSpace(q.Get("q")),
		Sort:   SortNewest,
		Limit:  DefaultLimit,
	}

	if v := q.Get("category"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return p, &InvalidParamError{Param: "category", Reason: "must be a positive integer"}
		}
		p.CategoryID = id
	}
	for _, bound := range []struct {
		key string
		dst *decimal.NullDecimal
	}{
		{"min_price", &p.MinPrice},
		{"max_price", &p.MaxPrice},
	} {
		v := q.Get(bound.key)
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			return p, &InvalidParamError{Param: bound.key, Reason: "must be a non-negative decimal"}
		}
		*bound.dst = decimal.NewNullDecimal(d)
	}
	if v := q.Get("in_stock"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return p, &InvalidParamError{Param: "in_stock", Reason: "must be a boolean"}
		}
		p.InStock = b
	}
	if v := q.Get("sort"); v != "" {
		switch s := Sort(v); s {
		case SortNewest, SortPriceAsc, SortPriceDesc, SortName:
			p.Sort = s
		default:
			return p, &InvalidParamError{Param: "sort", Reason: "unknown sort key " + strconv.Quote(v)}
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return p, &InvalidParamError{Param: "limit", Reason: "must be a positive integer"}
		}
		p.Limit = min(n, MaxLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, &InvalidParamError{Param: "offset", Reason: "must be a non-negative integer"}
		}
		p.Offset = n
	}

	if p.MinPrice.Valid && p.MaxPrice.Valid && p.MinPrice.Decimal.GreaterThan(p.MaxPrice.Decimal) {
		return p, errors.Wrap(&InvalidParamError{Param: "min_price", Reason: "exceeds max_price"}, "price range")
	}
	return p, nil
}
