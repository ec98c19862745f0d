package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/product"
)

// Products implements product.Repository.
type Products struct{ *Store }

// SaveProduct inserts p, or replaces the product with the same ID.
func (s Products) SaveProduct(ctx context.Context, p *product.Product) error {
	defer s.lock(ctx)()
	if p.Stock < 0 {
		return errors.Errorf("product %q: negative stock", p.SKU)
	}
	if p.ID == 0 {
		p.ID = s.d.nextID()
	}
	s.d.products[p.ID] = *p
	return nil
}

func (s Products) List(ctx context.Context, params product.ListParams) ([]product.Product, error) {
	defer s.lock(ctx)()

	search := strings.ToLower(params.Search)
	var out []product.Product
	for _, p := range s.d.products {
		if !p.Status.Purchasable() {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) &&
			!strings.EqualFold(p.SKU, params.Search) {
			continue
		}
		if params.CategoryID != 0 && p.CategoryID != params.CategoryID {
			continue
		}
		if params.MinPrice.Valid && p.Price.LessThan(params.MinPrice.Decimal) {
			continue
		}
		if params.MaxPrice.Valid && p.Price.GreaterThan(params.MaxPrice.Decimal) {
			continue
		}
		if params.InStock && p.Stock <= 0 {
			continue
		}
		out = append(out, p)
	}

	slices.SortFunc(out, func(a, b product.Product) int {
		var c int
		switch params.Sort {
		case product.SortPriceAsc:
			c = a.Price.Cmp(b.Price)
		case product.SortPriceDesc:
			c = b.Price.Cmp(a.Price)
		case product.SortName:
			c = strings.Compare(a.Name, b.Name)
		default:
			c = b.CreatedAt.Compare(a.CreatedAt)
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	limit := params.Limit
	if limit <= 0 {
		limit = product.DefaultLimit
	}
	if params.Offset >= len(out) {
		return []product.Product{}, nil
	}
	out = out[params.Offset:]
	return out[:min(limit, len(out))], nil
}

func (s Products) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	defer s.lock(ctx)()
	p, ok := s.d.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (s Products) GetByIDs(ctx context.Context, ids []int64) ([]product.Product, error) {
	defer s.lock(ctx)()
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.d.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s Products) DecrementStock(ctx context.Context, id int64, qty int) error {
	defer s.lock(ctx)()
	p, ok := s.d.products[id]
	if !ok {
		return product.ErrNotFound
	}
	if p.Stock < qty {
		return product.ErrInsufficientStock
	}
	p.Stock -= qty
	s.d.products[id] = p
	return nil
}

func (s Products) IncrementStock(ctx context.Context, id int64, qty int) error {
	defer s.lock(ctx)()
	p, ok := s.d.products[id]
	if !ok {
		return product.ErrNotFound
	}
	p.Stock += qty
	s.d.products[id] = p
	return nil
}
