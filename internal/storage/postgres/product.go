package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/product"
)

const (
	productColumns = `id, sku, name, description, price, compare_at_price, stock, status::text,
		COALESCE(category_id, 0), created_at`

	getProductByIDSQL   = `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`

	// The stock guard in the WHERE clause makes the decrement atomic: a
	// concurrent checkout that drained the row matches nothing.
	decrementStockSQL = `UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`
	incrementStockSQL = `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`
	productExistsSQL  = `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`

	upsertProductSQL = `INSERT INTO products (sku, name, description, price, compare_at_price, stock, status, category_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8::bigint, 0))
		ON CONFLICT (sku) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description, price = EXCLUDED.price,
			compare_at_price = EXCLUDED.compare_at_price, stock = EXCLUDED.stock,
			status = EXCLUDED.status, category_id = EXCLUDED.category_id, updated_at = now()
		RETURNING id, created_at`

	upsertCategorySQL = `INSERT INTO categories (slug, name) VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name RETURNING id`
)

var productSort = map[product.Sort]string{
	product.SortNewest:    "created_at DESC, id DESC",
	product.SortPriceAsc:  "price ASC, id DESC",
	product.SortPriceDesc: "price DESC, id DESC",
	product.SortName:      "name ASC, id DESC",
}

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	db *DB
}

// NewProductRepository returns a ProductRepository that uses db.
func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// List returns active products matching params.
func (r *ProductRepository) List(ctx context.Context, params product.ListParams) ([]product.Product, error) {
	query, args := buildListQuery(params)
	rows, err := r.db.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// buildListQuery renders the catalog query. Only values travel as arguments;
// the ORDER BY clause comes from a fixed table.
func buildListQuery(p product.ListParams) (string, []any) {
	var (
		where = []string{"status = 'active'"}
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if p.Search != "" {
		n := arg("%" + escapeLike(p.Search) + "%")
		s := arg(p.Search)
		where = append(where, "(name ILIKE "+n+" OR description ILIKE "+n+" OR sku = UPPER("+s+"))")
	}
	if p.CategoryID != 0 {
		where = append(where, "category_id = "+arg(p.CategoryID))
	}
	if p.MinPrice.Valid {
		where = append(where, "price >= "+arg(p.MinPrice.Decimal))
	}
	if p.MaxPrice.Valid {
		where = append(where, "price <= "+arg(p.MaxPrice.Decimal))
	}
	if p.InStock {
		where = append(where, "stock > 0")
	}

	order, ok := productSort[p.Sort]
	if !ok {
		order = productSort[product.SortNewest]
	}
	limit := p.Limit
	if limit <= 0 {
		limit = product.DefaultLimit
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(productColumns)
	b.WriteString(" FROM products WHERE ")
	b.WriteString(strings.Join(where, " AND "))
	b.WriteString(" ORDER BY ")
	b.WriteString(order)
	b.WriteString(" LIMIT ")
	b.WriteString(arg(limit))
	b.WriteString(" OFFSET ")
	b.WriteString(arg(p.Offset))
	return b.String(), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	rows, err := r.db.q(ctx).Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %d", id)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %d", id)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []int64) ([]product.Product, error) {
	rows, err := r.db.q(ctx).Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// DecrementStock subtracts qty only when enough stock remains.
func (r *ProductRepository) DecrementStock(ctx context.Context, id int64, qty int) error {
	tag, err := r.db.q(ctx).Exec(ctx, decrementStockSQL, id, qty)
	if err != nil {
		return errors.Wrapf(err, "decrement stock of product %d", id)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.missing(ctx, id, product.ErrInsufficientStock)
}

// IncrementStock returns qty units to stock.
func (r *ProductRepository) IncrementStock(ctx context.Context, id int64, qty int) error {
	tag, err := r.db.q(ctx).Exec(ctx, incrementStockSQL, id, qty)
	if err != nil {
		return errors.Wrapf(err, "increment stock of product %d", id)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// missing tells a vanished product apart from a failed stock guard.
func (r *ProductRepository) missing(ctx context.Context, id int64, otherwise error) error {
	var exists bool
	if err := r.db.q(ctx).QueryRow(ctx, productExistsSQL, id).Scan(&exists); err != nil {
		return errors.Wrapf(err, "check product %d", id)
	}
	if !exists {
		return product.ErrNotFound
	}
	return otherwise
}

// Save inserts or updates p by SKU and sets its ID.
func (r *ProductRepository) Save(ctx context.Context, p *product.Product) error {
	err := r.db.q(ctx).QueryRow(ctx, upsertProductSQL,
		p.SKU, p.Name, p.Description, p.Price, p.CompareAtPrice, p.Stock, string(p.Status), p.CategoryID,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "save product %q", p.SKU)
	}
	return nil
}

// SaveCategory inserts or renames the category with slug and returns its ID.
func (r *ProductRepository) SaveCategory(ctx context.Context, slug, name string) (int64, error) {
	var id int64
	if err := r.db.q(ctx).QueryRow(ctx, upsertCategorySQL, slug, name).Scan(&id); err != nil {
		return 0, errors.Wrapf(err, "save category %q", slug)
	}
	return id, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p      product.Product
		status string
	)
	err := row.Scan(
		&p.ID, &p.SKU, &p.Name, &p.Description, &p.Price, &p.CompareAtPrice,
		&p.Stock, &status, &p.CategoryID, &p.CreatedAt,
	)
	p.Status = product.Status(status)
	return p, err
}
