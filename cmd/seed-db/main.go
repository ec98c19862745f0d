package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/identity"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/session"
	"github.com/xenking/storefront/internal/storage/postgres"
)

type options struct {
	databaseURL  string
	redisURL     string
	catalogFile  string
	apiKey       string
	apiKeyPepper string
	userEmail    string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.redisURL, "redis-url", "", "Redis URL; when set, a session for the demo user is created (or REDIS_URL env)")
	flag.StringVar(&opts.catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&opts.apiKey, "api-key", "", "back-office API key to seed (or STOREFRONT_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STOREFRONT_API_KEY_PEPPER env)")
	flag.StringVar(&opts.userEmail, "user-email", "demo@storefront.test", "email of the demo user")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	opts.databaseURL = orEnv(opts.databaseURL, "DATABASE_URL")
	opts.redisURL = orEnv(opts.redisURL, "REDIS_URL")
	opts.apiKey = orEnv(opts.apiKey, "STOREFRONT_SEED_API_KEY")
	opts.apiKeyPepper = orEnv(opts.apiKeyPepper, "STOREFRONT_API_KEY_PEPPER")
	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.apiKey == "" {
		lg.Fatal("API key is required: set --api-key or STOREFRONT_SEED_API_KEY")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func orEnv(v, key string) string {
	if v != "" {
		return v
	}
	return os.Getenv(key)
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	lg.Info("Running migrations")
	if err := postgres.Migrate(opts.databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()
	db := postgres.NewDB(pool)

	var user identity.User
	err = db.InTx(ctx, func(ctx context.Context) error {
		categories, err := seedCatalog(ctx, lg, postgres.NewProductRepository(db), opts.catalogFile)
		if err != nil {
			return errors.Wrap(err, "seed catalog")
		}
		if err := seedCoupons(ctx, lg, postgres.NewCouponRepository(db), categories); err != nil {
			return errors.Wrap(err, "seed coupons")
		}
		if user, err = seedUser(ctx, lg, postgres.NewUserRepository(db), opts.userEmail); err != nil {
			return errors.Wrap(err, "seed user")
		}
		return seedAPIKey(ctx, lg, postgres.NewAPIKeyRepository(db), opts.apiKey, opts.apiKeyPepper)
	})
	if err != nil {
		return err
	}

	if opts.redisURL == "" {
		return nil
	}
	return seedSession(ctx, lg, opts.redisURL, user)
}

// catalog is the seed catalog grouped by category slug.
type catalog struct {
	names    map[string]string
	products map[string][]product.Product
}

func readCatalog(path string) (*catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog file")
	}
	c := &catalog{
		names:    make(map[string]string),
		products: make(map[string][]product.Product),
	}

	d := jx.DecodeBytes(data)
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "categories" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var (
				slug, name string
				items      []product.Product
			)
			err := d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
				switch string(key) {
				case "slug":
					slug, err = d.Str()
				case "name":
					name, err = d.Str()
				case "products":
					err = d.Arr(func(d *jx.Decoder) error {
						p, err := decodeProduct(d)
						if err != nil {
							return err
						}
						items = append(items, p)
						return nil
					})
				default:
					err = d.Skip()
				}
				return err
			})
			if err != nil {
				return err
			}
			if slug == "" {
				return errors.New("category without slug")
			}
			c.names[slug] = name
			c.products[slug] = append(c.products[slug], items...)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "parse catalog")
	}
	return c, nil
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	p := product.Product{Status: product.StatusActive}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var (
			s   string
			err error
		)
		switch string(key) {
		case "sku":
			p.SKU, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "price":
			if s, err = d.Str(); err == nil {
				p.Price, err = decimal.NewFromString(s)
			}
		case "compare_at_price":
			if s, err = d.Str(); err == nil {
				p.CompareAtPrice.Decimal, err = decimal.NewFromString(s)
				p.CompareAtPrice.Valid = err == nil
			}
		case "stock":
			p.Stock, err = d.Int()
		case "status":
			if s, err = d.Str(); err == nil {
				p.Status = product.Status(s)
			}
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	return p, err
}

func seedCatalog(ctx context.Context, lg *zap.Logger, repo *postgres.ProductRepository, path string) (map[string]int64, error) {
	lg.Info("Reading catalog file", zap.String("path", path))
	c, err := readCatalog(path)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]int64, len(c.names))
	for slug, name := range c.names {
		id, err := repo.SaveCategory(ctx, slug, name)
		if err != nil {
			return nil, err
		}
		ids[slug] = id

		for _, p := range c.products[slug] {
			p.CategoryID = id
			if err := repo.Save(ctx, &p); err != nil {
				return nil, err
			}
			lg.Info("Upserted product",
				zap.Int64("id", p.ID),
				zap.String("sku", p.SKU),
				zap.String("category", slug),
			)
		}
	}
	return ids, nil
}

func seedCoupons(ctx context.Context, lg *zap.Logger, repo *postgres.CouponRepository, categories map[string]int64) error {
	now := time.Now().UTC()
	endOfSeason := now.AddDate(0, 3, 0)
	coupons := []coupon.Coupon{
		{
			Code:        "WELCOME10",
			Type:        pricing.DiscountPercent,
			Value:       decimal.NewFromInt(10),
			Description: "10% off your order",
			IsActive:    true,
		},
		{
			Code:        "SAVE5",
			Type:        pricing.DiscountFixed,
			Value:       decimal.NewFromInt(5),
			Description: "5 off orders of 30 or more",
			MinSubtotal: decimal.NewNullDecimal(decimal.NewFromInt(30)),
			IsActive:    true,
		},
		{
			Code:                "KITCHEN20",
			Type:                pricing.DiscountPercent,
			Value:               decimal.NewFromInt(20),
			Description:         "20% off kitchen gear this season",
			StartsAt:            &now,
			EndsAt:              &endOfSeason,
			EligibleCategoryIDs: []int64{categories["kitchen"]},
			IsActive:            true,
		},
		{
			Code:           "FIRSTBREW",
			Type:           pricing.DiscountFixed,
			Value:          decimal.NewFromInt(8),
			Description:    "8 off, once per customer, first 100 orders",
			MaxUses:        100,
			MaxUsesPerUser: 1,
			IsActive:       true,
		},
	}

	for i := range coupons {
		c := &coupons[i]
		if err := repo.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}
		lg.Info("Upserted coupon", zap.String("code", c.Code), zap.String("description", c.Description))
	}
	return nil
}

func seedUser(ctx context.Context, lg *zap.Logger, repo *postgres.UserRepository, email string) (identity.User, error) {
	u := identity.User{Email: email, Name: "Demo Shopper"}
	if err := repo.Save(ctx, &u); err != nil {
		return u, err
	}
	err := repo.SetDefaultAddress(ctx, u.ID, identity.Address{
		FullName:    "Demo Shopper",
		Phone:       "+1 555 0100",
		Line1:       "742 Evergreen Terrace",
		City:        "Springfield",
		Region:      "OR",
		PostalCode:  "97403",
		CountryCode: "US",
	})
	if err != nil {
		return u, errors.Wrap(err, "set default address")
	}
	lg.Info("Upserted user", zap.Int64("id", u.ID), zap.String("email", u.Email))
	return u, nil
}

func seedAPIKey(ctx context.Context, lg *zap.Logger, repo *postgres.APIKeyRepository, key, pepper string) error {
	k := &auth.APIKey{
		KeyHash: auth.HashKey([]byte(pepper), key),
		Name:    "Seeded back-office key",
		Scopes:  []string{auth.ScopeOrdersRead, auth.ScopeOrdersWrite},
	}
	if err := repo.Create(ctx, k); err != nil {
		return err
	}
	lg.Info("Upserted API key", zap.Int64("id", k.ID), zap.Strings("scopes", k.Scopes))
	return nil
}

func seedSession(ctx context.Context, lg *zap.Logger, redisURL string, u identity.User) error {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)
	defer func() { _ = rdb.Close() }()

	id, err := session.NewStore(rdb, session.DefaultTTL).Create(ctx, u)
	if err != nil {
		return errors.Wrap(err, "create session")
	}
	lg.Info("Created session for demo user; send it as the sid cookie",
		zap.String("sid", id),
		zap.String("email", u.Email),
	)
	return nil
}
