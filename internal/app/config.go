package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/pricing"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr           string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage        string `default:"postgres" usage:"Storage driver: postgres or memory"`
	DatabaseURL    string `usage:"PostgreSQL connection URL (STOREFRONT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL       string `usage:"Redis URL for sessions; empty disables sign-in" flag:"redis-url"`
	APIKeyPepper   string `usage:"HMAC pepper for API key hashing (STOREFRONT_API_KEY_PEPPER)" flag:"api-key-pepper"`
	SecureCookies  bool   `default:"true" usage:"Mark session and cart cookies Secure" flag:"secure-cookies"`
	DefaultCountry string `default:"US" usage:"Destination used to price carts without an address" flag:"default-country"`

	SessionTTL time.Duration `default:"336h" usage:"Session lifetime, refreshed on use" flag:"session-ttl"`

	Rates     RatesConfig
	Kafka     KafkaConfig
	Outbox    OutboxConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
	Health    HealthConfig
}

// RatesConfig is the tax and shipping table.
type RatesConfig struct {
	TaxPercent       string `default:"0" usage:"Default tax percent" flag:"tax-percent"`
	Shipping         string `default:"0" usage:"Default flat shipping fee" flag:"shipping"`
	FreeShippingOver string `default:"0" usage:"Default free shipping threshold, 0 disables" flag:"free-shipping-over"`
	// Countries overrides the default per destination, one
	// "CC=tax/shipping/free_over" entry each, e.g. "DE=19/4.90/60".
	Countries []string `usage:"Per-country rates as CC=tax/shipping/free_over" flag:"rates-countries"`
}

// KafkaConfig controls order event publishing. No brokers disables the relay.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers" flag:"kafka-brokers"`
	Topic   string   `default:"storefront.orders" usage:"Topic for order events" flag:"kafka-topic"`
}

// OutboxConfig controls the outbox relay.
type OutboxConfig struct {
	Interval time.Duration `default:"1s" usage:"Outbox poll interval" flag:"outbox-interval"`
	Batch    int           `default:"100" usage:"Max events per outbox flush" flag:"outbox-batch"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// HealthConfig sets the liveness thresholds.
type HealthConfig struct {
	Interval      time.Duration `default:"10s"   usage:"Health check interval" flag:"health-interval"`
	MaxGoroutines int           `default:"10000" usage:"Liveness fails above this goroutine count" flag:"health-max-goroutines"`
	MaxGCPause    time.Duration `default:"500ms" usage:"Liveness fails after a longer GC pause" flag:"health-max-gc-pause"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STOREFRONT",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set STOREFRONT_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage)
	}
	if _, err := c.Rates.Policy(); err != nil {
		return errors.Wrap(err, "rates")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisURL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

// Policy parses the table into a pricing.TablePolicy.
func (c RatesConfig) Policy() (pricing.TablePolicy, error) {
	def, err := rateConfig{
		TaxPercent:       c.TaxPercent,
		Shipping:         c.Shipping,
		FreeShippingOver: c.FreeShippingOver,
	}.rate()
	if err != nil {
		return pricing.TablePolicy{}, errors.Wrap(err, "default")
	}
	p := pricing.TablePolicy{Default: def, ByCountry: make(map[string]pricing.Rate, len(c.Countries))}
	for _, entry := range c.Countries {
		code, values, ok := strings.Cut(entry, "=")
		code = strings.ToUpper(strings.TrimSpace(code))
		if !ok || len(code) != 2 {
			return pricing.TablePolicy{}, errors.Errorf("malformed country rate %q", entry)
		}
		var rc rateConfig
		parts := []*string{&rc.TaxPercent, &rc.Shipping, &rc.FreeShippingOver}
		for i, v := range strings.SplitN(values, "/", len(parts)) {
			*parts[i] = strings.TrimSpace(v)
		}
		r, err := rc.rate()
		if err != nil {
			return pricing.TablePolicy{}, errors.Wrapf(err, "country %s", code)
		}
		p.ByCountry[code] = r
	}
	return p, nil
}

type rateConfig struct {
	TaxPercent       string
	Shipping         string
	FreeShippingOver string
}

func (c rateConfig) rate() (pricing.Rate, error) {
	var (
		r   pricing.Rate
		err error
	)
	for _, f := range []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"tax_percent", c.TaxPercent, &r.TaxPercent},
		{"shipping", c.Shipping, &r.Shipping},
		{"free_shipping_over", c.FreeShippingOver, &r.FreeShippingOver},
	} {
		if f.src == "" {
			*f.dst = decimal.Zero
			continue
		}
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return r, errors.Wrap(err, f.name)
		}
		if f.dst.IsNegative() {
			return r, errors.Errorf("%s: must not be negative", f.name)
		}
	}
	return r, nil
}
