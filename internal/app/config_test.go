package app

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRatesConfig_Policy(t *testing.T) {
	p, err := RatesConfig{
		TaxPercent:       "5",
		Shipping:         "7.50",
		FreeShippingOver: "100",
		Countries:        []string{"de=19/4.90/60", " us = 8.25/5"},
	}.Policy()
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(5).Equal(p.Default.TaxPercent))
	assert.True(t, decimal.RequireFromString("7.50").Equal(p.Default.Shipping))

	de := p.ByCountry["DE"]
	assert.True(t, decimal.NewFromInt(19).Equal(de.TaxPercent))
	assert.True(t, decimal.RequireFromString("4.90").Equal(de.Shipping))
	assert.True(t, decimal.NewFromInt(60).Equal(de.FreeShippingOver))

	us := p.ByCountry["US"]
	assert.True(t, decimal.RequireFromString("8.25").Equal(us.TaxPercent))
	assert.True(t, us.FreeShippingOver.IsZero())

	c := p.Charges("us", decimal.NewFromInt(100))
	assert.Equal(t, "8.25", c.Tax.StringFixed(2))
	assert.Equal(t, "5.00", c.Shipping.StringFixed(2))
}

func TestRatesConfig_PolicyErrors(t *testing.T) {
	for _, rc := range []RatesConfig{
		{TaxPercent: "ten"},
		{Shipping: "-1"},
		{Countries: []string{"DE"}},
		{Countries: []string{"DEU=19"}},
		{Countries: []string{"DE=19/x"}},
	} {
		_, err := rc.Policy()
		assert.Error(t, err, "%+v", rc)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{Storage: StoragePostgres}
	require.Error(t, cfg.validate())

	cfg.DatabaseURL = "postgres://localhost/storefront"
	require.NoError(t, cfg.validate())

	require.NoError(t, (&Config{Storage: StorageMemory}).validate())
	require.Error(t, (&Config{Storage: "sqlite"}).validate())
}

func TestConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")
	t.Setenv("PORT", "9000")

	cfg := &Config{Addr: "0.0.0.0:8080", RedisURL: "redis://explicit:6379/1"}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://explicit:6379/1", cfg.RedisURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

func TestOpenStorage_Memory(t *testing.T) {
	s, err := OpenStorage(context.Background(), &Config{Storage: StorageMemory})
	require.NoError(t, err)
	defer s.Close()

	assert.Nil(t, s.Pinger)
	require.NoError(t, s.Tx.InTx(context.Background(), func(ctx context.Context) error {
		_, err := s.Products.GetByIDs(ctx, nil)
		return err
	}))
}
