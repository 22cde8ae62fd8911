package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smallbiznis/contractbilling/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPricingDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	holder, err := NewPricingConfigHolder(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 30, holder.NoticeDays())
	assert.Equal(t, 3, holder.GraceDays())
	fee, err := holder.Catalog().BaseFee(catalog.PlanTierStandard, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(45000), fee)
}

func TestPricingLoadsFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	content := `
pricing:
  catalog:
    tiers:
      - code: starter
        maxSeats: 5
        baseFee: 10000
      - code: business
        maxSeats: 0
        baseFee: 90000
    packages:
      asset: 1000
      dx: 2000
      both: 2500
    processorPrices:
      "business:none": price_business
  planChange:
    noticeDays: 45
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pricing.yml"), []byte(content), 0o600))

	holder, err := NewPricingConfigHolder(zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 45, cfg.PlanChange.NoticeDays)
	assert.Equal(t, 3, cfg.PlanChange.GraceDays)
	assert.Len(t, cfg.Catalog.Tiers, 2)
	assert.Equal(t, int64(2500), cfg.Catalog.Packages.Both)

	fee, err := cfg.Catalog.BaseFee(catalog.PlanTierBusiness, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(90000), fee)
}

func TestPricingRejectsShortNotice(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	content := `
pricing:
  planChange:
    noticeDays: 7
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pricing.yml"), []byte(content), 0o600))

	_, err := NewPricingConfigHolder(zap.NewNop())
	assert.Error(t, err)
}

func TestStaticPricingAppliesDefaults(t *testing.T) {
	holder := NewStaticPricingConfig(PricingConfig{Catalog: catalog.DefaultCatalog()})
	assert.Equal(t, 30, holder.NoticeDays())
	assert.Equal(t, 3, holder.GraceDays())
	assert.NotNil(t, holder.Catalog().ProcessorPrices)
}
