package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contractbilling/internal/catalog"
	"github.com/smallbiznis/contractbilling/internal/clock"
	"github.com/smallbiznis/contractbilling/internal/config"
	contractdomain "github.com/smallbiznis/contractbilling/internal/contract/domain"
	"github.com/smallbiznis/contractbilling/internal/contract/repository"
	"github.com/smallbiznis/contractbilling/internal/fee"
	"github.com/smallbiznis/contractbilling/internal/orgcontext"
	"github.com/smallbiznis/contractbilling/internal/testing/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, now time.Time) (*Service, *clock.FakeClock) {
	t.Helper()
	fake := clock.NewFakeClock(now)
	svc := NewService(ServiceParam{
		DB:      dbtest.Open(t),
		Log:     zap.NewNop(),
		GenID:   dbtest.Node(t),
		Clock:   fake,
		Pricing: config.NewStaticPricingConfig(config.DefaultPricingConfig()),
		Repo:    repository.Provide(),
	}).(*Service)
	return svc, fake
}

func validRequest() contractdomain.CreateContractRequest {
	return contractdomain.CreateContractRequest{
		OrganizationID:       "1001",
		PlanTier:             "standard",
		SeatLimit:            25,
		Package:              "both",
		BillingCycle:         "monthly",
		BillingDay:           1,
		OneTimeFee:           50000,
		FirstInvoiceDiscount: 5000,
	}
}

func TestCreateDerivesFees(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC))
	ctx := context.Background()

	contract, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	assert.Equal(t, catalog.PlanTierStandard, contract.PlanTier)
	assert.Equal(t, int64(45000), contract.BaseMonthlyFee)
	assert.Equal(t, int64(30000), contract.PackageMonthlyFee)
	assert.Equal(t, int64(75000), contract.TotalMonthlyFee)
	assert.Equal(t, contractdomain.BillingModeInvoice, contract.BillingMode)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), contract.StartDate)

	packages, err := svc.repo.ListPackages(ctx, svc.db, contract.ID)
	require.NoError(t, err)
	require.Len(t, packages, 2)
	assert.Equal(t, catalog.PackageCodeAsset, packages[0].PackageCode)
	assert.Equal(t, catalog.PackageCodeDX, packages[1].PackageCode)

	loaded, err := svc.Get(ctx, contract.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(75000), loaded.TotalMonthlyFee)
	assert.Equal(t, int64(1), loaded.Version)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(r *contractdomain.CreateContractRequest)
		want   error
	}{
		{"seat outside tier", func(r *contractdomain.CreateContractRequest) { r.SeatLimit = 31 }, contractdomain.ErrInvalidSeatLimit},
		{"billing day 29", func(r *contractdomain.CreateContractRequest) { r.BillingDay = 29 }, contractdomain.ErrInvalidBillingDay},
		{"unknown tier", func(r *contractdomain.CreateContractRequest) { r.PlanTier = "gold" }, contractdomain.ErrInvalidContract},
		{"zero seats", func(r *contractdomain.CreateContractRequest) { r.SeatLimit = 0 }, contractdomain.ErrInvalidContract},
		{"bad org", func(r *contractdomain.CreateContractRequest) { r.OrganizationID = "abc" }, contractdomain.ErrInvalidOrganization},
		{"processor without subscription", func(r *contractdomain.CreateContractRequest) { r.BillingMode = "processor" }, contractdomain.ErrMissingSubscription},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			_, err := svc.Create(ctx, req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateOnePerOrganization(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)
	_, err = svc.Create(ctx, validRequest())
	assert.ErrorIs(t, err, contractdomain.ErrContractExists)
}

func TestGetScopesByOrganization(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))

	contract, err := svc.Create(context.Background(), validRequest())
	require.NoError(t, err)

	other := orgcontext.WithOrgID(context.Background(), snowflake.ID(2002))
	_, err = svc.Get(other, contract.ID.String())
	assert.ErrorIs(t, err, contractdomain.ErrContractNotFound)

	_, err = svc.Get(context.Background(), "not-an-id")
	assert.ErrorIs(t, err, contractdomain.ErrContractNotFound)
}

func TestFeeBreakdownFirstAndLaterInvoice(t *testing.T) {
	svc, fake := newTestService(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	contract, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	first, err := svc.FeeBreakdown(ctx, contract.ID.String())
	require.NoError(t, err)
	assert.True(t, first.IsFirstInvoice)
	assert.Equal(t, int64(45000+30000+50000-5000), first.GrandTotal)

	fake.AdvanceDays(40)
	later, err := svc.FeeBreakdown(ctx, contract.ID.String())
	require.NoError(t, err)
	assert.False(t, later.IsFirstInvoice)
	assert.Equal(t, int64(75000), later.GrandTotal)
}

func TestFeeBreakdownUsesStoredPackageFee(t *testing.T) {
	svc, fake := newTestService(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	contract, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	repriced := config.DefaultPricingConfig()
	repriced.Catalog.Packages.Both = 42000
	svc.pricing = config.NewStaticPricingConfig(repriced)

	fake.AdvanceDays(40)
	got, err := svc.FeeBreakdown(ctx, contract.ID.String())
	require.NoError(t, err)
	assert.Equal(t, contract.TotalMonthlyFee, got.GrandTotal)
	assert.Equal(t, int64(30000), got.Items[1].Amount)
}

func TestBreakdownForIncludesProratedCharge(t *testing.T) {
	contract := &contractdomain.Contract{
		PlanTier:                  catalog.PlanTierStarter,
		BaseMonthlyFee:            18000,
		Package:                   catalog.PackageNone,
		ProratedCharge:            -3000,
		ProratedChargeDescription: "Plan change credit",
		BillingCycle:              catalog.BillingCycleMonthly,
		StartDate:                 time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	got, err := BreakdownFor(contract, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, fee.KindProratedCharge, got.Items[1].Kind)
	assert.Equal(t, int64(15000), got.GrandTotal)
}
