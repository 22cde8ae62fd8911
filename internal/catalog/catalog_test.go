package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectionFromList(t *testing.T) {
	cases := []struct {
		name    string
		in      []string
		want    PackageSelection
		wantErr error
	}{
		{name: "single", in: []string{"asset"}, want: PackageAsset},
		{name: "bundle", in: []string{" Both "}, want: PackageBoth},
		{name: "none", in: []string{"none"}, want: PackageNone},
		{name: "empty", in: nil, wantErr: ErrEmptyPackageSelection},
		{name: "blank entries", in: []string{" ", ""}, wantErr: ErrEmptyPackageSelection},
		{name: "two bundles", in: []string{"asset", "both"}, wantErr: ErrMultiplePackageBundles},
		{name: "unknown", in: []string{"gold"}, wantErr: ErrInvalidPackageSelection},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SelectionFromList(tc.in)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPackageSelectionCodes(t *testing.T) {
	assert.Empty(t, PackageNone.Codes())
	assert.Equal(t, []PackageCode{PackageCodeAsset, PackageCodeDX}, PackageBoth.Codes())
}

func TestCatalogBaseFee(t *testing.T) {
	c := DefaultCatalog()

	fee, err := c.BaseFee(PlanTierStandard, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(45000), fee)

	_, err = c.BaseFee(PlanTierStarter, 11)
	assert.ErrorIs(t, err, ErrSeatLimitOutsideTier)

	fee, err = c.BaseFee(PlanTierEnterprise, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(120000), fee)
}

func TestPackageFeeUsesBundlePrice(t *testing.T) {
	prices := DefaultCatalog().Packages

	both, err := prices.PackageFee(PackageBoth)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), both)
	assert.NotEqual(t, prices.Asset+prices.DX, both)
}

func TestCatalogValidate(t *testing.T) {
	require.NoError(t, DefaultCatalog().Validate())

	bad := DefaultCatalog()
	bad.Tiers = append(bad.Tiers, Tier{Code: PlanTierStarter, BaseFee: 1})
	assert.Error(t, bad.Validate())
}

func TestSnapshotPrices(t *testing.T) {
	prices := SnapshotPrices(PackageDX, 21000)

	fee, err := prices.PackageFee(PackageDX)
	require.NoError(t, err)
	assert.Equal(t, int64(21000), fee)
	assert.Zero(t, prices.Asset)
	assert.Zero(t, prices.Both)

	none := SnapshotPrices(PackageNone, 500)
	assert.Equal(t, PackagePrices{}, none)
}
