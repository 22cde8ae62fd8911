package catalog

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
)

// Tier is one entry of the plan catalog.
type Tier struct {
	Code     PlanTier `mapstructure:"code" json:"code"`
	MaxSeats int      `mapstructure:"maxSeats" json:"max_seats"`
	BaseFee  int64    `mapstructure:"baseFee" json:"base_fee"`
}

// PackagePrices are monthly add-on prices. Both is a bundle price.
type PackagePrices struct {
	Asset int64 `mapstructure:"asset" json:"asset"`
	DX    int64 `mapstructure:"dx" json:"dx"`
	Both  int64 `mapstructure:"both" json:"both"`
}

// Catalog resolves tier and package prices plus the processor price ids used
// by processor-managed contracts, keyed "<tier>:<package>".
type Catalog struct {
	Tiers           []Tier            `mapstructure:"tiers" json:"tiers"`
	Packages        PackagePrices     `mapstructure:"packages" json:"packages"`
	ProcessorPrices map[string]string `mapstructure:"processorPrices" json:"processor_prices"`
}

var (
	ErrUnknownTier           = errors.New("unknown_plan_tier")
	ErrSeatLimitOutsideTier  = errors.New("seat_limit_outside_tier")
	ErrMissingProcessorPrice = errors.New("missing_processor_price")
)

func (c Catalog) Tier(code PlanTier) (Tier, error) {
	tier, ok := lo.Find(c.Tiers, func(t Tier) bool { return t.Code == code })
	if !ok {
		return Tier{}, ErrUnknownTier
	}
	return tier, nil
}

// BaseFee returns the tier's base fee after checking the seat limit fits the
// tier's band. A MaxSeats of zero means the band is open ended.
func (c Catalog) BaseFee(code PlanTier, seatLimit int) (int64, error) {
	tier, err := c.Tier(code)
	if err != nil {
		return 0, err
	}
	if seatLimit <= 0 || (tier.MaxSeats > 0 && seatLimit > tier.MaxSeats) {
		return 0, ErrSeatLimitOutsideTier
	}
	return tier.BaseFee, nil
}

// PackageFee returns the single monthly price of a selection.
func (p PackagePrices) PackageFee(selection PackageSelection) (int64, error) {
	switch selection {
	case PackageNone:
		return 0, nil
	case PackageAsset:
		return p.Asset, nil
	case PackageDX:
		return p.DX, nil
	case PackageBoth:
		return p.Both, nil
	default:
		return 0, ErrInvalidPackageSelection
	}
}

func ProcessorPriceKey(tier PlanTier, selection PackageSelection) string {
	return fmt.Sprintf("%s:%s", tier, selection)
}

func (c Catalog) ProcessorPrice(tier PlanTier, selection PackageSelection) (string, error) {
	id, ok := c.ProcessorPrices[ProcessorPriceKey(tier, selection)]
	if !ok || id == "" {
		return "", ErrMissingProcessorPrice
	}
	return id, nil
}

// DefaultCatalog is used when no pricing file is mounted.
func DefaultCatalog() Catalog {
	return Catalog{
		Tiers: []Tier{
			{Code: PlanTierStarter, MaxSeats: 10, BaseFee: 18000},
			{Code: PlanTierStandard, MaxSeats: 30, BaseFee: 45000},
			{Code: PlanTierBusiness, MaxSeats: 50, BaseFee: 70000},
			{Code: PlanTierEnterprise, MaxSeats: 0, BaseFee: 120000},
		},
		Packages: PackagePrices{
			Asset: 18000,
			DX:    18000,
			Both:  30000,
		},
		ProcessorPrices: map[string]string{},
	}
}

func (c Catalog) Validate() error {
	if len(c.Tiers) == 0 {
		return errors.New("pricing.tiers cannot be empty")
	}
	seen := map[PlanTier]struct{}{}
	for _, tier := range c.Tiers {
		if _, err := ParsePlanTier(string(tier.Code)); err != nil {
			return fmt.Errorf("pricing.tiers: %w", err)
		}
		if _, dup := seen[tier.Code]; dup {
			return fmt.Errorf("pricing.tiers: duplicate tier %s", tier.Code)
		}
		seen[tier.Code] = struct{}{}
		if tier.BaseFee < 0 || tier.MaxSeats < 0 {
			return fmt.Errorf("pricing.tiers: negative values for %s", tier.Code)
		}
	}
	if c.Packages.Asset < 0 || c.Packages.DX < 0 || c.Packages.Both < 0 {
		return errors.New("pricing.packages cannot be negative")
	}
	return nil
}

// SnapshotPrices builds a price list that carries amount for selection only.
// It replays a price captured when a change was requested.
func SnapshotPrices(selection PackageSelection, amount int64) PackagePrices {
	var prices PackagePrices
	switch selection {
	case PackageAsset:
		prices.Asset = amount
	case PackageDX:
		prices.DX = amount
	case PackageBoth:
		prices.Both = amount
	}
	return prices
}
