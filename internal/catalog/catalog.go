package catalog

import (
	"errors"
	"strings"
)

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleAnnual  BillingCycle = "annual"
)

func ParseBillingCycle(raw string) (BillingCycle, error) {
	switch BillingCycle(strings.ToLower(strings.TrimSpace(raw))) {
	case BillingCycleMonthly:
		return BillingCycleMonthly, nil
	case BillingCycleAnnual:
		return BillingCycleAnnual, nil
	default:
		return "", ErrInvalidBillingCycle
	}
}

// PlanTier is a seat-count band with its own base fee.
type PlanTier string

const (
	PlanTierStarter    PlanTier = "starter"
	PlanTierStandard   PlanTier = "standard"
	PlanTierBusiness   PlanTier = "business"
	PlanTierEnterprise PlanTier = "enterprise"
)

var planTiers = []PlanTier{
	PlanTierStarter,
	PlanTierStandard,
	PlanTierBusiness,
	PlanTierEnterprise,
}

func PlanTiers() []PlanTier {
	out := make([]PlanTier, len(planTiers))
	copy(out, planTiers)
	return out
}

func ParsePlanTier(raw string) (PlanTier, error) {
	value := PlanTier(strings.ToLower(strings.TrimSpace(raw)))
	for _, tier := range planTiers {
		if tier == value {
			return tier, nil
		}
	}
	return "", ErrInvalidPlanTier
}

// PackageCode identifies one add-on product.
type PackageCode string

const (
	PackageCodeAsset PackageCode = "asset"
	PackageCodeDX    PackageCode = "dx"
)

// PackageSelection is the single priced add-on choice of a contract. Both is
// its own bundle price, not the sum of asset and dx.
type PackageSelection string

const (
	PackageNone  PackageSelection = "none"
	PackageAsset PackageSelection = "asset"
	PackageDX    PackageSelection = "dx"
	PackageBoth  PackageSelection = "both"
)

var (
	ErrInvalidPlanTier         = errors.New("invalid_plan_tier")
	ErrInvalidPackageSelection = errors.New("invalid_package_selection")
	ErrEmptyPackageSelection   = errors.New("empty_package_selection")
	ErrMultiplePackageBundles  = errors.New("multiple_package_bundles")
	ErrInvalidBillingCycle     = errors.New("invalid_billing_cycle")
)

func ParsePackageSelection(raw string) (PackageSelection, error) {
	switch PackageSelection(strings.ToLower(strings.TrimSpace(raw))) {
	case PackageNone:
		return PackageNone, nil
	case PackageAsset:
		return PackageAsset, nil
	case PackageDX:
		return PackageDX, nil
	case PackageBoth:
		return PackageBoth, nil
	default:
		return "", ErrInvalidPackageSelection
	}
}

// SelectionFromList turns a requested package list into exactly one selection.
func SelectionFromList(items []string) (PackageSelection, error) {
	cleaned := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return "", ErrEmptyPackageSelection
	}
	if len(cleaned) > 1 {
		return "", ErrMultiplePackageBundles
	}
	return ParsePackageSelection(cleaned[0])
}

func (p PackageSelection) Valid() bool {
	_, err := ParsePackageSelection(string(p))
	return err == nil
}

// Codes returns the package associations stored for the selection.
func (p PackageSelection) Codes() []PackageCode {
	switch p {
	case PackageAsset:
		return []PackageCode{PackageCodeAsset}
	case PackageDX:
		return []PackageCode{PackageCodeDX}
	case PackageBoth:
		return []PackageCode{PackageCodeAsset, PackageCodeDX}
	default:
		return nil
	}
}
