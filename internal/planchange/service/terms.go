package service

import (
	"github.com/smallbiznis/contractbilling/internal/catalog"
	contractdomain "github.com/smallbiznis/contractbilling/internal/contract/domain"
	"github.com/smallbiznis/contractbilling/internal/fee"
	planchangedomain "github.com/smallbiznis/contractbilling/internal/planchange/domain"
)

// ApplyTerms copies the requested terms onto the contract and recomputes the
// derived fee fields from the prices captured at request time. A non-nil
// charge is added to whatever prorated charge the contract already carries to
// its next invoice; nothing here removes an uninvoiced charge.
func ApplyTerms(contract *contractdomain.Contract, change planchangedomain.PendingPlanChange, charge *fee.ProratedCharge) error {
	if charge != nil && charge.Amount != 0 {
		contract.ProratedCharge += charge.Amount
		contract.ProratedChargeDescription = joinDescriptions(contract.ProratedChargeDescription, charge.Description)
		if contract.ProratedCharge == 0 {
			contract.ProratedChargeDescription = ""
		}
	}

	var prorated *fee.ProratedCharge
	if contract.ProratedCharge != 0 {
		prorated = &fee.ProratedCharge{
			Amount:      contract.ProratedCharge,
			Description: contract.ProratedChargeDescription,
		}
	}

	totals, err := fee.Recompute(fee.Input{
		PlanTier:       change.Requested.PlanTier,
		BaseMonthlyFee: change.Requested.BaseFee,
		Package:        change.Requested.Package,
		PackagePrices:  catalog.SnapshotPrices(change.Requested.Package, change.Requested.PackageFee),
		BillingCycle:   contract.BillingCycle,
		ProratedCharge: prorated,
	})
	if err != nil {
		return err
	}

	contract.PlanTier = change.Requested.PlanTier
	contract.SeatLimit = change.Requested.SeatLimit
	contract.Package = change.Requested.Package
	contract.BaseMonthlyFee = totals.BaseMonthlyFee
	contract.PackageMonthlyFee = totals.PackageMonthlyFee
	contract.TotalMonthlyFee = totals.TotalMonthlyFee
	return nil
}

func joinDescriptions(carried, added string) string {
	switch {
	case carried == "":
		return added
	case added == "":
		return carried
	default:
		return carried + "; " + added
	}
}

func termsOf(contract *contractdomain.Contract) planchangedomain.Terms {
	return planchangedomain.Terms{
		PlanTier:   contract.PlanTier,
		BaseFee:    contract.BaseMonthlyFee,
		SeatLimit:  contract.SeatLimit,
		Package:    contract.Package,
		PackageFee: contract.PackageMonthlyFee,
	}
}
