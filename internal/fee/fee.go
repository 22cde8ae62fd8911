package fee

import (
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/contractbilling/internal/catalog"
)

type LineItemKind string

const (
	KindBaseFee        LineItemKind = "base_fee"
	KindPackage        LineItemKind = "package"
	KindOneTimeFee     LineItemKind = "one_time_fee"
	KindDiscount       LineItemKind = "discount"
	KindProratedCharge LineItemKind = "prorated_charge"
)

const annualMonths = 12

var (
	ErrNegativeFee          = errors.New("negative_fee")
	ErrInvalidBillingCycle  = errors.New("invalid_billing_cycle")
	ErrInvalidPackage       = errors.New("invalid_package_selection")
	ErrMissingStartDate     = errors.New("missing_start_date")
	ErrMissingEvaluationDay = errors.New("missing_evaluation_date")
)

type LineItem struct {
	Description string       `json:"description"`
	Amount      int64        `json:"amount"`
	Kind        LineItemKind `json:"kind"`
}

type Breakdown struct {
	Items          []LineItem `json:"items"`
	Subtotal       int64      `json:"subtotal"`
	DiscountTotal  int64      `json:"discount_total"`
	GrandTotal     int64      `json:"grand_total"`
	IsFirstInvoice bool       `json:"is_first_invoice"`
}

// ProratedCharge is a one-off delta carried to the next invoice. It may be
// negative when the change credits the organization.
type ProratedCharge struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type Input struct {
	PlanTier             catalog.PlanTier
	BaseMonthlyFee       int64
	Package              catalog.PackageSelection
	PackagePrices        catalog.PackagePrices
	BillingCycle         catalog.BillingCycle
	StartDate            time.Time
	AsOf                 time.Time
	OneTimeFee           int64
	FirstInvoiceDiscount int64
	ProratedCharge       *ProratedCharge
}

// Totals are the derived monthly fee fields stored on a contract.
type Totals struct {
	BaseMonthlyFee    int64
	PackageMonthlyFee int64
	TotalMonthlyFee   int64
}

// Calculate builds the itemized fee breakdown for one billing period. It has
// no side effects; equal inputs always produce equal output.
func Calculate(in Input) (Breakdown, error) {
	totals, err := Recompute(in)
	if err != nil {
		return Breakdown{}, err
	}
	if in.OneTimeFee < 0 || in.FirstInvoiceDiscount < 0 {
		return Breakdown{}, ErrNegativeFee
	}
	if in.StartDate.IsZero() {
		return Breakdown{}, ErrMissingStartDate
	}
	if in.AsOf.IsZero() {
		return Breakdown{}, ErrMissingEvaluationDay
	}

	multiplier := int64(1)
	suffix := ""
	if in.BillingCycle == catalog.BillingCycleAnnual {
		multiplier = annualMonths
		suffix = " (annual)"
	}

	items := make([]LineItem, 0, 5)
	if totals.BaseMonthlyFee > 0 {
		items = append(items, LineItem{
			Description: baseDescription(in.PlanTier) + suffix,
			Amount:      totals.BaseMonthlyFee * multiplier,
			Kind:        KindBaseFee,
		})
	}
	if in.Package != catalog.PackageNone {
		items = append(items, LineItem{
			Description: packageDescription(in.Package) + suffix,
			Amount:      totals.PackageMonthlyFee * multiplier,
			Kind:        KindPackage,
		})
	}
	if in.ProratedCharge != nil {
		desc := in.ProratedCharge.Description
		if desc == "" {
			desc = "Prorated plan change"
		}
		items = append(items, LineItem{
			Description: desc,
			Amount:      in.ProratedCharge.Amount,
			Kind:        KindProratedCharge,
		})
	}

	first := IsFirstInvoice(in.BillingCycle, in.StartDate, in.AsOf)
	var discount int64
	if first {
		if in.OneTimeFee > 0 {
			items = append(items, LineItem{
				Description: "One-time setup fee",
				Amount:      in.OneTimeFee,
				Kind:        KindOneTimeFee,
			})
		}
		if in.FirstInvoiceDiscount > 0 {
			discount = in.FirstInvoiceDiscount
			items = append(items, LineItem{
				Description: "First invoice discount",
				Amount:      -discount,
				Kind:        KindDiscount,
			})
		}
	}

	var subtotal int64
	for _, item := range items {
		if item.Kind == KindDiscount {
			continue
		}
		subtotal += item.Amount
	}

	return Breakdown{
		Items:          items,
		Subtotal:       subtotal,
		DiscountTotal:  discount,
		GrandTotal:     subtotal - discount,
		IsFirstInvoice: first,
	}, nil
}

// Recompute derives the monthly fee fields. The total always includes the
// pending prorated charge when one is attached.
func Recompute(in Input) (Totals, error) {
	if in.BaseMonthlyFee < 0 {
		return Totals{}, ErrNegativeFee
	}
	if in.PackagePrices.Asset < 0 || in.PackagePrices.DX < 0 || in.PackagePrices.Both < 0 {
		return Totals{}, ErrNegativeFee
	}
	switch in.BillingCycle {
	case catalog.BillingCycleMonthly, catalog.BillingCycleAnnual:
	default:
		return Totals{}, ErrInvalidBillingCycle
	}
	packageFee, err := in.PackagePrices.PackageFee(in.Package)
	if err != nil {
		return Totals{}, ErrInvalidPackage
	}

	total := in.BaseMonthlyFee + packageFee
	if in.ProratedCharge != nil {
		total += in.ProratedCharge.Amount
	}
	return Totals{
		BaseMonthlyFee:    in.BaseMonthlyFee,
		PackageMonthlyFee: packageFee,
		TotalMonthlyFee:   total,
	}, nil
}

// IsFirstInvoice reports whether asOf falls inside the first billing cycle
// starting at start.
func IsFirstInvoice(cycle catalog.BillingCycle, start, asOf time.Time) bool {
	end := start.AddDate(0, 1, 0)
	if cycle == catalog.BillingCycleAnnual {
		end = start.AddDate(1, 0, 0)
	}
	return asOf.Before(end)
}

func baseDescription(tier catalog.PlanTier) string {
	if tier == "" {
		return "Base fee"
	}
	return fmt.Sprintf("Base fee (%s)", tier)
}

func packageDescription(selection catalog.PackageSelection) string {
	if selection == catalog.PackageBoth {
		return "Package bundle (asset + dx)"
	}
	return fmt.Sprintf("Package (%s)", selection)
}
