package processor

import (
	"context"

	processordomain "github.com/smallbiznis/contractbilling/internal/processor/domain"
)

// unconfigured rejects every call. It backs deployments without a processor
// secret so processor-managed contracts fail loudly instead of silently.
type unconfigured struct{}

func (unconfigured) SwitchPlan(context.Context, string, string, processordomain.ProrationMode) (*processordomain.Subscription, error) {
	return nil, processordomain.NewProcessorError(processordomain.ErrProcessorNotConfigured, "processor is not configured")
}

func (unconfigured) RetrieveSubscription(context.Context, string) (*processordomain.Subscription, error) {
	return nil, processordomain.NewProcessorError(processordomain.ErrProcessorNotConfigured, "processor is not configured")
}
