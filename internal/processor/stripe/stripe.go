package stripe

import (
	"context"
	"errors"
	"strings"

	processordomain "github.com/smallbiznis/contractbilling/internal/processor/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
	"go.uber.org/zap"
)

// subscriptionAPI is the slice of the stripe subscription client in use.
type subscriptionAPI interface {
	Get(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	Update(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

type Adapter struct {
	api subscriptionAPI
	log *zap.Logger
}

func NewAdapter(secretKey string, log *zap.Logger) *Adapter {
	return newAdapter(&subscription.Client{
		B:   stripe.GetBackend(stripe.APIBackend),
		Key: secretKey,
	}, log)
}

func newAdapter(api subscriptionAPI, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{api: api, log: log.Named("processor.stripe")}
}

func (a *Adapter) RetrieveSubscription(ctx context.Context, subscriptionID string) (*processordomain.Subscription, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, processordomain.NewProcessorError(nil, "subscription id is required")
	}
	sub, err := a.api.Get(subscriptionID, nil)
	if err != nil {
		return nil, wrapError(err)
	}
	return snapshot(sub), nil
}

// SwitchPlan replaces the price of the subscription's first item.
func (a *Adapter) SwitchPlan(ctx context.Context, subscriptionID, priceID string, mode processordomain.ProrationMode) (*processordomain.Subscription, error) {
	if !mode.Valid() {
		return nil, processordomain.ErrInvalidProrationMode
	}
	current, err := a.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if current.ItemID == "" {
		return nil, processordomain.NewProcessorError(nil, "subscription has no items")
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.ItemID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String(string(mode)),
	}
	updated, err := a.api.Update(subscriptionID, params)
	if err != nil {
		a.log.Warn("switch plan failed",
			zap.String("subscription_id", subscriptionID),
			zap.String("price_id", priceID),
			zap.String("proration_mode", string(mode)),
			zap.Error(err),
		)
		return nil, wrapError(err)
	}
	return snapshot(updated), nil
}

func snapshot(sub *stripe.Subscription) *processordomain.Subscription {
	if sub == nil {
		return &processordomain.Subscription{}
	}
	out := &processordomain.Subscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
		item := sub.Items.Data[0]
		out.ItemID = item.ID
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
	}
	return out
}

func wrapError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return processordomain.NewProcessorError(err, stripeErr.Msg)
	}
	return processordomain.NewProcessorError(err, err.Error())
}
