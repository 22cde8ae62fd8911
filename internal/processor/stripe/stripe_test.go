package stripe

import (
	"context"
	"errors"
	"testing"

	processordomain "github.com/smallbiznis/contractbilling/internal/processor/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
)

type fakeSubscriptionAPI struct {
	sub       *stripe.Subscription
	getErr    error
	updateErr error
	updates   []*stripe.SubscriptionParams
}

func (f *fakeSubscriptionAPI) Get(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.sub, nil
}

func (f *fakeSubscriptionAPI) Update(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	f.updates = append(f.updates, params)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	updated := *f.sub
	updated.Items = &stripe.SubscriptionItemList{
		Data: []*stripe.SubscriptionItem{
			{ID: *params.Items[0].ID, Price: &stripe.Price{ID: *params.Items[0].Price}},
		},
	}
	return &updated, nil
}

func newSubscription() *stripe.Subscription {
	return &stripe.Subscription{
		ID:     "sub_123",
		Status: stripe.SubscriptionStatusActive,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{ID: "si_1", Price: &stripe.Price{ID: "price_standard"}},
			},
		},
	}
}

func TestSwitchPlanUpdatesFirstItem(t *testing.T) {
	api := &fakeSubscriptionAPI{sub: newSubscription()}
	adapter := newAdapter(api, nil)

	snap, err := adapter.SwitchPlan(context.Background(), "sub_123", "price_business", processordomain.ProrationCreateProrations)
	require.NoError(t, err)
	assert.Equal(t, "price_business", snap.PriceID)
	assert.Equal(t, "si_1", snap.ItemID)
	assert.Equal(t, "active", snap.Status)

	require.Len(t, api.updates, 1)
	assert.Equal(t, "create_prorations", *api.updates[0].ProrationBehavior)
}

func TestSwitchPlanRejectsUnknownMode(t *testing.T) {
	adapter := newAdapter(&fakeSubscriptionAPI{sub: newSubscription()}, nil)

	_, err := adapter.SwitchPlan(context.Background(), "sub_123", "price_business", processordomain.ProrationMode("always"))
	assert.ErrorIs(t, err, processordomain.ErrInvalidProrationMode)
}

func TestSwitchPlanWrapsStripeErrors(t *testing.T) {
	api := &fakeSubscriptionAPI{
		sub:       newSubscription(),
		updateErr: &stripe.Error{Msg: "No such price: 'price_missing'"},
	}
	adapter := newAdapter(api, nil)

	_, err := adapter.SwitchPlan(context.Background(), "sub_123", "price_missing", processordomain.ProrationNone)
	require.Error(t, err)
	assert.ErrorIs(t, err, processordomain.ErrProcessor)

	var procErr *processordomain.ProcessorError
	require.True(t, errors.As(err, &procErr))
	assert.Equal(t, "No such price: 'price_missing'", procErr.Message)
}

func TestRetrieveSubscriptionRequiresID(t *testing.T) {
	adapter := newAdapter(&fakeSubscriptionAPI{sub: newSubscription()}, nil)

	_, err := adapter.RetrieveSubscription(context.Background(), " ")
	assert.ErrorIs(t, err, processordomain.ErrProcessor)
}
