package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/contractbilling/internal/config"
	processordomain "github.com/smallbiznis/contractbilling/internal/processor/domain"
	"github.com/smallbiznis/contractbilling/internal/processor/stripe"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewWithoutKeyRejectsCalls(t *testing.T) {
	p := New(config.Config{}, zap.NewNop())

	_, err := p.SwitchPlan(context.Background(), "sub_1", "price_1", processordomain.ProrationNone)
	assert.ErrorIs(t, err, processordomain.ErrProcessor)
	assert.ErrorIs(t, err, processordomain.ErrProcessorNotConfigured)

	var perr *processordomain.ProcessorError
	assert.True(t, errors.As(err, &perr))
}

func TestNewWithKeyUsesStripe(t *testing.T) {
	p := New(config.Config{Stripe: config.StripeConfig{SecretKey: "sk_test_123"}}, zap.NewNop())
	_, ok := p.(*stripe.Adapter)
	assert.True(t, ok)
}
