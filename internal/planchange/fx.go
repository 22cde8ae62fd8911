package planchange

import (
	"github.com/smallbiznis/contractbilling/internal/clock"
	"github.com/smallbiznis/contractbilling/internal/config"
	"github.com/smallbiznis/contractbilling/internal/planchange/policy"
	"github.com/smallbiznis/contractbilling/internal/planchange/repository"
	"github.com/smallbiznis/contractbilling/internal/planchange/service"
	"go.uber.org/fx"
)

var Module = fx.Module("planchange.service",
	fx.Provide(repository.ProvidePendingStore),
	fx.Provide(repository.ProvideRequestRepository),
	fx.Provide(repository.NewSeatCounter),
	fx.Provide(providePolicy),
	fx.Provide(service.NewService),
)

func providePolicy(c clock.Clock, pricing *config.PricingConfigHolder) *policy.Policy {
	return policy.New(c, pricing.NoticeDays)
}
