package applier

import (
	"context"

	"github.com/smallbiznis/contractbilling/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("applier",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
)

// Loop runs the applier inside the monolith. Cloud deployments run it from
// the scheduler binary instead.
var Loop = fx.Invoke(RegisterLoop)

func RegisterLoop(lc fx.Lifecycle, cfg config.Config, a *Applier, log *zap.Logger) {
	if cfg.IsCloud() || !cfg.Applier.Enabled {
		log.Info("applier loop disabled in this process",
			zap.Bool("cloud", cfg.IsCloud()),
			zap.Bool("enabled", cfg.Applier.Enabled),
		)
		return
	}
	Start(lc, a)
}

// Start launches RunForever on fx start and stops it on fx stop.
func Start(lc fx.Lifecycle, a *Applier) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go a.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
