package main

import (
	"github.com/smallbiznis/contractbilling/internal/applier"
	"github.com/smallbiznis/contractbilling/internal/authorization"
	"github.com/smallbiznis/contractbilling/internal/clock"
	"github.com/smallbiznis/contractbilling/internal/config"
	"github.com/smallbiznis/contractbilling/internal/contract"
	"github.com/smallbiznis/contractbilling/internal/observability"
	"github.com/smallbiznis/contractbilling/internal/planchange"
	"github.com/smallbiznis/contractbilling/internal/processor"
	"github.com/smallbiznis/contractbilling/internal/ratelimit"
	"github.com/smallbiznis/contractbilling/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,

		// Domain services required by the applier
		authorization.Module,
		ratelimit.Module,
		processor.Module,
		contract.Module,
		planchange.Module,
		applier.Module,

		// No server module!
		fx.Invoke(applier.Start),
	)
	app.Run()
}
