package main

import (
	"github.com/smallbiznis/contractbilling/internal/applier"
	"github.com/smallbiznis/contractbilling/internal/clock"
	"github.com/smallbiznis/contractbilling/internal/config"
	"github.com/smallbiznis/contractbilling/internal/migration"
	"github.com/smallbiznis/contractbilling/internal/observability"
	"github.com/smallbiznis/contractbilling/internal/server"
	"github.com/smallbiznis/contractbilling/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP API with its domain services
		server.Module,

		// Scheduled change applier; skipped in cloud mode where apps/scheduler runs it
		applier.Module,
		applier.Loop,
	)
	app.Run()
}
