package processor

import (
	"strings"

	"github.com/smallbiznis/contractbilling/internal/config"
	processordomain "github.com/smallbiznis/contractbilling/internal/processor/domain"
	"github.com/smallbiznis/contractbilling/internal/processor/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("processor",
	fx.Provide(New),
)

func New(cfg config.Config, log *zap.Logger) processordomain.Processor {
	log = log.Named("processor")
	key := strings.TrimSpace(cfg.Stripe.SecretKey)
	if key == "" {
		log.Warn("STRIPE_SECRET_KEY not set; processor-managed contracts will fail")
		return unconfigured{}
	}
	return stripe.NewAdapter(key, log)
}
