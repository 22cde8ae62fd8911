package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/contractbilling/internal/catalog"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	defaultNoticeDays = 30
	defaultGraceDays  = 3
)

// PricingConfig is the hot-reloadable catalog and plan change policy.
type PricingConfig struct {
	Catalog    catalog.Catalog  `mapstructure:"catalog"`
	PlanChange PlanChangeConfig `mapstructure:"planChange"`
}

type PlanChangeConfig struct {
	NoticeDays int `mapstructure:"noticeDays"`
	GraceDays  int `mapstructure:"graceDays"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Catalog: catalog.DefaultCatalog(),
		PlanChange: PlanChangeConfig{
			NoticeDays: defaultNoticeDays,
			GraceDays:  defaultGraceDays,
		},
	}
}

type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

// NewPricingConfigHolder reads pricing.yml and watches it for changes. Without
// a file the defaults are served.
func NewPricingConfigHolder(log *zap.Logger) (*PricingConfigHolder, error) {
	log = log.Named("config.pricing")
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/contractbilling/config")
	v.AddConfigPath("/etc/contractbilling")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CONTRACTBILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultPricingConfig()
	found := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		found = false
		log.Info("pricing config not found, using defaults")
	}
	if found {
		loaded, err := decodePricing(v)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	holder := NewStaticPricingConfig(cfg)
	if !found {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePricing(v)
		if err != nil {
			log.Warn("pricing config reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("pricing config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticPricingConfig serves a fixed config.
func NewStaticPricingConfig(cfg PricingConfig) *PricingConfigHolder {
	holder := &PricingConfigHolder{}
	holder.current.Store(withPricingDefaults(cfg))
	return holder
}

func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

func (h *PricingConfigHolder) Catalog() catalog.Catalog {
	return h.Get().Catalog
}

func (h *PricingConfigHolder) NoticeDays() int {
	return h.Get().PlanChange.NoticeDays
}

func (h *PricingConfigHolder) GraceDays() int {
	return h.Get().PlanChange.GraceDays
}

func decodePricing(v *viper.Viper) (PricingConfig, error) {
	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return PricingConfig{}, err
	}
	cfg = withPricingDefaults(cfg)
	if err := validatePricingConfig(cfg); err != nil {
		return PricingConfig{}, err
	}
	return cfg, nil
}

func withPricingDefaults(cfg PricingConfig) PricingConfig {
	defaults := DefaultPricingConfig()
	if len(cfg.Catalog.Tiers) == 0 {
		cfg.Catalog.Tiers = defaults.Catalog.Tiers
	}
	if cfg.Catalog.Packages == (catalog.PackagePrices{}) {
		cfg.Catalog.Packages = defaults.Catalog.Packages
	}
	if cfg.PlanChange.NoticeDays <= 0 {
		cfg.PlanChange.NoticeDays = defaultNoticeDays
	}
	if cfg.PlanChange.GraceDays <= 0 {
		cfg.PlanChange.GraceDays = defaultGraceDays
	}
	if cfg.Catalog.ProcessorPrices == nil {
		cfg.Catalog.ProcessorPrices = map[string]string{}
	}
	return cfg
}

func validatePricingConfig(cfg PricingConfig) error {
	if err := cfg.Catalog.Validate(); err != nil {
		return err
	}
	if cfg.PlanChange.NoticeDays < defaultNoticeDays {
		return errors.New("pricing.planChange.noticeDays cannot be shorter than 30")
	}
	return nil
}
