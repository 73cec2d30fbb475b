package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// FallbackPlanName labels grants created through the cents-per-credit
// fallback when a payment amount is missing from the plan table.
const FallbackPlanName = "Custom"

// Plan maps a paid amount to a credit grant.
type Plan struct {
	AmountCents   int64  `mapstructure:"amountCents"`
	Name          string `mapstructure:"name"`
	Credits       int64  `mapstructure:"credits"`
	ExpiresInDays int    `mapstructure:"expiresInDays"` // 0 means the grant never expires
}

// PlansConfig is the full plan table.
type PlansConfig struct {
	Plans []Plan `mapstructure:"plans"`
}

func DefaultPlansConfig() PlansConfig {
	return PlansConfig{
		Plans: []Plan{
			{AmountCents: 200, Name: "Professional", Credits: 200, ExpiresInDays: 30},
			{AmountCents: 999, Name: "Starter", Credits: 1000, ExpiresInDays: 30},
			{AmountCents: 2999, Name: "Agency", Credits: 3500, ExpiresInDays: 30},
			{AmountCents: 9999, Name: "Agency Plus", Credits: 15000, ExpiresInDays: 60},
		},
	}
}

// PlanConfigHolder serves the current plan table and hot-reloads it from
// plans.yml when the file changes.
type PlanConfigHolder struct {
	current atomic.Value // holds PlansConfig
}

func NewPlanConfigHolder() (*PlanConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/creditd/config")
	v.AddConfigPath("/etc/creditd")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CREDITD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPlansConfig()
		v.SetDefault("plans", defaults.Plans)
	}

	var cfg PlansConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validatePlansConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PlanConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlansConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Printf("[plan-config] reload failed: %v", err)
			return
		}
		if err := validatePlansConfig(updated); err != nil {
			log.Printf("[plan-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[plan-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPlanConfigHolder serves a fixed plan table with no file watch.
func NewStaticPlanConfigHolder(cfg PlansConfig) *PlanConfigHolder {
	holder := &PlanConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *PlanConfigHolder) Get() PlansConfig {
	return h.current.Load().(PlansConfig)
}

// Resolve maps a paid amount to a plan. The second return reports whether
// the amount was present in the table; otherwise the fallback formula
// floor(amountCents / centsPerCredit) with the generic label is used.
func (h *PlanConfigHolder) Resolve(amountCents, centsPerCredit int64) (Plan, bool) {
	for _, plan := range h.Get().Plans {
		if plan.AmountCents == amountCents {
			return plan, true
		}
	}
	if centsPerCredit <= 0 {
		centsPerCredit = 1
	}
	return Plan{
		AmountCents: amountCents,
		Name:        FallbackPlanName,
		Credits:     amountCents / centsPerCredit,
	}, false
}

func validatePlansConfig(cfg PlansConfig) error {
	if len(cfg.Plans) == 0 {
		return errors.New("plans cannot be empty")
	}
	seen := make(map[int64]struct{}, len(cfg.Plans))
	for _, plan := range cfg.Plans {
		if plan.AmountCents <= 0 {
			return errors.New("plan amountCents must be positive")
		}
		if plan.Credits <= 0 {
			return errors.New("plan credits must be positive")
		}
		if strings.TrimSpace(plan.Name) == "" {
			return errors.New("plan name cannot be empty")
		}
		if _, dup := seen[plan.AmountCents]; dup {
			return errors.New("duplicate plan amountCents")
		}
		seen[plan.AmountCents] = struct{}{}
	}
	return nil
}
