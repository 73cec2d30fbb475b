package migration

import (
	accountdomain "github.com/agencykit/creditd/internal/account/domain"
	"github.com/agencykit/creditd/internal/config"
	ledgerdomain "github.com/agencykit/creditd/internal/ledger/domain"
	reconcilerdomain "github.com/agencykit/creditd/internal/reconciler/domain"
	subscriptiondomain "github.com/agencykit/creditd/internal/subscription/domain"
	usagedomain "github.com/agencykit/creditd/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// Versioned migrations target postgres; dev backends rely on
			// the model definitions directly.
			return conn.AutoMigrate(
				&accountdomain.Account{},
				&ledgerdomain.CreditBatch{},
				&ledgerdomain.DeductionAttempt{},
				&usagedomain.UsageRecord{},
				&reconcilerdomain.PendingGrant{},
				&subscriptiondomain.Subscription{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
