package ledger

import (
	"github.com/agencykit/creditd/internal/ledger/repository"
	"github.com/agencykit/creditd/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
