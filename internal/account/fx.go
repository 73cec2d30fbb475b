package account

import (
	"github.com/agencykit/creditd/internal/account/repository"
	"github.com/agencykit/creditd/internal/account/service"
	"go.uber.org/fx"
)

var Module = fx.Module("account",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
