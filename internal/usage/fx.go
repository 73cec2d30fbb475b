package usage

import (
	"github.com/agencykit/creditd/internal/usage/repository"
	"github.com/agencykit/creditd/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewRecorder),
	fx.Provide(service.NewQuery),
)
