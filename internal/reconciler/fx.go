package reconciler

import (
	"github.com/agencykit/creditd/internal/reconciler/repository"
	"github.com/agencykit/creditd/internal/reconciler/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconciler",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
