package expiry

import (
	"github.com/agencykit/creditd/internal/expiry/service"
	"go.uber.org/fx"
)

var Module = fx.Module("expiry",
	fx.Provide(service.NewService),
)
