package oauth2

import (
	"github.com/smallbiznis/authgate/internal/oauth2/grant"
	"github.com/smallbiznis/authgate/internal/oauth2/guard"
	"github.com/smallbiznis/authgate/internal/oauth2/repository"
	"github.com/smallbiznis/authgate/internal/oauth2/validator"
	"go.uber.org/fx"
)

var Module = fx.Module("oauth2",
	fx.Provide(repository.New),
	fx.Provide(validator.NewConfig),
	fx.Provide(validator.New),
	fx.Provide(grant.NewConfig),
	fx.Provide(grant.New),
	fx.Provide(guard.New),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
