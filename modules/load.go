package modules

import (
	"github.com/firelater/firelater/modules/changes"
	"github.com/firelater/firelater/pkg/application"
)

var BuiltInModules = []application.Module{
	changes.NewModule(),
}

func Load(app application.Application, externalModules ...application.Module) error {
	for _, module := range externalModules {
		if err := module.Register(app); err != nil {
			return err
		}
	}
	return nil
}
