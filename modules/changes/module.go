package changes

import (
	"embed"

	"github.com/firelater/firelater/modules/changes/infrastructure/persistence"
	"github.com/firelater/firelater/modules/changes/services"
	"github.com/firelater/firelater/pkg/application"
	"github.com/firelater/firelater/pkg/configuration"
)

//go:embed infrastructure/persistence/schema/changes-schema.sql
var migrationFiles embed.FS

func NewModule() application.Module {
	return &Module{}
}

type Module struct{}

func (m *Module) Register(app application.Application) error {
	app.Migrations().RegisterSchema(&migrationFiles)

	conf := configuration.Use().ChangeGovernance
	changeRepo := persistence.NewChangeRequestRepository(conf.LockTimeout)
	meetingRepo := persistence.NewCabMeetingRepository(conf.LockTimeout)
	txRunner := services.NewPgTxRunner()

	lifecycle := services.NewChangeLifecycleService(
		changeRepo,
		app.Cache(),
		app.EventPublisher(),
		txRunner,
		services.Options{
			MinApprovals: conf.MinApprovals,
			LockRetries:  conf.LockRetries,
			RetryBackoff: conf.LockRetryBackoff,
		},
	)

	app.RegisterServices(
		lifecycle,
		services.NewCabSessionService(meetingRepo, lifecycle, app.EventPublisher(), txRunner),
		services.NewChangeQueryService(changeRepo, app.Cache(), services.QueryOptions{
			EntityTTL: conf.EntityTTL,
			ListTTL:   conf.ListTTL,
		}),
	)

	return nil
}

func (m *Module) Name() string {
	return "changes"
}
