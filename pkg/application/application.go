package application

import (
	"embed"
	"fmt"
	"io/fs"
	"reflect"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/firelater/firelater/pkg/cache"
	"github.com/firelater/firelater/pkg/eventbus"
)

// Module is a self-contained bounded context that wires its services and
// schema into the application at startup.
type Module interface {
	Register(app Application) error
	Name() string
}

type Application interface {
	DB() *pgxpool.Pool
	Cache() *cache.Layer
	EventPublisher() eventbus.EventBus
	Logger() *logrus.Logger
	Migrations() MigrationManager
	RegisterServices(services ...interface{})
	Service(service interface{}) interface{}
	Services() map[reflect.Type]interface{}
}

type ApplicationOptions struct {
	Pool     *pgxpool.Pool
	Cache    *cache.Layer
	EventBus eventbus.EventBus
	Logger   *logrus.Logger
}

func New(opts *ApplicationOptions) Application {
	return &application{
		pool:       opts.Pool,
		cache:      opts.Cache,
		eventBus:   opts.EventBus,
		logger:     opts.Logger,
		services:   make(map[reflect.Type]interface{}),
		migrations: &migrationManager{},
	}
}

type application struct {
	pool       *pgxpool.Pool
	cache      *cache.Layer
	eventBus   eventbus.EventBus
	logger     *logrus.Logger
	services   map[reflect.Type]interface{}
	migrations *migrationManager
}

func (app *application) DB() *pgxpool.Pool {
	return app.pool
}

func (app *application) Cache() *cache.Layer {
	return app.cache
}

func (app *application) EventPublisher() eventbus.EventBus {
	return app.eventBus
}

func (app *application) Logger() *logrus.Logger {
	return app.logger
}

func (app *application) Migrations() MigrationManager {
	return app.migrations
}

func (app *application) RegisterServices(services ...interface{}) {
	for _, service := range services {
		serviceType := reflect.TypeOf(service).Elem()
		app.services[serviceType] = service
	}
}

func (app *application) Service(service interface{}) interface{} {
	serviceType := reflect.TypeOf(service)
	svc, ok := app.services[serviceType]
	if !ok {
		panic(fmt.Sprintf("service %s not found", serviceType.Name()))
	}
	return svc
}

func (app *application) Services() map[reflect.Type]interface{} {
	return app.services
}

// Load registers every module, failing fast on the first error.
func Load(app Application, modules ...Module) error {
	for _, module := range modules {
		if err := module.Register(app); err != nil {
			return fmt.Errorf("failed to register module %s: %w", module.Name(), err)
		}
	}
	return nil
}

// MigrationManager collects embedded schema files from registered modules.
type MigrationManager interface {
	RegisterSchema(fs ...*embed.FS)
	CollectSchema() (string, error)
}

type migrationManager struct {
	schemas []*embed.FS
}

func (m *migrationManager) RegisterSchema(filesystems ...*embed.FS) {
	m.schemas = append(m.schemas, filesystems...)
}

func (m *migrationManager) CollectSchema() (string, error) {
	var out strings.Builder
	for _, fsys := range m.schemas {
		var files []string
		err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, ".sql") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		sort.Strings(files)
		for _, file := range files {
			content, err := fsys.ReadFile(file)
			if err != nil {
				return "", err
			}
			out.Write(content)
			out.WriteString("\n")
		}
	}
	return out.String(), nil
}
