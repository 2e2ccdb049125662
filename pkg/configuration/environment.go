package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/firelater/firelater/pkg/logging"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

func LoadEnv(envFiles []string) (int, error) {
	existingFiles := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existingFiles = append(existingFiles, file)
		}
	}

	if len(existingFiles) == 0 {
		return 0, nil
	}

	return len(existingFiles), godotenv.Load(existingFiles...)
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"firelater"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type RedisOptions struct {
	URL      string `env:"REDIS_URL" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// ChangeGovernanceOptions tunes the change request lifecycle engine.
type ChangeGovernanceOptions struct {
	// MinApprovals is the CAB quorum: distinct approving votes required before
	// a cab-required change may move to approved.
	MinApprovals int `env:"CHANGE_MIN_APPROVALS" envDefault:"2"`
	// LockTimeout bounds the wait for the per-change row lock.
	LockTimeout time.Duration `env:"CHANGE_LOCK_TIMEOUT" envDefault:"3s"`
	// LockRetries is how many times a lock conflict is retried internally
	// before surfacing as a retryable error.
	LockRetries int `env:"CHANGE_LOCK_RETRIES" envDefault:"3"`
	// LockRetryBackoff is the base delay between lock retries.
	LockRetryBackoff time.Duration `env:"CHANGE_LOCK_RETRY_BACKOFF" envDefault:"50ms"`
	// EntityTTL is the cache TTL for point lookups of active changes.
	EntityTTL time.Duration `env:"CHANGE_CACHE_ENTITY_TTL" envDefault:"30s"`
	// ListTTL is the cache TTL for tenant-scoped list and dashboard views.
	ListTTL time.Duration `env:"CHANGE_CACHE_LIST_TTL" envDefault:"5m"`
}

func (o *ChangeGovernanceOptions) Validate() error {
	if o.MinApprovals < 1 {
		return fmt.Errorf("CHANGE_MIN_APPROVALS must be at least 1, got %d", o.MinApprovals)
	}
	if o.LockTimeout <= 0 {
		return fmt.Errorf("CHANGE_LOCK_TIMEOUT must be positive, got %s", o.LockTimeout)
	}
	if o.LockRetries < 0 {
		return fmt.Errorf("CHANGE_LOCK_RETRIES must be non-negative, got %d", o.LockRetries)
	}
	return nil
}

type Configuration struct {
	Database         DatabaseOptions
	Redis            RedisOptions
	ChangeGovernance ChangeGovernanceOptions

	MigrationsDir    string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	SocketAddress    string `env:"SOCKET_ADDRESS" envDefault:":8080"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	PageSize         int    `env:"PAGE_SIZE" envDefault:"25"`
	MaxPageSize      int    `env:"MAX_PAGE_SIZE" envDefault:"100"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"error"`
	LogPath          string `env:"LOG_PATH" envDefault:"./logs/app.log"`

	// RLS enforcement mode (disabled/enforce).
	RLSEnforce string `env:"RLS_ENFORCE" envDefault:"disabled"`

	logFile *os.File
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func Use() *Configuration {
	return singleton()
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}

	if err := c.ChangeGovernance.Validate(); err != nil {
		return fmt.Errorf("change governance configuration error: %w", err)
	}
	if err := c.validateRLS(); err != nil {
		return err
	}

	f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
	if err != nil {
		return err
	}
	c.logFile = f
	c.logger = logger

	c.Database.Opts = c.Database.ConnectionString()

	return nil
}

func (c *Configuration) validateRLS() error {
	mode := strings.ToLower(strings.TrimSpace(c.RLSEnforce))
	if mode == "" {
		mode = "disabled"
	}
	switch mode {
	case "disabled", "enforce":
	default:
		return fmt.Errorf("invalid RLS_ENFORCE=%q (expected disabled|enforce)", c.RLSEnforce)
	}

	if mode == "enforce" && strings.EqualFold(strings.TrimSpace(c.Database.User), "postgres") {
		return fmt.Errorf("RLS_ENFORCE=enforce requires a non-superuser DB_USER (postgres will bypass RLS)")
	}

	c.RLSEnforce = mode
	return nil
}

func (c *Configuration) Unload() {
	if c.logFile != nil {
		_ = c.logFile.Close()
		c.logFile = nil
	}
	c.logger = nil
}
