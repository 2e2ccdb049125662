package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/firelater/firelater/modules"
	"github.com/firelater/firelater/pkg/application"
	"github.com/firelater/firelater/pkg/cache"
	"github.com/firelater/firelater/pkg/configuration"
	"github.com/firelater/firelater/pkg/eventbus"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.URL,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("redis unreachable at startup, reads will degrade to the database")
	}

	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		Cache:    cache.NewLayer(cache.NewRedisCache(redisClient), logger),
		EventBus: eventbus.NewEventPublisher(logger),
		Logger:   logger,
	})
	if err := modules.Load(app, modules.BuiltInModules...); err != nil {
		log.Fatalf("failed to load modules: %v", err)
	}

	if err := applySchema(ctx, pool, app); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: conf.SocketAddress, Handler: mux}
	go func() {
		log.Printf("Listening on: %s\n", conf.SocketAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	if err := redisClient.Close(); err != nil {
		logger.WithError(err).Error("redis close")
	}
	configuration.Use().Unload()
}

func applySchema(ctx context.Context, pool *pgxpool.Pool, app application.Application) error {
	schema, err := app.Migrations().CollectSchema()
	if err != nil {
		return err
	}
	if schema == "" {
		return nil
	}
	_, err = pool.Exec(ctx, schema)
	return err
}
