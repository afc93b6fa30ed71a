package main

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/fanout/internal/config"
	"github.com/you/fanout/internal/media"
	"github.com/you/fanout/internal/producer"
	"github.com/you/fanout/internal/queue"
	"github.com/you/fanout/internal/storage"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.AppEnv)
	defer log.Sync()
	ctx := context.Background()

	migrate(log, cfg)

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer db.Close()
	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	store := storage.New(db)
	q := queue.New(rdb)
	resolver := media.NewResolver(cfg.MediaBaseURL)
	prod := producer.New(q, resolver, log)

	a := newAPI(store, q, prod, log)
	rtr := chi.NewRouter()
	rtr.Route("/v1", func(rtr chi.Router) {
		rtr.Post("/posts", a.createPost)
		rtr.Get("/posts/{id}", a.getPost)
		rtr.Post("/posts/{id}/cancel", a.cancelPost)
		rtr.Post("/posts/{id}/retry", a.retryPost)
		rtr.Post("/analytics/posts/{id}/refresh", a.refreshAnalytics)
		rtr.Get("/analytics/posts/{id}", a.listSnapshots)
		rtr.Get("/queues", a.queueStats)
	})

	log.Info("api listening", zap.String("addr", cfg.APIAddr))
	if err := http.ListenAndServe(cfg.APIAddr, rtr); err != nil {
		log.Fatal("serve", zap.Error(err))
	}
}

func migrate(log *zap.Logger, cfg config.Config) {
	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatal("migrate connect", zap.Error(err))
	}
	defer db.Close()
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatal("goose dialect", zap.Error(err))
	}
	if err := goose.Up(db, cfg.MigrationsDir); err != nil {
		log.Fatal("goose up", zap.Error(err))
	}
}

func newLogger(appEnv string) *zap.Logger {
	if appEnv == "production" {
		log, _ := zap.NewProduction()
		return log
	}
	log, _ := zap.NewDevelopment()
	return log
}
