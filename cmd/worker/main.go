package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/fanout/internal/config"
	"github.com/you/fanout/internal/domain"
	"github.com/you/fanout/internal/notify"
	"github.com/you/fanout/internal/platform"
	"github.com/you/fanout/internal/queue"
	"github.com/you/fanout/internal/storage"
	"github.com/you/fanout/internal/worker"
)

const consumeBlock = 5 * time.Second

func main() {
	cfg := config.Load()
	log := newLogger(cfg.AppEnv)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer db.Close()
	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	store := storage.New(db)
	q := queue.New(rdb)
	registry := platform.NewRegistry(store, nil, platform.BaseURLs{
		Bluesky:   cfg.BlueskyURL,
		Threads:   cfg.ThreadsURL,
		Facebook:  cfg.FacebookURL,
		Instagram: cfg.InstagramURL,
		Tumblr:    cfg.TumblrURL,
	})
	sink := notify.NewLogSink(log)
	publisher := worker.NewPublisher(store, q, registry, sink, log)
	analytics := worker.NewAnalytics(store, registry, log)

	// one in-flight message per consumer slot
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.WorkerSlots; i++ {
		g.Go(func() error { return consumePublish(ctx, q, publisher, log) })
	}
	g.Go(func() error { return consumeAnalytics(ctx, q, analytics) })

	log.Info("worker running", zap.Int("slots", cfg.WorkerSlots))
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal("worker stopped", zap.Error(err))
	}
}

func consumePublish(ctx context.Context, q *queue.RedisQ, publisher *worker.Publisher, log *zap.Logger) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		job, ok, err := q.DequeuePublish(ctx, domain.Platforms, consumeBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("dequeue", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}
		if err := publisher.Handle(ctx, job); err != nil {
			// infrastructure failed before a terminal write; requeue the
			// message so another delivery can finish the job
			log.Error("handle publish", zap.Error(err),
				zap.String("post_id", job.PostID), zap.String("platform", string(job.Platform)))
			if reqErr := q.EnqueuePublish(ctx, job); reqErr != nil {
				log.Error("requeue", zap.Error(reqErr))
			}
			time.Sleep(time.Second)
		}
	}
}

func consumeAnalytics(ctx context.Context, q *queue.RedisQ, analytics *worker.Analytics) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		job, ok, err := q.DequeueAnalytics(ctx, consumeBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}
		analytics.Handle(ctx, job)
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
