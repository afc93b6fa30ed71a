package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/fanout/internal/config"
	"github.com/you/fanout/internal/queue"
	"github.com/you/fanout/internal/storage"
	"github.com/you/fanout/internal/sweep"
)

// advisory lock key for scheduler leader election
const leaderLockKey = 7412

const (
	moveBatch            = 200
	postSweepInterval    = 2 * time.Hour
	accountSweepInterval = 24 * time.Hour
)

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
	sweeper := sweep.New(store, q, log)

	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	var lastPostSweep, lastAccountSweep time.Time
	log.Info("scheduler running")
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		// only the leader moves messages; the advisory lock is held by
		// this session until it dies
		leader, err := store.TryAdvisoryLock(ctx, leaderLockKey)
		if err != nil {
			log.Error("leader election", zap.Error(err))
			continue
		}
		if !leader {
			continue
		}

		now := time.Now()
		if moved, err := q.MoveDueAll(ctx, now, moveBatch); err != nil {
			log.Error("move due", zap.Error(err))
		} else if moved > 0 {
			log.Info("moved due messages", zap.Int("count", moved))
		}

		if now.Sub(lastPostSweep) >= postSweepInterval {
			if _, err := sweeper.PostMetrics(ctx); err != nil {
				log.Error("post metrics sweep", zap.Error(err))
			} else {
				lastPostSweep = now
			}
		}
		if now.Sub(lastAccountSweep) >= accountSweepInterval {
			if _, err := sweeper.AccountMetrics(ctx); err != nil {
				log.Error("account metrics sweep", zap.Error(err))
			} else {
				lastAccountSweep = now
			}
		}
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
