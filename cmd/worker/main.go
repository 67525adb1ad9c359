package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"focusattend/internal/clock"
	"focusattend/internal/config"
	"focusattend/internal/errs"
	"focusattend/internal/participant"
	"focusattend/internal/queue"
	"focusattend/internal/reconcile"
	"focusattend/internal/record"
	"focusattend/internal/rtstore"
	"focusattend/internal/session"
	"focusattend/internal/store"
)

// Worker consumes reconcile messages and folds ended sessions into
// attendance records.
func main() {
	cfg := config.Load()

	var log *zap.Logger
	var err error
	if cfg.Env == "production" || cfg.Env == "prod" {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.MigrateUp(cfg.DatabaseURL); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	sysClock := clock.NewSystem()

	var rt rtstore.Store
	if cfg.StoreBackend == "redis" {
		rt = rtstore.NewRedisStore(redisClient.Client, cfg.StorePrefix, log)
	} else {
		// A memory store is private to this process. The API must share
		// the redis backend for the worker to see its sessions.
		log.Warn("store backend is memory, worker will not see sessions from other processes")
		rt = rtstore.NewMemory(sysClock, log)
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	sessions := session.NewManager(rt, sysClock, log)
	tracker := participant.NewTracker(rt, log)
	defer tracker.Close()

	records := record.NewRepository(db.Client)
	engine := reconcile.NewEngine(rt, tracker, sessions, records, log)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatal("queue consume init failed", zap.Error(err))
	}

	log.Info("worker started, waiting for messages")
	for msg := range messages {
		handleMessage(ctx, engine, msg, log)
	}

	log.Info("worker stopped")
}

func handleMessage(ctx context.Context, engine *reconcile.Engine, msg queue.Message, log *zap.Logger) {
	if msg.Type != queue.MsgReconcile {
		return
	}

	task, err := queue.DecodeReconcileTask(msg.Body)
	if err != nil {
		log.Warn("bad reconcile payload", zap.Error(err))
		return
	}

	log.Info("reconciling session", zap.String("session", task.SessionID))
	if _, err := engine.Finalize(ctx, task.SessionID, task.Overrides); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			// Already reconciled, or the session never existed.
			log.Info("session already reconciled", zap.String("session", task.SessionID))
			return
		}
		log.Error("reconcile failed", zap.String("session", task.SessionID), zap.Error(err))
		return
	}
	log.Info("session reconciled", zap.String("session", task.SessionID))
}
