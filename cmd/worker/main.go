package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/efebarandurmaz/stackflow/internal/app"
	"github.com/efebarandurmaz/stackflow/internal/config"
	"github.com/efebarandurmaz/stackflow/internal/observability"
	"github.com/efebarandurmaz/stackflow/internal/server"
	temporalmod "github.com/efebarandurmaz/stackflow/internal/temporal"
)

func main() {
	configPath := flag.String("config", "", "Config file path (defaults plus STACKFLOW_* env when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := observability.NewLogger(os.Stderr, observability.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	ctx := context.Background()
	rt, err := app.NewRuntime(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("runtime: %v", err)
	}

	c, err := app.DialTemporal(ctx, cfg, rt.Secrets, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue, &temporalmod.Activities{Runner: rt.Engine})
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	fmt.Printf("Worker started on task queue: %s\n", cfg.Temporal.TaskQueue)

	shutdown := server.NewShutdownHandler(&server.ShutdownConfig{
		Timeout: 30 * time.Second,
		Signals: server.DefaultShutdownConfig().Signals,
		Logger:  logger,
	})
	shutdown.RegisterHook("temporal-worker", server.PriorityWorker, func(context.Context) error {
		w.Stop()
		c.Close()
		return nil
	})
	shutdown.RegisterHook("runtime", server.PriorityStorage, rt.Close)
	shutdown.Start()
	shutdown.Wait()

	fmt.Println("Worker stopped")
}
