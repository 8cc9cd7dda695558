package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/punchamoorthee/loanledger/internal/bootstrap"
	"github.com/punchamoorthee/loanledger/internal/config"
	"github.com/punchamoorthee/loanledger/internal/jobs"
	"github.com/punchamoorthee/loanledger/internal/observability"
	"github.com/punchamoorthee/loanledger/internal/service"
)

func main() {
	once := flag.Bool("once", false, "Run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := observability.NewLogger(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := bootstrap.OpenEngine(ctx, cfg)
	if err != nil {
		log.Fatalf("Unable to open store: %v", err)
	}
	defer engine.Close()

	borrowing := service.NewBorrowingService(engine, cfg.Policy, service.WithLogger(logger))
	sweeper := jobs.NewOverdueSweeper(engine, borrowing, logger)

	if *once {
		n, err := sweeper.RunOnce(ctx, cfg.SweepBatchSize)
		if err != nil {
			log.Fatalf("Sweep failed: %v", err)
		}
		logger.Info("sweep complete", slog.Int("marked", n))
		return
	}

	logger.Info("sweeper starting", slog.Duration("interval", cfg.SweepInterval), slog.Int("batch", cfg.SweepBatchSize))
	if err := sweeper.Run(ctx, cfg.SweepInterval, cfg.SweepBatchSize); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}
