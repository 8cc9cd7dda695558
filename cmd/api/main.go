package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/loanledger/internal/api"
	"github.com/punchamoorthee/loanledger/internal/bootstrap"
	"github.com/punchamoorthee/loanledger/internal/config"
	"github.com/punchamoorthee/loanledger/internal/observability"
	"github.com/punchamoorthee/loanledger/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := observability.NewLogger(cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := bootstrap.OpenEngine(ctx, cfg)
	if err != nil {
		log.Fatalf("Unable to open store: %v", err)
	}
	defer engine.Close()

	// Initialize Layers
	borrowing := service.NewBorrowingService(engine, cfg.Policy, service.WithLogger(logger))
	handler := api.NewHandler(borrowing)

	// Router
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	handler.Register(r)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("server starting",
		slog.String("addr", srv.Addr),
		slog.String("driver", cfg.Driver),
		slog.Int("max_open_loans", cfg.Policy.MaxOpenLoansPerMember),
		slog.Bool("serialize_member_borrows", cfg.Policy.SerializeMemberBorrows),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
