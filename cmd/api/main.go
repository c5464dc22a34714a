package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"poolflow/auth"
	"poolflow/config"
	"poolflow/db"
	"poolflow/dispute"
	"poolflow/pool"
	"poolflow/timeline"
	"poolflow/wallet"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("invalid config: %s", err)
	}

	log.SetLevel(log.Level(cfg.LogLevel))
	log.SetFormatter(&log.JSONFormatter{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("bootstrap database pool: %s", err)
	}
	defer dbPool.Close()

	walletRepo := wallet.NewRepository(dbPool)
	disputeRepo := dispute.NewRepository(dbPool)
	timelineRepo := timeline.NewRepository(dbPool)

	logger := log.StandardLogger()
	poolService := pool.NewService(
		dbPool,
		pool.NewRepository(dbPool),
		walletRepo,
		disputeRepo,
		timelineRepo,
		cfg.Policy(),
	).WithLogger(logger.WithField("component", "pool"))

	server := &Server{
		poolService:    poolService,
		disputeService: dispute.NewService(disputeRepo),
		eventService:   timeline.NewService(timelineRepo),
		walletService:  wallet.NewService(walletRepo, poolService),
		authService:    auth.NewService(auth.NewRepository(dbPool), poolService, cfg.JWTSecret).WithTokenTTL(cfg.TokenTTL),
		logger:         logger.WithField("component", "http"),
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown failed")
		}
	}()

	log.WithFields(log.Fields{
		"port":      cfg.Port,
		"min_stake": cfg.MinStake.String(),
		"freeze":    cfg.FreezePayoutOnDispute,
	}).Info("pool api listening")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server: %s", err)
	}
	log.Info("pool api stopped")
}
