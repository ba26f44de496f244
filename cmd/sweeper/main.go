// Command sweeper runs the expiry sweeper on its own, for deployments where
// the API replicas do not run it in-process.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/punchamoorthee/tuitionpay/internal/app"
	"github.com/punchamoorthee/tuitionpay/internal/config"
	"github.com/punchamoorthee/tuitionpay/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer rt.Close()

	service.NewSweeper(rt.Payments, cfg.SweepInterval, logger).Run(ctx)
}
