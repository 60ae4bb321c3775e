package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"guestlist/clients"
	"guestlist/config"
	"guestlist/service"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := watermill.NewStdLogger(false, false)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", err, nil)
		os.Exit(1)
	}

	log.Init(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logrus.WithError(err).Error("failed to run")
		os.Exit(1)
	}
}

func run(cfg config.Config, logger watermill.LoggerAdapter) error {
	gateway, err := clients.NewGateway(cfg.GatewayAddr, cfg.GatewayTimeout)
	if err != nil {
		return err
	}

	payments, err := clients.NewPaymentProcessor(cfg.PaymentsURL(), gateway)
	if err != nil {
		return fmt.Errorf("creating payment processor client: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("failed to close redis connection", err, nil)
		}
	}()

	dbConn, err := sqlx.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close db connection", err, nil)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := service.InitialiseDB(ctx, dbConn, logger); err != nil {
		return fmt.Errorf("initialising db: %w", err)
	}

	svc, err := service.New(service.Deps{
		Logger:                logger,
		DB:                    dbConn,
		RedisClient:           rdb,
		Payments:              payments,
		ReceiptIssuer:         clients.NewReceiptsClient(gateway),
		TicketGenerator:       clients.NewFilesClient(gateway),
		HTTPAddr:              cfg.HTTPAddr,
		JWTSecret:             cfg.JWTSecret,
		LateConfirmationAfter: cfg.LateConfirmationAfter,
		IssuingLease:          cfg.IssuingLease,
		PromoCacheTTL:         cfg.PromoCacheTTL,
		ShutdownTimeout:       cfg.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	return svc.Run(ctx)
}
