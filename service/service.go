package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guestlist/cache"
	"guestlist/http"
	"guestlist/message"
	"guestlist/metrics"
	"guestlist/postgres"
	"guestlist/ticketing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Deps struct {
	Logger          watermill.LoggerAdapter
	DB              *sqlx.DB
	RedisClient     *redis.Client
	Payments        ticketing.PaymentProcessor
	ReceiptIssuer   message.ReceiptIssuer
	TicketGenerator message.TicketGenerator

	HTTPAddr              string
	JWTSecret             string
	LateConfirmationAfter time.Duration
	IssuingLease          time.Duration
	PromoCacheTTL         time.Duration
	ShutdownTimeout       time.Duration
}

type Service struct {
	msgRouter       *message.Router
	forwarder       *message.Forwarder
	httpRouter      *echo.Echo
	httpAddr        string
	shutdownTimeout time.Duration
}

func New(deps Deps) (*Service, error) {
	redisPublisher, err := message.NewRedisPublisher(deps.RedisClient, deps.Logger)
	if err != nil {
		return nil, err
	}

	eventBus, err := message.NewEventBus(redisPublisher, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating event bus: %w", err)
	}

	commandBus, err := message.NewCommandBus(redisPublisher, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating command bus: %w", err)
	}

	msgRouter, err := message.NewRouter(message.RouterDeps{
		Logger:          deps.Logger,
		RedisClient:     deps.RedisClient,
		EventBus:        eventBus,
		ReceiptIssuer:   deps.ReceiptIssuer,
		TicketGenerator: deps.TicketGenerator,
		PaymentVoider:   deps.Payments,
	})
	if err != nil {
		return nil, fmt.Errorf("creating message router: %w", err)
	}

	forwarder, err := message.NewForwarder(deps.DB, deps.RedisClient, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating forwarder: %w", err)
	}

	eventRepo := postgres.NewEventRepo(deps.DB)
	promoCodes := cache.NewPromoCodes(postgres.NewPromoCodeRepo(deps.DB), deps.RedisClient, deps.PromoCacheTTL)
	ticketRepo := postgres.NewTicketRepo(deps.DB, deps.Logger)
	usageRepo := postgres.NewPromoUsageRepo(deps.DB)
	promos := ticketing.NewPromoValidator(eventRepo, promoCodes)

	orchestrator, err := ticketing.NewOrchestrator(ticketing.OrchestratorDeps{
		Events:                eventRepo,
		Promos:                promos,
		Ledger:                metrics.InstrumentLedger(postgres.NewInventoryRepo(deps.DB)),
		Payments:              deps.Payments,
		Attempts:              postgres.NewAttemptRepo(deps.DB, deps.Logger),
		Tickets:               ticketRepo,
		Usage:                 usageRepo,
		Voids:                 message.NewVoidScheduler(commandBus),
		LateConfirmationAfter: deps.LateConfirmationAfter,
		IssuingLease:          deps.IssuingLease,
	})
	if err != nil {
		return nil, fmt.Errorf("creating purchase orchestrator: %w", err)
	}

	httpRouter := http.NewRouter(http.RouterDeps{
		Purchases: orchestrator,
		Promos:    promos,
		CheckIns:  ticketing.NewCheckInService(eventRepo, ticketRepo, nil),
		Usage:     ticketing.NewUsageService(eventRepo, usageRepo, nil),
		Catalog:   ticketing.NewCatalogService(eventRepo, promoCodes, ticketRepo, nil),
		Tokens:    http.NewTokens(deps.JWTSecret),
	})

	shutdownTimeout := deps.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}

	return &Service{
		msgRouter:       msgRouter,
		forwarder:       forwarder,
		httpRouter:      httpRouter,
		httpAddr:        deps.HTTPAddr,
		shutdownTimeout: shutdownTimeout,
	}, nil
}

// InitialiseDB creates the tables of the repositories and of the outbox.
func InitialiseDB(ctx context.Context, db *sqlx.DB, logger watermill.LoggerAdapter) error {
	if err := postgres.InitialiseDB(ctx, db); err != nil {
		return err
	}

	if err := message.InitializeOutbox(db, logger); err != nil {
		return fmt.Errorf("initialising outbox: %w", err)
	}

	return nil
}

func (s Service) Run(ctx context.Context) error {
	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.msgRouter.Run(runCtx); err != nil {
			return fmt.Errorf("running messaging router: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		if err := s.forwarder.Run(runCtx); err != nil {
			return fmt.Errorf("running outbox forwarder: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-s.msgRouter.Running()
		<-s.forwarder.Running()

		logrus.WithField("addr", s.httpAddr).Info("Starting HTTP server...")
		err := s.httpRouter.Start(s.httpAddr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("starting http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-runCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		logrus.Info("Shutting down HTTP server...")
		if err := s.httpRouter.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}

		if err := s.forwarder.Close(); err != nil {
			return fmt.Errorf("closing outbox forwarder: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("waiting for shutdown: %w", err)
	}
	logrus.Info("Shutdown complete.")

	return nil
}
