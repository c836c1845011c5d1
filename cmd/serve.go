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

	"github.com/eaglebank/ledger-service/internal/command"
	"github.com/eaglebank/ledger-service/internal/config"
	"github.com/eaglebank/ledger-service/internal/handler"
	"github.com/eaglebank/ledger-service/internal/memstore"
	"github.com/eaglebank/ledger-service/internal/query"
	"github.com/eaglebank/ledger-service/internal/repository"
	"github.com/eaglebank/ledger-service/internal/store"
	"github.com/eaglebank/ledger-service/shared/events"
	"github.com/eaglebank/ledger-service/shared/middleware"
	sharedredis "github.com/eaglebank/ledger-service/shared/redis"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const historySubscriberGroup = "ledger-history"

func serveCommand(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, app.cfg)
		},
	}
}

// ledgerQueries serves both read paths to the handler.
type ledgerQueries struct {
	*query.BalanceQueryService
	*query.HistoryQueryService
}

// service is the fully wired process: router plus the background stream
// consumer, and whatever must be closed on exit.
type service struct {
	router     *gin.Engine
	subscriber *events.Subscriber
	closers    []func() error
}

func (s *service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logrus.WithError(err).Warn("failed to release resource")
		}
	}
}

func buildService(ctx context.Context, cfg *config.Config, redisClient goredis.UniversalClient) (*service, error) {
	svc := &service{}

	st, err := openStore(ctx, cfg, svc)
	if err != nil {
		svc.Close()
		return nil, err
	}

	var identities store.IdentityDirectory = st.Identities()
	if redisClient != nil {
		identities = repository.NewCachedIdentityDirectory(identities, redisClient, cfg.IdentityCacheTTL)
	}

	history := query.NewHistoryQueryService(identities, st.Entries(), redisClient, cfg.HistoryCacheTTL)
	balances := query.NewBalanceQueryService(identities, st.Accounts())

	opts := []command.Option{
		command.WithRecipientPolicy(command.RecipientPolicy(cfg.RecipientPolicy)),
		command.WithRetry(cfg.TransferMaxRetries, cfg.TransferRetryWait),
		command.WithHistoryInvalidator(history),
		command.WithLogger(logrus.StandardLogger()),
	}
	if redisClient != nil {
		opts = append(opts, command.WithPublisher(events.NewPublisher(redisClient, cfg.EventStreamMaxLen)))
		svc.subscriber = events.NewSubscriber(redisClient, events.SubscriberConfig{
			Group:    historySubscriberGroup,
			Consumer: consumerName(),
			Stream:   events.LedgerEventsStream,
			Handler:  history.HandleLedgerEvent,
		})
	}
	transfers := command.NewTransferCommandService(st, opts...)

	svc.router = newRouter(cfg, handler.NewLedgerHandler(transfers, ledgerQueries{balances, history}))
	return svc, nil
}

func openStore(ctx context.Context, cfg *config.Config, svc *service) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		mem := memstore.New()
		if cfg.SeedFile == "" {
			return mem, nil
		}
		f, err := os.Open(cfg.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open seed file: %w", err)
		}
		defer f.Close()
		if err := mem.Load(f); err != nil {
			return nil, err
		}
		return mem, nil
	default:
		db, err := repository.ConnectDB(ctx, cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, db.Close)
		return repository.NewStore(db), nil
	}
}

func newRouter(cfg *config.Config, h *handler.LedgerHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.LoggingMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "ledger"})
	})
	h.RegisterRoutes(router.Group("", middleware.RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst)))
	return router
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "ledger"
	}
	return host + "-" + uuid.NewString()[:8]
}

func runServer(ctx context.Context, cfg *config.Config) error {
	gin.SetMode(gin.ReleaseMode)

	var redisClient goredis.UniversalClient
	if cfg.RedisEnabled() {
		rc, err := sharedredis.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rc.Close()
		redisClient = rc.Client
	} else {
		logrus.Warn("LEDGER_REDIS_ADDR not set: running without caches and events")
	}

	svc, err := buildService(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	defer svc.Close()

	if svc.subscriber != nil {
		go func() {
			if err := svc.subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logrus.WithError(err).Error("history subscriber stopped")
			}
		}()
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           svc.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{"port": cfg.Port, "store": cfg.Store}).Info("ledger service starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logrus.Info("shutting down")
	return server.Shutdown(shutdownCtx)
}
