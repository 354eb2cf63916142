package bootstrap

import (
	"context"
	"sync"
	"time"

	"ecliptica/internal/adapters/coinbase"
	"ecliptica/internal/adapters/config"
	"ecliptica/internal/adapters/openaichat"
	pgclient "ecliptica/internal/adapters/postgres"
	redisclient "ecliptica/internal/adapters/redis"
	"ecliptica/internal/adapters/rei"
	telegram "ecliptica/internal/adapters/telegram"
	"ecliptica/internal/api"
	"ecliptica/internal/api/billing"
	"ecliptica/internal/api/health"
	telegramapi "ecliptica/internal/api/telegram"
	"ecliptica/internal/domain/profile"
	"ecliptica/internal/domain/session"
	"ecliptica/internal/domain/subscription"
	"ecliptica/internal/metrics"
	pgrepo "ecliptica/internal/repository/postgres"
	redisrepo "ecliptica/internal/repository/redis"
	"ecliptica/internal/services/access"
	"ecliptica/internal/services/assets"
	"ecliptica/internal/services/gateway"
	"ecliptica/internal/services/guard"
	"ecliptica/internal/services/wizard"
	"ecliptica/internal/workers/renewal"
	"ecliptica/pkg/errors"
	"ecliptica/pkg/logger"
)

// Container holds all application dependencies and their lifecycle.
// Components are organized in initialization order.
type Container struct {
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure
	PG    *pgclient.Client
	Redis *redisclient.Client

	// Repositories
	Profiles      profile.Repository
	Subscriptions subscription.Repository
	Payments      subscription.PaymentRepository
	Sessions      session.Repository
	ResponseCache *redisrepo.ResponseCacheRepository

	// External adapters
	Coinbase *coinbase.Client
	Bot      *telegram.Bot

	// Services
	Gateway *gateway.Service
	Access  *access.Service
	Wizard  *wizard.Service
	Guard   *guard.Guard
	Assets  *assets.Service

	// Application
	Handler *telegram.Handler
	Server  *api.Server
	Renewal *renewal.Worker

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds the full dependency graph. Fails fast: a missing data store or
// an invalid bot token stops the process before anything starts serving.
func New(cfg *config.Config, tracker errors.Tracker) (*Container, error) {
	log := logger.Get()

	c := &Container{
		Config:       cfg,
		Log:          log,
		ErrorTracker: tracker,
	}

	metrics.Init()

	// Data stores
	pg, err := pgclient.NewClient(cfg.Postgres)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}
	c.PG = pg

	rd, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	c.Redis = rd

	// Repositories
	c.Profiles = pgrepo.NewProfileRepository(pg.DB())
	c.Subscriptions = pgrepo.NewSubscriptionRepository(pg.DB())
	c.Payments = pgrepo.NewPaymentRepository(pg.DB())
	c.Sessions = redisrepo.NewWizardSessionRepository(rd)
	c.ResponseCache = redisrepo.NewResponseCacheRepository(rd)

	metrics.RegisterBusinessCollector(metrics.NewBusinessCollector(pg.DB()))

	// Completion backends
	primary := rei.NewClient(
		cfg.Completion.REIBaseURL,
		cfg.Completion.REIAPIKey,
		cfg.Completion.REIModel,
		cfg.Completion.Temperature,
		cfg.Completion.PrimaryTimeout,
	)

	var alternate gateway.Backend
	if cfg.Completion.OpenAIKey != "" {
		alt, err := openaichat.NewClient(
			cfg.Completion.OpenAIKey,
			cfg.Completion.OpenAIModel,
			cfg.Completion.Temperature,
			cfg.Completion.AlternateTimeout,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create alternate completion backend")
		}
		alternate = alt
	} else {
		log.Warn("No OpenAI key configured, running without alternate completion backend")
	}

	c.Gateway = gateway.NewService(primary, alternate, c.ResponseCache, gateway.Config{
		MaxAttempts:     cfg.Completion.MaxAttempts,
		MaxTokens:       cfg.Completion.MaxTokens,
		AlternateTokens: cfg.Completion.AlternateTokens,
		CacheTTL:        cfg.Completion.CacheTTL,
	})

	// Billing
	c.Coinbase = coinbase.NewClient(cfg.Coinbase.BaseURL, cfg.Coinbase.APIKey, cfg.Coinbase.WebhookSecret)
	c.Access = access.NewService(c.Subscriptions, c.Payments, c.Coinbase, cfg.Subscription.FreeLimit)

	// Conversation
	c.Assets = assets.NewService()
	c.Wizard = wizard.NewService(c.Sessions, c.Profiles, c.Assets)
	c.Guard = guard.New(cfg.Subscription.BusyFailsafe)

	// Telegram
	bot, err := telegram.NewBot(telegram.Config{
		Token:       cfg.Telegram.BotToken,
		WebhookMode: cfg.Telegram.WebhookURL != "",
	}, log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram bot")
	}
	c.Bot = bot

	c.Handler = telegram.NewHandler(bot, c.Wizard, c.Access, c.Gateway, c.Guard, c.Profiles)
	bot.SetMessageHandler(c.Handler.HandleUpdate)

	// HTTP server
	healthHandler := health.New(log, pg.DB(), rd.Client(), cfg.App.Name, cfg.App.Version)
	billingWebhook := billing.NewWebhookHandler(c.Coinbase, c.Access, bot)

	serverCfg := api.ServerConfig{
		Port:           cfg.Server.Port,
		ServiceName:    cfg.App.Name,
		Version:        cfg.App.Version,
		BillingWebhook: billingWebhook,
	}
	if cfg.Telegram.WebhookURL != "" {
		serverCfg.TelegramWebhook = telegramapi.NewWebhookHandler(bot, c.Handler, log)
	}
	c.Server = api.NewServer(serverCfg, healthHandler, log)

	// Background
	c.Renewal = renewal.NewWorker(c.Subscriptions, c.Access, bot, cfg.Subscription.RenewalInterval)

	return c, nil
}

// Run starts every component and blocks until the context is cancelled.
func (c *Container) Run(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	if c.Config.Telegram.WebhookURL != "" {
		if err := c.Bot.SetWebhook(c.Config.Telegram.WebhookURL); err != nil {
			return err
		}
	} else {
		if err := c.Bot.DeleteWebhook(false); err != nil {
			c.Log.Warnw("Failed to clear stale webhook", "error", err)
		}
	}

	if err := c.Bot.SetCommands(telegram.Commands, telegram.CommandOrder); err != nil {
		c.Log.Warnw("Failed to publish command menu", "error", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Server.Start(); err != nil {
			c.Log.Errorf("HTTP server error: %v", err)
			c.cancel()
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Renewal.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.Log.Errorf("Renewal worker error: %v", err)
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Bot.Start(ctx); err != nil {
			c.Log.Errorf("Telegram bot error: %v", err)
			c.cancel()
		}
	}()

	c.Log.Info("All components started")
	<-ctx.Done()
	return nil
}

// Shutdown stops everything in reverse order and waits for goroutines.
func (c *Container) Shutdown() {
	c.Log.Info("Shutting down...")

	if c.cancel != nil {
		c.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.Server.Shutdown(shutdownCtx); err != nil {
		c.Log.Warnf("HTTP server shutdown: %v", err)
	}

	c.wg.Wait()

	if err := c.Redis.Close(); err != nil {
		c.Log.Warnf("Redis close: %v", err)
	}
	if err := c.PG.Close(); err != nil {
		c.Log.Warnf("Postgres close: %v", err)
	}

	if c.ErrorTracker != nil {
		if err := c.ErrorTracker.Flush(shutdownCtx); err != nil {
			c.Log.Warnf("Error tracker flush: %v", err)
		}
	}

	c.Log.Info("Shutdown complete")
}
