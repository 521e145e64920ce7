package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/genai-tgbot-go/internal/config"
	"github.com/genai-tgbot-go/internal/handlers"
	"github.com/genai-tgbot-go/internal/i18n"
	"github.com/genai-tgbot-go/internal/middleware"
	"github.com/genai-tgbot-go/internal/ratelimit"
	"github.com/genai-tgbot-go/internal/services/ai"
	"github.com/genai-tgbot-go/internal/services/cache"
	"github.com/genai-tgbot-go/internal/services/storage"
	"github.com/genai-tgbot-go/pkg/logger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const sweepInterval = 5 * time.Minute

func run(ctx context.Context, cfg *config.Config) error {
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info("Starting Telegram Bot...")

	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}
	bot.Debug = cfg.Logging.Level == "debug"
	log.WithField("username", bot.Self.UserName).Info("Bot authorized")

	metrics := middleware.NewMetrics()

	storageManager, err := storage.NewManager(cfg, log, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := storageManager.Close(); err != nil {
			log.WithError(err).Warn("Failed to close storage")
		}
	}()

	registry := ai.NewRegistryFromConfig(ctx, &cfg.Providers, log)

	limiter, err := newLimiter(cfg, storageManager, metrics, log)
	if err != nil {
		return err
	}

	cacheService := cache.NewCache(cfg.Cache, log, metrics)

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		return fmt.Errorf("failed to initialize i18n: %w", err)
	}

	handler := handlers.NewHandler(bot, cfg, registry, limiter, storageManager, cacheService, localizer, metrics, log)

	if _, err := bot.Request(handlers.BotCommands()); err != nil {
		log.WithError(err).Warn("Failed to publish command list")
	}

	g, ctx := errgroup.WithContext(ctx)

	updates, err := openUpdates(ctx, g, bot, cfg, log)
	if err != nil {
		return err
	}

	g.Go(func() error {
		return handler.Run(ctx, updates)
	})

	if cfg.Monitoring.Metrics.Enabled {
		g.Go(func() error {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")
			if err := middleware.StartMetricsServer(ctx, cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		startPeriodicTasks(ctx, handler.Throttle(), log)
		return nil
	})

	<-ctx.Done()
	log.Info("Shutdown signal received")

	if cfg.Bot.Webhook.Enabled {
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.WithError(err).Error("Failed to delete webhook")
		}
	} else {
		bot.StopReceivingUpdates()
	}

	err = g.Wait()
	log.Info("Bot stopped")
	return err
}

func newLimiter(cfg *config.Config, storageManager *storage.Manager, metrics *middleware.Metrics, log *logrus.Logger) (*ratelimit.Limiter, error) {
	opts := []ratelimit.Option{
		ratelimit.WithLogger(log),
		ratelimit.WithDenyHook(metrics.RecordRateLimitExceeded),
	}
	if cfg.RateLimit.Store == "redis" {
		client := storageManager.GetRedisClient()
		if client == nil {
			return nil, errors.New("redis rate limit store needs a redis storage backend")
		}
		opts = append(opts, ratelimit.WithStore(ratelimit.NewRedisStore(client, "ratelimit")))
	}

	limiter := ratelimit.New(opts...)
	if err := handlers.RegisterLimits(limiter, cfg.RateLimit); err != nil {
		return nil, fmt.Errorf("failed to register rate limits: %w", err)
	}
	log.WithFields(logrus.Fields{
		"store":    cfg.RateLimit.Store,
		"commands": len(limiter.Commands()),
	}).Info("Rate limiter initialized")
	return limiter, nil
}

// openUpdates starts long polling, or a webhook server when one is configured.
func openUpdates(ctx context.Context, g *errgroup.Group, bot *tgbotapi.BotAPI, cfg *config.Config, log *logrus.Logger) (tgbotapi.UpdatesChannel, error) {
	if !cfg.Bot.Webhook.Enabled {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = cfg.Bot.UpdateTimeout
		log.Info("Using long polling")
		return bot.GetUpdatesChan(u), nil
	}

	webhookURL := fmt.Sprintf("%s/%s", cfg.Bot.Webhook.URL, bot.Token)
	webhook, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook: %w", err)
	}
	if _, err := bot.Request(webhook); err != nil {
		return nil, fmt.Errorf("failed to set webhook: %w", err)
	}

	updates := make(chan tgbotapi.Update, bot.Buffer)
	router := mux.NewRouter()
	router.HandleFunc("/"+bot.Token, func(w http.ResponseWriter, r *http.Request) {
		update, err := bot.HandleUpdate(r)
		if err != nil {
			log.WithError(err).Warn("Bad webhook update")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		select {
		case updates <- *update:
		case <-r.Context().Done():
		}
	}).Methods(http.MethodPost)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Bot.Webhook.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.WithField("port", cfg.Bot.Webhook.Port).Info("Webhook set")
	return updates, nil
}

// startPeriodicTasks drops idle per-chat throttles until ctx is done.
func startPeriodicTasks(ctx context.Context, throttle *middleware.ChatThrottle, log *logrus.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := throttle.Sweep(); n > 0 {
				log.WithFields(logrus.Fields{
					"removed":   n,
					"remaining": throttle.Len(),
				}).Debug("Swept idle chat throttles")
			}
		}
	}
}
