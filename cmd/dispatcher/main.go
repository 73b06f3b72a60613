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

	"clinic_reminder_dispatch/internal/app"
	"clinic_reminder_dispatch/internal/domain/delivery"
	"clinic_reminder_dispatch/internal/domain/reminder"
	"clinic_reminder_dispatch/internal/infra/config"
	idb "clinic_reminder_dispatch/internal/infra/database"
	"clinic_reminder_dispatch/internal/infra/email"
	"clinic_reminder_dispatch/internal/infra/httpapi"
	"clinic_reminder_dispatch/internal/infra/logger"
	"clinic_reminder_dispatch/internal/infra/metrics"
	"clinic_reminder_dispatch/internal/infra/scheduler"
	"clinic_reminder_dispatch/internal/infra/sms"
	"clinic_reminder_dispatch/internal/infra/telegram"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	fmt.Println("Clinic Reminder Dispatch starting...")

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("FATAL: Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")

	mainLogger.WithFields(logrus.Fields{
		"delivery_channel": cfg.DeliveryChannel,
		"timezone":         cfg.ClinicTimezone.String(),
		"scheduler":        cfg.SchedulerEnabled,
		"telegram":         cfg.TelegramEnabled(),
	}).Info("Configuration loaded")

	ctx := context.Background()

	db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()
	mainLogger.Info("Database connection established successfully")

	if cfg.RunMigrations {
		if err := idb.NewMigrator(db, logger.Component("migrator")).Up(ctx); err != nil {
			mainLogger.WithError(err).Fatal("Could not apply database migrations")
		}
	}

	reminderRepo := idb.NewPostgresReminderRepository(db)

	channel, err := newChannel(cfg)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not configure delivery channel")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(registry)

	policy := reminder.DefaultPolicy()
	renderer := app.NewRenderer(cfg.ClinicName, cfg.ClinicTimezone)
	dispatcher := app.NewDispatcher(reminderRepo, channel, renderer, policy, logger.Component("dispatcher"), app.DispatcherOptions{
		Concurrency: cfg.DispatchConcurrency,
		ClaimLease:  cfg.ClaimLease,
	})
	dispatcher.SetObserver(appMetrics)

	purgeService := app.NewPurgeService(reminderRepo, cfg.RetentionPeriod, logger.Component("purge"))
	purgeService.SetObserver(appMetrics)
	bookingService := app.NewBookingService(reminderRepo, logger.Component("booking"))
	opsService := app.NewOpsService(dispatcher, reminderRepo, policy.MaxAttempts, cfg.AdminTelegramID)

	var bot *telebot.Bot
	if cfg.TelegramEnabled() {
		botLogger := logger.Component("telegram")
		pref := telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) {
				entry := botLogger.WithError(err)
				if c != nil && c.Sender() != nil && c.Chat() != nil {
					entry = entry.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
				}
				entry.Error("Telegram handler error")
			},
		}
		bot, err = telebot.NewBot(pref)
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
		dispatcher.SetAlertNotifier(telegram.NewExhaustedAlerter(telegram.NewTelebotAdapter(bot), cfg.AdminTelegramID, cfg.ClinicTimezone))
		telegram.NewOpsHandlers(opsService, cfg.CycleTimeout, cfg.ClinicTimezone, botLogger).Register(bot)
		mainLogger.Info("Telegram ops handlers registered")
	}

	var dispatchScheduler *scheduler.DispatchScheduler
	if cfg.SchedulerEnabled {
		dispatchScheduler = scheduler.NewDispatchScheduler(
			dispatcher,
			purgeService,
			logger.Component("scheduler"),
			cfg.CronSpecReminders,
			cfg.CronSpecPurge,
			cfg.CycleTimeout,
		)
		if err := dispatchScheduler.Start(); err != nil {
			mainLogger.WithError(err).Fatal("Could not start scheduler")
		}
	}

	apiLogger := logger.Component("http")
	router := httpapi.NewRouter(
		httpapi.NewReminderHandler(dispatcher, purgeService, bookingService, opsService, cfg.CycleTimeout, apiLogger),
		httpapi.NewHealthHandler(db, apiLogger),
		cfg.CronSecret,
		appMetrics,
		registry,
		apiLogger,
	)
	if cfg.CronSecret == "" {
		mainLogger.Warn("CRON_SECRET is not set, /api endpoints are unauthenticated")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.CycleTimeout + 30*time.Second,
	}
	go func() {
		mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	if bot != nil {
		go bot.Start()
	}
	mainLogger.Info("Application setup complete")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	mainLogger.Info("Shutting down application...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	if dispatchScheduler != nil {
		dispatchScheduler.Stop()
	}
	if bot != nil {
		bot.Stop()
	}
	mainLogger.Info("Application shut down gracefully")
}

func newChannel(cfg *config.AppConfig) (delivery.Channel, error) {
	switch cfg.DeliveryChannel {
	case config.ChannelSendGrid:
		return email.NewSendGridChannel(cfg.SendGridAPIKey, cfg.MailFromEmail, cfg.MailFromName), nil
	case config.ChannelSMTP:
		return email.NewSMTPChannel(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFromEmail, cfg.MailFromName), nil
	case config.ChannelKavenegar:
		return sms.NewKavenegarChannel(cfg.KavenegarAPIKey, cfg.KavenegarSender, logger.Component("sms")), nil
	default:
		return nil, fmt.Errorf("unsupported delivery channel %q", cfg.DeliveryChannel)
	}
}
