package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reading_group_scheduler/internal/app"
	"reading_group_scheduler/internal/domain/mail"
	"reading_group_scheduler/internal/domain/notification"
	dtelegram "reading_group_scheduler/internal/domain/telegram"
	"reading_group_scheduler/internal/infra/config"
	idb "reading_group_scheduler/internal/infra/database"
	"reading_group_scheduler/internal/infra/logger"
	"reading_group_scheduler/internal/infra/mailer"
	"reading_group_scheduler/internal/infra/metrics"
	"reading_group_scheduler/internal/infra/scheduler"
	"reading_group_scheduler/internal/infra/telegram"

	"github.com/coreos/go-systemd/v22/daemon"
	"gopkg.in/telebot.v3"
)

func main() {
	fmt.Println("Reading group scheduler starting...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg)
	mainLogger := logger.WithService("main")
	mainLogger.WithField("environment", cfg.Environment).WithField("driver", cfg.DatabaseDriver).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialect, err := idb.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		mainLogger.WithError(err).Fatal("Unsupported database driver")
	}
	db, err := idb.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()
	mainLogger.Info("Database connection established and schema migrated")

	// Repositories
	cohortRepo := idb.NewSQLCohortRepository(db)
	memberRepo := idb.NewSQLMemberRepository(db)
	messageLog := idb.NewSQLMessageLog(db)
	emailHealth := idb.NewSQLEmailHealth(db, cfg.EmailSkipAfterFailures)

	recorder := metrics.New()

	var transport mail.Transport
	if cfg.SMTPHost != "" {
		smtpTransport, err := mailer.NewSMTPTransport(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, logger.WithService("mailer"))
		if err != nil {
			mainLogger.WithError(err).Fatal("Invalid SMTP configuration")
		}
		transport = smtpTransport
	} else {
		mainLogger.Warn("SMTP_HOST is not set. Emails will be logged, not sent.")
		transport = mailer.NewLogTransport(logger.WithService("mailer"))
	}
	transport = mailer.NewRateLimited(transport, cfg.EmailRatePerSec)

	// Telegram bot is optional; without a token announcements are only stored.
	var bot *telebot.Bot
	var tgClient dtelegram.Client
	if cfg.TelegramToken != "" {
		botLogger := logger.WithService("telebot")
		bot, err = telebot.NewBot(telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) {
				entry := botLogger.WithError(err)
				if c != nil && c.Sender() != nil && c.Chat() != nil {
					entry = entry.WithField("sender_id", c.Sender().ID).WithField("chat_id", c.Chat().ID)
				}
				entry.Error("Telegram handler error")
			},
		})
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
		tgClient = telegram.NewTelebotAdapter(bot)
	}

	var announcer notification.Announcer = idb.NewSQLAnnouncementRepository(db)
	if tgClient != nil && cfg.AnnounceChatID != 0 {
		announcer = telegram.NewMirroringAnnouncer(announcer, tgClient, cfg.AnnounceChatID, logger.WithService("announcer"))
	}

	// Services
	naming := app.Naming{Program: cfg.ProgramName, Suffix: cfg.CohortNameSuffix}
	lifecycle := app.NewLifecycleService(cohortRepo, memberRepo, naming, cfg.DefaultCapacity, nil, logger.WithService("lifecycle"), recorder)
	dispatcher := app.NewDispatcher(transport, emailHealth, app.DispatcherConfig{
		BatchSize:  cfg.EmailBatchSize,
		BatchDelay: cfg.EmailBatchDelay,
	}, logger.WithService("dispatcher"), recorder)
	notifications := app.NewNotificationService(cohortRepo, app.NewNotificationGate(messageLog), dispatcher, announcer,
		cfg.SystemActorID, nil, logger.WithService("notifications"), recorder)
	job := app.NewSchedulerJob(lifecycle, notifications, logger.WithService("scheduler_job"), recorder)
	cohortScheduler := scheduler.NewCohortScheduler(job, logger.WithService("scheduler"), cfg.CronSpecScheduler,
		cfg.SchedulerRunOnStart, cfg.SchedulerPassTimeout)
	adminService := app.NewAdminService(lifecycle, cohortScheduler, memberRepo, cfg.AdminTelegramIDs)
	mainLogger.Info("Services initialized")

	if err := cohortScheduler.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start scheduler")
	}

	metricsDone := make(chan struct{})
	if cfg.MetricsAddr != "" {
		go func() {
			defer close(metricsDone)
			if err := recorder.Serve(ctx, cfg.MetricsAddr, logger.WithService("metrics")); err != nil {
				mainLogger.WithError(err).Error("Metrics server stopped with error")
			}
		}()
	} else {
		close(metricsDone)
	}

	if bot != nil {
		handlerLogger := logger.WithService("telegram")
		telegram.RegisterBotCommands(ctx, bot, adminService, memberRepo, handlerLogger)
		telegram.RegisterAdminHandlers(ctx, bot, adminService, handlerLogger)
		telegram.RegisterMemberHandlers(ctx, bot, lifecycle, memberRepo, handlerLogger)
		go bot.Start()
		mainLogger.Info("Telegram bot started")
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		mainLogger.WithError(err).Warn("Failed to notify systemd")
	} else if ok {
		mainLogger.Debug("Notified systemd of readiness")
	}
	mainLogger.Info("Application setup complete")

	<-ctx.Done()

	mainLogger.Info("Shutting down application...")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if bot != nil {
		bot.Stop()
	}
	cohortScheduler.Stop()
	<-metricsDone
	mainLogger.Info("Application shut down gracefully")
}
