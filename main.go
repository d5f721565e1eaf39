package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticket-bot/autoclose"
	"ticket-bot/bot"
	"ticket-bot/config"
	"ticket-bot/events"
	"ticket-bot/handlers"
	"ticket-bot/lang"
	"ticket-bot/status"
	"ticket-bot/storage"
	"ticket-bot/ticket"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to config file")
	cleanup := flag.Bool("cleanup", false, "Remove slash commands on shutdown")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Discord.Token == "" {
		log.Fatal("Set your bot token in config.json → discord.token")
	}

	logger := newLogger(*debug)
	defer logger.Sync()

	if err := lang.Load(cfg.Lang.Path); err != nil {
		logger.Warn("language catalog load failed, keys will render raw", zap.Error(err))
	}

	store, err := storage.InitDB(&cfg.Database, logger.Named("storage"))
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	defer store.Close()

	var publisher ticket.Publisher = events.NopPublisher{}
	if cfg.Events.Enabled {
		amqpPub, err := events.NewAMQPPublisher(cfg.Events.URL, cfg.Events.Exchange, logger.Named("events"))
		if err != nil {
			logger.Warn("event broker unavailable, continuing without events", zap.Error(err))
		} else {
			publisher = amqpPub
			defer amqpPub.Close()
		}
	}

	b, err := bot.New(cfg, logger.Named("bot"))
	if err != nil {
		logger.Fatal("session create failed", zap.Error(err))
	}

	gateway := handlers.NewDiscordGateway(b.Session, logger.Named("gateway"))
	engine := ticket.NewEngine(store, gateway, gateway, publisher,
		time.Duration(cfg.Tickets.DeleteGraceSeconds)*time.Second,
		logger.Named("ticket"))
	autoCloser := autoclose.NewScheduler(store, gateway, engine,
		time.Duration(cfg.AutoClose.SweepIntervalMinutes)*time.Minute,
		time.Duration(cfg.AutoClose.GraceMinutes)*time.Minute,
		cfg.AutoClose.RecentMessageFetchLimit,
		logger.Named("autoclose"))
	stats := status.NewRefresher(store, gateway,
		time.Duration(cfg.Status.RefreshSeconds)*time.Second,
		time.Duration(cfg.Status.RotateSeconds)*time.Second,
		logger.Named("status"))

	handlers.Cfg = cfg
	handlers.Store = store
	handlers.Engine = engine
	handlers.AutoCloser = autoCloser
	handlers.Stats = stats
	handlers.Log = logger.Named("handlers")
	handlers.Register(b.Session)

	if err := b.Start(); err != nil {
		logger.Fatal("gateway open failed", zap.Error(err))
	}
	defer b.Stop()

	b.RegisterCommands(handlers.Commands())

	ctx, cancel := context.WithCancel(context.Background())
	go autoCloser.Run(ctx)
	go stats.Run(ctx)

	logger.Info("bot is running, press ctrl+c to exit")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()
	if *cleanup {
		b.CleanupCommands()
	}
}

func newLogger(debug bool) *zap.Logger {
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.TimeKey = "time"
	if debug {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := zc.Build()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	return logger
}
