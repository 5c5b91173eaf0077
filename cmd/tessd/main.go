package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stars4all/tessd/internal/api"
	"github.com/stars4all/tessd/internal/config"
	"github.com/stars4all/tessd/internal/database"
	"github.com/stars4all/tessd/internal/ingest"
	"github.com/stars4all/tessd/internal/mqttclient"
	"github.com/stars4all/tessd/internal/registry"
	"github.com/stars4all/tessd/internal/sunrise"
	"github.com/stars4all/tessd/internal/writer"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level override")
	flag.StringVar(&overrides.HTTPAddr, "http-addr", "", "admin listen address override")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "database URL override")
	flag.StringVar(&overrides.MQTTBrokerURL, "broker-url", "", "MQTT broker URL override")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	log := newLogger(os.Stdout, cfg.LogLevel)
	log.Info().Str("version", version).Msg("tessd starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DatabaseURL, componentLogger(log, "database", cfg.DBLogLevel))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := db.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}
	if err := db.SeedDimensions(ctx, cfg.YearStart, cfg.YearEnd, cfg.SecsResolution); err != nil {
		log.Fatal().Err(err).Msg("failed to seed dimension tables")
	}

	registerQ := ingest.NewQueue[ingest.Registration](cfg.QueueSize)
	readingsQ := ingest.NewQueue[ingest.Reading](cfg.QueueSize)

	sub := ingest.NewSubscriber(ctx, registerQ, readingsQ, subscriberOptions(cfg),
		leveledLogger(log, cfg.MQTTLogLevel))

	mqtt, err := mqttclient.Connect(mqttclient.Options{
		BrokerURL: cfg.MQTTBrokerURL,
		ClientID:  cfg.MQTTClientID,
		Topics:    allTopics(cfg),
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		Keepalive: cfg.MQTTKeepAlive,
		Log:       leveledLogger(log, cfg.MQTTLogLevel),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid mqtt client setup")
	}
	defer mqtt.Close()
	mqtt.SetMessageHandler(sub.HandleMessage)

	reg := registry.New(db, leveledLogger(log, cfg.RegisterLogLevel))
	solar := sunrise.NewSolar(cfg.SunriseHorizon)

	cache := sunrise.NewCache(db, solar, sunriseOptions(cfg), log)
	go cache.Run(ctx)

	filter := writer.NewDaytimeFilter(db, solar)
	w := writer.New(registerQ, readingsQ, reg, db, filter, sub, db, writerOptions(cfg), log)
	go w.Run(ctx)

	reload := func() error {
		fresh, err := config.Load(overrides)
		if err != nil {
			return err
		}
		sub.Reload(subscriberOptions(fresh))
		mqtt.Reload(allTopics(fresh))
		w.Reload(writerOptions(fresh))
		cache.Reload(sunriseOptions(fresh))
		log.Info().Msg("configuration reloaded")
		return nil
	}

	// The .env watcher and SIGHUP feed the same reload path.
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		watcher, err := config.NewWatcher(envFile, func() {
			if err := reload(); err != nil {
				log.Error().Err(err).Msg("config file reload failed")
			}
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("config file watcher unavailable")
		} else {
			defer watcher.Close()
		}
	}

	srv := api.NewServer(api.ServerOptions{
		Addr:      cfg.HTTPAddr,
		AuthToken: cfg.AuthToken,
		Version:   version,
		StartTime: startTime,
	}, db, mqtt, w, reload, componentLogger(log, "http", cfg.LogLevel))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// SIGHUP reloads, SIGUSR1 pauses the writer, SIGUSR2 resumes it.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)

loop:
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received")
			break loop
		case err := <-errCh:
			if err != nil {
				log.Error().Err(err).Msg("http server error")
			}
			break loop
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				if err := reload(); err != nil {
					log.Error().Err(err).Msg("reload failed, keeping previous config")
				}
			case syscall.SIGUSR1:
				w.Pause()
			case syscall.SIGUSR2:
				w.Resume()
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("tessd stopped")
}

func newLogger(w *os.File, levelName string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(level)
}

// componentLogger derives a tagged child logger with its own level, so
// chatty components can be turned up without flooding the rest.
func componentLogger(root zerolog.Logger, component, levelName string) zerolog.Logger {
	return leveledLogger(root, levelName).With().Str("component", component).Logger()
}

// leveledLogger is componentLogger without the tag, for components that
// tag themselves.
func leveledLogger(root zerolog.Logger, levelName string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return root.Level(level)
}

func subscriberOptions(cfg *config.Config) ingest.Options {
	return ingest.Options{
		Topics:        cfg.TESSTopics,
		RegisterTopic: cfg.TESSTopicRegister,
		Whitelist:     cfg.TESSWhitelist,
		Blacklist:     cfg.TESSBlacklist,
	}
}

func allTopics(cfg *config.Config) []string {
	topics := append([]string(nil), cfg.TESSTopics...)
	if cfg.TESSTopicRegister != "" {
		topics = append(topics, cfg.TESSTopicRegister)
	}
	return topics
}

func writerOptions(cfg *config.Config) writer.Options {
	return writer.Options{
		SecsResolution: cfg.SecsResolution,
		AuthFilter:     cfg.AuthFilter,
		CloseWhenPause: cfg.CloseWhenPause,
		StatsMode:      cfg.StatsMode,
	}
}

func sunriseOptions(cfg *config.Config) sunrise.Options {
	return sunrise.Options{
		BatchPerc:    cfg.SunriseBatchPerc,
		BatchMinSize: cfg.SunriseBatchMinSize,
		Pause:        cfg.SunrisePause,
	}
}
