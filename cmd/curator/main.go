package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"curator/internal/api"
	"curator/internal/config"
	"curator/internal/connector"
	"curator/internal/connector/command"
	"curator/internal/connector/feed"
	"curator/internal/dedup"
	"curator/internal/domain"
	"curator/internal/events"
	"curator/internal/format"
	"curator/internal/registry"
	"curator/internal/scheduler"
	"curator/internal/sink"
	"curator/internal/sink/telegram"
	"curator/internal/sink/webhook"
	"curator/internal/worker"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "config file (default ./curator.yaml or ./configs/curator.yaml)")
		addr    = flag.String("addr", "", "HTTP bind address")
		dbPath  = flag.String("db", "", "SQLite DB path")
		workers = flag.Int("workers", 0, "max concurrent task runs")
		tick    = flag.Duration("tick", 0, "scheduler tick period")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *workers > 0 {
		cfg.Scheduler.Workers = *workers
	}
	if *tick > 0 {
		cfg.Scheduler.Tick = *tick
	}
	setupLogging(cfg.Logging)

	db, err := registry.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("open db")
	}
	defer db.Close()
	repo := registry.NewSQLiteRepo(db)

	ctx := context.Background()
	store, err := dedup.Open(ctx, cfg.Dedup, db)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Dedup.Driver).Msg("open dedup store")
	}
	defer store.Close()

	dests := buildSinks(cfg)
	conns := buildConnectors(cfg)
	formatter := format.New(cfg.PlatformTemplates())
	bus := events.New()

	pool := worker.NewPool(cfg.Scheduler.Workers)
	exec := worker.NewExecutor(conns, dests, formatter, store)
	svc := scheduler.NewService(cfg.Scheduler, scheduler.Deps{
		Registry:     repo,
		Runner:       exec,
		Pool:         pool,
		Dedup:        store,
		Destinations: dests,
		Events:       bus,
	})

	go func() {
		if err := svc.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("scheduler")
		}
	}()

	handler := api.NewServer(svc, api.Options{Destinations: dests, Events: bus, Debug: cfg.Server.Debug})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(handler.Shutdown)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")

	// Scheduler first: no new runs after the signal, in-flight runs get the
	// full shutdown timeout. The API keeps answering reads meanwhile.
	stopCtx, cancelStop := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout+10*time.Second)
	defer cancelStop()
	svc.Stop(stopCtx)

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelHTTP()
	if err := srv.Shutdown(httpCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if !cfg.Console {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

func buildSinks(cfg *config.Config) *sink.Registry {
	reg := sink.NewRegistry()
	client := &http.Client{Timeout: 30 * time.Second}
	for _, d := range cfg.Destinations {
		var (
			s   sink.Sink
			err error
		)
		switch d.Type {
		case domain.DestinationTelegram:
			s, err = telegram.New(d, cfg.Connectors.TelegramAPI)
		default:
			s, err = webhook.New(d, client)
		}
		if err != nil {
			log.Fatal().Err(err).Str("destination_id", d.ID).Msg("configure destination")
		}
		reg.Register(d, s)
		log.Info().Str("destination_id", d.ID).Str("type", string(d.Type)).Msg("destination ready")
	}
	return reg
}

func buildConnectors(cfg *config.Config) *connector.Registry {
	cc := cfg.Connectors
	client := &http.Client{Timeout: cc.Timeout}
	opts := func(base string) feed.Options {
		return feed.Options{Client: client, UserAgent: cc.UserAgent, QPS: cc.QPS, BaseURL: base}
	}

	reg := connector.NewRegistry()
	reg.Register(domain.PlatformYouTube, feed.NewYouTube(opts(cc.YouTubeBaseURL)))
	reg.Register(domain.PlatformReddit, feed.NewReddit(opts(cc.RedditBaseURL)))
	reg.Register(domain.PlatformRSS, feed.NewRSS(opts("")))
	if cc.Command.Path != "" {
		reg.Register(domain.PlatformCommand, command.Command{
			Path:    cc.Command.Path,
			Args:    cc.Command.Args,
			Timeout: cc.Command.Timeout,
		})
	}
	return reg
}
