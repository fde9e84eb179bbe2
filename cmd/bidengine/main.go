package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/auction-bid-engine/internal/bidding"
	"github.com/jensholdgaard/auction-bid-engine/internal/bot"
	"github.com/jensholdgaard/auction-bid-engine/internal/broadcast"
	"github.com/jensholdgaard/auction-bid-engine/internal/clock"
	"github.com/jensholdgaard/auction-bid-engine/internal/config"
	"github.com/jensholdgaard/auction-bid-engine/internal/health"
	"github.com/jensholdgaard/auction-bid-engine/internal/leader"
	"github.com/jensholdgaard/auction-bid-engine/internal/store"
	"github.com/jensholdgaard/auction-bid-engine/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/auction-bid-engine/internal/store/memory"
	_ "github.com/jensholdgaard/auction-bid-engine/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "opened store", slog.String("driver", cfg.Database.Driver))

	var session *discordgo.Session
	if cfg.Discord.Token != "" {
		if session, err = bot.NewSession(cfg.Discord); err != nil {
			return err
		}
	}

	sinks := broadcast.Fanout{broadcast.NewLogSink(logger)}
	if session != nil && cfg.Broadcast.ChannelID != "" {
		sinks = append(sinks, broadcast.NewDiscordSink(session, cfg.Broadcast.ChannelID))
	}

	engine, err := bidding.NewEngine(repos, sinks, logger, tp.TracerProvider, tp.MeterProvider, clk, bidding.Options{
		SettleDelay:      cfg.Resolver.SettleDelay,
		PassTimeout:      cfg.Resolver.PassTimeout,
		OutcomeCacheSize: cfg.OutcomeCacheSize,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	healthHandler := health.NewHandler(clk, health.Checker{Name: "database", Check: repos.Ping})
	healthHandler.AddGauge(health.Gauge{Name: "pending_passes", Value: engine.Resolver().Pending})

	mux := http.NewServeMux()
	healthHandler.Routes(mux)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// serve is the work only the leader runs: resolving competitions and
	// answering Discord commands. It blocks until ctx is done.
	serve := func(ctx context.Context) {
		if recoverErr := engine.Resolver().RecoverPending(ctx); recoverErr != nil {
			logger.ErrorContext(ctx, "resolution recovery failed", slog.Any("error", recoverErr))
		}

		var discordBot *bot.Bot
		if session != nil {
			discordBot = bot.New(session, cfg.Discord, engine, logger, tp.TracerProvider)
			if botErr := discordBot.Start(ctx); botErr != nil {
				logger.ErrorContext(ctx, "starting bot failed", slog.Any("error", botErr))
				discordBot = nil
			}
		}

		healthHandler.SetRole(health.RoleLeader)
		healthHandler.SetReady(true)
		logger.InfoContext(ctx, "bid engine is running", slog.String("version", version))

		<-ctx.Done()

		healthHandler.SetReady(false)
		healthHandler.SetRole(health.RoleStandby)
		if discordBot != nil {
			if stopErr := discordBot.Stop(); stopErr != nil {
				logger.Error("bot shutdown error", slog.Any("error", stopErr))
			}
		}

		engine.Resolver().Stop()
		drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer drainCancel()
		if drainErr := engine.Resolver().Drain(drainCtx); drainErr != nil {
			logger.Error("resolver drain incomplete", slog.Int("pending", engine.Resolver().Pending()), slog.Any("error", drainErr))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.InfoContext(gctx, "starting health server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", listenErr)
		}
		return nil
	})

	g.Go(func() error {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer shutdownCancel()
			if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
				logger.Error("http server shutdown error", slog.Any("error", shutdownErr))
			}
		}()

		if !cfg.LeaderElection.Enabled {
			serve(gctx)
			return nil
		}

		logger.InfoContext(gctx, "leader election enabled, waiting for leadership...")
		return leader.Run(gctx, cfg.LeaderElection, logger, serve, func() {
			logger.Info("lost leadership, shutting down...")
			cancel()
		})
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
