// Command indexer runs the full Polymarket on-chain indexer: the sync
// coordinator ingesting raw logs, the replay engine rebuilding per-user PnL
// on demand, and the query server exposing both over HTTP. Structure and
// supervisor shape are grounded on the teacher's cmd/watcher/main.go.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"polyindex/internal/api"
	"polyindex/internal/config"
	"polyindex/internal/metrics"
	"polyindex/internal/replay"
	"polyindex/internal/rpcclient"
	"polyindex/internal/store"
	"polyindex/internal/sync"
)

func main() {
	var configPath string
	var rebuildOnStart bool

	cmd := &cobra.Command{
		Use:   "indexer",
		Short: "Polymarket on-chain event indexer and PnL replay engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, rebuildOnStart)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.json", "path to the JSON config file")
	cmd.Flags().BoolVar(&rebuildOnStart, "rebuild-on-start", false, "trigger a replay rebuild immediately after startup")

	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("indexer exited with error")
		os.Exit(1)
	}
}

func run(configPath string, rebuildOnStart bool) error {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	setupLogging(cfg.Logging)
	log.Info().Msg("starting polyindex")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	m := metrics.New()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to open store")
		os.Exit(1)
	}
	defer st.Close()
	log.Info().Str("path", cfg.DBPath).Msg("store opened")

	client := rpcclient.New(cfg.RPCURL, cfg.RPCAPIKey)

	coordinator, err := sync.New(cfg, client, st, m)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize sync coordinator")
		os.Exit(1)
	}

	engine := replay.NewEngine(st, m)
	if rebuildOnStart {
		if err := engine.TriggerRebuild(ctx); err != nil {
			log.Warn().Err(err).Msg("initial rebuild did not start")
		}
	}

	server := api.New(st, engine, coordinator, m)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Msg("starting sync coordinator")
		return coordinator.Run(gCtx)
	})

	g.Go(func() error {
		log.Info().Int("port", cfg.APIPort).Msg("starting query server")
		return server.ListenAndServe(gCtx, cfg.APIPort)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}

	log.Info().Msg("polyindex shutdown complete")
	return nil
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}
