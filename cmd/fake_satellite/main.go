package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/beeper/libserv/pkg/flagenv"

	"github.com/beeper/groundstation-gateway/internal/config"
	"github.com/beeper/groundstation-gateway/internal/link"
	"github.com/beeper/groundstation-gateway/internal/satellite"
)

var Commit,
	BuildTime string

func main() {
	prettyLogs := flag.Bool("prettyLogs", false, "Display pretty logs")
	debug := flag.Bool("debug", false, "Enable debug logging")

	configFile := flag.String(
		"config",
		flagenv.StringEnvWithDefault("GATEWAY_CONFIG", ""),
		"Path to a YAML config file",
	)
	system := flag.String(
		"system",
		flagenv.StringEnvWithDefault("FAKE_SATELLITE_SYSTEM", ""),
		"System name reported by the satellite (overrides config)",
	)

	flag.Parse()

	if *prettyLogs {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Debug().Msg("Debug logging enabled")
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configFile).Msg("Failed to load config")
	}
	satCfg := cfg.SatelliteConfig()
	if *system != "" {
		satCfg.System = *system
	}

	log.Info().Str("commit", Commit).Str("build_time", BuildTime).Str("system", satCfg.System).Msg("fake-satellite starting")

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("fake-satellite"),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
	)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
	}
	defer nc.Close()

	// The satellite publishes where the gateway listens.
	satLink := link.NewNATS(nc, cfg.Subjects().Reversed())
	sat := satellite.New(satLink, satCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return satLink.Start(ctx, sat.Handle) })
	g.Go(func() error { return sat.Run(ctx) })

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-c:
	case <-ctx.Done():
	}

	log.Info().Msg("Going to stop...")

	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Err(err).Msg("Satellite stopped with error")
	}
}
