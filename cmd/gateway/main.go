package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/beeper/libserv/pkg/flagenv"

	"github.com/beeper/groundstation-gateway/internal/api"
	"github.com/beeper/groundstation-gateway/internal/config"
	"github.com/beeper/groundstation-gateway/internal/control"
	"github.com/beeper/groundstation-gateway/internal/gateway"
	"github.com/beeper/groundstation-gateway/internal/link"
	"github.com/beeper/groundstation-gateway/internal/metrics"
	"github.com/beeper/groundstation-gateway/internal/protocol"
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
	listenAddr := flag.String(
		"listen",
		flagenv.StringEnvWithDefault("GATEWAY_API_LISTEN", ""),
		"Operator API listen address (overrides config)",
	)
	metricsListenAddr := flag.String(
		"metricsListen",
		flagenv.StringEnvWithDefault("GATEWAY_METRICS_LISTEN", ""),
		"Metrics listen address (overrides config)",
	)

	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configFile).Msg("Failed to load config")
	}
	if *listenAddr != "" {
		cfg.API.Listen = *listenAddr
	}
	if *metricsListenAddr != "" {
		cfg.Metrics.Listen = *metricsListenAddr
	}

	setupLogging(cfg.Log, *prettyLogs, *debug)

	log.Info().Str("commit", Commit).Str("build_time", BuildTime).Msg("groundstation-gateway starting")

	metricsSrv := metrics.NewPrometheusMetricsHandler(cfg.Metrics.Listen)
	metricsSrv.Start()

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(cfg.NATS.Name),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
	}
	defer nc.Close()

	satLink := link.NewNATS(nc, cfg.Subjects())

	// The dispatcher and the control client refer to each other.
	var dispatcher *gateway.Dispatcher
	client := control.NewClient(control.Config{
		URL:               cfg.Control.URL,
		RESTURL:           cfg.Control.RESTURL,
		ReconnectInterval: cfg.Control.ReconnectInterval,
		ChunkSize:         cfg.Control.ChunkSize,
		WriteTimeout:      cfg.Control.WriteTimeout,
	}, func(cmd protocol.Command) {
		if err := dispatcher.SubmitCommand(cmd); err != nil {
			log.Warn().Err(err).Str("command_id", cmd.ID).Msg("Dropped command from control system")
		}
	})

	opts := []gateway.Option{
		gateway.WithTiming(cfg.GatewayTiming()),
		gateway.WithTombstones(cfg.Gateway.Tombstones),
	}
	if cfg.Gateway.StagingDir != "" {
		opts = append(opts, gateway.WithStagingDir(cfg.Gateway.StagingDir))
	}
	dispatcher = gateway.New(satLink, client, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return client.Run(ctx) })
	g.Go(func() error {
		return satLink.Start(ctx, func(data []byte) {
			if err := dispatcher.ReceiveLinkMessage(data); err != nil {
				log.Warn().Err(err).Msg("Dropped link message")
			}
		})
	})

	srv := api.NewAPI(cfg.API.Listen, dispatcher)
	srv.Start()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-c:
	case <-ctx.Done():
	}

	log.Info().Msg("Going to stop...")

	srv.Stop()
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Err(err).Msg("Gateway stopped with error")
	}
	metricsSrv.Stop()
}

func setupLogging(cfg config.LogConfig, pretty, debug bool) {
	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	if cfg.File != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		})
	}
	log.Logger = log.Output(out)

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Debug().Msg("Debug logging enabled")
	}
}
