// Package main wires the beacon-indexer process together: configuration
// loading, logging setup and the BeaconIndexer lifecycle. Modeled on the
// teacher's beacon-chain/main.go (urfave/cli app, logrus formatter
// selection, automaxprocs) trimmed to the flags this indexer actually
// uses.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	_ "go.uber.org/automaxprocs"

	"github.com/nodesentinel/beacon-indexer/internal/config"
	"github.com/nodesentinel/beacon-indexer/internal/node"
)

var log = logrus.WithField("prefix", "main")

var appFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "log-format",
		Usage:   "Log format to use (text, json)",
		Value:   "text",
		EnvVars: []string{"LOG_FORMAT"},
	},
	&cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log verbosity (debug, info, warn, error)",
		Value:   "info",
		EnvVars: []string{"LOG_LEVEL"},
	},
	&cli.StringFlag{
		Name:    "metrics-addr",
		Usage:   "Address to serve /metrics on",
		Value:   ":9090",
		EnvVars: []string{"METRICS_ADDR"},
	},
}

func main() {
	app := &cli.App{
		Name:   "beacon-indexer",
		Usage:  "indexes a beacon chain's epochs into a relational store",
		Flags:  appFlags,
		Before: setupLogging,
		Action: startNode,
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func setupLogging(ctx *cli.Context) error {
	level, err := logrus.ParseLevel(ctx.String("log-level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	switch format := ctx.String("log-format"); format {
	case "text":
		formatter := new(prefixed.TextFormatter)
		formatter.TimestampFormat = "2006-01-02 15:04:05"
		formatter.FullTimestamp = true
		logrus.SetFormatter(formatter)
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %s", format)
	}
	return nil
}

func startNode(cliCtx *cli.Context) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	indexer, err := node.New(cfg)
	if err != nil {
		return fmt.Errorf("constructing indexer: %w", err)
	}

	go serveMetrics(cliCtx.String("metrics-addr"))

	indexer.Start()
	log.Info("beacon-indexer started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	return indexer.Stop()
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics server stopped")
	}
}
