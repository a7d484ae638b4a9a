package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"framechan/config"
	"framechan/logging"
	"framechan/registry"
	"framechan/server"
)

func main() {
	configPath := flag.String("config", "", "Path to a .toml or .ini config file")
	listen := flag.String("listen", "", "Listen address, host:port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logging.Init(cfg.Log)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg config.Config) error {
	var reg registry.Registry
	if len(cfg.Registry.Endpoints) > 0 {
		etcdReg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.Prefix, cfg.Registry.DialTimeout)
		if err != nil {
			return err
		}
		defer etcdReg.Close()
		reg = etcdReg
	}

	svr, err := server.FromConfig(cfg, reg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	served := make(chan error, 1)
	go func() { served <- svr.Serve("tcp", cfg.Server.Listen) }()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	if err := svr.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		return err
	}
	if err := <-served; err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	return nil
}
