package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"framechan/client"
	"framechan/config"
	"framechan/logging"
	"framechan/registry"
)

func main() {
	configPath := flag.String("config", "", "Path to a .toml or .ini config file")
	host := flag.String("host", "", "Server host")
	port := flag.Int("port", 0, "Server port")
	clientID := flag.String("client-id", "", "Client id sent in the connect message; empty generates one")
	flag.Parse()

	// 1. config: defaults < file < env < flags
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Client.Host = *host
		case "port":
			cfg.Client.Port = *port
		case "client-id":
			cfg.Client.ClientID = *clientID
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}

	// 2. logger
	logging.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("connect failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	// 3. registry: etcd when endpoints are configured, else host:port only
	var reg registry.Registry
	if len(cfg.Registry.Endpoints) > 0 {
		etcdReg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.Prefix, cfg.Registry.DialTimeout)
		if err != nil {
			return err
		}
		defer etcdReg.Close()
		reg = etcdReg
	}

	// 4. handshake
	c, err := client.New(cfg, reg, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ack, err := c.Connect(ctx)
	if err != nil {
		return err
	}

	out, err := json.Marshal(ack)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
