// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ffutop/agile-modbus-go/internal/config"
	"github.com/ffutop/agile-modbus-go/internal/gateway"
	"github.com/ffutop/agile-modbus-go/transport"
	"github.com/ffutop/agile-modbus-go/transport/local"
	"github.com/ffutop/agile-modbus-go/transport/rtu"
	rtuovertcp "github.com/ffutop/agile-modbus-go/transport/rtu-over-tcp"
	"github.com/ffutop/agile-modbus-go/transport/tcp"
)

func main() {
	configFile := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load Configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("Starting Modbus Gateway...")

	// Create Gateways
	var gateways []*gateway.Gateway

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, gwCfg := range cfg.Gateways {
		// Create Upstreams
		var upstreams []transport.Upstream
		for _, usCfg := range gwCfg.Upstreams {
			var us transport.Upstream
			switch usCfg.Type {
			case "tcp":
				us = tcp.NewServer(usCfg.Tcp.Address)
			case "rtu":
				us = rtu.NewServer(usCfg.Serial, 0)
			case "rtu-over-tcp":
				us = rtuovertcp.NewServer(usCfg.Tcp.Address)
			default:
				slog.Error("Unknown upstream type", "type", usCfg.Type, "gateway", gwCfg.Name)
				continue
			}
			upstreams = append(upstreams, us)
		}

		// Create Downstreams and the slave-ID routing table
		routes := make(map[byte]transport.Downstream)
		var defaultRoute transport.Downstream
		for _, dsCfg := range gwCfg.Downstreams {
			var ds transport.Downstream
			switch dsCfg.Type {
			case "tcp":
				ds = tcp.NewClient(dsCfg.Tcp.Address)
			case "rtu":
				ds = rtu.NewClient(dsCfg.Serial)
			case "rtu-over-tcp":
				ds = rtuovertcp.NewClient(dsCfg.Tcp.Address)
			case "local":
				ds = local.NewClient(dsCfg.Local)
			default:
				slog.Error("Unknown downstream type", "type", dsCfg.Type, "gateway", gwCfg.Name)
				continue
			}

			if dsCfg.SlaveIDs == "" {
				defaultRoute = ds
				continue
			}
			ids, err := gateway.ParseSlaveIDs(dsCfg.SlaveIDs)
			if err != nil {
				slog.Error("Invalid slave_ids", "downstream", dsCfg.Name, "gateway", gwCfg.Name, "err", err)
				continue
			}
			for _, id := range ids {
				routes[id] = ds
			}
		}

		gw := gateway.NewGateway(gwCfg.Name, upstreams, routes, defaultRoute)
		gateways = append(gateways, gw)
	}

	if len(gateways) == 0 {
		slog.Error("No valid gateways configured. Exiting.")
		os.Exit(1)
	}

	// Start Gateways
	var wg sync.WaitGroup
	for _, gw := range gateways {
		wg.Add(1)
		go func(g *gateway.Gateway) {
			defer wg.Done()
			if err := g.Start(ctx); err != nil {
				slog.Error("Gateway stopped with error", "name", g.Name, "err", err)
			}
		}(gw)
	}

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()
	wg.Wait()
	slog.Info("Goodbye.")
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
