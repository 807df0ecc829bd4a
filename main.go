package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"exchange-latency-sim/src/api"
	"exchange-latency-sim/src/config"
	"exchange-latency-sim/src/engine"
	"exchange-latency-sim/src/latency"
	"exchange-latency-sim/src/logger"
	"exchange-latency-sim/src/observer"
	"exchange-latency-sim/src/replay"
	"exchange-latency-sim/src/sim"
	"exchange-latency-sim/src/strategy"
)

func main() {
	configPath := flag.String("config", "", "path to a toml/yaml config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, closer, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *api.Server
	if cfg.HTTP.Enabled {
		srv, err = api.NewServer(api.Settings{
			PriceScale: cfg.Simulation.PriceScale,
			TicksPerMs: cfg.Simulation.TicksPerMs,
			ViewDepth:  cfg.Simulation.ViewDepth,
		}, log)
		if err != nil {
			return err
		}
	}

	obs := observer.Multi{observer.NewLog(log)}
	if srv != nil && cfg.Metrics.Enabled {
		obs = append(obs, srv.Metrics())
	}
	if err := simulate(ctx, cfg, log, obs); err != nil {
		return err
	}

	if srv == nil {
		return nil
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting API server", "addr", cfg.HTTP.Addr)
		errCh <- srv.Start(cfg.HTTP.Addr)
	}()
	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	}
}

// simulate replays the configured tape once through the configured network.
func simulate(ctx context.Context, cfg *config.Config, log *slog.Logger, obs sim.Observer) error {
	var input io.Reader = strings.NewReader(replay.SampleCSV)
	if path := cfg.Simulation.ReplayFile; path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open replay file: %w", err)
		}
		defer f.Close()
		input = f
	}
	source, err := replay.NewCSVSource(input, cfg.Simulation.PriceScale)
	if err != nil {
		return err
	}

	network, err := cfg.Network.Resolve()
	if err != nil {
		return err
	}
	lat, err := latency.NewSimulator(network, cfg.Simulation.Seed)
	if err != nil {
		return err
	}

	var (
		strat sim.Strategy
		mm    *strategy.SimpleMarketMaker
	)
	if cfg.Strategy.Enabled {
		if mm, err = cfg.Strategy.MarketMaker(cfg.Simulation.PriceScale); err != nil {
			return err
		}
		strat = mm
	}

	eng := engine.NewMatchingEngine()
	runner := sim.NewRunner(source, eng, lat, strat,
		sim.WithObserver(obs),
		sim.WithLogger(log),
		sim.WithTicksPerMillisecond(cfg.Simulation.TicksPerMs),
		sim.WithViewDepth(cfg.Simulation.ViewDepth),
	)
	log.Info("starting simulation",
		"network", network.Name,
		"seed", cfg.Simulation.Seed,
		"replay", cfg.Simulation.ReplayFile,
	)
	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("simulation: %w", err)
	}

	if mm != nil {
		if o, ok := eng.Order(mm.OrderID); ok {
			log.Info("strategy order",
				"id", o.ID,
				"status", o.Status,
				"filled", o.FilledQuantity,
				"arrival", o.Timestamp,
			)
		} else {
			log.Info("strategy order never reached the exchange", "signal_fired", mm.Sent())
		}
	}
	bid, _ := eng.BestBid()
	ask, _ := eng.BestAsk()
	log.Info("final book",
		"best_bid", replay.FormatPrice(bid, cfg.Simulation.PriceScale),
		"best_ask", replay.FormatPrice(ask, cfg.Simulation.PriceScale),
		"dropped", runner.Dropped(),
		"pending", runner.Pending(),
	)
	return nil
}
