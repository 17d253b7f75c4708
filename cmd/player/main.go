// Command player runs a player agent: it registers with the league manager,
// answers game invitations and parity calls from referees, and tracks its
// own score line from the game-over notices.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"parity-league/internal/adapter/player"
	"parity-league/internal/adapter/rpc"
	"parity-league/internal/adapter/strategy"
	"parity-league/internal/infra/config"
	"parity-league/internal/infra/logger"
	"parity-league/internal/usecase/retry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger, "player")
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	strat, err := strategy.New(cfg.Player.Strategy, 0)
	if err != nil {
		return err
	}

	client := rpc.NewClient(rpc.PooledTransportConfig{}, log)
	caller := retry.NewCaller(retry.Policy(cfg.Retry), retry.SystemClock{}, log)

	callbackURL := cfg.Player.CallbackURL
	if callbackURL == "" {
		callbackURL = "http://" + cfg.Player.ListenAddr + "/mcp"
	}

	agent := player.New(player.Config{
		DisplayName:     cfg.Player.DisplayName,
		CallbackURL:     callbackURL,
		LeagueURL:       cfg.Player.LeagueURL,
		RegisterTimeout: cfg.Timeouts.Registration,
	}, strat, client, log)

	srv := rpc.NewServer(rpc.ServerConfig{
		Addr:           cfg.Player.ListenAddr,
		RequestsPerMin: cfg.Gateway.RequestsPerMin,
		BurstSize:      cfg.Gateway.BurstSize,
	}, nil, nil, log)
	agent.Bind(srv)

	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("player listening",
		"addr", srv.BoundAddr(),
		"callback_url", callbackURL,
		"strategy", strat.Name(),
	)

	if err := agent.Register(ctx, caller); err != nil {
		return err
	}
	log.Info("registered with league", "player_id", agent.ID())

	err = srv.Wait()
	stats := agent.Stats()
	log.Info("shut down",
		"played", stats.Played,
		"wins", stats.Wins,
		"draws", stats.Draws,
		"losses", stats.Losses,
		"points", stats.Points,
	)
	return err
}
