// Command referee runs a referee agent: it registers with the league
// manager, then drives every match it is assigned through the invitation,
// choice-collection, and outcome phases, reporting each result back.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"parity-league/internal/adapter/referee"
	"parity-league/internal/adapter/rpc"
	"parity-league/internal/adapter/rules"
	"parity-league/internal/infra/config"
	"parity-league/internal/infra/logger"
	"parity-league/internal/usecase"
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

	log, closeLog, err := logger.New(cfg.Logger, "referee")
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := rpc.NewClient(rpc.PooledTransportConfig{}, log)
	caller := retry.NewCaller(retry.Policy(cfg.Retry), retry.SystemClock{}, log)
	breakers := retry.NewBreakerPool(retry.BreakerSettings(cfg.Breaker), log)

	callbackURL := cfg.Referee.CallbackURL
	if callbackURL == "" {
		callbackURL = "http://" + cfg.Referee.ListenAddr + "/mcp"
	}

	agent := referee.New(referee.Config{
		DisplayName:          cfg.Referee.DisplayName,
		CallbackURL:          callbackURL,
		LeagueURL:            cfg.Referee.LeagueURL,
		LeagueID:             cfg.League.ID,
		MaxConcurrentMatches: cfg.Referee.MaxConcurrentMatches,
		Timeouts: usecase.MatchTimeouts{
			JoinAck: cfg.Timeouts.JoinAck,
			Choice:  cfg.Timeouts.Choice,
			Notify:  cfg.Timeouts.Default,
		},
		ChoiceRetries:   cfg.Retry.MaxRetries,
		ReportTimeout:   cfg.Timeouts.Default,
		RegisterTimeout: cfg.Timeouts.Registration,
		Seed:            cfg.Referee.Seed,
	}, client, breakers, caller, rules.NewFactory(), nil, log)

	srv := rpc.NewServer(rpc.ServerConfig{
		Addr:           cfg.Referee.ListenAddr,
		RequestsPerMin: cfg.Gateway.RequestsPerMin,
		BurstSize:      cfg.Gateway.BurstSize,
	}, nil, nil, log)
	agent.Bind(srv)

	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("referee listening", "addr", srv.BoundAddr(), "callback_url", callbackURL)

	if err := agent.Register(ctx, []string{cfg.League.GameType}); err != nil {
		return err
	}
	log.Info("registered with league", "referee_id", agent.ID())

	err = srv.Wait()
	agent.Wait()
	log.Info("shut down")
	return err
}
