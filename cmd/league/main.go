// Command league runs the league manager: it accepts registrations for a
// fixed window, draws the round-robin schedule, announces rounds to the
// referees, and aggregates match results into the standings table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parity-league/internal/adapter/rpc"
	"parity-league/internal/adapter/store"
	"parity-league/internal/domain"
	"parity-league/internal/infra/config"
	"parity-league/internal/infra/logger"
	"parity-league/internal/usecase"
	"parity-league/internal/usecase/eventbus"
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

	log, closeLog, err := logger.New(cfg.Logger, "league")
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := store.OpenResultStore(cfg.League.StoragePath)
	if err != nil {
		return err
	}
	defer results.Close()

	bus := eventbus.New(log)
	defer bus.Close()

	registry := usecase.NewRegistry(cfg.League.MaxConsecutiveFailures, log)
	standings := usecase.NewStandings(results, cfg.League.Scoring, nil, log)
	client := rpc.NewClient(rpc.PooledTransportConfig{}, log)
	caller := retry.NewCaller(retry.Policy(cfg.Retry), retry.SystemClock{}, log)
	breakers := retry.NewBreakerPool(retry.BreakerSettings(cfg.Breaker), log)

	league := usecase.NewLeague(usecase.LeagueConfig{
		ID:                 cfg.League.ID,
		GameType:           cfg.League.GameType,
		Scoring:            cfg.League.Scoring,
		MinPlayers:         cfg.League.MinPlayers,
		BroadcastTimeout:   cfg.Timeouts.Default,
		StandingsBroadcast: cfg.Maintenance.StandingsBroadcast,
		SuspendProbe:       cfg.Maintenance.SuspendProbe,
	}, registry, standings, client, caller, breakers, bus, log)

	srv := rpc.NewServer(rpc.ServerConfig{
		Addr:           cfg.League.ListenAddr,
		RequestsPerMin: cfg.Gateway.RequestsPerMin,
		BurstSize:      cfg.Gateway.BurstSize,
	}, registry, bus, log)
	srv.Handle(domain.MsgLeagueRegisterRequest, league.HandleRegisterPlayer)
	srv.Handle(domain.MsgRefereeRegisterRequest, league.HandleRegisterReferee)
	srv.Handle(domain.MsgMatchResultReport, league.HandleMatchResult)
	srv.Handle(domain.MsgLeagueQuery, league.HandleLeagueQuery)

	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("league manager listening",
		"addr", srv.BoundAddr(),
		"league_id", cfg.League.ID,
		"registration_window", cfg.League.RegistrationWindow,
	)

	league.StartMaintenance(ctx)

	select {
	case <-time.After(cfg.League.RegistrationWindow):
	case <-ctx.Done():
		return nil
	}
	if err := league.Start(ctx); err != nil {
		return err
	}

	err = srv.Wait()
	log.Info("shut down")
	return err
}
