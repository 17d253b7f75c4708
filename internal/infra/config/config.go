package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"parity-league/internal/domain"
)

// Config is the top-level application configuration. One file serves all
// three binaries; each reads the sections it needs.
type Config struct {
	League      LeagueConfig      `yaml:"league"`
	Referee     RefereeConfig     `yaml:"referee"`
	Player      PlayerConfig      `yaml:"player"`
	Timeouts    TimeoutConfig     `yaml:"timeouts"`
	Retry       RetryConfig       `yaml:"retry"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logger      LoggerConfig      `yaml:"logger"`
}

// LeagueConfig configures the league manager.
type LeagueConfig struct {
	ID         string             `yaml:"id"`
	GameType   string             `yaml:"game_type"`
	Scoring    domain.ScoringRule `yaml:"scoring"`
	ListenAddr string             `yaml:"listen_addr"`
	MinPlayers int                `yaml:"min_players"`
	// RegistrationWindow is how long the league accepts registrations after
	// boot before the schedule is drawn and play begins.
	RegistrationWindow time.Duration `yaml:"registration_window"`
	// MaxConsecutiveFailures is how many transport failures in a row move an
	// agent to SUSPENDED.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
	// StoragePath is the sqlite file holding the match-result history.
	// Empty selects an in-memory database.
	StoragePath string `yaml:"storage_path"`
}

// RefereeConfig configures a referee agent.
type RefereeConfig struct {
	DisplayName          string `yaml:"display_name"`
	ListenAddr           string `yaml:"listen_addr"`
	CallbackURL          string `yaml:"callback_url"`
	LeagueURL            string `yaml:"league_url"`
	MaxConcurrentMatches int    `yaml:"max_concurrent_matches"`
	// Seed makes outcome draws reproducible in tests. Zero means random.
	Seed int64 `yaml:"seed"`
}

// PlayerConfig configures a player agent.
type PlayerConfig struct {
	DisplayName string `yaml:"display_name"`
	ListenAddr  string `yaml:"listen_addr"`
	CallbackURL string `yaml:"callback_url"`
	LeagueURL   string `yaml:"league_url"`
	Strategy    string `yaml:"strategy"` // "random" or "adaptive"
}

// TimeoutConfig is the per-message-type response deadline table.
type TimeoutConfig struct {
	Registration time.Duration `yaml:"registration"`
	JoinAck      time.Duration `yaml:"join_ack"`
	Choice       time.Duration `yaml:"choice"`
	Default      time.Duration `yaml:"default"`
}

// For returns the deadline for a message type.
func (t TimeoutConfig) For(mt domain.MessageType) time.Duration {
	switch mt {
	case domain.MsgRefereeRegisterRequest, domain.MsgLeagueRegisterRequest:
		return t.Registration
	case domain.MsgGameInvitation:
		return t.JoinAck
	case domain.MsgChooseParityCall:
		return t.Choice
	default:
		return t.Default
	}
}

// RetryConfig tunes the exponential backoff policy.
type RetryConfig struct {
	Base       time.Duration `yaml:"base"`
	Multiplier float64       `yaml:"multiplier"`
	MaxRetries int           `yaml:"max_retries"`
}

// BreakerConfig tunes the per-endpoint circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is the cyclic period of the closed state for clearing failure
	// counts. If 0, failures never reset until the circuit opens.
	Interval time.Duration `yaml:"interval"`
}

// GatewayConfig tunes the inbound RPC server.
type GatewayConfig struct {
	RequestsPerMin int `yaml:"requests_per_min"`
	BurstSize      int `yaml:"burst_size"`
}

// MaintenanceConfig schedules periodic league housekeeping. Zero disables
// a job.
type MaintenanceConfig struct {
	StandingsBroadcast time.Duration `yaml:"standings_broadcast"`
	SuspendProbe       time.Duration `yaml:"suspend_probe"`
}

// LoggerConfig configures the slog factory.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
	Output string `yaml:"output"` // stdout|stderr|<path>
}

// Defaults returns a configuration with every knob at its documented default.
func Defaults() *Config {
	return &Config{
		League: LeagueConfig{
			ID:                     "L01",
			GameType:               "even_odd",
			Scoring:                domain.DefaultScoring,
			ListenAddr:             "localhost:8000",
			MinPlayers:             2,
			RegistrationWindow:     30 * time.Second,
			MaxConsecutiveFailures: 3,
		},
		Referee: RefereeConfig{
			DisplayName:          "Referee",
			ListenAddr:           "localhost:8201",
			LeagueURL:            "http://localhost:8000/mcp",
			MaxConcurrentMatches: 4,
		},
		Player: PlayerConfig{
			DisplayName: "Player",
			ListenAddr:  "localhost:8101",
			LeagueURL:   "http://localhost:8000/mcp",
			Strategy:    "random",
		},
		Timeouts: TimeoutConfig{
			Registration: 10 * time.Second,
			JoinAck:      5 * time.Second,
			Choice:       30 * time.Second,
			Default:      10 * time.Second,
		},
		Retry: RetryConfig{
			Base:       2 * time.Second,
			Multiplier: 2,
			MaxRetries: 3,
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			Interval:    60 * time.Second,
		},
		Gateway: GatewayConfig{
			RequestsPerMin: 600,
			BurstSize:      60,
		},
		Maintenance: MaintenanceConfig{
			StandingsBroadcast: time.Minute,
			SuspendProbe:       30 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads the config file at path, overlaying it on Defaults. A missing
// file is not an error: defaults plus env overrides apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps LEAGUE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LEAGUE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LEAGUE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("LEAGUE_LISTEN_ADDR"); v != "" {
		cfg.League.ListenAddr = v
	}
	if v := os.Getenv("LEAGUE_MANAGER_URL"); v != "" {
		cfg.Referee.LeagueURL = v
		cfg.Player.LeagueURL = v
	}
	if v := os.Getenv("LEAGUE_STORAGE_PATH"); v != "" {
		cfg.League.StoragePath = v
	}
	if v := os.Getenv("LEAGUE_RETRY_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("LEAGUE_REFEREE_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Referee.Seed = n
		}
	}
}

// Validate rejects configurations the daemons cannot run with.
func Validate(cfg *Config) error {
	if cfg.League.GameType == "" {
		return fmt.Errorf("config: league.game_type is required")
	}
	if cfg.League.MinPlayers < 2 {
		return fmt.Errorf("config: league.min_players must be at least 2")
	}
	if cfg.League.RegistrationWindow <= 0 {
		return fmt.Errorf("config: league.registration_window must be positive")
	}
	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("config: retry.max_retries must not be negative")
	}
	if cfg.Retry.Multiplier < 1 {
		return fmt.Errorf("config: retry.multiplier must be >= 1")
	}
	if cfg.Referee.MaxConcurrentMatches < 1 {
		return fmt.Errorf("config: referee.max_concurrent_matches must be at least 1")
	}
	switch cfg.Player.Strategy {
	case "random", "adaptive":
	default:
		return fmt.Errorf("config: unknown player.strategy %q", cfg.Player.Strategy)
	}
	for name, d := range map[string]time.Duration{
		"timeouts.registration": cfg.Timeouts.Registration,
		"timeouts.join_ack":     cfg.Timeouts.JoinAck,
		"timeouts.choice":       cfg.Timeouts.Choice,
		"timeouts.default":      cfg.Timeouts.Default,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}
	if cfg.Maintenance.StandingsBroadcast < 0 || cfg.Maintenance.SuspendProbe < 0 {
		return fmt.Errorf("config: maintenance periods must not be negative")
	}
	return nil
}
