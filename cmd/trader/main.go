// Package main is the entry point for the perpdesk trading client.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/perpdesk/perpdesk/internal/alerting"
	"github.com/perpdesk/perpdesk/internal/cache"
	"github.com/perpdesk/perpdesk/internal/codec"
	"github.com/perpdesk/perpdesk/internal/config"
	"github.com/perpdesk/perpdesk/internal/exchange"
	"github.com/perpdesk/perpdesk/internal/execution"
	"github.com/perpdesk/perpdesk/internal/metadata"
	"github.com/perpdesk/perpdesk/internal/metrics"
	"github.com/perpdesk/perpdesk/internal/persistence"
	"github.com/perpdesk/perpdesk/internal/stream"
	"github.com/perpdesk/perpdesk/internal/types"
)

// Version information (set by build flags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// ordersChannel carries encrypted order signals from the strategy
// layer to the execution engine.
const ordersChannel = "orders"

func main() {
	// Secrets referenced by ${VAR} in the config file may live in .env
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "stream":
		cmdStream(os.Args[2:])
	case "refresh-metadata":
		cmdRefreshMetadata(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`perpdesk - Automated Derivatives Trading Client

Usage:
  trader <command> [options]

Commands:
  run               Start the execution engine (listens for order signals)
  stream            Stream candle data into storage and the shared cache
  refresh-metadata  Refresh the contract metadata cache once
  validate          Validate configuration file
  version           Show version information
  help              Show this help message

Examples:
  trader run --config config.yaml
  trader stream --config config.yaml --interval 60s
  trader validate --config config.yaml

Use "trader <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("trader version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Instruments: %v\n", cfg.Market.Instruments)
	fmt.Printf("  Timeframes: %v\n", cfg.Market.Timeframes)
	fmt.Printf("  Leverage: %dx %s\n", cfg.Risk.Leverage, cfg.Risk.MarginMode)
	fmt.Printf("  Risk per trade: %.1f%%\n", cfg.Risk.RiskFraction*100)
	fmt.Printf("  Persistence: %s\n", cfg.Persistence.Type)
	if cfg.Account.Simulated {
		fmt.Println("  Environment: demo trading")
	}
}

// stack holds the wired components shared by the long-running commands.
type stack struct {
	cfg      *config.Config
	logger   *slog.Logger
	redis    *redis.Client
	store    *cache.Store
	exchange *exchange.OKXClient
	router   *persistence.Router
	metadata *metadata.Cache
	alerter  alerting.Alerter
}

func buildStack(configPath string, verbose bool) (*stack, error) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	c, err := codec.New(cfg.Account.APIKey, cfg.Account.SecretKey, cfg.Account.Simulated)
	if err != nil {
		return nil, fmt.Errorf("init codec: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	store := cache.New(rdb, c)

	ex := exchange.NewOKXClient(exchange.OKXConfig{
		APIKey:             cfg.Account.APIKey,
		SecretKey:          cfg.Account.SecretKey,
		Passphrase:         cfg.Account.Passphrase,
		Simulated:          cfg.Account.Simulated,
		RateLimitPerSecond: cfg.Execution.RateLimitPerSecond,
	})

	router, err := persistence.Open(persistence.Config{
		Type: cfg.Persistence.Type,
		Path: cfg.Persistence.Path,
		DSN:  cfg.Persistence.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open persistence: %w", err)
	}

	return &stack{
		cfg:      cfg,
		logger:   logger,
		redis:    rdb,
		store:    store,
		exchange: ex,
		router:   router,
		metadata: metadata.New(store, ex, logger),
		alerter:  buildAlerter(cfg, logger),
	}, nil
}

func buildAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	if !cfg.Alerting.Enabled {
		return alerting.NewConsoleAlerter(logger)
	}

	var alerters []alerting.Alerter
	for _, ch := range cfg.Alerting.Channels {
		switch ch.Type {
		case "telegram":
			alerters = append(alerters, alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			}))
		case "console":
			alerters = append(alerters, alerting.NewConsoleAlerter(logger))
		default:
			logger.Warn("unknown alert channel type", "type", ch.Type)
		}
	}
	if len(alerters) == 0 {
		return alerting.NewConsoleAlerter(logger)
	}
	return alerting.NewMultiAlerter(alerters...)
}

func (s *stack) close() {
	if err := s.router.Close(); err != nil {
		s.logger.Error("close persistence", "err", err)
	}
	if err := s.redis.Close(); err != nil {
		s.logger.Error("close cache connection", "err", err)
	}
}

func startMetricsServer(s *stack) *metrics.Server {
	if !s.cfg.Metrics.Enabled {
		return nil
	}
	srvCfg := metrics.DefaultServerConfig()
	if s.cfg.Metrics.Port != 0 {
		srvCfg.Port = s.cfg.Metrics.Port
	}
	if s.cfg.Metrics.Path != "" {
		srvCfg.MetricsPath = s.cfg.Metrics.Path
	}

	srv := metrics.NewServer(srvCfg, s.logger)
	srv.RegisterHealthCheck("cache", func() metrics.Check {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return metrics.Check{Status: "unhealthy", Message: err.Error()}
		}
		return metrics.Check{Status: "healthy"}
	})

	if err := srv.Start(); err != nil {
		s.logger.Error("metrics server start failed", "err", err)
	}
	return srv
}

// orderSignal is the wire form of one order request published on the
// orders channel by the strategy layer.
type orderSignal struct {
	Instrument      string          `json:"instrument"`
	Timeframe       string          `json:"timeframe"`
	Side            string          `json:"side"`
	Type            string          `json:"type"`
	LimitPrice      decimal.Decimal `json:"limit_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
}

func (sig orderSignal) toRequest() (types.OrderRequest, error) {
	side, err := types.ParseSide(sig.Side)
	if err != nil {
		return types.OrderRequest{}, fmt.Errorf("signal side %q: %w", sig.Side, err)
	}

	orderType := types.OrderTypeMarket
	if sig.Type == "limit" {
		orderType = types.OrderTypeLimit
	}

	return types.OrderRequest{
		Instrument:      sig.Instrument,
		Timeframe:       sig.Timeframe,
		Side:            side,
		Type:            orderType,
		LimitPrice:      sig.LimitPrice,
		StopLossPrice:   sig.StopLossPrice,
		TakeProfitPrice: sig.TakeProfitPrice,
	}, nil
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	s, err := buildStack(*configPath, *verbose)
	if err != nil {
		slog.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.logger.Info("trader starting",
		"version", Version,
		"instruments", s.cfg.Market.Instruments,
		"simulated", s.cfg.Account.Simulated,
	)

	metricsServer := startMetricsServer(s)

	// The metadata cache must be populated before the first order.
	if err := s.metadata.Refresh(ctx); err != nil {
		s.logger.Error("initial metadata refresh failed", "err", err)
		os.Exit(1)
	}

	engine := execution.NewEngine(execution.Config{
		Leverage:         s.cfg.Risk.Leverage,
		RiskFraction:     s.cfg.RiskFractionDecimal(),
		MarginMode:       s.cfg.Risk.MarginMode,
		FillTimeout:      s.cfg.FillTimeout(),
		FillPollInterval: s.cfg.FillPollInterval(),
		Location:         s.cfg.Location(),
	}, s.exchange, s.metadata, s.router, s.alerter, s.logger)

	sub := s.store.Subscribe(ctx, ordersChannel)
	defer sub.Close()

	s.logger.Info("listening for order signals", "channel", ordersChannel)

	for {
		if ctx.Err() != nil {
			break
		}

		msg, err := sub.Next(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Error("signal receive failed", "err", err)
			continue
		}
		if msg == nil {
			continue // receive window expired without a signal
		}

		var sig orderSignal
		if err := json.Unmarshal(msg.Payload, &sig); err != nil {
			s.logger.Error("malformed order signal", "err", err)
			continue
		}
		req, err := sig.toRequest()
		if err != nil {
			s.logger.Error("invalid order signal", "err", err)
			continue
		}

		rec, err := engine.Execute(ctx, req)
		if err != nil {
			s.logger.Error("order execution failed",
				"instrument", req.Instrument, "err", err)
		}
		if rec != nil {
			s.logger.Info("order cycle finished",
				"instrument", rec.Instrument,
				"order_id", rec.OrderID,
				"volume", rec.OrderVolume,
			)
		}
	}

	shutdown(s, metricsServer)
}

func cmdStream(args []string) {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	interval := fs.Duration("interval", time.Minute, "Refresh interval")
	depth := fs.Int("depth", 300, "Candles per refresh")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	s, err := buildStack(*configPath, *verbose)
	if err != nil {
		slog.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsServer := startMetricsServer(s)

	streamer := stream.New(stream.Config{
		Instruments: s.cfg.Market.Instruments,
		Timeframes:  s.cfg.Market.Timeframes,
		Depth:       *depth,
		Interval:    *interval,
	}, s.exchange, s.router, s.store, s.logger)

	s.logger.Info("streamer starting",
		"instruments", s.cfg.Market.Instruments,
		"timeframes", s.cfg.Market.Timeframes,
		"interval", *interval,
	)

	if err := streamer.Run(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("streamer stopped", "err", err)
	}

	shutdown(s, metricsServer)
}

func cmdRefreshMetadata(args []string) {
	fs := flag.NewFlagSet("refresh-metadata", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	s, err := buildStack(*configPath, false)
	if err != nil {
		slog.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer s.close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.metadata.Refresh(ctx); err != nil {
		s.logger.Error("metadata refresh failed", "err", err)
		os.Exit(1)
	}
	s.logger.Info("contract metadata refreshed")
}

func shutdown(s *stack, metricsServer *metrics.Server) {
	s.logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown", "err", err)
		}
	}

	s.logger.Info("trader shutdown complete")
}
