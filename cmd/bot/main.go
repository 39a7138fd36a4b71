package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/mmbot/config"
	"github.com/alejandrodnm/mmbot/internal/adapters/feed"
	"github.com/alejandrodnm/mmbot/internal/adapters/notify"
	"github.com/alejandrodnm/mmbot/internal/adapters/onchain"
	"github.com/alejandrodnm/mmbot/internal/adapters/polymarket"
	"github.com/alejandrodnm/mmbot/internal/adapters/sheets"
	"github.com/alejandrodnm/mmbot/internal/adapters/storage"
	"github.com/alejandrodnm/mmbot/internal/engine"
	"github.com/alejandrodnm/mmbot/internal/marketdata"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	skipApprovals := flag.Bool("skip-approvals", false, "skip on-chain approval checks at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	auth, err := polymarket.NewAuthClient(cfg.API.CLOBBase, cfg.PrivateKey)
	if err != nil {
		slog.Error("failed to build auth client", "err", err)
		os.Exit(1)
	}
	if err := auth.EnsureCreds(ctx); err != nil {
		slog.Error("failed to derive API credentials", "err", err)
		os.Exit(1)
	}

	mergeClient, err := onchain.NewMergeClient(cfg.API.RPCURL, cfg.PrivateKey)
	if err != nil {
		slog.Error("failed to connect to Polygon RPC", "err", err, "rpc", cfg.API.RPCURL)
		os.Exit(1)
	}
	if !*skipApprovals {
		if err := mergeClient.EnsureApprovals(ctx); err != nil {
			slog.Error("failed to ensure on-chain approvals", "err", err)
			os.Exit(1)
		}
	}

	client := polymarket.NewTradingClient(auth, mergeClient)

	apiKey, secret, passphrase, err := auth.APICreds()
	if err != nil {
		slog.Error("API credentials unavailable after derivation", "err", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	source := feed.NewSource(feed.Config{
		MarketURL: cfg.API.WSMarketURL,
		UserURL:   cfg.API.WSUserURL,
		Creds: feed.Credentials{
			APIKey:     apiKey,
			Secret:     secret,
			Passphrase: passphrase,
		},
	})

	provider := engine.NewConfigProvider(
		sheets.NewSource(cfg.Sheets.BaseURL),
		cfg.ConfigRefreshInterval(),
	)

	orch := engine.New(
		provider,
		source,
		client,
		store,
		notify.NewConsole(),
		marketdata.NewBooks(cfg.VolWindow()),
		engine.Options{
			TickInterval:    cfg.TickInterval(),
			SummaryInterval: cfg.SummaryInterval(),
			StaleBookAge:    cfg.StaleBookAge(),
			ResyncInterval:  cfg.ResyncInterval(),
			InboxCapacity:   cfg.Engine.InboxCapacity,
			MinMergeSize:    cfg.Engine.MinMergeSize,
		},
	)

	slog.Info("mmbot starting",
		"config", *configPath,
		"wallet", auth.Address(),
		"tick", cfg.TickInterval(),
		"config_refresh", cfg.ConfigRefreshInterval(),
	)

	if balance, err := client.GetBalance(ctx); err != nil {
		slog.Warn("could not read collateral balance", "err", err)
	} else {
		slog.Info("collateral balance", "usdc", balance)
	}

	go source.Run(ctx)

	if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("mmbot stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
