// Package main provides the rankwalletd daemon: a single-key Lotus wallet
// that syncs from a chain indexer and serves a local JSON-RPC API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lotus-rank/rankwallet/internal/chain"
	"github.com/lotus-rank/rankwallet/internal/config"
	"github.com/lotus-rank/rankwallet/internal/engine"
	"github.com/lotus-rank/rankwallet/internal/indexer"
	"github.com/lotus-rank/rankwallet/internal/metrics"
	"github.com/lotus-rank/rankwallet/internal/rpc"
	"github.com/lotus-rank/rankwallet/internal/storage"
	"github.com/lotus-rank/rankwallet/internal/wallet"
	"github.com/lotus-rank/rankwallet/pkg/logging"
)

// PassphraseEnv names the environment variable holding the secret
// encryption passphrase.
const PassphraseEnv = "RANKWALLET_PASSPHRASE"

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.rankwallet", "Data directory")
		configFile  = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		apiAddr     = flag.String("api", "", "JSON-RPC API address, overrides config")
		testnet     = flag.Bool("testnet", false, "Run on testnet (separate data)")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: "info"})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("rankwalletd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	path := *configFile
	if path == "" {
		path = config.ConfigPath(effectiveDataDir)
	}
	cfg, err := config.LoadFile(path, effectiveDataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	if *testnet {
		cfg.Network = chain.Testnet
	}
	if *apiAddr != "" {
		cfg.RPC.Listen = *apiAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid config", "path", path, "error", err)
	}

	var out io.Writer = os.Stderr
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(config.ExpandPath(cfg.Logging.File), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			log.Fatal("Failed to open log file", "error", err)
		}
		defer f.Close()
		out = f
	}
	log = logging.New(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: out,
	})
	logging.SetDefault(log)
	log.Info("Config loaded", "path", path, "network", cfg.Network)

	if err := run(cfg, log); err != nil {
		log.Fatal("Daemon stopped", "error", err)
	}
	log.Info("Goodbye!")
}

func run(cfg *config.Config, log *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storeCfg := &storage.Config{
		DataDir: cfg.Storage.DataDir,
		Backend: cfg.Storage.Backend,
		Logger:  log.Component("storage"),
	}
	if cfg.Storage.EncryptSecrets {
		passphrase := os.Getenv(PassphraseEnv)
		if err := storage.ValidatePassphrase(passphrase); err != nil {
			return fmt.Errorf("%s: %w", PassphraseEnv, err)
		}
		cipher, err := storage.NewCipher(passphrase)
		if err != nil {
			return err
		}
		storeCfg.Cipher = cipher
	}

	store, err := storage.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()
	log.Info("Storage opened", "backend", cfg.Storage.Backend, "path", config.ExpandPath(cfg.Storage.DataDir))

	client := indexer.NewClient(cfg.Indexer.URL, cfg.Indexer.RequestTimeout)
	if info, err := client.BlockchainInfo(ctx); err != nil {
		log.Warn("Indexer not reachable yet", "url", cfg.Indexer.URL, "error", err)
	} else {
		log.Info("Indexer reachable", "url", cfg.Indexer.URL, "tip", info.TipHeight)
	}

	m := metrics.New()

	eng := engine.New(engine.Config{
		Network: cfg.Network,
		Store:   store,
		Indexer: client,
		Dialer:  &indexer.WSDialer{URL: cfg.Indexer.WSURL},
		Builder: wallet.BuilderConfig{
			FeeRate:     cfg.Wallet.FeeRate,
			VoteMinimum: cfg.Wallet.VoteMinimum,
		},
		OpTimeout:            cfg.Queue.OperationTimeout,
		ReconnectMin:         cfg.Indexer.ReconnectMin,
		ReconnectMax:         cfg.Indexer.ReconnectMax,
		ReconcileOnReconnect: cfg.Indexer.ReconcileOnReconnect,
		Metrics:              m,
		Logger:               log.Component("engine"),
	})

	switch err := eng.LoadState(ctx); {
	case errors.Is(err, engine.ErrNoWallet):
		log.Info("No wallet yet, waiting for wallet_initialize")
	case err != nil:
		return fmt.Errorf("failed to load wallet: %w", err)
	}

	rpcServer := rpc.NewServer(eng, rpc.ServerConfig{
		AllowedOrigin: cfg.RPC.AllowedOrigin,
		Logger:        log.Component("rpc"),
	})
	if err := rpcServer.Start(cfg.RPC.Listen); err != nil {
		return err
	}

	var metricsServer *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	printBanner(log, cfg, rpcServer.Addr())

	g, gctx := errgroup.WithContext(ctx)
	if metricsServer != nil {
		g.Go(func() error {
			log.Info("Metrics server started", "addr", cfg.Metrics.Listen)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := rpcServer.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping RPC server", "error", err)
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Error("Error stopping metrics server", "error", err)
			}
		}
		if err := eng.Close(shutdownCtx); err != nil {
			log.Error("Error draining wallet operations", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func printBanner(log *logging.Logger, cfg *config.Config, apiAddr string) {
	networkLabel := "mainnet"
	if cfg.Network == chain.Testnet {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  RANK Wallet (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", apiAddr)
	log.Infof("  WS:  ws://%s/ws", apiAddr)
	log.Infof("  Indexer: %s", cfg.Indexer.URL)
	if cfg.Metrics.Listen != "" {
		log.Infof("  Metrics: http://%s/metrics", cfg.Metrics.Listen)
	}
	log.Infof("  Data dir: %s", config.ExpandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
