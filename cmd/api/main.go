package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"voting-ledger/api"
	"voting-ledger/blockchain/ledger"
	"voting-ledger/catalog"
	"voting-ledger/config"
	"voting-ledger/logger"
	"voting-ledger/registry"
	"voting-ledger/service"
	"voting-ledger/storage"
	"voting-ledger/storage/db"
	"voting-ledger/wallet"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger.Init(cfg.Debug)

	if err := run(cfg); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// backend bundles the stores chosen by configuration.
type backend struct {
	blocks    storage.BlockStore
	registry  registry.Store
	elections service.ElectionSaver
	catalog   catalog.Provider
}

func openBackend(cfg config.Config) (*backend, error) {
	b := &backend{}

	switch cfg.Backend {
	case config.BackendMemory:
		b.blocks = storage.NewMemoryStore()
	case config.BackendJSON:
		store, err := storage.NewJSONStore(cfg.StorageDir)
		if err != nil {
			return nil, err
		}
		b.blocks = store
	case config.BackendPebble:
		store, err := storage.NewPebbleStore(filepath.Join(cfg.StorageDir, "pebble"))
		if err != nil {
			return nil, err
		}
		b.blocks = store
	case config.BackendPostgres:
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if conn == nil {
			return nil, errors.New("postgres backend needs a database url")
		}
		if err := db.AutoMigrate(conn); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		store := db.NewStore(conn)
		b.blocks = store
		b.registry = store
		b.elections = store
		b.catalog = store
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	if b.registry == nil {
		reg, err := registry.NewFileRegistry(registry.RegistryConfig{
			VotersFilePath: cfg.RegistryFile,
			AutoSave:       true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open voter registry: %w", err)
		}
		b.registry = reg
	}

	// A catalog file takes precedence over elections stored in the database.
	if cfg.CatalogFile != "" {
		b.catalog = catalog.FileProvider{Path: cfg.CatalogFile}
	}

	return b, nil
}

func run(cfg config.Config) error {
	if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	miner, err := wallet.LoadOrCreate(cfg.WalletFile)
	if err != nil {
		return fmt.Errorf("failed to load miner wallet: %w", err)
	}
	logger.Info("miner wallet loaded", "address", miner.Address(), "fingerprint", miner.Fingerprint())

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.blocks.Close()

	start := time.Now()
	l, err := ledger.New(ledger.Options{
		Difficulty:   cfg.Difficulty,
		MiningReward: cfg.MiningReward,
		Store:        b.blocks,
	})
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	logger.Info("ledger ready", "backend", cfg.Backend, "blocks", l.BlockCount(), logger.Timed(start))

	var policy ledger.SealPolicy = ledger.SealEveryVote{}
	if cfg.BatchSize > 1 {
		policy = ledger.SealBatch{Size: cfg.BatchSize}
	}

	metrics := service.NewMetricsCollector()
	votingService, err := service.NewVotingService(service.Config{
		Ledger:       l,
		Policy:       policy,
		MinerAddress: miner.Address(),
		Elections:    b.elections,
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if b.catalog != nil {
		if err := votingService.ReloadCatalog(ctx, b.catalog); err != nil {
			return fmt.Errorf("failed to load election catalog: %w", err)
		}
	}

	archive, err := storage.NewArchive(filepath.Join(cfg.StorageDir, "snapshots"), cfg.KeepSnapshots)
	if err != nil {
		return err
	}
	auditor := service.NewAuditor(service.AuditorConfig{
		Chain:    l,
		Archive:  archive,
		Signer:   miner,
		Metrics:  metrics,
		Interval: cfg.AuditInterval,
	})
	go auditor.Run(ctx)

	queue := service.NewQueueProcessor(votingService, cfg.QueueSize, 0)
	queue.Start()

	server, err := api.NewServer(api.Config{
		Service:         votingService,
		Queue:           queue,
		Registry:        b.registry,
		Catalog:         b.catalog,
		Auditor:         auditor,
		RequireVerified: cfg.RequireVerified,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	serverChan := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		serverChan <- httpServer.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-serverChan:
		serveErr = err
	case sig := <-sigChan:
		logger.Info("received signal", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}

	queue.Stop()
	cancel()

	if block, err := votingService.Flush(); err != nil {
		logger.Error("failed to seal pending votes", "err", err)
	} else if block != nil {
		logger.Info("sealed pending votes", "hash", block.Hash, "transactions", len(block.Transactions))
	}

	logger.Info("server shutdown completed", "blocks", votingService.BlockCount())

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}
