package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/username/betflow"
	"github.com/username/betflow/pkg/api"
	"github.com/username/betflow/pkg/config"
	"github.com/username/betflow/pkg/publisher"
	"github.com/username/betflow/pkg/spi"
	"github.com/username/betflow/pkg/spi/eth"
	"github.com/username/betflow/pkg/spi/store/pg"
	redisstore "github.com/username/betflow/pkg/spi/store/redis"
	"github.com/username/betflow/pkg/util"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	if *configPath != "" {
		os.Setenv("BETFLOW_CONFIG_PATH", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("betflow stopped with error", zap.Error(err))
	}
	logger.Info("Goodbye.")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting betflow",
		zap.String("rpc", cfg.RPCURL),
		zap.String("journal_driver", cfg.JournalDriver),
	)

	// 1. Setup node
	backoff := util.NewBackoff(cfg.DialRetries, cfg.DialDelay)
	backoff.Logger = logger.Named("dial")
	node, err := eth.Dial(ctx, cfg.RPCURL, backoff)
	if err != nil {
		return fmt.Errorf("failed to connect to RPC at %s: %w", cfg.RPCURL, err)
	}
	defer node.Close()
	logger.Info("connected to node", zap.String("chain_id", node.ChainID().String()))

	// 2. Setup journal
	var journal spi.Journal
	switch cfg.JournalDriver {
	case "postgres":
		logger.Info("Using PostgreSQL journal with DSN provided in config")
		journal, err = pg.NewStore(cfg.JournalDSN)
	case "redis":
		logger.Info("Using Redis journal")
		journal, err = redisstore.NewStore(ctx, cfg.JournalDSN)
	case "none":
	default:
		return fmt.Errorf("unknown journal driver: %s", cfg.JournalDriver)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize journal (%s): %w", cfg.JournalDriver, err)
	}

	opts := []betflow.Option{betflow.WithLogger(logger)}
	if journal != nil {
		defer journal.Close()
		opts = append(opts, betflow.WithJournal(journal))
	}

	// 3. Setup publisher
	if cfg.PublisherRedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.PublisherRedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse publisher redis url: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()

		pub, err := publisher.New(rdb, cfg.PublisherTopic, logger)
		if err != nil {
			return fmt.Errorf("failed to create publisher: %w", err)
		}
		defer pub.Close()
		opts = append(opts,
			betflow.OnBlock(pub.PublishBlock),
			betflow.OnReorg(pub.PublishReorg),
			betflow.OnOutcome(pub.PublishOutcome),
		)
		logger.Info("publishing to redis stream", zap.String("topic", pub.Topic()))
	}

	// 4. Run service and API with graceful shutdown
	svc := betflow.New(cfg, node, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	if cfg.HTTPAddr != "" {
		server := api.NewServer(&api.Handler{
			State:    svc.State(),
			Users:    svc.Users(),
			Enqueuer: svc,
			Nonces:   node,
			Logger:   logger,
		}, cfg.HTTPAddr, logger)
		g.Go(func() error { return server.Run(gctx) })
	}
	return g.Wait()
}
