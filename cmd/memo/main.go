// Spins up the memo server: an in-memory cache reachable over the Redis protocol and a small HTTP API.

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nobletooth/memo/pkg/cache"
	"github.com/nobletooth/memo/pkg/config"
	"github.com/nobletooth/memo/pkg/port"
	"github.com/nobletooth/memo/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const metricsNamespace = "memo"

var (
	printVersion = flag.Bool("print_version", false, "Print the version and exit.")
	maxSize      = flag.Int("max_size", 0,
		"Maximum number of cached keys; 0 means unbounded. With sharding, split evenly between shards.")
	defaultTTL    = flag.Duration("default_ttl", 0, "TTL of keys set without one; 0 means keys never expire.")
	shardCount    = flag.Int("shard_count", 1, "Number of independently locked cache shards.")
	sweepInterval = flag.Duration("sweep_interval", time.Minute,
		"How often expired keys are swept in the background; 0 disables the janitor.")
	disableCache = flag.Bool("disable_cache", false, "Serve requests without storing anything.")
)

// newStore builds the cache layer described by the flags.
func newStore() cache.Layer[string, []byte] {
	if *disableCache {
		slog.Warn("Cache is disabled, nothing will be stored.")
		return cache.NewNoOp[string, []byte]()
	}
	onEvict := func(key string, _ []byte) { slog.Debug("Removed key from cache.", "key", key) }
	if *shardCount <= 1 {
		return cache.New(cache.Config[string, []byte]{DefaultTTL: *defaultTTL, MaxSize: *maxSize, OnEvict: onEvict})
	}
	perShardSize := *maxSize
	if perShardSize > 0 { // Round up so no shard ends up with zero capacity.
		perShardSize = (perShardSize + *shardCount - 1) / *shardCount
	}
	return cache.NewSharded(func() cache.Layer[string, []byte] {
		return cache.New(cache.Config[string, []byte]{DefaultTTL: *defaultTTL, MaxSize: perShardSize, OnEvict: onEvict})
	}, *shardCount)
}

// run serves `store` until `ctx` is done or one of the servers fails.
func run(ctx context.Context, store cache.Layer[string, []byte], gatherer prometheus.Gatherer) error {
	group, ctx := errgroup.WithContext(ctx)
	if sweeper, ok := store.(cache.Sweeper); ok && *sweepInterval > 0 {
		group.Go(func() error {
			cache.RunJanitor(ctx, sweeper, *sweepInterval)
			return nil
		})
	}
	group.Go(func() error { return port.RunRedisServer(ctx, store) })
	group.Go(func() error { return port.RunHTTPServer(ctx, store, gatherer) })
	return group.Wait()
}

func main() {
	configErr := config.InitFlags()
	utils.InitLogging() // After the config file, which may set the log flags.
	if configErr != nil {
		slog.Error("Failed to initialize flags.", "error", configErr)
		os.Exit(1)
	}

	if *printVersion {
		slog.Info("Memo build info.", "version", utils.Version, "commit", utils.Commit, "build", utils.BuildTime)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := newStore()
	registry := prometheus.NewRegistry()
	registry.MustRegister(cache.NewStatsCollector(metricsNamespace, store))
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, registry}

	slog.Info("Starting memo.", "version", utils.Version, "max_size", *maxSize, "default_ttl", *defaultTTL,
		"shard_count", *shardCount)
	if err := run(ctx, store, gatherers); err != nil {
		slog.Error("Memo server stopped.", "error", err)
		os.Exit(1)
	}
	slog.Info("Memo server stopped.")
}
