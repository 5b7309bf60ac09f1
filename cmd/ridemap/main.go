// Command ridemap prefetches the tiles covering a viewport into the local
// cache, exercising the full acquisition pipeline headlessly. A renderer
// would drive the same pipeline through viewport updates instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/ridemap"
	"github.com/unkn0wn-root/ridemap/config"
	asynchook "github.com/unkn0wn-root/ridemap/hooks/async"
	zaplog "github.com/unkn0wn-root/ridemap/log/zap"
	"github.com/unkn0wn-root/ridemap/metrics"
	"github.com/unkn0wn-root/ridemap/store"
	"github.com/unkn0wn-root/ridemap/store/bigcachestore"
	"github.com/unkn0wn-root/ridemap/store/redisstore"
	"github.com/unkn0wn-root/ridemap/store/ristrettostore"
	"github.com/unkn0wn-root/ridemap/store/sqlitestore"
	"github.com/unkn0wn-root/ridemap/tile"
)

func main() {
	var (
		mapConfig   = flag.String("map-config", "", "JSON file containing the map provider configuration (required)")
		cacheDir    = flag.String("cache-directory", "", "path of the cache directory (overrides RIDEMAP_CACHE_DIR)")
		lat         = flag.Float64("lat", 46.95, "viewport center latitude")
		lon         = flag.Float64("lon", 7.45, "viewport center longitude")
		zoom        = flag.Float64("zoom", 12, "fractional viewport zoom")
		width       = flag.Int("width", 1280, "viewport width in pixels")
		height      = flag.Int("height", 720, "viewport height in pixels")
		metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics on this address (empty = off)")
		timeout     = flag.Duration("timeout", 2*time.Minute, "give up after this long")
	)
	flag.Parse()

	if *mapConfig == "" {
		fmt.Fprintln(os.Stderr, "ridemap: -map-config is required")
		os.Exit(2)
	}

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ridemap: config: %v\n", err)
		os.Exit(1)
	}
	if *cacheDir != "" {
		cfg.CacheDir = *cacheDir
	}

	logger, err := newLogger(cfg.Logger.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ridemap: logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger, *mapConfig, tile.Viewport{
		CenterLon: *lon,
		CenterLat: *lat,
		Zoom:      *zoom,
		WidthPx:   *width,
		HeightPx:  *height,
	}, *metricsAddr, *timeout); err != nil {
		logger.Fatal("prefetch failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger, mapConfig string, vp tile.Viewport, metricsAddr string, timeout time.Duration) error {
	provider, err := tile.LoadProvider(mapConfig)
	if err != nil {
		return err
	}

	st, err := buildStore(cfg, provider)
	if err != nil {
		return err
	}

	var hooks ridemap.Hooks
	if metricsAddr != "" {
		ah := asynchook.New(metrics.Hooks{}, 1, 1024)
		defer ah.Close()
		hooks = ah
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	pipe, err := ridemap.New(ridemap.Options{
		Provider:            provider,
		Store:               st,
		CacheDir:            cfg.CacheDir,
		Logger:              zaplog.ZapLogger{L: logger},
		Hooks:               hooks,
		ParallelRequests:    cfg.ParallelRequests,
		MaxTileLevel:        cfg.MaxTileLevel,
		MaxPixelsPerTile:    cfg.MaxPixelsPerTile,
		SpeculativeTileLoad: cfg.SpeculativeTileLoad,
		LazyUIRefresh:       cfg.LazyUIRefresh,
		MemBudgetBytes:      cfg.MemBudgetBytes,
		FailCooldown:        cfg.FailCooldown,
		RequestTimeout:      cfg.RequestTimeout,
		SinkDepth:           cfg.SinkDepth,
	})
	if err != nil {
		return err
	}

	sink, err := pipe.Subscribe()
	if err != nil {
		return err
	}

	// The prefetch target: every required tile of the viewport.
	want := make(map[tile.Key]struct{})
	for _, d := range tile.Plan(provider.ID(), vp, tile.PlanConfig{
		MaxTileLevel:     cfg.MaxTileLevel,
		MaxPixelsPerTile: cfg.MaxPixelsPerTile,
	}) {
		if d.Priority == tile.PriorityRequired {
			want[d.Key] = struct{}{}
		}
	}
	logger.Info("prefetching viewport",
		zap.Int("tiles", len(want)),
		zap.Float64("lat", vp.CenterLat),
		zap.Float64("lon", vp.CenterLon),
		zap.Float64("zoom", vp.Zoom))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		remaining := len(want)
		for remaining > 0 {
			select {
			case rt, ok := <-sink:
				if !ok {
					return fmt.Errorf("pipeline closed with %d tiles outstanding", remaining)
				}
				if _, ok := want[rt.Key]; ok {
					delete(want, rt.Key)
					remaining--
					logger.Debug("tile ready",
						zap.String("key", rt.Key.String()),
						zap.Int("width", rt.Raster.Width),
						zap.Int("height", rt.Raster.Height))
				}
			case <-ctx.Done():
				return fmt.Errorf("gave up with %d tiles outstanding: %w", remaining, ctx.Err())
			}
		}
		return nil
	})

	pipe.PublishViewport(vp)
	err = g.Wait()

	shutdownCtx, sc := context.WithTimeout(context.Background(), 10*time.Second)
	defer sc()
	if serr := pipe.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	if err == nil {
		logger.Info("prefetch complete")
	}
	return err
}

func buildStore(cfg *config.Config, provider *tile.Provider) (store.Store, error) {
	switch cfg.Store {
	case "disk", "":
		// nil lets the pipeline open its default disk store under CacheDir
		return nil, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return redisstore.New(redisstore.Config{Client: client, TTL: cfg.Redis.TTL, CloseClient: true})
	case "sqlite":
		return sqlitestore.New(cfg.SQLite.Path)
	case "bigcache":
		return bigcachestore.New(bigcachestore.Config{LifeWindow: 24 * time.Hour})
	case "ristretto":
		return ristrettostore.New(ristrettostore.Config{
			NumCounters: 1 << 16,
			MaxCost:     cfg.MemBudgetBytes,
		})
	default:
		return nil, fmt.Errorf("unknown store type: %s (supported: disk, redis, sqlite, bigcache, ristretto)", cfg.Store)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	conf := zap.NewProductionConfig()
	conf.Level = zap.NewAtomicLevelAt(zapLevel)
	conf.Encoding = "json"
	conf.OutputPaths = []string{"stdout"}
	conf.ErrorOutputPaths = []string{"stderr"}
	conf.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return conf.Build()
}
