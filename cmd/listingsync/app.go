package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/listingsync"
	"github.com/unkn0wn-root/listingsync/cache"
	"github.com/unkn0wn-root/listingsync/codec"
	"github.com/unkn0wn-root/listingsync/hooks"
	asynchook "github.com/unkn0wn-root/listingsync/hooks/async"
	"github.com/unkn0wn-root/listingsync/ident"
	"github.com/unkn0wn-root/listingsync/index"
	"github.com/unkn0wn-root/listingsync/index/elastic"
	"github.com/unkn0wn-root/listingsync/index/memory"
	"github.com/unkn0wn-root/listingsync/internal/config"
	"github.com/unkn0wn-root/listingsync/listing"
	"github.com/unkn0wn-root/listingsync/logger"
	logruslog "github.com/unkn0wn-root/listingsync/logger/logrus"
	slogadapter "github.com/unkn0wn-root/listingsync/logger/slog"
	zaplog "github.com/unkn0wn-root/listingsync/logger/zap"
	zerologlog "github.com/unkn0wn-root/listingsync/logger/zerolog"
	"github.com/unkn0wn-root/listingsync/promhooks"
	pr "github.com/unkn0wn-root/listingsync/provider"
	bcp "github.com/unkn0wn-root/listingsync/provider/bigcache"
	rp "github.com/unkn0wn-root/listingsync/provider/redis"
	rtp "github.com/unkn0wn-root/listingsync/provider/ristretto"
	"github.com/unkn0wn-root/listingsync/queue"
	"github.com/unkn0wn-root/listingsync/records/gormstore"
	"github.com/unkn0wn-root/listingsync/sloghooks"
	"github.com/unkn0wn-root/listingsync/versions"
)

// Seams replaced in tests.
var (
	openDB      = gormstore.Open
	memoryIndex = func(names index.Names) index.Gateway[listing.Listing, ident.String] {
		return memory.New[listing.Listing, ident.String](names, listing.Identify)
	}
)

// app is one wired listing service and everything it holds open.
type app struct {
	cfg      *config.Config
	log      logger.Logger
	hooks    hooks.Hooks
	registry *prometheus.Registry
	rdb      goredis.UniversalClient
	cache    cache.Store[*listing.Listing]
	pub      *queue.Publisher[*listing.Listing]
	records  *gormstore.Store[listing.Listing]
	svc      *listing.Service

	closers []func(context.Context) error
}

// newApp wires the service. needDB is false for commands that only talk to
// redis; the service is then left nil.
func newApp(ctx context.Context, cfg *config.Config, needDB bool) (a *app, err error) {
	if err := cfg.Validate(needDB); err != nil {
		return nil, err
	}
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	log, sync, err := buildLogger(cfg.LogBackend, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a.log = log
	a.closers = append(a.closers, func(context.Context) error { return sync() })

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	async := asynchook.New(hooks.Multi{
		promhooks.New(a.registry),
		sloghooks.New(slog.New(slog.NewJSONHandler(os.Stderr, nil)), sloghooks.Options{ConflictEvery: 100, CacheErrorEvery: 10}),
	}, 1, 1024)
	a.hooks = async
	a.closers = append(a.closers, func(context.Context) error { async.Close(); return nil })

	if cfg.MetricsAddr != "" {
		a.serveMetrics(cfg.MetricsAddr)
	}

	a.rdb = goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.closers = append(a.closers, func(context.Context) error { return a.rdb.Close() })
	queueProv, err := rp.New(rp.Config{Client: a.rdb})
	if err != nil {
		return nil, err
	}

	prov, err := buildProvider(cfg, queueProv)
	if err != nil {
		return nil, err
	}
	cd, err := codec.ByName[*listing.Listing](cfg.Cache.Codec)
	if err != nil {
		return nil, err
	}
	if cfg.Cache.MaxDecode > 0 {
		cd = codec.Limit[*listing.Listing]{Inner: cd, MaxDecode: cfg.Cache.MaxDecode}
	}
	a.cache, err = cache.New[*listing.Listing](cache.Options[*listing.Listing]{
		Provider:   prov,
		Queue:      queueProv,
		Codec:      cd,
		Namespace:  cfg.Cache.Namespace,
		DefaultTTL: cfg.Cache.TTL,
		Logger:     a.log,
		Hooks:      a.hooks,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.cache.Close)

	a.pub = queue.New[*listing.Listing](a.cache, queue.Options[*listing.Listing]{
		List:    cfg.Queue.List,
		Channel: cfg.Queue.Channel,
		Logger:  a.log,
		Hooks:   a.hooks,
		Describe: func(l *listing.Listing) logger.Fields {
			return logger.Fields{"id": l.ID}
		},
	})
	if !needDB {
		return a, nil
	}

	db, err := openDB(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	a.records = gormstore.New[listing.Listing](db, gormstore.Options{Transactional: true})
	a.closers = append(a.closers, func(context.Context) error { return a.records.Close() })

	idx, err := buildIndex(cfg)
	if err != nil {
		return nil, err
	}
	counter, err := buildVersions(cfg, a.rdb)
	if err != nil {
		return nil, err
	}
	if counter != nil {
		a.closers = append(a.closers, counter.Close)
	}

	a.svc, err = listing.NewService(listing.Options{
		Records:      a.records,
		Index:        idx,
		Cache:        a.cache,
		Publisher:    a.pub,
		Versions:     counter,
		CacheTTL:     cfg.Cache.TTL,
		AttemptLimit: listingsync.Attempts(cfg.Cache.AttemptLimit),
		Logger:       a.log,
		Hooks:        a.hooks,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) serveMetrics(addr string) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server stopped", logger.Fields{"addr": addr, "err": err})
		}
	}()
	a.closers = append(a.closers, srv.Shutdown)
	a.log.Info("serving metrics", logger.Fields{"addr": addr})
}

func buildProvider(cfg *config.Config, redisProv *rp.Redis) (pr.Provider, error) {
	switch cfg.Cache.Backend {
	case "ristretto":
		return rtp.New(rtp.Config{NumCounters: 1e5, MaxCost: 64 << 20, BufferItems: 64})
	case "bigcache":
		return bcp.New(bcp.Config{LifeWindow: cfg.Cache.TTL, CleanWindow: time.Minute, MaxEntriesInWindow: 1e5})
	default:
		return redisProv, nil
	}
}

func buildIndex(cfg *config.Config) (index.Gateway[listing.Listing, ident.String], error) {
	if cfg.Index.Backend == "memory" {
		return memoryIndex(cfg.Index.Names), nil
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Index.Addresses,
		Username:  cfg.Index.Username,
		Password:  cfg.Index.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	opts := elastic.Options{}
	if cfg.Index.Refresh {
		opts.Refresh = "wait_for"
	}
	return elastic.New[listing.Listing, ident.String](es, cfg.Index.Names, listing.Identify, opts)
}

func buildVersions(cfg *config.Config, rdb goredis.UniversalClient) (versions.Counter, error) {
	switch cfg.Versions {
	case "", "off":
		return nil, nil
	case "local":
		return versions.NewLocal(time.Hour, 24*time.Hour), nil
	case "redis":
		return versions.NewRedis(rdb, cfg.Cache.Namespace, 0), nil
	default:
		return nil, fmt.Errorf("%w: versions=%q", config.ErrInvalid, cfg.Versions)
	}
}

// buildLogger returns the logger and a flush func for process exit.
func buildLogger(backend, level string) (logger.Logger, func() error, error) {
	noSync := func() error { return nil }
	switch strings.ToLower(backend) {
	case "", "zap":
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, nil, err
		}
		zc := zap.NewProductionConfig()
		zc.Level = lvl
		z, err := zc.Build()
		if err != nil {
			return nil, nil, err
		}
		return zaplog.ZapLogger{L: z}, func() error { _ = z.Sync(); return nil }, nil
	case "logrus":
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, nil, err
		}
		l := logrus.New()
		l.SetLevel(lvl)
		l.SetFormatter(&logrus.JSONFormatter{})
		return logruslog.LogrusLogger{E: logrus.NewEntry(l)}, noSync, nil
	case "zerolog":
		lvl, err := zerolog.ParseLevel(level)
		if err != nil {
			return nil, nil, err
		}
		return zerologlog.ZerologLogger{L: zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()}, noSync, nil
	case "slog":
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, nil, err
		}
		h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
		return slogadapter.Logger{L: slog.New(h)}, noSync, nil
	default:
		return nil, nil, fmt.Errorf("%w: log-backend=%q", config.ErrInvalid, backend)
	}
}
