// Command tieredfetcher runs the tiered fetch engine's HTTP facade, or
// issues one-off get/query requests against a running instance's backend
// directly (useful for local debugging against the memory backend).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tieredfetch/tieredfetcher/internal/api"
	"github.com/tieredfetch/tieredfetcher/internal/backendreader"
	"github.com/tieredfetch/tieredfetcher/internal/cache"
	"github.com/tieredfetch/tieredfetcher/internal/coordinator"
	"github.com/tieredfetch/tieredfetcher/internal/flatfile"
	"github.com/tieredfetch/tieredfetcher/internal/indexfile"
	"github.com/tieredfetch/tieredfetcher/internal/indexquery"
	"github.com/tieredfetch/tieredfetcher/internal/metadata"
	"github.com/tieredfetch/tieredfetcher/internal/metrics"
	"github.com/tieredfetch/tieredfetcher/internal/prefetch"
	"github.com/tieredfetch/tieredfetcher/internal/tieredbackend"
	"github.com/tieredfetch/tieredfetcher/internal/tieredbackend/memory"
	"github.com/tieredfetch/tieredfetcher/internal/tieredbackend/objstorebackend"
	"github.com/tieredfetch/tieredfetcher/internal/tieredfetcherconfig"
	"github.com/tieredfetch/tieredfetcher/internal/types"
	"github.com/tieredfetch/tieredfetcher/internal/workerpool"
)

func main() {
	app := kingpin.New("tieredfetcher", "Tiered message-store read path engine.")
	cfg := &tieredfetcherconfig.Config{}
	fs := flag.NewFlagSet("tieredfetcher", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	registerFlagSetAsKingpin(app, fs)

	serveCmd := app.Command("serve", "Run the HTTP query/metrics facade.").Default()

	getCmd := app.Command("get", "Issue one getMessageAsync call against a configured backend and print the result as JSON.")
	getTopic := getCmd.Flag("topic", "Topic name.").Required().String()
	getBroker := getCmd.Flag("broker", "Broker name.").String()
	getQueueID := getCmd.Flag("queue-id", "Queue ID.").Int32()
	getGroup := getCmd.Flag("group", "Consumer group.").Default("cli").String()
	getOffset := getCmd.Flag("offset", "Queue offset to begin reading at.").Required().Int64()
	getMaxCount := getCmd.Flag("max-count", "Maximum number of messages to return.").Default("32").Int()

	queryCmd := app.Command("query", "Issue one queryMessageAsync call against a configured backend and print the result as JSON.")
	queryTopic := queryCmd.Flag("topic", "Topic name.").Required().String()
	queryKey := queryCmd.Flag("key", "Message key to look up.").Required().String()
	queryMaxCount := queryCmd.Flag("max-count", "Maximum number of matches to return.").Default("32").Int()
	queryBeginTime := queryCmd.Flag("begin-time", "Lower bound of the scan window, Unix millis.").Int64()
	queryEndTime := queryCmd.Flag("end-time", "Upper bound of the scan window, Unix millis. Defaults to now.").Int64()

	cmd, err := app.Parse(os.Args[1:])
	if err != nil {
		kingpin.Fatalf("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		kingpin.Fatalf("invalid configuration: %v", err)
	}

	logger := newLogger(cfg.LogLevel)

	switch cmd {
	case serveCmd.FullCommand():
		if err := runServe(cfg, logger); err != nil {
			level.Error(logger).Log("msg", "exiting", "err", err)
			os.Exit(1)
		}
	case getCmd.FullCommand():
		queue := types.MessageQueue{Topic: *getTopic, BrokerName: *getBroker, QueueID: *getQueueID}
		if err := runGet(cfg, logger, *getGroup, queue, *getOffset, *getMaxCount); err != nil {
			level.Error(logger).Log("msg", "exiting", "err", err)
			os.Exit(1)
		}
	case queryCmd.FullCommand():
		endTime := *queryEndTime
		if endTime == 0 {
			endTime = time.Now().UnixMilli()
		}
		if err := runQuery(cfg, logger, *queryTopic, *queryKey, *queryMaxCount, *queryBeginTime, endTime); err != nil {
			level.Error(logger).Log("msg", "exiting", "err", err)
			os.Exit(1)
		}
	}
}

// registerFlagSetAsKingpin bridges the standard library flag.FlagSet the
// config package registers against into kingpin's own flag registry, the
// same indirection the teacher's cortex-derived CLI uses to keep
// RegisterFlags(*flag.FlagSet) reusable outside of kingpin.
func registerFlagSetAsKingpin(app *kingpin.Application, fs *flag.FlagSet) {
	fs.VisitAll(func(f *flag.Flag) {
		app.Flag(f.Name, f.Usage).Default(f.DefValue).SetValue(f.Value)
	})
}

// engine bundles the components shared by the serve/get/query commands, each
// of which needs the full read path wired but only serve also needs an HTTP
// listener and a Prometheus registry to export it through.
type engine struct {
	coordinator *coordinator.Coordinator
	indexQuery  *indexquery.IndexQuery
	pool        *workerpool.Pool
	registry    *prometheus.Registry
}

func buildEngine(cfg *tieredfetcherconfig.Config, logger log.Logger) (*engine, error) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, cfg.MetricsNamespace)

	backend, err := buildBackend(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build backend: %w", err)
	}

	store, err := cache.NewStore(cache.Config{
		MaxWeightBytes:   int64(float64(512<<20) * cfg.ReadAhead.CacheSizeThresholdRate),
		ExpireAfterWrite: cfg.ReadAhead.CacheExpireDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}

	manager := flatfile.NewManager(backend, cfg.ReadAhead.MinFactor)
	reader := backendreader.New(backend, cfg.ReadAhead.MessageSizeThreshold, m, logger)
	pool := workerpool.New(cfg.WorkerPoolSize)
	pf := prefetch.New(reader, store, pool, prefetch.Config{
		MessageCountThreshold:    cfg.ReadAhead.MessageCountThreshold,
		BatchSizeFactorThreshold: cfg.ReadAhead.BatchSizeFactorThreshold,
	}, m, logger)
	coord := coordinator.New(manager, store, reader, pf, pool, coordinator.Config{MinFactor: cfg.ReadAhead.MinFactor}, m, logger)

	metaStore := metadata.New(func(_ context.Context, _ string) (*metadata.TopicMetadata, error) {
		return nil, tieredbackend.ErrNotFound
	})
	idxFile := indexfile.New(backend)
	iq := indexquery.New(idxFile, metaStore, manager, backend, logger)

	return &engine{coordinator: coord, indexQuery: iq, pool: pool, registry: reg}, nil
}

func runServe(cfg *tieredfetcherconfig.Config, logger log.Logger) error {
	e, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.pool.Stop()

	a := api.New(e.coordinator, e.indexQuery, logger)
	mux := a.Router()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.ServerHTTPListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	level.Info(logger).Log("msg", "listening", "addr", cfg.ServerHTTPListenAddress)
	return srv.ListenAndServe()
}

// runGet issues a single getMessageAsync call against a freshly built engine
// and prints the result as JSON, for local debugging against the memory
// backend without standing up the HTTP facade.
func runGet(cfg *tieredfetcherconfig.Config, logger log.Logger, group string, queue types.MessageQueue, queueOffset int64, maxCount int) error {
	e, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result := <-e.coordinator.GetMessageAsync(ctx, group, queue, queueOffset, maxCount, nil)
	return json.NewEncoder(os.Stdout).Encode(result)
}

// runQuery issues a single queryMessageAsync call against a freshly built
// engine and prints the result as JSON.
func runQuery(cfg *tieredfetcherconfig.Config, logger log.Logger, topic, key string, maxCount int, beginTime, endTime int64) error {
	e, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result := <-e.indexQuery.QueryMessageAsync(ctx, topic, key, maxCount, beginTime, endTime)
	return json.NewEncoder(os.Stdout).Encode(result)
}

func buildBackend(cfg *tieredfetcherconfig.Config, logger log.Logger) (tieredbackend.Backend, error) {
	switch cfg.Backend.Type {
	case "objstore":
		bkt, err := objstorebackend.NewBucket(context.Background(), cfg.Backend.Objstore, logger)
		if err != nil {
			return nil, err
		}
		return objstorebackend.New(bkt, logger), nil
	default:
		return memory.NewBackend(), nil
	}
}

func newLogger(levelName string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	var lvl level.Option
	switch levelName {
	case "debug":
		lvl = level.AllowDebug()
	case "warn":
		lvl = level.AllowWarn()
	case "error":
		lvl = level.AllowError()
	default:
		lvl = level.AllowInfo()
	}
	return level.NewFilter(logger, lvl)
}
