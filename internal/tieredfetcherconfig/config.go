// Package tieredfetcherconfig is the tiered fetch engine's own
// flag.FlagSet/YAML config layer, in the style of mimir's
// BlocksStorageConfig: one struct per component, RegisterFlags on each,
// top-level Validate delegating down.
package tieredfetcherconfig

import (
	"flag"
	"time"

	"github.com/pkg/errors"

	"github.com/tieredfetch/tieredfetcher/internal/tieredbackend/objstorebackend"
)

var (
	errInvalidCacheSizeThresholdRate = errors.New("read-ahead cache size threshold rate must be in (0, 1]")
	errInvalidMessageCountThreshold  = errors.New("read-ahead message count threshold must be positive")
	errInvalidMessageSizeThreshold   = errors.New("read-ahead message size threshold must be positive")
	errInvalidBatchSizeFactorThresh  = errors.New("read-ahead batch size factor threshold must be positive")
	errInvalidMinFactor              = errors.New("read-ahead min factor must be at least 1")
	errInvalidWorkerPoolSize         = errors.New("worker pool size must be positive")
	errUnknownBackendType            = errors.New("backend type must be one of \"memory\" or \"objstore\"")
)

// Config is the root configuration for the tiered fetch engine.
type Config struct {
	ReadAhead ReadAheadConfig `yaml:"read_ahead"`
	Backend   BackendConfig   `yaml:"backend"`

	WorkerPoolSize          int    `yaml:"worker_pool_size"`
	LogLevel                string `yaml:"log_level"`
	ServerHTTPListenAddress string `yaml:"server_http_listen_address"`
	MetricsNamespace        string `yaml:"metrics_namespace"`
}

// RegisterFlags registers every flag under f, delegating to each component.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.ReadAhead.RegisterFlags(f)
	cfg.Backend.RegisterFlags(f)

	f.IntVar(&cfg.WorkerPoolSize, "worker-pool-size", 32, "Number of goroutines in the shared backend-fetch worker pool.")
	f.StringVar(&cfg.LogLevel, "log-level", "info", "Minimum level logged: debug, info, warn, or error.")
	f.StringVar(&cfg.ServerHTTPListenAddress, "server.http-listen-address", ":8080", "HTTP listen address for the query/metrics facade.")
	f.StringVar(&cfg.MetricsNamespace, "metrics-namespace", "tieredfetcher", "Namespace prefix applied to every exported Prometheus metric.")
}

// Validate validates cfg and every component within it.
func (cfg *Config) Validate() error {
	if err := cfg.ReadAhead.Validate(); err != nil {
		return err
	}
	if err := cfg.Backend.Validate(); err != nil {
		return err
	}
	if cfg.WorkerPoolSize <= 0 {
		return errInvalidWorkerPoolSize
	}
	return nil
}

// ReadAheadConfig configures CacheStore, ReadAheadPolicy, and PrefetchEngine.
type ReadAheadConfig struct {
	CacheSizeThresholdRate   float64       `yaml:"cache_size_threshold_rate" category:"advanced"`
	CacheExpireDuration      time.Duration `yaml:"cache_expire_duration" category:"advanced"`
	MessageCountThreshold    int           `yaml:"message_count_threshold" category:"advanced"`
	MessageSizeThreshold     int64         `yaml:"message_size_threshold" category:"advanced"`
	BatchSizeFactorThreshold int           `yaml:"batch_size_factor_threshold" category:"advanced"`
	MinFactor                int           `yaml:"min_factor" category:"advanced"`
}

// RegisterFlags registers the ReadAheadConfig flags.
func (cfg *ReadAheadConfig) RegisterFlags(f *flag.FlagSet) {
	f.Float64Var(&cfg.CacheSizeThresholdRate, "read-ahead.cache-size-threshold-rate", 0.1, "Fraction of a fixed 512 MiB memory budget allowed for read-ahead cache weight; the budget does not follow the process's heap size.")
	f.DurationVar(&cfg.CacheExpireDuration, "read-ahead.cache-expire-duration", 3*time.Minute, "Time-to-live applied to cache entries after write.")
	f.IntVar(&cfg.MessageCountThreshold, "read-ahead.message-count-threshold", 256, "Hard cap on total prefetched message count per trigger.")
	f.Int64Var(&cfg.MessageSizeThreshold, "read-ahead.message-size-threshold", 4<<20, "Hard cap, in bytes, on commit-log data read per backend fetch.")
	f.IntVar(&cfg.BatchSizeFactorThreshold, "read-ahead.batch-size-factor-threshold", 4, "Read-ahead factor above which prefetch fans out across multiple concurrent batches.")
	f.IntVar(&cfg.MinFactor, "read-ahead.min-factor", 1, "Batch multiplier used on synchronous full-miss fetches, and the floor the read-ahead factor saturates down to.")
}

// Validate validates the ReadAheadConfig.
func (cfg *ReadAheadConfig) Validate() error {
	if cfg.CacheSizeThresholdRate <= 0 || cfg.CacheSizeThresholdRate > 1 {
		return errInvalidCacheSizeThresholdRate
	}
	if cfg.MessageCountThreshold <= 0 {
		return errInvalidMessageCountThreshold
	}
	if cfg.MessageSizeThreshold <= 0 {
		return errInvalidMessageSizeThreshold
	}
	if cfg.BatchSizeFactorThreshold <= 0 {
		return errInvalidBatchSizeFactorThresh
	}
	if cfg.MinFactor < 1 {
		return errInvalidMinFactor
	}
	return nil
}

// BackendConfig selects and configures the tiered backend.
type BackendConfig struct {
	Type     string                 `yaml:"type"`
	Objstore objstorebackend.Config `yaml:"objstore"`
}

// RegisterFlags registers the BackendConfig flags.
func (cfg *BackendConfig) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&cfg.Type, "backend.type", "memory", "Tiered backend to read from: memory or objstore.")
	cfg.Objstore.RegisterFlagsWithPrefix(f, "backend.objstore.")
}

// Validate validates the BackendConfig.
func (cfg *BackendConfig) Validate() error {
	switch cfg.Type {
	case "memory":
		return nil
	case "objstore":
		return cfg.Objstore.Validate()
	default:
		return errUnknownBackendType
	}
}
