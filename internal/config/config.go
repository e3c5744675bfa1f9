// Package config loads the declarative configuration snapshot consumed by
// every component at startup (DESIGN NOTES §9: replace runtime reflection
// of configuration with a struct parsed once at deploy). Nothing below this
// layer re-reads viper/the environment directly.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// OracleUpstream is one parsed entry of ORACLE_UPSTREAMS
// ("url=weight,url=weight,...").
type OracleUpstream struct {
	URL    string
	Weight float64
}

// Config is the process-wide configuration snapshot. It is immutable after
// Load returns; live reconfiguration goes through Watch, which hands a
// freshly loaded Config to a callback rather than mutating this one.
type Config struct {
	ChainRPCURL string
	ChainNetwork string // mainnet | testnet | privnet

	WorkerCount        int
	GlobalConcurrency  int
	QueueHighWatermark int
	MaxReorgDepth      int
	IngestWindow       int

	OracleUpstreams []OracleUpstream
	OracleTTL       time.Duration
	OracleMinSources int

	MetaTxReceiptTimeout time.Duration

	DataDir string

	LogLevel string
	LogFile  string

	HTTPAddr string // control-plane / metrics listen address
}

const (
	defaultWorkerCount        = 0 // 0 => logical CPUs
	defaultGlobalConcurrency  = 64
	defaultQueueHighWatermark = 10_000
	defaultMaxReorgDepth      = 32
	defaultIngestWindow       = 16
	defaultOracleTTL          = 30 * time.Second
	defaultOracleMinSources   = 3
	defaultMetaTxTimeout      = 600 * time.Second
)

// Bind registers the CLI flags that mirror every environment variable, in
// the order urfave/cli expects (flags first, then Load reconciles against
// viper which already merged env + file + flags).
func Bind(fs *pflag.FlagSet) {
	fs.String("chain-rpc-url", "", "Neo N3 JSON-RPC endpoint (CHAIN_RPC_URL)")
	fs.String("chain-network", "privnet", "mainnet|testnet|privnet (CHAIN_NETWORK)")
	fs.Int("worker-count", defaultWorkerCount, "sandbox worker threads, 0 = logical CPUs (WORKER_COUNT)")
	fs.Int("global-concurrency", defaultGlobalConcurrency, "global running-task cap (GLOBAL_CONCURRENCY)")
	fs.Int("queue-high-watermark", defaultQueueHighWatermark, "ingestion back-pressure threshold (QUEUE_HIGH_WATERMARK)")
	fs.Int("max-reorg-depth", defaultMaxReorgDepth, "deepest tolerated reorg (MAX_REORG_DEPTH)")
	fs.String("oracle-upstreams", "", "comma-separated url=weight pairs (ORACLE_UPSTREAMS)")
	fs.String("data-dir", "./data", "leveldb data directory")
	fs.String("log-level", "info", "crit|error|warn|info|debug|trace")
	fs.String("log-file", "", "rotate JSON logs to this path in addition to stdout")
	fs.String("http-addr", ":8686", "control-plane/metrics listen address")
}

// Load merges flags and environment variables into a Config. It does not
// set or read a config file on v.
func Load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	bind := map[string]string{
		"chain-rpc-url":        "CHAIN_RPC_URL",
		"chain-network":        "CHAIN_NETWORK",
		"worker-count":         "WORKER_COUNT",
		"global-concurrency":   "GLOBAL_CONCURRENCY",
		"queue-high-watermark": "QUEUE_HIGH_WATERMARK",
		"max-reorg-depth":      "MAX_REORG_DEPTH",
		"oracle-upstreams":     "ORACLE_UPSTREAMS",
	}
	for flag, env := range bind {
		if err := v.BindEnv(flag, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{
		ChainRPCURL:          v.GetString("chain-rpc-url"),
		ChainNetwork:         v.GetString("chain-network"),
		WorkerCount:          v.GetInt("worker-count"),
		GlobalConcurrency:    v.GetInt("global-concurrency"),
		QueueHighWatermark:   v.GetInt("queue-high-watermark"),
		MaxReorgDepth:        v.GetInt("max-reorg-depth"),
		IngestWindow:         defaultIngestWindow,
		OracleTTL:            defaultOracleTTL,
		OracleMinSources:     defaultOracleMinSources,
		MetaTxReceiptTimeout: defaultMetaTxTimeout,
		DataDir:              v.GetString("data-dir"),
		LogLevel:             v.GetString("log-level"),
		LogFile:              v.GetString("log-file"),
		HTTPAddr:             v.GetString("http-addr"),
	}
	if cfg.ChainRPCURL == "" {
		return nil, fmt.Errorf("CHAIN_RPC_URL is required")
	}

	upstreams, err := parseUpstreams(v.GetString("oracle-upstreams"))
	if err != nil {
		return nil, err
	}
	cfg.OracleUpstreams = upstreams

	return cfg, nil
}

func parseUpstreams(raw string) ([]OracleUpstream, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []OracleUpstream
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pieces := strings.SplitN(part, "=", 2)
		u := OracleUpstream{URL: pieces[0], Weight: 1.0}
		if len(pieces) == 2 {
			var w float64
			if _, err := fmt.Sscanf(pieces[1], "%f", &w); err != nil {
				return nil, fmt.Errorf("invalid oracle upstream weight %q: %w", part, err)
			}
			u.Weight = w
		}
		out = append(out, u)
	}
	return out, nil
}

// Watch installs a viper config-file watcher that invokes onChange with a
// freshly reloaded Config whenever the file changes. The watcher only runs
// if a config file has been set on v; neither Load nor cmd/faas-node sets
// one, so as wired today onChange is never invoked.
func Watch(v *viper.Viper, onChange func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Load(v)
		if err != nil {
			log.Warn("config reload failed, keeping previous snapshot", "err", err)
			return
		}
		onChange(cfg)
	})
}
