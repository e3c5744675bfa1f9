// Command faas-node runs the FaaS Core node: event ingestion, the function
// scheduler and sandbox pool, the Gas Bank ledger, the meta-transaction
// relayer, and the oracle aggregator, all wired over one embedded LevelDB
// store and one chain RPC client (§6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/r3e-network/faas-core/internal/chain"
	"github.com/r3e-network/faas-core/internal/config"
	"github.com/r3e-network/faas-core/internal/gasbank"
	"github.com/r3e-network/faas-core/internal/ingest"
	"github.com/r3e-network/faas-core/internal/logging"
	"github.com/r3e-network/faas-core/internal/metatx"
	"github.com/r3e-network/faas-core/internal/oracle"
	"github.com/r3e-network/faas-core/internal/sandbox"
	"github.com/r3e-network/faas-core/internal/scheduler"
	"github.com/r3e-network/faas-core/internal/store"
)

// version is stamped at build time via -ldflags; "dev" is the fallback for
// local builds.
var version = "dev"

func main() {
	app := &cli.App{
		Name:  "faas-node",
		Usage: "Neo N3 serverless function node",
		Commands: []*cli.Command{
			runCommand(),
			migrateCommand(),
			versionCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print the faas-node version",
		Action: func(c *cli.Context) error {
			fmt.Println(version)
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "open the data directory and rebuild the Gas Bank ledger cache from its entry log",
		Flags: configFlags(),
		Action: func(c *cli.Context) error {
			cfg, _, err := loadConfig(c)
			if err != nil {
				return err
			}
			if err := logging.Init(logging.Options{Level: cfg.LogLevel, FilePath: cfg.LogFile}); err != nil {
				return err
			}
			db, err := store.Open(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("open data dir: %w", err)
			}
			defer db.Close()

			ledger := gasbank.NewLedger(db)
			if err := ledger.Rebuild(); err != nil {
				return fmt.Errorf("rebuild gas bank ledger: %w", err)
			}
			log.Info("migration complete", "data_dir", cfg.DataDir)
			return nil
		},
	}
}

func configFlags() []cli.Flag {
	fs := pflag.NewFlagSet("faas-node", pflag.ContinueOnError)
	config.Bind(fs)
	flags := make([]cli.Flag, 0, fs.NFlag())
	fs.VisitAll(func(f *pflag.Flag) {
		flags = append(flags, &cli.StringFlag{Name: f.Name, Usage: f.Usage, Value: f.DefValue})
	})
	return flags
}

// loadConfig binds urfave/cli's parsed flags into the same pflag.FlagSet
// viper reads from, so config.Load's single merge path (flags + env)
// is shared between the CLI layer and the ambient-stack config package. The
// returned *viper.Viper is the handle runNode hands to config.Watch for live
// reload of the oracle upstream list.
func loadConfig(c *cli.Context) (*config.Config, *viper.Viper, error) {
	fs := pflag.NewFlagSet("faas-node", pflag.ContinueOnError)
	config.Bind(fs)
	fs.VisitAll(func(f *pflag.Flag) {
		if c.IsSet(f.Name) {
			_ = f.Value.Set(c.String(f.Name))
		}
	})
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, nil, fmt.Errorf("bind flags: %w", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run the node: ingestion, scheduler, meta-tx relayer, and oracle aggregator",
		Flags: configFlags(),
		Action: func(c *cli.Context) error {
			cfg, v, err := loadConfig(c)
			if err != nil {
				return err
			}
			return runNode(cfg, v)
		},
	}
}

func runNode(cfg *config.Config, v *viper.Viper) error {
	if err := logging.Init(logging.Options{Level: cfg.LogLevel, FilePath: cfg.LogFile}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	root := logging.New("node")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open data dir: %w", err)
	}
	defer db.Close()

	chainClient, err := chain.Dial(ctx, cfg.ChainRPCURL)
	if err != nil {
		return fmt.Errorf("dial chain: %w", err)
	}
	defer chainClient.Close()

	if ver, err := chainClient.GetVersion(ctx); err != nil {
		root.Warn("could not confirm chain identity at startup", "err", err)
	} else {
		root.Info("connected to chain node", "network", ver.Network, "user_agent", ver.UserAgent)
	}

	registry := prometheus.NewRegistry()

	functions := store.NewFunctionStore(db)
	triggers := store.NewTriggerStore(db)
	tasks := store.NewTaskStore(db)

	queue := scheduler.NewQueue(cfg.GlobalConcurrency, cfg.QueueHighWatermark, scheduler.StoreConcurrencyLookup{Functions: functions})
	registry.MustRegister(queue.Collector())

	router := ingest.NewRouter(triggers, functions, queue)
	follower := ingest.NewFollower(cfg.ChainNetwork, chainClient, router, db, uint32(cfg.IngestWindow), uint32(cfg.MaxReorgDepth))
	scheduleLoop := ingest.NewScheduleLoop(router)

	ledger := gasbank.NewLedger(db)
	if err := ledger.Rebuild(); err != nil {
		return fmt.Errorf("rebuild gas bank ledger: %w", err)
	}
	gasBankService := gasbank.NewService(ledger)

	nonces := metatx.NewNonceStore(db)
	records := metatx.NewRecordStore(db)
	relayer := metatx.NewRelayer(ledger, chainClient, nonces, records, func() float64 { return float64(queue.Depth()) / float64(cfg.QueueHighWatermark) })
	metaTxService := metatx.NewService(relayer)

	aggregator, err := oracle.NewAggregator(buildUpstreams(cfg.OracleUpstreams), cfg.OracleTTL, cfg.OracleMinSources)
	if err != nil {
		return fmt.Errorf("build oracle aggregator: %w", err)
	}
	randomizer := oracle.NewRandomizer(chainClient, nil)
	oracleService := oracle.NewService(aggregator, randomizer)

	config.Watch(v, func(reloaded *config.Config) {
		aggregator.SetUpstreams(buildUpstreams(reloaded.OracleUpstreams))
		root.Info("oracle upstream list reloaded", "count", len(reloaded.OracleUpstreams))
	})

	caps := sandbox.Capabilities{
		Chain:   chain.NewPort(chainClient),
		Oracle:  oracleService,
		Storage: store.NewFunctionStorage(db),
		MetaTx:  metaTxService,
		GasBank: gasBankService,
		Attest:  sandbox.NewDeterministicAttestStore(),
		ZK:      sandbox.NewDeterministicProofBackend(),
	}

	pool := scheduler.NewPool(queue, tasks, functions, cfg.WorkerCount, func(workerID int) scheduler.Executor {
		return sandbox.NewWorker(workerID, caps)
	})

	pool.Start(ctx)
	defer pool.Stop()

	go runIngestLoop(ctx, follower, queue, root)
	go scheduleLoop.Run(ctx, triggers.List, functions)
	if err := relayer.ResumePending(); err != nil {
		root.Warn("failed to resume pending meta-tx records at startup", "err", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			root.Error("control-plane http server stopped", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	root.Info("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	cancel()
	return nil
}

// buildUpstreams adapts config.OracleUpstream entries into the oracle
// package's Upstream, wiring each to an HTTP price fetcher.
func buildUpstreams(configured []config.OracleUpstream) []oracle.Upstream {
	upstreams := make([]oracle.Upstream, 0, len(configured))
	for i, u := range configured {
		upstreams = append(upstreams, oracle.Upstream{
			Name:   fmt.Sprintf("upstream-%d", i),
			Client: oracle.NewHTTPUpstream(u.URL),
			Weight: int64(u.Weight * 100),
		})
	}
	return upstreams
}

// runIngestLoop advances the chain follower once per tick, unless the
// scheduler queue is backpressured, in which case the tick is skipped
// entirely: queue-high-watermark back-pressure pausing ingestion is the
// only back-pressure signal this system has (§4.2 "Back-pressure").
func runIngestLoop(ctx context.Context, follower *ingest.Follower, queue *scheduler.Queue, log log.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if queue.Backpressured() {
				log.Warn("queue backpressured, pausing ingestion tick")
				continue
			}
			if err := follower.Tick(ctx); err != nil {
				log.Warn("ingestion tick failed", "err", err)
			}
		}
	}
}
