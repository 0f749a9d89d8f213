package crossgated

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	eth_common "github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	ipfslog "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/crossgate/crossgate/pkg/devnet"
	"github.com/crossgate/crossgate/pkg/readiness"
	"github.com/crossgate/crossgate/pkg/supervisor"
	"github.com/crossgate/crossgate/pkg/transfer"
	"github.com/crossgate/crossgate/pkg/watchers/cosmos"
	"github.com/crossgate/crossgate/pkg/watchers/evm"
	"github.com/crossgate/crossgate/pkg/watchtower"
)

var (
	configPath    *string
	statusAddr    *string
	logLevel      *string
	unsafeDevMode *bool
)

// cosmosPassphraseEnv names the environment variable holding the passphrase
// for armored cosmos keys. Passed via env rather than flag so it never shows
// up in process listings.
const cosmosPassphraseEnv = "CROSSGATE_COSMOS_KEY_PASSPHRASE"

func init() {
	configPath = WatchtowerCmd.Flags().String("config", "", "Path to the chain descriptor config file (required)")
	statusAddr = WatchtowerCmd.Flags().String("statusAddr", "[::]:6060", "Listen address for status server (disabled if blank)")
	logLevel = WatchtowerCmd.Flags().String("logLevel", "info", "Logging level (debug, info, warn, error, dpanic, panic, fatal)")
	unsafeDevMode = WatchtowerCmd.Flags().Bool("unsafeDevMode", false, "Launch node in unsafe, deterministic devnet mode")
}

const devwarning = `
        +++++++++++++++++++++++++++++++++++++++++++++++++++++++
        |   WATCHTOWER IS RUNNING IN INSECURE DEVELOPMENT MODE |
        |                                                      |
        |        Do not use --unsafeDevMode in prod.           |
        +++++++++++++++++++++++++++++++++++++++++++++++++++++++

`

// WatchtowerCmd runs the canceler service.
var WatchtowerCmd = &cobra.Command{
	Use:   "watchtower",
	Short: "Run the bridge watchtower (canceler) service",
	Run:   runWatchtower,
}

// lockMemory locks current and future pages in memory to protect the
// canceler keys from being swapped out to disk. Requires CAP_IPC_LOCK.
func lockMemory() {
	err := unix.Mlockall(syscall.MCL_CURRENT | syscall.MCL_FUTURE)
	if err != nil {
		fmt.Printf("Failed to lock memory: %v (CAP_IPC_LOCK missing?)\n", err)
		os.Exit(1)
	}
}

// setRestrictiveUmask masks the group and world bits so key material we
// create isn't accidentally group- or world-readable.
func setRestrictiveUmask() {
	syscall.Umask(0077)
}

func runWatchtower(cmd *cobra.Command, args []string) {
	if *unsafeDevMode {
		fmt.Print(devwarning)
	} else {
		lockMemory()
	}
	setRestrictiveUmask()

	// Refuse to run as root in production mode.
	if !*unsafeDevMode && os.Geteuid() == 0 {
		fmt.Println("can't run as uid 0")
		os.Exit(1)
	}

	lvl, err := ipfslog.LevelFromString(*logLevel)
	if err != nil {
		fmt.Println("Invalid log level")
		os.Exit(1)
	}

	logger := ipfslog.Logger("crossgate").Desugar()
	ipfslog.SetAllLoggers(lvl)

	if *configPath == "" {
		logger.Fatal("Please specify --config")
	}
	cfg, err := watchtower.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	rootCtx, rootCtxCancel := context.WithCancel(context.Background())
	defer rootCtxCancel()

	// Handle SIGTERM.
	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigterm
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		rootCtxCancel()
	}()

	readinessReg := readiness.NewRegistry()
	for _, chain := range cfg.Chains {
		readinessReg.RegisterComponent(readiness.Component(chain.Name))
	}

	if *statusAddr != "" {
		// Use custom routing instead of http.DefaultServeMux to avoid
		// accidentally exposing packages that register themselves with it.
		router := mux.NewRouter()

		// pprof is not safe to expose publicly; only enable it in dev mode.
		if *unsafeDevMode {
			router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
		}
		router.HandleFunc("/readyz", readinessReg.Handler)
		router.Handle("/metrics", promhttp.Handler())

		go func() {
			logger.Info("status server listening", zap.String("addr", *statusAddr))
			logger.Error("status server crashed", zap.Error(http.ListenAndServe(*statusAddr, router)))
		}()
	}

	approvalC := make(chan *watchtower.Approval, 64)
	sources := make(map[transfer.ChainID]watchtower.DepositSource)
	cancelers := make(map[transfer.ChainID]watchtower.Canceler)
	watcherRunnables := make(map[string]supervisor.Runnable)

	for i := range cfg.Chains {
		chain := cfg.Chains[i]
		component := readiness.Component(chain.Name)

		switch chain.Kind {
		case watchtower.ChainKindEVM:
			if *unsafeDevMode {
				// Deterministic canceler keys, generated on first start.
				if err := devnet.WriteDevnetEvmKey(chain.KeyPath, uint64(i)); err != nil { //#nosec G115 chain index is small
					logger.Fatal("failed to write devnet key", zap.String("chain", chain.Name), zap.Error(err))
				}
			}
			connector, err := evm.NewConnector(rootCtx, chain.Name, chain.Rpc, eth_common.HexToAddress(chain.Contract), chain.ID())
			if err != nil {
				logger.Fatal("failed to connect to evm chain", zap.String("chain", chain.Name), zap.Error(err))
			}
			sources[chain.ID()] = evm.NewQuerier(connector)

			submitter, err := evm.NewSubmitter(rootCtx, connector, chain.KeyPath)
			if err != nil {
				logger.Fatal("failed to create evm submitter", zap.String("chain", chain.Name), zap.Error(err))
			}
			cancelers[chain.ID()] = submitter

			watcher := evm.NewWatcher(connector, approvalC, chain.PollInterval, readinessReg, component)
			watcherRunnables[chain.Name+"-watch"] = watcher.Run

		case watchtower.ChainKindCosmos:
			key, err := cosmos.LoadPrivKey(chain.KeyPath, os.Getenv(cosmosPassphraseEnv))
			if err != nil {
				logger.Fatal("failed to load cosmos key", zap.String("chain", chain.Name), zap.Error(err))
			}
			conn, err := cosmos.NewConn(rootCtx, chain.Grpc, key, chain.Bech32Prefix, chain.NetworkID)
			if err != nil {
				logger.Fatal("failed to connect to cosmos chain", zap.String("chain", chain.Name), zap.Error(err))
			}
			sources[chain.ID()] = cosmos.NewQuerier(conn, chain.Contract)
			cancelers[chain.ID()] = cosmos.NewSubmitter(conn, chain.Contract)

			watcher := cosmos.NewWatcher(chain.Name, chain.Ws, chain.Lcd, chain.Contract, chain.ID(), approvalC, readinessReg, component, true)
			watcherRunnables[chain.Name+"-watch"] = watcher.Run
		}
	}

	tower := watchtower.New(watchtower.Config{
		Logger:       logger.Named("watchtower"),
		Approvals:    approvalC,
		Sources:      sources,
		Cancelers:    cancelers,
		SafetyMargin: cfg.SafetyMargin,
	})

	wait := supervisor.New(rootCtx, logger, func(ctx context.Context) error {
		for name, runnable := range watcherRunnables {
			if err := supervisor.Run(ctx, name, runnable); err != nil {
				return err
			}
		}
		if err := supervisor.Run(ctx, "watchtower", tower.Run); err != nil {
			return err
		}

		logger.Info("started internal services")
		supervisor.Signal(ctx, supervisor.SignalHealthy)

		<-ctx.Done()
		return ctx.Err()
	})

	<-rootCtx.Done()
	wait()
	logger.Info("root context cancelled, exiting...")
}
