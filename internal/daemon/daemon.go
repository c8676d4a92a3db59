// Package daemon assembles every driver into a running coordinator and
// serves it over HTTP. It is the shared body behind both cmd/stateentityd
// (which just calls Run) and statectl's "server" subcommand, so the two
// entry points can never drift.
package daemon

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"stateentity/httpapi"
	"stateentity/internal/backuptx"
	"stateentity/internal/batch"
	"stateentity/internal/chainrpc"
	"stateentity/internal/conductor"
	"stateentity/internal/deposit"
	"stateentity/internal/ecdsa"
	"stateentity/internal/kv"
	"stateentity/internal/metrics"
	"stateentity/internal/rootstore"
	"stateentity/internal/session"
	"stateentity/internal/smt"
	"stateentity/internal/statechain"
	"stateentity/internal/transfer"
	"stateentity/internal/watcher"
	"stateentity/internal/withdraw"
	"stateentity/pkg/config"
)

// Exit codes spec.md §6 assigns the process.
const (
	ExitOK = iota
	ExitConfigError
	ExitStorageError
	ExitOracleUnreachable
)

// Stack is every collaborator Run wires together, returned by Build so the
// construction lives in one place. statectl's inspection commands do not
// use it; they query a running instance over HTTP.
type Stack struct {
	Store       *kv.Store
	Sessions    *session.Registry
	StateChains *statechain.Log
	Tree        *smt.Tree
	Roots       *rootstore.Store
	Batch       *batch.Coordinator
	Conductor   *conductor.Driver
	Server      *httpapi.Server
}

// Build constructs every driver from cfg without starting anything. Log
// must already be configured (level, formatter).
func Build(cfg *config.Config, log *logrus.Logger, zapLog *zap.Logger) (*Stack, error) {
	store, err := kv.New(4096)
	if err != nil {
		return nil, err
	}

	sessions := session.New(store)
	chains := statechain.New(store)
	backups := backuptx.New(store)
	tree := smt.New(store)
	roots := rootstore.New(store)
	keyStates := ecdsa.NewKeyStateStore(store)
	oracle := ecdsa.NewSimOracle()
	chain := chainrpc.NewSim()
	reg := metrics.New(log)

	depositDriver := &deposit.Driver{
		Sessions:    sessions,
		StateChains: chains,
		Backups:     backups,
		KeyStates:   keyStates,
		Oracle:      oracle,
		Tree:        tree,
		Roots:       roots,
		Chain:       chain,
		Cfg:         cfg,
		Log:         log,
	}
	transferDriver := &transfer.Driver{
		Store:       store,
		StateChains: chains,
		Sessions:    sessions,
		KeyStates:   keyStates,
		Oracle:      oracle,
		Backups:     backups,
		Tree:        tree,
		Roots:       roots,
	}
	punishDuration := time.Duration(cfg.PunishmentDuration) * time.Second
	batchCoordinator := batch.New(store, chains, transferDriver, punishDuration)
	withdrawDriver := &withdraw.Driver{
		StateChains: chains,
		Sessions:    sessions,
		Oracle:      oracle,
		FeePerInput: cfg.FeeWithdraw,
	}
	swapTimeout := time.Duration(cfg.BatchLifetimeSec) * time.Second
	conductorDriver := conductor.New(chains, swapTimeout, zapLog.Sugar())

	server := &httpapi.Server{
		Deposit:     depositDriver,
		Transfer:    transferDriver,
		Batch:       batchCoordinator,
		Withdraw:    withdrawDriver,
		Conductor:   conductorDriver,
		StateChains: chains,
		Sessions:    sessions,
		Tree:        tree,
		Roots:       roots,
		Metrics:     reg,
		Cfg:         cfg,
		Log:         log,
	}

	return &Stack{
		Store:       store,
		Sessions:    sessions,
		StateChains: chains,
		Tree:        tree,
		Roots:       roots,
		Batch:       batchCoordinator,
		Conductor:   conductorDriver,
		Server:      server,
	}, nil
}

// Run builds the stack, starts the watcher and the two sweep tickers
// (spec.md §5), and serves HTTP until SIGINT/SIGTERM.
func Run(cfg *config.Config, log *logrus.Logger) int {
	zapLog, err := zap.NewProduction()
	if err != nil {
		log.WithError(err).Error("start zap logger")
		return ExitConfigError
	}
	defer zapLog.Sync()

	stack, err := Build(cfg, log, zapLog)
	if err != nil {
		log.WithError(err).Error("build driver stack")
		return ExitStorageError
	}

	if !cfg.TestingMode {
		log.Warn("no live block-source RPC client is wired; falling back to the in-memory simulator")
	}
	chain := chainrpc.NewSim()
	watchInterval := time.Duration(cfg.BlockTimeMS) * time.Millisecond
	if watchInterval <= 0 {
		watchInterval = time.Second
	}
	backupWatcher := watcher.New(stack.StateChains, backuptx.New(stack.Store), chain, watchInterval, log)

	router := httpapi.NewRouter(stack.Server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go tick(ctx, stack.Batch, stack.Conductor, log)
	go func() {
		if err := backupWatcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("backup watcher stopped")
		}
	}()

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("state entity listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server stopped")
		}
	}()

	<-sigCh
	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown")
	}
	return ExitOK
}

// tick runs the batch-finalizer sweep and the Conductor matching/expiry
// passes (spec.md §5) until ctx is canceled.
func tick(ctx context.Context, bc *batch.Coordinator, cd *conductor.Driver, log *logrus.Logger) {
	batchTicker := time.NewTicker(30 * time.Second)
	defer batchTicker.Stop()
	swapTicker := time.NewTicker(5 * time.Second)
	defer swapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-batchTicker.C:
			if err := bc.SweepExpired(now); err != nil {
				log.WithError(err).Error("batch sweep")
			}
		case now := <-swapTicker.C:
			cd.MatchTick(now)
			cd.SweepExpired(now)
		}
	}
}
