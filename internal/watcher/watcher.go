// Package watcher implements the backup-tx watch loop (spec.md §4.9): a
// standalone task polling the block source for the chain tip and
// rebroadcasting (or escalating) every live statechain's current backup
// transaction as its nLockTime matures.
package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"stateentity/internal/backuptx"
	"stateentity/internal/chainrpc"
	"stateentity/internal/ids"
	"stateentity/internal/statechain"
)

// Watcher drives one poll loop. It holds no write lock of its own:
// statechain Close goes through the statechain log's per-id lock, while
// BackupTx flag updates are read-modify-write Puts on backuptx.Store, which
// takes no per-entity lock.
type Watcher struct {
	StateChains *statechain.Log
	Backups     *backuptx.Store
	Chain       chainrpc.Client
	Interval    time.Duration
	Log         *logrus.Logger

	limiter *rate.Limiter
}

// New constructs a Watcher polling at interval (spec.md §4.9: "Polling
// interval is configurable; default ≤ 1 s"). The rate limiter caps how
// often Tick may actually hit the chain client even if Run's ticker and a
// manual Tick call race.
func New(chains *statechain.Log, backups *backuptx.Store, chain chainrpc.Client, interval time.Duration, log *logrus.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{
		StateChains: chains,
		Backups:     backups,
		Chain:       chain,
		Interval:    interval,
		Log:         log,
		limiter:     rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Run blocks, ticking every Interval until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil && w.Log != nil {
				w.Log.WithError(err).Error("backup watcher tick failed")
			}
		}
	}
}

// Tick runs one pass over every known statechain (spec.md §4.9).
func (w *Watcher) Tick(ctx context.Context) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	height, err := w.Chain.Height(ctx)
	if err != nil {
		return fmt.Errorf("watcher: chain height: %w", err)
	}

	for _, scID := range w.StateChains.AllIDs() {
		if err := w.checkOne(ctx, scID, height); err != nil && w.Log != nil {
			w.Log.WithError(err).WithField("state_chain_id", scID).Warn("backup watcher check failed")
		}
	}
	return nil
}

// checkOne is the per-statechain decision spec.md §4.9 describes: submit
// the live backup once its nLockTime has matured, and react to the three
// distinguishable outcomes. A statechain already closed, or whose backup
// is already flagged Compromised, needs no further action.
func (w *Watcher) checkOne(ctx context.Context, scID ids.ID, height uint32) error {
	sc, err := w.StateChains.Get(scID)
	if err != nil {
		return err
	}
	if sc.Closed() {
		return nil
	}

	tx, err := w.Backups.Get(scID)
	if err != nil {
		return err
	}
	if tx.Compromised {
		return nil
	}
	if tx.NLockTime > height {
		return nil
	}

	result, err := w.Chain.SendRawTransaction(ctx, tx.Raw)
	if err != nil {
		return fmt.Errorf("watcher: send backup tx for %s: %w", scID, err)
	}

	switch result {
	case chainrpc.SendAccepted:
		return w.Backups.MarkBroadcast(scID)

	case chainrpc.SendAlreadyInChain, chainrpc.SendAlreadyKnown:
		if err := w.Backups.MarkBroadcast(scID); err != nil {
			return err
		}
		if _, err := w.StateChains.Close(scID); err != nil {
			return err
		}
		if w.Log != nil {
			w.Log.WithField("state_chain_id", scID).Info("backup tx landed on chain, statechain closed")
		}
		return nil

	case chainrpc.SendMissingInputs:
		if err := w.Backups.MarkCompromised(scID); err != nil {
			return err
		}
		if w.Log != nil {
			w.Log.WithField("state_chain_id", scID).Error("backup tx inputs missing: statechain compromised")
		}
		return nil

	default:
		return fmt.Errorf("watcher: unrecognized send result %d for %s", result, scID)
	}
}
