// Package chainrpc defines the block-source RPC contract spec.md §1 lists
// as an external collaborator ("block-source RPC ... treated as an
// external collaborator with a stated interface"), plus a Sim client that
// stands in for it when the core runs with testing_mode enabled (spec.md
// §6: "testing_mode (bool, swaps live blockchain for a mock)").
package chainrpc

import (
	"context"
	"fmt"
	"sync"
)

// SendResult classifies a sendrawtransaction response the way spec.md
// §4.9 distinguishes them.
type SendResult int

const (
	SendAccepted SendResult = iota
	SendAlreadyInChain
	SendAlreadyKnown
	SendMissingInputs
)

// Client is the block-source RPC contract: current chain height, whether
// a txid has been seen and how many confirmations it has, and broadcasting
// a raw transaction.
type Client interface {
	Height(ctx context.Context) (uint32, error)
	TxSeen(ctx context.Context, txid string) (bool, error)
	TxConfirmations(ctx context.Context, txid string) (int, error)
	SendRawTransaction(ctx context.Context, raw []byte) (SendResult, error)
}

// Sim is an in-memory Client for testing_mode: heights advance only when
// the test harness calls Advance, and transactions are "broadcast" simply
// by being recorded.
type Sim struct {
	mu            sync.Mutex
	height        uint32
	seen          map[string]int // txid -> confirmations
	spentOutpoint map[string]bool
}

// NewSim constructs a Sim chain at height 0 with nothing broadcast yet.
func NewSim() *Sim {
	return &Sim{seen: make(map[string]int), spentOutpoint: make(map[string]bool)}
}

// Advance moves the simulated chain forward by n blocks, maturing every
// previously seen transaction's confirmation count along with it.
func (s *Sim) Advance(n uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height += n
	for txid, confs := range s.seen {
		s.seen[txid] = confs + int(n)
	}
}

// Broadcast records txid as seen with zero confirmations, simulating a
// client-submitted funding transaction entering the mempool.
func (s *Sim) Broadcast(txid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[txid]; !ok {
		s.seen[txid] = 0
	}
}

func (s *Sim) Height(ctx context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height, nil
}

func (s *Sim) TxSeen(ctx context.Context, txid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[txid]
	return ok, nil
}

func (s *Sim) TxConfirmations(ctx context.Context, txid string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	confs, ok := s.seen[txid]
	if !ok {
		return 0, fmt.Errorf("chainrpc: unknown txid %s", txid)
	}
	return confs, nil
}

func (s *Sim) SendRawTransaction(ctx context.Context, raw []byte) (SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txid := fmt.Sprintf("%x", raw)
	if confs, ok := s.seen[txid]; ok && confs > 0 {
		return SendAlreadyInChain, nil
	}
	if s.spentOutpoint[txid] {
		return SendMissingInputs, nil
	}
	if _, ok := s.seen[txid]; ok {
		return SendAlreadyKnown, nil
	}
	s.seen[txid] = 0
	return SendAccepted, nil
}

// MarkSpent simulates the backing UTXO having already been spent by
// another transaction, so a future SendRawTransaction for raw reports
// SendMissingInputs the way spec.md §4.9 requires for a compromised
// backup tx.
func (s *Sim) MarkSpent(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spentOutpoint[fmt.Sprintf("%x", raw)] = true
}
