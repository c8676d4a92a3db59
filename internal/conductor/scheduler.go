package conductor

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"stateentity/internal/domain"
	"stateentity/internal/errorkind"
	"stateentity/internal/ids"
	"stateentity/internal/sigverify"
	"stateentity/internal/statechain"
)

// roundState is the Driver's live bookkeeping for one swap round. It is
// never persisted: a process restart drops in-flight rounds, which is
// acceptable because no statechain is ever locked purely by registering
// for a swap (spec.md §4.6 Init note) — only the later atomic-batch
// settlement step (spec.md §4.5) can place a punishment lock.
type roundState struct {
	info      *domain.SwapInfo
	signer    *BlindSigner
	available []domain.SCEAddress // unclaimed deposited addresses, Phase 3
}

// Driver holds the Scheduler's four bidirectional maps (spec.md §4.6) and
// drives the matching tick plus all three swap phases. It is protected by
// a single mutex, exactly as spec.md §5 requires ("Scheduler is protected
// by a single mutex; matching ticks hold it exclusively").
type Driver struct {
	StateChains *statechain.Log
	Timeout     time.Duration
	Log         *zap.SugaredLogger

	mu            sync.Mutex
	requestedSize map[ids.ID]int
	amount        map[ids.ID]uint64
	swapOf        map[ids.ID]ids.ID
	swaps         map[ids.ID]*roundState
}

// New constructs a Driver. timeout is the window (spec.md §4.6's implicit
// "time_out") a swap round's Phase 1 has to collect every signature
// before it is abandoned.
func New(chains *statechain.Log, timeout time.Duration, log *zap.SugaredLogger) *Driver {
	return &Driver{
		StateChains:   chains,
		Timeout:       timeout,
		Log:           log,
		requestedSize: make(map[ids.ID]int),
		amount:        make(map[ids.ID]uint64),
		swapOf:        make(map[ids.ID]ids.ID),
		swaps:         make(map[ids.ID]*roundState),
	}
}

// RegisterUTXO is /swap/register-utxo (spec.md §4.6): a participant
// commits their statechain to the swap pool at a requested minimum group
// size, authenticated by a SWAP-purpose signature over that size under
// the statechain's current tip proof key.
func (d *Driver) RegisterUTXO(scID ids.ID, sig []byte, swapSize int) error {
	sc, err := d.StateChains.Get(scID)
	if err != nil {
		return err
	}
	if sc.Closed() {
		return errorkind.ErrStateChainClosed
	}
	if time.Now().Before(sc.LockedUntil) {
		return errorkind.ErrStateChainLocked
	}

	tip := sc.Tip()
	signerKey, err := domain.ParseProofKey(tip.Data)
	if err != nil {
		return fmt.Errorf("conductor: parse tip proof key: %w", err)
	}
	msg := sigverify.Message(domain.Purpose{Kind: domain.PurposeSwap}, strconv.Itoa(swapSize))
	if err := sigverify.VerifyRaw(signerKey, msg, sig); err != nil {
		return fmt.Errorf("conductor: register-utxo %s: %w", scID, errorkind.ErrSwapSignatureMismatch)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, already := d.swapOf[scID]; already {
		return nil
	}
	d.requestedSize[scID] = swapSize
	d.amount[scID] = sc.Amount
	return nil
}

// PollUTXO is /swap/poll/utxo: reports the swap a registered statechain
// has been matched into, if any.
func (d *Driver) PollUTXO(scID ids.ID) *ids.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.swapOf[scID]
	if !ok {
		return nil
	}
	return &id
}

// PollSwap is /swap/poll/swap: returns a snapshot of the round's public
// state. The per-statechain maps are excluded from its JSON encoding; an
// in-process caller reads its own blinded token via BlindedTokenFor.
func (d *Driver) PollSwap(swapID ids.ID) (*domain.SwapInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rs, ok := d.swaps[swapID]
	if !ok {
		return nil, errorkind.ErrSwapNotFound
	}
	snapshot := *rs.info
	return &snapshot, nil
}

// BlindedTokenFor returns the blinded spend token the round issued to
// scID, once Phase 2 has run.
func (d *Driver) BlindedTokenFor(swapID, scID ids.ID) (*domain.BlindedToken, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rs, ok := d.swaps[swapID]
	if !ok {
		return nil, errorkind.ErrSwapNotFound
	}
	tok, ok := rs.info.BlindedTokens[scID]
	if !ok {
		return nil, errorkind.ErrNoDataForID
	}
	return &tok, nil
}

// MatchTick is the Conductor's periodic matching pass (spec.md §4.6
// "Matching"): for each distinct amount bucket, repeatedly pop the
// largest requested swap size S_max among remaining candidates and
// greedily gather exactly S_max ids (the largest-first ordering
// guarantees every gathered id's own minimum is already satisfied by a
// group this size); emit a Phase 1 SwapInfo and remove the group from the
// request maps. A bucket whose largest requirement exceeds the number of
// remaining candidates cannot form a group this tick.
func (d *Driver) MatchTick(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	byAmount := make(map[uint64][]ids.ID)
	for scID, amt := range d.amount {
		byAmount[amt] = append(byAmount[amt], scID)
	}

	formed := 0
	for amt, group := range byAmount {
		sort.Slice(group, func(i, j int) bool {
			return d.requestedSize[group[i]] > d.requestedSize[group[j]]
		})
		for len(group) > 0 {
			sMax := d.requestedSize[group[0]]
			if sMax <= 0 || len(group) < sMax {
				break
			}
			chosen := append([]ids.ID(nil), group[:sMax]...)
			d.emitSwapLocked(amt, chosen, now)
			for _, id := range chosen {
				delete(d.requestedSize, id)
				delete(d.amount, id)
			}
			group = group[sMax:]
			formed++
		}
	}

	if d.Log != nil {
		d.Log.Infow("swap matching tick", "new_rounds", formed, "open_rounds", len(d.swaps))
	}
}

func (d *Driver) emitSwapLocked(amount uint64, scIDs []ids.ID, now time.Time) {
	swapID := ids.New()
	info := &domain.SwapInfo{
		ID:     swapID,
		Status: domain.SwapPhase1,
		SwapToken: domain.SwapToken{
			ID:            swapID,
			Amount:        amount,
			TimeOut:       now.Add(d.Timeout),
			StateChainIDs: scIDs,
		},
		Signatures: make(map[ids.ID][]byte, len(scIDs)),
		Addresses:  make(map[ids.ID]domain.SCEAddress, len(scIDs)),
	}
	signer, err := NewBlindSigner()
	if err != nil {
		if d.Log != nil {
			d.Log.Errorw("conductor: failed to start swap round", "error", err)
		}
		return
	}
	d.swaps[swapID] = &roundState{info: info, signer: signer}
	for _, scID := range scIDs {
		d.swapOf[scID] = swapID
	}
}

// First is /swap/first (spec.md §4.6 Phase 1): a participant signs the
// round's SwapToken and submits a fresh SCE-Address. Once every
// participant has submitted, the round advances to Phase 2.
func (d *Driver) First(scID ids.ID, sig []byte, addr domain.SCEAddress) error {
	if addr.Addr == "" {
		return errorkind.ErrInvalidSCEAddress
	}
	if _, err := addr.ProofKey.Point(); err != nil {
		return fmt.Errorf("conductor: %v: %w", err, errorkind.ErrInvalidSCEAddress)
	}
	if err := decodeSCEAddress(addr.Addr, addr.ProofKey); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	swapID, ok := d.swapOf[scID]
	if !ok {
		return errorkind.ErrSwapNotFound
	}
	rs := d.swaps[swapID]
	if rs.info.Status != domain.SwapPhase1 {
		return errorkind.ErrSwapExpired
	}
	if time.Now().After(rs.info.SwapToken.TimeOut) {
		return errorkind.ErrSwapExpired
	}

	sc, err := d.StateChains.Get(scID)
	if err != nil {
		return err
	}
	tip := sc.Tip()
	signerKey, err := domain.ParseProofKey(tip.Data)
	if err != nil {
		return fmt.Errorf("conductor: parse tip proof key: %w", err)
	}
	msg := rs.info.SwapToken.ToMessage()
	if err := sigverify.VerifyRaw(signerKey, msg, sig); err != nil {
		return fmt.Errorf("conductor: first %s: %w", scID, errorkind.ErrSwapSignatureMismatch)
	}

	rs.info.Signatures[scID] = sig
	rs.info.Addresses[scID] = addr

	if len(rs.info.Signatures) == len(rs.info.SwapToken.StateChainIDs) {
		d.advancePhase2Locked(rs)
	}
	return nil
}

// advancePhase2Locked issues one blinded spend token per participant and
// pools every submitted SCE-Address for Phase 3 redemption (spec.md §4.6
// Phase 2). Caller must hold d.mu.
func (d *Driver) advancePhase2Locked(rs *roundState) {
	rs.info.Status = domain.SwapPhase2
	rs.info.BlindedTokens = make(map[ids.ID]domain.BlindedToken, len(rs.info.SwapToken.StateChainIDs))
	rs.available = make([]domain.SCEAddress, 0, len(rs.info.Addresses))

	for scID, addr := range rs.info.Addresses {
		rs.available = append(rs.available, addr)
		tok, err := rs.signer.Issue()
		if err != nil {
			if d.Log != nil {
				d.Log.Errorw("conductor: issue blinded token", "error", err, "state_chain_id", scID)
			}
			continue
		}
		rs.info.BlindedTokens[scID] = tok
	}
}

// Second is /swap/second (spec.md §4.6 Phase 3): a participant, having
// opened a fresh anonymous identity, redeems a blinded token for one of
// the round's deposited SCE-Addresses. Because redemption only checks the
// token against the round's blind-signing key, the claimed address cannot
// be linked back to whichever statechain originally deposited it.
func (d *Driver) Second(swapID ids.ID, tok domain.BlindedToken) (*domain.SCEAddress, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rs, ok := d.swaps[swapID]
	if !ok {
		return nil, errorkind.ErrSwapNotFound
	}
	if rs.info.Status != domain.SwapPhase2 && rs.info.Status != domain.SwapPhase3 {
		return nil, errorkind.ErrSwapExpired
	}
	if err := rs.signer.Redeem(tok); err != nil {
		return nil, err
	}
	if len(rs.available) == 0 {
		return nil, errorkind.ErrInvalidSCEAddress
	}

	addr := rs.available[len(rs.available)-1]
	rs.available = rs.available[:len(rs.available)-1]
	rs.info.Status = domain.SwapPhase3
	return &addr, nil
}

// SweepExpired drops any round still in Phase 1 past its time_out,
// freeing its participants back to the unmatched pool is intentionally
// NOT done: a statechain whose round died mid-Phase-1 must re-register
// explicitly, the same way a dead TransferBatch never silently re-admits
// its participants (spec.md §4.5).
func (d *Driver) SweepExpired(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for swapID, rs := range d.swaps {
		if rs.info.Status == domain.SwapPhase1 && now.After(rs.info.SwapToken.TimeOut) {
			for _, scID := range rs.info.SwapToken.StateChainIDs {
				delete(d.swapOf, scID)
			}
			delete(d.swaps, swapID)
			if d.Log != nil {
				d.Log.Warnw("swap round expired before phase1 completed", "swap_id", swapID)
			}
		}
	}
}
