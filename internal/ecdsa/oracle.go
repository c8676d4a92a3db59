// Package ecdsa implements the two-party ECDSA oracle contract spec.md
// §4.2 treats as an external collaborator: "the underlying two-party ECDSA
// keygen/signing primitive (assumed available as a black-box capability)."
// SimOracle is a self-contained simulation of that contract, standing in
// for a live four-round Lindell-2017 keygen and MtA/Paillier co-signer so
// the rest of the core can be built and tested against a stable interface.
// A production deployment swaps SimOracle for a client that actually talks
// to a two-party signing service; nothing above this package's Oracle
// interface would change.
package ecdsa

import (
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	dcrecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"stateentity/internal/domain"
	"stateentity/internal/errorkind"
	"stateentity/internal/ids"
)

// Scalar is a value mod the secp256k1 group order n.
type Scalar = secp256k1.ModNScalar

// Oracle is the capability set spec.md §4.2 describes: shared keygen,
// share rotation, and co-signing over a caller-supplied sighash. The core
// treats implementations as opaque.
type Oracle interface {
	// KeyGen runs the four-round shared keygen for userID, returning SE's
	// share s1 and the user's share commitment o1·G (Party2Public). The
	// joint public key Q = s1·(o1·G) is derived by the caller via
	// JointPubKey, not returned here, matching the contract's literal
	// shape (spec.md §4.2).
	KeyGen(userID ids.ID) (s1 Scalar, o1G *secp256k1.PublicKey, err error)

	// Sign co-signs sighash under the joint key belonging to userID,
	// returning a DER-encoded ECDSA signature.
	Sign(userID ids.ID, sighash [32]byte) ([]byte, error)

	// Rotate computes s2 = factor·s1 mod n for the session presently
	// stored under userID, and re-homes the (unchanged) joint signing
	// scalar under newUserID so Sign keeps working for the new owner. The
	// s2 < n/3 safety predicate (spec.md §4.4 step 4) is the caller's
	// responsibility, not the oracle's: InvalidO2TryAgain is a protocol
	// decision, made with a freshly chosen factor, not an oracle error.
	Rotate(userID ids.ID, s1 Scalar, factor Scalar, newUserID ids.ID) (s2 Scalar, err error)
}

type simSession struct {
	s1       Scalar // SE's current share for this session
	o1       Scalar // wallet-held share, retained only so SimOracle can stand in for the wallet too
	combined Scalar // s1*o1 mod n; invariant across rotation since o2*s2 = o1*s1
}

// SimOracle is an in-memory Oracle simulation. It is safe for concurrent
// use.
type SimOracle struct {
	mu       sync.Mutex
	sessions map[ids.ID]simSession
}

// NewSimOracle constructs an empty simulated oracle.
func NewSimOracle() *SimOracle {
	return &SimOracle{sessions: make(map[ids.ID]simSession)}
}

// KeyGen simulates the joint keygen. Because SimOracle stands in for both
// parties of the real protocol (there is no separate wallet actor in this
// simulation), it generates o1 internally to derive a self-consistent
// joint key and combined signing scalar. KeyGen returns only s1 and o1·G;
// o1 itself stays in the simulated session, where WalletShare exposes it to
// code playing the wallet's role.
func (o *SimOracle) KeyGen(userID ids.ID) (Scalar, *secp256k1.PublicKey, error) {
	s1Priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return Scalar{}, nil, fmt.Errorf("ecdsa: generate s1: %w", err)
	}
	o1Priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return Scalar{}, nil, fmt.Errorf("ecdsa: generate o1: %w", err)
	}

	var prod Scalar
	prod.Mul2(&s1Priv.Key, &o1Priv.Key)

	o.mu.Lock()
	o.sessions[userID] = simSession{s1: s1Priv.Key, o1: o1Priv.Key, combined: prod}
	o.mu.Unlock()

	return s1Priv.Key, o1Priv.PubKey(), nil
}

// WalletShare exposes the simulated wallet-held share o1 for userID. A
// production Oracle never exposes this; it exists so a single test process
// can play both the SE side and the wallet side of the transfer protocol's
// sender step (spec.md §4.4: "sender computes t1 = o1·x1 off-band").
func (o *SimOracle) WalletShare(userID ids.ID) (Scalar, error) {
	o.mu.Lock()
	sess, ok := o.sessions[userID]
	o.mu.Unlock()
	if !ok {
		return Scalar{}, fmt.Errorf("ecdsa: wallet share: %w", errorkind.ErrNoDataForID)
	}
	return sess.o1, nil
}

// JointPubKey derives Q = s1·(o1·G) from SE's share and the user's share
// commitment, the relation spec.md §4.2 states directly.
func JointPubKey(s1 Scalar, o1G *secp256k1.PublicKey) *secp256k1.PublicKey {
	return scalarMultPublic(&s1, o1G)
}

// Sign produces a DER ECDSA signature over sighash under the joint key of
// userID's session.
func (o *SimOracle) Sign(userID ids.ID, sighash [32]byte) ([]byte, error) {
	o.mu.Lock()
	sess, ok := o.sessions[userID]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("ecdsa: sign: %w", errorkind.ErrNoDataForID)
	}
	priv := secp256k1.NewPrivateKey(&sess.combined)
	sig := dcrecdsa.Sign(priv, sighash[:])
	return sig.Serialize(), nil
}

// Rotate computes s2 = factor*s1 mod n and re-homes the joint signing
// scalar under newUserID.
func (o *SimOracle) Rotate(userID ids.ID, s1 Scalar, factor Scalar, newUserID ids.ID) (Scalar, error) {
	o.mu.Lock()
	sess, ok := o.sessions[userID]
	o.mu.Unlock()
	if !ok {
		return Scalar{}, fmt.Errorf("ecdsa: rotate: %w", errorkind.ErrNoDataForID)
	}

	var s2 Scalar
	s2.Mul2(&factor, &s1)

	o.mu.Lock()
	o.sessions[newUserID] = simSession{s1: s2, combined: sess.combined}
	o.mu.Unlock()

	return s2, nil
}

// scalarMultPublic computes k·P for an arbitrary point P (not just the
// generator), returning the resulting affine public key.
func scalarMultPublic(k *Scalar, p *secp256k1.PublicKey) *secp256k1.PublicKey {
	var jp, result secp256k1.JacobianPoint
	p.AsJacobian(&jp)
	secp256k1.ScalarMultNonConst(k, &jp, &result)
	result.ToAffine()
	return secp256k1.NewPublicKey(&result.X, &result.Y)
}

// ProofKeyOf renders a public key as the 33-byte compressed proof key form
// used throughout the rest of the core.
func ProofKeyOf(pub *secp256k1.PublicKey) domain.ProofKey {
	var pk domain.ProofKey
	copy(pk[:], pub.SerializeCompressed())
	return pk
}

// Invert returns the modular inverse of s, mod the group order n. A zero
// scalar has no inverse; callers must not pass one.
func Invert(s Scalar) Scalar {
	inv := new(Scalar).Set(&s)
	inv.InverseNonConst()
	return *inv
}

// BelowNOverThree reports whether s < n/3, the Lindell-2017 safety
// predicate spec.md §4.4 step 4 requires of a freshly rotated share.
func BelowNOverThree(s Scalar) bool {
	bound := nOverThree()
	sBytes := s.Bytes()
	boundBytes := bound.Bytes()
	for i := 0; i < 32; i++ {
		if sBytes[i] != boundBytes[i] {
			return sBytes[i] < boundBytes[i]
		}
	}
	return false
}

// nOverThree is floor(n/3) for the secp256k1 group order n, precomputed
// since ModNScalar arithmetic is mod n and can't express integer division.
func nOverThree() Scalar {
	var s Scalar
	s.SetByteSlice(nOverThreeBytes[:])
	return s
}

var nOverThreeBytes = [32]byte{
	0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55,
	0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x54,
	0xe8, 0xe4, 0xf4, 0x4c, 0xe5, 0x18, 0x35, 0x69,
	0x3f, 0xf0, 0xca, 0x2e, 0xf0, 0x12, 0x15, 0xc0,
}
