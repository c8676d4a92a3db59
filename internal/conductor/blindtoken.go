// Package conductor implements the swap scheduler (spec.md §4.6): grouping
// same-value statechains into swap rounds and driving the three-phase
// blinded-token protocol that lets each participant claim a new
// SCE-Address without the SE being able to link which statechain claimed
// which address.
package conductor

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"

	"stateentity/internal/domain"
	"stateentity/internal/errorkind"
)

// blindKeyBits is the RSA modulus size for a round's blind-signing key.
// Generated fresh per swap round so a broken key never outlives its round.
const blindKeyBits = 2048

// BlindSigner implements the RSA blind-signature scheme spec.md §4.6
// leaves to implementers ("implementers pick a scheme (e.g. blinded
// signature) with issue(identity) -> blinded_token, redeem(blinded_token)
// -> once-usable capability"). It plays both halves of the exchange the
// way ecdsa.SimOracle plays both halves of shared keygen: Issue blinds a
// freshly generated capability nonce under a random per-call blinding
// factor, signs the blinded value, and unblinds it before handing the
// result back, so the returned BlindedToken is already unlinkable to the
// call that produced it.
type BlindSigner struct {
	priv *rsa.PrivateKey

	mu       sync.Mutex
	issued   map[[32]byte]bool
	redeemed map[[32]byte]bool
}

// NewBlindSigner generates a fresh per-round RSA signing key.
func NewBlindSigner() (*BlindSigner, error) {
	priv, err := rsa.GenerateKey(rand.Reader, blindKeyBits)
	if err != nil {
		return nil, fmt.Errorf("conductor: generate blind signing key: %w", err)
	}
	return &BlindSigner{
		priv:     priv,
		issued:   make(map[[32]byte]bool),
		redeemed: make(map[[32]byte]bool),
	}, nil
}

// Issue mints one fresh blinded spend token (spec.md §4.6 Phase 2).
func (b *BlindSigner) Issue() (domain.BlindedToken, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return domain.BlindedToken{}, fmt.Errorf("conductor: generate token nonce: %w", err)
	}
	n := b.priv.PublicKey.N
	m := hashToInt(nonce, n)

	r, err := randCoprime(n)
	if err != nil {
		return domain.BlindedToken{}, err
	}
	e := big.NewInt(int64(b.priv.PublicKey.E))

	rE := new(big.Int).Exp(r, e, n)
	blinded := new(big.Int).Mod(new(big.Int).Mul(m, rE), n)

	signedBlind := new(big.Int).Exp(blinded, b.priv.D, n)

	rInv := new(big.Int).ModInverse(r, n)
	if rInv == nil {
		return domain.BlindedToken{}, fmt.Errorf("conductor: blinding factor not invertible")
	}
	sig := new(big.Int).Mod(new(big.Int).Mul(signedBlind, rInv), n)

	b.mu.Lock()
	b.issued[nonce] = true
	b.mu.Unlock()

	return domain.BlindedToken{Nonce: nonce, Sig: sig.Bytes()}, nil
}

// Redeem verifies tok was issued by this signer and has not already been
// redeemed, consuming it exactly once (spec.md §4.6 Phase 3: "marking the
// token redeemed").
func (b *BlindSigner) Redeem(tok domain.BlindedToken) error {
	n := b.priv.PublicKey.N
	m := hashToInt(tok.Nonce, n)
	e := big.NewInt(int64(b.priv.PublicKey.E))

	s := new(big.Int).SetBytes(tok.Sig)
	check := new(big.Int).Exp(s, e, n)
	if check.Cmp(m) != 0 {
		return errorkind.ErrInvalidBlindedToken
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.issued[tok.Nonce] || b.redeemed[tok.Nonce] {
		return errorkind.ErrInvalidBlindedToken
	}
	b.redeemed[tok.Nonce] = true
	return nil
}

// hashToInt reduces a token nonce to a big.Int message in [0, n): a
// SHA-256 digest (256 bits) is always smaller than the blindKeyBits-sized
// modulus, so no further reduction is needed.
func hashToInt(nonce [32]byte, n *big.Int) *big.Int {
	h := sha256.Sum256(nonce[:])
	return new(big.Int).SetBytes(h[:])
}

// randCoprime draws a random blinding factor in [1, n) coprime to n,
// retrying on the (astronomically unlikely, for an RSA modulus) case a
// candidate shares a factor with n.
func randCoprime(n *big.Int) (*big.Int, error) {
	one := big.NewInt(1)
	upper := new(big.Int).Sub(n, one)
	for i := 0; i < 8; i++ {
		r, err := rand.Int(rand.Reader, upper)
		if err != nil {
			return nil, fmt.Errorf("conductor: generate blinding factor: %w", err)
		}
		r.Add(r, one) // shift into [1, n-1]
		if new(big.Int).GCD(nil, nil, r, n).Cmp(one) == 0 {
			return r, nil
		}
	}
	return nil, fmt.Errorf("conductor: could not find invertible blinding factor")
}
