package domain

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// ProofKey is a compressed secp256k1 public key (33 bytes): the current
// owner's key bound to a statechain tip (spec.md GLOSSARY).
type ProofKey [33]byte

// ParseProofKey decodes a hex-encoded compressed secp256k1 point and
// validates it lies on the curve.
func ParseProofKey(hexStr string) (ProofKey, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return ProofKey{}, fmt.Errorf("decode proof key hex: %w", err)
	}
	if len(raw) != 33 {
		return ProofKey{}, fmt.Errorf("proof key must be 33 bytes, got %d", len(raw))
	}
	if _, err := btcec.ParsePubKey(raw); err != nil {
		return ProofKey{}, fmt.Errorf("parse proof key point: %w", err)
	}
	var pk ProofKey
	copy(pk[:], raw)
	return pk, nil
}

// ProofKeyFromPoint serializes a btcec public key into its compressed form.
func ProofKeyFromPoint(pub *btcec.PublicKey) ProofKey {
	var pk ProofKey
	copy(pk[:], pub.SerializeCompressed())
	return pk
}

// Point parses the proof key back into a curve point, e.g. for signature
// verification.
func (p ProofKey) Point() (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(p[:])
}

// String renders the proof key as lowercase hex.
func (p ProofKey) String() string {
	return hex.EncodeToString(p[:])
}

// MarshalJSON renders the proof key as a JSON hex string.
func (p ProofKey) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON parses a JSON hex string into a proof key.
func (p *ProofKey) UnmarshalJSON(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("invalid proof key json")
	}
	parsed, err := ParseProofKey(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
