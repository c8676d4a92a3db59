// Package sigverify builds the canonical signed message for a
// StateChainSig and checks it against a proof key (spec.md §3: "sig (DER
// secp256k1 signature over SHA256d(purpose ‖ data) by the signing state's
// proof key)").
package sigverify

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"stateentity/internal/domain"
	"stateentity/internal/errorkind"
)

// Message returns SHA256d(purpose ‖ data): double SHA-256 over the
// concatenation of the purpose string and the data field, the exact byte
// sequence a StateChainSig's signature covers.
func Message(purpose domain.Purpose, data string) [32]byte {
	first := sha256.Sum256(append([]byte(purpose.String()), data...))
	return sha256.Sum256(first[:])
}

// Verify checks that sig.Sig is a valid DER secp256k1 signature over
// Message(sig.Purpose, sig.Data) under signerKey.
func Verify(signerKey domain.ProofKey, sig domain.StateChainSig) error {
	return VerifyRaw(signerKey, Message(sig.Purpose, sig.Data), sig.Sig)
}

// VerifyRaw checks that sigBytes is a valid DER secp256k1 signature over
// an arbitrary 32-byte message under signerKey. Verify is the common case
// (a StateChainSig's own purpose‖data message); VerifyRaw is exposed for
// collaborators that sign a differently-shaped canonical message under a
// proof key, e.g. the Conductor's SwapToken (spec.md §4.6).
func VerifyRaw(signerKey domain.ProofKey, msg [32]byte, sigBytes []byte) error {
	pub, err := signerKey.Point()
	if err != nil {
		return fmt.Errorf("sigverify: parse signer key: %w", err)
	}
	parsed, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("sigverify: parse signature: %w: %w", err, errorkind.ErrSignatureInvalid)
	}
	if !parsed.Verify(msg[:], pub) {
		return errorkind.ErrSignatureInvalid
	}
	return nil
}

// Sign produces the DER signature bytes a wallet holding the proof key's
// private half would attach to a StateChainSig. The core itself never
// calls this — proof keys are owner-held — but test harnesses standing in
// for the wallet side need it to build well-formed fixtures.
func Sign(priv *secp256k1.PrivateKey, purpose domain.Purpose, data string) []byte {
	return SignRaw(priv, Message(purpose, data))
}

// SignRaw produces a DER signature over an arbitrary 32-byte message,
// mirroring VerifyRaw. Test harnesses use it to build fixtures for
// collaborators that sign something other than a StateChainSig's
// purpose‖data message, e.g. the Conductor's SwapToken (spec.md §4.6).
func SignRaw(priv *secp256k1.PrivateKey, msg [32]byte) []byte {
	return ecdsa.Sign(priv, msg[:]).Serialize()
}
