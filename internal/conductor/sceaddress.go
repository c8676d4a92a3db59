package conductor

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"

	"stateentity/internal/domain"
	"stateentity/internal/errorkind"
)

// EncodeSCEAddress renders an SCE-Address string a swap participant submits
// in Phase 1 (spec.md §4.6 GLOSSARY: "SCE-Address"): base58 of the proof
// key's compressed bytes, prefixed with a single version byte so it cannot
// be confused with a plain compressed-point hex dump. Wallet code, not the
// Conductor, normally produces this string; this helper exists so tests can
// build well-formed fixtures.
func EncodeSCEAddress(pk domain.ProofKey) string {
	buf := make([]byte, 0, 34)
	buf = append(buf, 0x3f)
	buf = append(buf, pk[:]...)
	return base58.Encode(buf)
}

// decodeSCEAddress reverses EncodeSCEAddress, checking the version byte and
// that the decoded payload matches the given proof key exactly.
func decodeSCEAddress(addr string, pk domain.ProofKey) error {
	raw, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("conductor: decode sce address: %v: %w", err, errorkind.ErrInvalidSCEAddress)
	}
	if len(raw) != 34 || raw[0] != 0x3f {
		return errorkind.ErrInvalidSCEAddress
	}
	if !bytes.Equal(raw[1:], pk[:]) {
		return fmt.Errorf("conductor: sce address does not match proof key: %w", errorkind.ErrInvalidSCEAddress)
	}
	return nil
}
