package domain

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // needed for P2WPKH-style hash160
)

// Hash160 is SHA-256 followed by RIPEMD-160, the standard Bitcoin pubkey
// hash used to derive a P2WPKH output script from a compressed pubkey.
func Hash160(data []byte) [20]byte {
	sh := sha256.Sum256(data)
	r := ripemd160.New()
	r.Write(sh[:])
	var out [20]byte
	copy(out[:], r.Sum(nil))
	return out
}

// Hash160 returns the P2WPKH pubkey hash a proof key's backup output script
// would commit to.
func (p ProofKey) Hash160() [20]byte {
	return Hash160(p[:])
}
