package ecdsa

import (
	"testing"

	dcrecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"stateentity/internal/ids"
)

func TestKeyGenProducesValidSignature(t *testing.T) {
	o := NewSimOracle()
	userID := ids.New()

	s1, o1G, err := o.KeyGen(userID)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	jointPub := JointPubKey(s1, o1G)

	var sighash [32]byte
	copy(sighash[:], []byte("some 32 byte sighash padded out"))
	sig, err := o.Sign(userID, sighash)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	parsed, err := dcrecdsa.ParseDERSignature(sig)
	if err != nil {
		t.Fatalf("parse sig: %v", err)
	}
	if !parsed.Verify(sighash[:], jointPub) {
		t.Fatalf("expected signature to verify under joint key")
	}
}

func TestRotatePreservesJointKeySigning(t *testing.T) {
	o := NewSimOracle()
	alice := ids.New()
	bob := ids.New()

	s1, o1G, err := o.KeyGen(alice)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	jointPub := JointPubKey(s1, o1G)

	var factor Scalar
	factor.SetInt(7)
	s2, err := o.Rotate(alice, s1, factor, bob)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if s2.IsZero() {
		t.Fatalf("expected nonzero s2")
	}

	var sighash [32]byte
	copy(sighash[:], []byte("another 32 byte message padded!!"))
	sig, err := o.Sign(bob, sighash)
	if err != nil {
		t.Fatalf("sign after rotate: %v", err)
	}
	parsed, err := dcrecdsa.ParseDERSignature(sig)
	if err != nil {
		t.Fatalf("parse sig: %v", err)
	}
	if !parsed.Verify(sighash[:], jointPub) {
		t.Fatalf("expected rotated session to sign under the unchanged joint key")
	}
}

func TestSignUnknownSessionFails(t *testing.T) {
	o := NewSimOracle()
	var sighash [32]byte
	if _, err := o.Sign(ids.New(), sighash); err == nil {
		t.Fatalf("expected error for unknown session")
	}
}

func TestBelowNOverThree(t *testing.T) {
	var small Scalar
	small.SetInt(1)
	if !BelowNOverThree(small) {
		t.Fatalf("expected 1 < n/3")
	}

	var big Scalar
	big.SetByteSlice([]byte{ // n-1
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfe,
		0xba, 0xae, 0xdc, 0xe6, 0xaf, 0x48, 0xa0, 0x3b,
		0xbf, 0xd2, 0x5e, 0x8c, 0xd0, 0x36, 0x41, 0x40,
	})
	if BelowNOverThree(big) {
		t.Fatalf("expected near-n scalar to fail n/3 bound")
	}
}

func TestInvertRoundTrip(t *testing.T) {
	var s Scalar
	s.SetInt(12345)
	inv := Invert(s)
	var prod Scalar
	prod.Mul2(&s, &inv)
	var one Scalar
	one.SetInt(1)
	if !prod.Equals(&one) {
		t.Fatalf("expected s * s^-1 == 1")
	}
}
