package smt

import (
	"crypto/sha256"
	"testing"

	"stateentity/internal/kv"
)

func key(s string) [32]byte { return sha256.Sum256([]byte(s)) }

func TestUpdateThenVerify(t *testing.T) {
	store, err := kv.New(64)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	tree := New(store)

	k := key("txid-1")
	v := key("proofkey-1")

	root, err := tree.Update(nil, k, v)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	proof, err := tree.GetMerkleProof(root, k)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	if !Verify(root, k, v, proof) {
		t.Fatalf("expected proof to verify")
	}
}

func TestVerifyFailsAfterRekey(t *testing.T) {
	store, _ := kv.New(64)
	tree := New(store)

	k := key("txid-1")
	v1 := key("proofkey-1")
	v2 := key("proofkey-2")

	root1, err := tree.Update(nil, k, v1)
	if err != nil {
		t.Fatalf("update v1: %v", err)
	}
	root2, err := tree.Update(&root1, k, v2)
	if err != nil {
		t.Fatalf("update v2: %v", err)
	}

	proof2, err := tree.GetMerkleProof(root2, k)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	if !Verify(root2, k, v2, proof2) {
		t.Fatalf("expected new value to verify against new root")
	}
	if Verify(root2, k, v1, proof2) {
		t.Fatalf("expected old value to fail against new root")
	}
}

func TestMultipleKeysIndependentProofs(t *testing.T) {
	store, _ := kv.New(64)
	tree := New(store)

	root, err := tree.Update(nil, key("a"), key("va"))
	if err != nil {
		t.Fatalf("update a: %v", err)
	}
	root, err = tree.Update(&root, key("b"), key("vb"))
	if err != nil {
		t.Fatalf("update b: %v", err)
	}

	pa, err := tree.GetMerkleProof(root, key("a"))
	if err != nil {
		t.Fatalf("proof a: %v", err)
	}
	pb, err := tree.GetMerkleProof(root, key("b"))
	if err != nil {
		t.Fatalf("proof b: %v", err)
	}

	if !Verify(root, key("a"), key("va"), pa) {
		t.Fatalf("a should verify")
	}
	if !Verify(root, key("b"), key("vb"), pb) {
		t.Fatalf("b should verify")
	}
}

func TestRemoveRestoresEmptyLeaf(t *testing.T) {
	store, _ := kv.New(64)
	tree := New(store)

	k := key("txid-1")
	v := key("proofkey-1")
	root, err := tree.Update(nil, k, v)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	root2, err := tree.Remove(&root, k)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if root2 != tree.EmptyRoot() {
		t.Fatalf("expected tree with single removed key to equal empty root")
	}
}

func TestUpdateIdempotent(t *testing.T) {
	store, _ := kv.New(64)
	tree := New(store)

	k, v := key("txid-1"), key("proofkey-1")
	r1, err := tree.Update(nil, k, v)
	if err != nil {
		t.Fatalf("update 1: %v", err)
	}
	r2, err := tree.Update(&r1, k, v)
	if err != nil {
		t.Fatalf("update 2: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("expected idempotent update to yield same root")
	}
}
