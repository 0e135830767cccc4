package groupkey_test

import (
	"bytes"
	"errors"
	"testing"

	"chorus/internal/crypto"
	"chorus/internal/protocol/groupkey"
)

func TestSealOpen_RoundTrip(t *testing.T) {
	key, err := groupkey.NewSecret()
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	ad := []byte("frame-ad")
	pt := []byte("hello group")

	blob, err := groupkey.Seal(key, ad, pt)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := groupkey.Open(key, ad, blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("plaintext mismatch: got %q", got)
	}
}

func TestSealOpen_WrongAD_Fails(t *testing.T) {
	key, _ := groupkey.NewSecret()
	blob, err := groupkey.Seal(key, []byte("ad-a"), []byte("x"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := groupkey.Open(key, []byte("ad-b"), blob); !errors.Is(err, groupkey.ErrOpen) {
		t.Fatalf("want ErrOpen, got %v", err)
	}
}

func TestSealOpen_Tampered_Fails(t *testing.T) {
	key, _ := groupkey.NewSecret()
	ad := []byte("ad")
	blob, err := groupkey.Seal(key, ad, []byte("x"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	blob[len(blob)-1] ^= 0x01
	if _, err := groupkey.Open(key, ad, blob); !errors.Is(err, groupkey.ErrOpen) {
		t.Fatalf("want ErrOpen, got %v", err)
	}
	if _, err := groupkey.Open(key, ad, blob[:4]); !errors.Is(err, groupkey.ErrOpen) {
		t.Fatalf("want ErrOpen for truncated blob, got %v", err)
	}
}

func TestSealToOpenFrom_RoundTrip(t *testing.T) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	ad := []byte("ticket-ad")
	pt := []byte("post-change state")

	blob, err := groupkey.SealTo(pub, ad, pt)
	if err != nil {
		t.Fatalf("SealTo: %v", err)
	}
	got, err := groupkey.OpenFrom(priv, pub, ad, blob)
	if err != nil {
		t.Fatalf("OpenFrom: %v", err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("plaintext mismatch: got %q", got)
	}
}

func TestSealToOpenFrom_WrongKey_Fails(t *testing.T) {
	_, pub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	otherPriv, otherPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	ad := []byte("ad")
	blob, err := groupkey.SealTo(pub, ad, []byte("x"))
	if err != nil {
		t.Fatalf("SealTo: %v", err)
	}
	if _, err := groupkey.OpenFrom(otherPriv, otherPub, ad, blob); !errors.Is(err, groupkey.ErrOpen) {
		t.Fatalf("want ErrOpen, got %v", err)
	}
}

func TestAdvance_Deterministic(t *testing.T) {
	secret, _ := groupkey.NewSecret()
	commit, _ := groupkey.NewCommit()

	a := groupkey.Advance(secret, commit)
	b := groupkey.Advance(secret, commit)
	if !bytes.Equal(a, b) {
		t.Fatal("Advance is not deterministic")
	}
	if bytes.Equal(a, secret) {
		t.Fatal("Advance returned the input secret")
	}

	otherCommit, _ := groupkey.NewCommit()
	if bytes.Equal(a, groupkey.Advance(secret, otherCommit)) {
		t.Fatal("different commits derived the same secret")
	}
}

func TestDerivedKeys_SeparatedByLabelAndGeneration(t *testing.T) {
	secret, _ := groupkey.NewSecret()

	if bytes.Equal(groupkey.RecordKey(secret, 0), groupkey.MessageKey(secret, 0)) {
		t.Fatal("record and message keys collide")
	}
	if bytes.Equal(groupkey.MessageKey(secret, 0), groupkey.MessageKey(secret, 1)) {
		t.Fatal("message keys collide across generations")
	}
}
