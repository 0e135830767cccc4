package store

import (
	"crypto/rand"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"chorus/internal/util/memzero"
)

const saltBytes = 16

// sealedEnvelope is the on-disk form of a passphrase-protected blob.
type sealedEnvelope struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	CT    []byte `json:"ct"`
}

func deriveKEK(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1<<16, 8, 1, chacha20poly1305.KeySize)
}

// sealWithPassphrase encrypts plaintext under a passphrase-derived key.
func sealWithPassphrase(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	kek := deriveKEK(passphrase, salt)
	defer memzero.Zero(kek)

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, nonce, plaintext, salt)
	return json.Marshal(sealedEnvelope{Salt: salt, Nonce: nonce, CT: ct})
}

// openWithPassphrase reverses sealWithPassphrase.
func openWithPassphrase(passphrase string, blob []byte) ([]byte, error) {
	var env sealedEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, err
	}
	if len(env.Salt) != saltBytes {
		return nil, errors.New("store: bad salt size")
	}
	kek := deriveKEK(passphrase, env.Salt)
	defer memzero.Zero(kek)

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, errors.New("store: bad nonce size")
	}
	if len(env.CT) < aead.Overhead() {
		return nil, errors.New("store: ciphertext too short")
	}
	return aead.Open(nil, env.Nonce, env.CT, env.Salt)
}
