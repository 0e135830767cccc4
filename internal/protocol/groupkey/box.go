package groupkey

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"chorus/internal/crypto"
	"chorus/internal/domain"
	"chorus/internal/util/memzero"
)

// ErrOpen is returned when a sealed blob does not authenticate.
var ErrOpen = errors.New("groupkey: open failed")

// Seal encrypts plaintext under key with a random nonce and the given
// associated data. Output layout: nonce || ciphertext.
func Seal(key, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, ad), nil
}

// Open reverses Seal. Returns ErrOpen on any authentication failure.
func Open(key, ad, blob []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, ErrOpen
	}
	pt, err := aead.Open(nil, blob[:aead.NonceSize()], blob[aead.NonceSize():], ad)
	if err != nil {
		return nil, ErrOpen
	}
	return pt, nil
}

// SealTo encrypts plaintext to the holder of pub using an ephemeral X25519
// key. Output layout: ephemeral pub (32) || nonce || ciphertext.
func SealTo(pub domain.X25519Public, ad, plaintext []byte) ([]byte, error) {
	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	shared, err := crypto.DH(ephPriv, pub)
	if err != nil {
		return nil, err
	}
	key := boxKey(shared[:], ephPub, pub)
	defer memzero.Zero(key)
	memzero.Zero(shared[:])
	memzero.Zero(ephPriv[:])

	blob, err := Seal(key, ad, plaintext)
	if err != nil {
		return nil, err
	}
	return append(ephPub.Slice(), blob...), nil
}

// OpenFrom opens a SealTo blob with the recipient's private key.
func OpenFrom(priv domain.X25519Private, pub domain.X25519Public, ad, blob []byte) ([]byte, error) {
	if len(blob) < 32 {
		return nil, ErrOpen
	}
	var ephPub domain.X25519Public
	copy(ephPub[:], blob[:32])

	shared, err := crypto.DH(priv, ephPub)
	if err != nil {
		return nil, ErrOpen
	}
	key := boxKey(shared[:], ephPub, pub)
	defer memzero.Zero(key)
	memzero.Zero(shared[:])

	return Open(key, ad, blob[32:])
}

func boxKey(shared []byte, ephPub, recipient domain.X25519Public) []byte {
	info := make([]byte, 0, len(labelTicket)+64)
	info = append(info, labelTicket...)
	info = append(info, ephPub.Slice()...)
	info = append(info, recipient.Slice()...)

	key := make([]byte, SecretSize)
	r := hkdf.New(sha256.New, shared, nil, info)
	if _, err := io.ReadFull(r, key); err != nil {
		panic("groupkey: hkdf: " + err.Error())
	}
	return key
}
