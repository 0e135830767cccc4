package groupkey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"

	"chorus/internal/util/memzero"
)

const (
	// SecretSize is the size of a generation secret and of derived keys.
	SecretSize = 32

	labelAdvance = "chorus-advance"
	labelRecord  = "chorus-record"
	labelMessage = "chorus-message"
	labelTicket  = "chorus-ticket"
)

// NewSecret returns a fresh random generation secret.
func NewSecret() ([]byte, error) {
	s := make([]byte, SecretSize)
	if _, err := rand.Read(s); err != nil {
		return nil, err
	}
	return s, nil
}

// NewCommit returns the random commit entropy carried inside a
// membership-change record.
func NewCommit() ([]byte, error) {
	return NewSecret()
}

// Advance derives the post-change generation secret from the current secret
// and the change's commit entropy. Deterministic: every member at the same
// generation derives the same next secret.
func Advance(secret, commit []byte) []byte {
	ikm := make([]byte, 0, len(secret)+len(commit))
	ikm = append(ikm, secret...)
	ikm = append(ikm, commit...)
	out := expand(ikm, labelAdvance, 0)
	memzero.Zero(ikm)
	return out
}

// RecordKey derives the key sealing a membership-change record produced at
// generation gen.
func RecordKey(secret []byte, gen uint64) []byte {
	return expand(secret, labelRecord, gen)
}

// MessageKey derives the key sealing application messages at generation gen.
func MessageKey(secret []byte, gen uint64) []byte {
	return expand(secret, labelMessage, gen)
}

func expand(ikm []byte, label string, gen uint64) []byte {
	info := make([]byte, 0, len(label)+8)
	info = append(info, label...)
	info = binary.BigEndian.AppendUint64(info, gen)

	out := make([]byte, SecretSize)
	r := hkdf.New(sha256.New, ikm, nil, info)
	if _, err := io.ReadFull(r, out); err != nil {
		// hkdf.Reader only fails past its output limit, far beyond 32 bytes.
		panic("groupkey: hkdf: " + err.Error())
	}
	return out
}
