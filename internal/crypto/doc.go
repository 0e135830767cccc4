// Package crypto exposes the minimal primitives used by chorus.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie–Hellman (GenerateX25519, DH)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - Short public-key fingerprints for display (Fingerprint)
//   - Random identifiers for credentials, reservations and groups (RandomID)
//
// All functions return fixed-size array types defined in internal/domain.
// Callers should treat returned secrets as sensitive and wipe them with
// memzero when practical.
package crypto
