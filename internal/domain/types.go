package domain

// Username is a relay-registered identity name.
type Username string

// String returns the string form of the username.
func (u Username) String() string { return string(u) }

// GroupID identifies a group channel on the relay. Assigned at group
// creation and never changes.
type GroupID string

// String returns the string form of the group identifier.
func (g GroupID) String() string { return string(g) }

// X25519Public is a Curve25519 public key.
type X25519Public [32]byte

func (p X25519Public) Slice() []byte { return p[:] }

// X25519Private is a Curve25519 private key.
type X25519Private [32]byte

func (k X25519Private) Slice() []byte { return k[:] }

// Ed25519Public is a signing public key.
type Ed25519Public [32]byte

func (p Ed25519Public) Slice() []byte { return p[:] }

// Ed25519Private is a signing private key (ed25519.PrivateKey layout).
type Ed25519Private [64]byte

func (k Ed25519Private) Slice() []byte { return k[:] }

// Identity is the local long-term identity: a stable username plus a
// signing key pair. Immutable once created.
type Identity struct {
	Name    Username
	SigPub  Ed25519Public
	SigPriv Ed25519Private
}
