package domain

import (
	"context"
	"time"
)

// CryptoEngine is the opaque capability that produces and consumes encrypted
// application messages, membership-change records and join tickets. Sessions
// returned by it are mutated only through it.
type CryptoEngine interface {
	// CreateSession founds a new group at generation zero with the local
	// identity as sole member.
	CreateSession(self Identity, id GroupID, name string) (GroupSession, error)

	// NewCredential mints a prekey credential pair for self, valid until
	// now+ttl.
	NewCredential(self Identity, ttl time.Duration) (CredentialPair, error)

	// AddMember builds the membership-change record and the matching join
	// ticket for inviting the credential's owner. The session itself is not
	// mutated; the originator applies the returned record via ApplyChange.
	AddMember(s GroupSession, invitee PrekeyCredential) (MembershipChangeRecord, JoinTicket, error)

	// ApplyChange validates rec against the session's current generation and,
	// on success, advances it by exactly one and refreshes the member set.
	// Either the whole change applies or none of it does.
	ApplyChange(s GroupSession, rec MembershipChangeRecord) error

	// ApplyJoin materializes a brand-new session at the generation encoded in
	// the ticket. The keyring supplies the private half of the credential the
	// ticket was sealed to.
	ApplyJoin(self Identity, t JoinTicket, keys CredentialKeyring) (GroupSession, error)

	// TicketCredential reports which credential a join ticket was sealed to,
	// so the local pool can mark it spent after a successful join.
	TicketCredential(t JoinTicket) (CredentialID, error)

	// Encrypt seals plaintext for the session's current generation.
	Encrypt(s GroupSession, plaintext []byte) ([]byte, error)

	// Decrypt opens a ciphertext frame at the current generation. Returns
	// ErrOwnMessage for the local identity's own ciphertext and ErrValidation
	// for anything that does not open.
	Decrypt(s GroupSession, ciphertext []byte) (Username, []byte, error)

	// ExportSession serializes the session's full state (including the
	// generation secret) for sealed at-rest storage. Never transmitted.
	ExportSession(s GroupSession) ([]byte, error)

	// ImportSession reverses ExportSession for the local identity.
	ImportSession(self Identity, blob []byte) (GroupSession, error)
}

// CredentialKeyring resolves the private half of a locally held credential.
type CredentialKeyring interface {
	CredentialKey(id CredentialID) (X25519Private, bool, error)
}

// RegistryClient talks to the central credential registry.
type RegistryClient interface {
	Upload(ctx context.Context, cred PrekeyCredential) error
	Reserve(ctx context.Context, target, reserver Username) (ReservedCredential, error)
	Spend(ctx context.Context, id ReservationID, caller Username) error
	ListAvailable(ctx context.Context, owner Username) ([]CredentialID, error)
}

// RouterClient talks to the relay's message router.
type RouterClient interface {
	Send(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, group GroupID, user Username) error
	Fetch(ctx context.Context, user Username, limit int) ([]Envelope, error)
	Ack(ctx context.Context, user Username, count int) error
}

// IdentityStore persists the long-term identity under a passphrase.
type IdentityStore interface {
	SaveIdentity(passphrase string, id Identity) error
	LoadIdentity(passphrase string) (Identity, error)
}

// PoolStore keeps the local credential inventory: public credentials, their
// private halves and their lifecycle status.
type PoolStore interface {
	CredentialKeyring
	SaveCredential(pair CredentialPair) error
	ListCredentials() ([]CredentialPair, error)
	SetStatus(id CredentialID, status CredentialStatus) error
	DeleteCredential(id CredentialID) error
}

// SessionStore persists exported session state per group, sealed at rest.
type SessionStore interface {
	SaveSession(id GroupID, blob []byte) error
	LoadSessions() (map[GroupID][]byte, error)
}

// GroupStore is the durable (identity, group name) -> group id mapping.
type GroupStore interface {
	SaveGroup(name string, id GroupID) error
	LookupGroup(name string) (GroupID, bool, error)
	ListGroups() (map[string]GroupID, error)
}
