package domain

import "time"

// CredentialID uniquely identifies a prekey credential.
type CredentialID string

// String returns the string form of the identifier.
func (id CredentialID) String() string { return string(id) }

// ReservationID identifies a registry reservation handle.
type ReservationID string

// String returns the string form of the identifier.
func (id ReservationID) String() string { return string(id) }

// CredentialStatus is the lifecycle state of a prekey credential.
//
// The order is strict: created → uploaded → available → reserved →
// {spent | expired}. Spent and expired are terminal.
type CredentialStatus string

const (
	CredentialCreated   CredentialStatus = "created"
	CredentialUploaded  CredentialStatus = "uploaded"
	CredentialAvailable CredentialStatus = "available"
	CredentialReserved  CredentialStatus = "reserved"
	CredentialSpent     CredentialStatus = "spent"
	CredentialExpired   CredentialStatus = "expired"
)

// Terminal reports whether the status admits no further transition.
func (s CredentialStatus) Terminal() bool {
	return s == CredentialSpent || s == CredentialExpired
}

// PrekeyCredential is the publishable, single-use half of a prekey: it binds
// the owner's signing key to an ephemeral key-exchange key, with an expiry.
type PrekeyCredential struct {
	ID       CredentialID  `json:"id"`
	Owner    Username      `json:"owner"`
	SigPub   Ed25519Public `json:"sig_pub"`
	DHPub    X25519Public  `json:"dh_pub"`
	Sig      []byte        `json:"sig"`
	NotAfter int64         `json:"not_after"` // unix seconds
}

// Expired reports whether the credential is past its NotAfter at t.
func (c PrekeyCredential) Expired(t time.Time) bool {
	return t.Unix() >= c.NotAfter
}

// CredentialPair is the locally held credential: the public credential plus
// the private key-exchange half and the local lifecycle status.
type CredentialPair struct {
	Credential PrekeyCredential `json:"credential"`
	DHPriv     X25519Private    `json:"dh_priv"`
	Status     CredentialStatus `json:"status"`
}

// Reservation is a time-bounded hold on a credential, preventing reuse while
// an invite is in flight. It exists only between reserve and spend-or-lapse.
type Reservation struct {
	ID           ReservationID `json:"id"`
	CredentialID CredentialID  `json:"credential_id"`
	Reserver     Username      `json:"reserver"`
	Target       Username      `json:"target"`
	CreatedAt    int64         `json:"created_at"`
	ExpiresAt    int64         `json:"expires_at"`
}

// ReservedCredential is what a successful reserve returns: the reservation
// handle plus the credential payload needed to build an invite.
type ReservedCredential struct {
	Reservation Reservation      `json:"reservation"`
	Credential  PrekeyCredential `json:"credential"`
}
