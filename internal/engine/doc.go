// Package engine implements the domain.CryptoEngine capability: group
// sessions keyed by a per-generation secret, membership-change records sealed
// to the pre-change generation, join tickets sealed to the invitee's prekey
// credential, and application message framing.
//
// Session state is opaque outside this package. A session is mutated only by
// ApplyChange, and a change either applies fully (generation +1, member set
// refreshed) or not at all.
package engine
