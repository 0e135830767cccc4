// Package domain holds the core types shared across chorus: identities,
// prekey credentials and their lifecycle, reservations, group sessions and
// the wire records that evolve them, plus the interfaces that the stores,
// the relay and the crypto engine implement.
//
// Nothing in this package performs I/O or cryptography; it only defines
// contracts and data.
package domain
