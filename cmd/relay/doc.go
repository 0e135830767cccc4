// Package main runs the chorus relay: the credential registry plus the
// store-and-forward message router. The registry is durable (bbolt); the
// router's inboxes and subscriber sets are held in memory and lost on
// restart, which is why clients re-announce subscriptions at startup.
//
// HTTP API
//
//	POST /credentials
//	    Store a signed prekey credential. Re-uploading the identical payload
//	    is a no-op; a conflicting payload under the same id is rejected.
//
//	GET /credentials/{user}
//	    Return the ids of {user}'s credentials still available for
//	    reservation.
//
//	POST /credentials/{user}/reserve { "reserver": U }
//	    Atomically reserve one available credential of {user} for U and
//	    return the credential plus a reservation id. 404 when none remain.
//
//	POST /reservations/{id}/spend { "caller": U }
//	    Consume the reservation; only the reserver may spend it, and a lapsed
//	    reservation is rejected with its credential returned to the pool.
//
//	POST /groups/{gid}/subscribe { "user": U }
//	    Add U to {gid}'s broadcast subscriber set.
//
//	POST /send
//	    Route an Envelope: membership changes and application messages fan
//	    out to every subscriber of the group (sender included); join tickets
//	    go to the target's inbox only. A zero Timestamp is filled with the
//	    current Unix time.
//
//	GET /inbox/{user}?limit=N
//	    Return up to N queued envelopes for {user} without removing them.
//
//	POST /inbox/{user}/ack { "count": N }
//	    Drop the first N queued envelopes for {user}.
//
// Responses are JSON; non-2xx statuses carry {"error": code} where code is
// one of pool_exhausted, duplicate_credential, invalid_reservation or
// bad_request. The relay never sees plaintext, group secrets or private keys;
// it stores ciphertext, public credentials and routing metadata only.
package main
