// Package store persists client-side state under the chorus home directory:
// the passphrase-encrypted identity, the local credential pool bookkeeping
// (public credentials, private halves, lifecycle status), the durable
// group-name to group-id mapping, and exported group sessions.
//
// Everything is a small mutex-guarded JSON file; the identity and session
// files are additionally sealed with a passphrase-derived key.
package store
