// Package relay implements the message router and its HTTP surfaces: the
// server side (per-user inboxes, per-group subscriber sets, credential
// registry endpoints) and the client used by the chorus CLI.
//
// The router carries three kinds of envelope: application messages and
// membership-change records are broadcast to every current subscriber of the
// group (the sender included); join tickets are unicast to the target
// identity's private inbox. The relay never sees plaintext: every payload is
// sealed by the crypto engine before it arrives here.
package relay
