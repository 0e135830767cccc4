// Package groupkey implements the generation-keyed secret schedule for group
// sessions and the sealing primitives built on it.
//
// Each group generation owns one 32-byte secret. A membership change carries
// a random commit; every member at the pre-change generation derives the same
// post-change secret with Advance. Message and record keys are derived from
// the generation secret with distinct labels, so a ciphertext only opens at
// the exact generation it was produced for.
//
// Join tickets are sealed to the invitee's credential key with an ephemeral
// X25519 box (SealTo/OpenFrom), so the invitee needs no prior generation.
package groupkey
