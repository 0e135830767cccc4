// Package group drives the group session membership protocol for one
// client: founding groups, originating membership changes, and applying the
// records, join tickets and application messages the relay delivers.
//
// All session state is owned by a single logical task (the client event
// loop); nothing here takes locks on crypto state. Incoming messages are
// untrusted: anything that fails validation is reported and dropped without
// touching the session.
package group
