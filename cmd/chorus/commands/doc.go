// Package commands defines the chorus CLI and wires dependencies for
// subcommands.
//
// Commands
//
//   - init          Create the local identity
//   - fingerprint   Print the identity fingerprint
//   - register      Publish prekey credentials to the relay
//   - refresh       Reconcile the credential pool against the registry
//   - create-group  Found a new group
//   - invite        Add a user to a group
//   - send          Encrypt and broadcast a message to a group
//   - recv          Run the event loop and print incoming messages
//   - groups        List known groups
//
// # Implementation
//
// The root command builds the dependency graph (stores, engine, relay client,
// logging) before any subcommand runs. Commands that touch sessions load the
// identity with the passphrase and restore persisted group state first.
package commands
