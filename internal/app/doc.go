// Package app wires the client's stores, services and relay client together
// for the CLI.
package app
