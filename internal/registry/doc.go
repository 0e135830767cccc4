// Package registry implements the server-side credential registry: the
// durable store of published prekey credentials and the arbiter of
// reservation, double-spend and expiry across all clients.
//
// Every state transition runs inside a single bbolt update transaction, so
// the available→reserved→{spent|released} sequence is linearizable per
// credential: two concurrent reserves for the same target can never hand out
// the same credential id. Expiry is applied both on read and by a periodic
// sweep worker.
package registry
