// Package pool maintains the local identity's prekey credential inventory:
// enough published credentials for others to invite it while offline.
//
// Refresh discards expired local entries, asks the registry how many
// credentials are still available, and tops the pool back up to the target
// when it falls below the low watermark. A failed refresh leaves the
// inventory as-is and is retried on the next trigger.
package pool
