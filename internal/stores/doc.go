// Package stores provides Redis-backed, short-lived records for the MFA and
// token flows: enrollment staging keyed by session, login challenges keyed by
// challenge id, and consumed token ids.
//
// # Design
//
// Each record is versioned, binary-encoded and written with a TTL. Expiry is
// also checked against the injected clock on read so tests and Redis agree.
// RecordFailure uses WATCH/MULTI optimistic transactions with retry on
// contention.
//
// # What this package must NOT do
//
//   - Import fileGate or any sibling internal package.
//   - Verify codes or make authentication decisions.
//   - Log staged secrets.
package stores
