// Package middleware exposes composable HTTP guards that run before portal
// handlers call into fileGate.Engine.
//
// # Guards
//
//   - [ClientMetadata]: records the client IP and user agent in the request
//     context so the engine can write them to the login ledger and download log.
//   - [Guard]: resolves the caller's session and rejects anonymous requests.
//   - [RequireRole], [RequireAdmin], [RequireCustomer]: [Guard] plus a role check.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into context values. Sessions are
// resolved by a caller-supplied [SessionResolver]; lockout, token and
// assignment decisions stay in the Engine.
//
// # What this package must NOT do
//
//   - Verify passwords, TOTP codes or download tokens.
//   - Access Redis or the repository directly.
//   - Make authorization decisions beyond session presence and role.
package middleware
