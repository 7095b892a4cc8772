// Package rate provides a Redis-backed fixed-window request limiter.
//
// # Window semantics
//
// INCR + conditional EXPIRE on the first hit of a window. Keys are
// <prefix>:<key>; callers choose the key (client IP, handle).
//
// # What this package must NOT do
//
//   - Decide what to limit. Policies live with the caller.
//   - Touch account state. Lockout is the engine's concern.
package rate
