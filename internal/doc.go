// Package internal holds helpers private to fileGate.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - observability: Sentry reporting and HTTP request logging
//   - queue: bounded background worker for outbound mail
//   - rate: Redis-backed fixed-window rate limiting
//   - stores: Redis stores for MFA enrollment staging and login challenges
package internal
