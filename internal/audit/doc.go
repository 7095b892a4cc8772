// Package audit defines the audit event model and the sinks that consume it.
//
// # Components
//
//   - [Event]: structured record with timestamp, type, account, file, IP and metadata.
//   - [Sink]: interface for consumers (channel, JSON lines, slog, fan-out, no-op).
//
// Buffering lives in internal/queue; this package only formats and delivers.
//
// # What this package must NOT do
//
//   - Decide which events to emit. That belongs to the Engine.
//   - Import fileGate or any sibling internal package.
package audit
