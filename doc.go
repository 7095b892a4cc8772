// Package fileGate is the security core of a file-distribution portal:
// account login with lockout and optional TOTP, account activation and
// password reset through purpose-scoped signed tokens, and download
// authorization that re-checks the file assignment when the token is
// redeemed.
//
// Build an [Engine] with [New]:
//
//	engine, err := fileGate.New().
//		WithConfig(cfg).
//		WithRepository(repo).
//		WithRedis(rdb).
//		WithMailer(mailer).
//		WithFileStore(files).
//		Build()
//
// Engine methods are safe for concurrent use after Build. Account state
// changes go through [AccountStore.UpdateAccount], so concurrent failed
// logins against one account never lose an increment.
//
// # What this package must NOT do
//
//   - Keep account state in memory between calls.
//   - Reveal to a login caller whether a handle exists.
//   - Fail a request because outbound mail failed.
//   - Return file bytes before the download record is written.
package fileGate
