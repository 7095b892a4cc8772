// Package password hashes, verifies, validates and generates passwords.
//
// # Hashing
//
// [Argon2] is the default scheme; hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Bcrypt] verifies hashes carried over from older deployments. [Multi] hashes
// with its primary scheme and verifies with whichever scheme recognizes the
// stored encoding, so callers can rehash on the next successful login.
//
// # Policy
//
// [Policy.ValidateStrength] enforces minimum length plus one uppercase, one
// lowercase, one digit and one character from [SpecialCharacters], reporting
// the first failing rule. [Policy.GenerateStrong] builds passwords that always
// satisfy the same policy.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other fileGate package.
//   - Log plaintext passwords.
package password
