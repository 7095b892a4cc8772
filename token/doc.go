// Package token issues and verifies purpose-scoped, expiring HMAC-signed tokens.
//
// A token carries exactly one [Purpose] and the subject ids that purpose needs.
// [Manager.Verify] only succeeds when the signature validates, the expiry has not
// passed, and the embedded purpose equals the purpose the caller expects. Every
// failure collapses to [ErrInvalid]; the specific sub-reason ([ErrExpired],
// [ErrSignature], [ErrPurpose], [ErrMalformed]) is joined into the returned error
// for logging only.
//
// # Architecture boundaries
//
// Tokens are stateless. This package never touches storage and never decides
// whether the capability a token grants is still entitled; callers re-check that.
package token
