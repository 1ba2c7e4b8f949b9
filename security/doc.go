// Package security provides the security primitives of the authorization
// server: brute-force detection backed by the login attempt log, peppered
// secret hashing, the signing key and pepper source, a per-IP request rate
// limiter, client IP extraction, audit logging and HTTP security headers.
//
// # Brute-force detection
//
// Guard counts failed authentications per (subject, source address) pair in a
// trailing window. Callers check Detected before verifying a credential and
// call RecordFailure on every failed verification:
//
//	locked, err := guard.Detected(ctx, username, ip)
//	if err != nil {
//		return err
//	}
//	if locked {
//		return errLockedOut
//	}
//	if !ok {
//		_ = guard.RecordFailure(ctx, username, ip)
//	}
//
// # Secrets
//
// Hasher produces and verifies PasswordHash values. The server-wide pepper is
// mixed into every hash with HMAC-SHA256 before the memory-hard step, so a
// leaked database alone is not enough to run an offline attack.
//
// EnvSecrets reads the signing key and pepper from the environment, either
// once (production) or on every read (other environments).
package security
