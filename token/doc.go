// Package token issues, signs and verifies the three kinds of credentials the
// server hands out: authorization codes, access tokens and refresh tokens.
//
// Every credential is a signed JWT whose id is also a row in storage. Storage
// is the system of record: a verified signature alone never makes a token
// usable. Authorization codes are deleted on redemption, access tokens must
// still exist, and refresh tokens must not be revoked. Redeeming an
// authorization code twice revokes everything issued from it.
package token
