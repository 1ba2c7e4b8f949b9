package token

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for tokens that cannot be decoded.
	ErrMalformed = errors.New("malformed token")

	// ErrInvalidSignature is returned when the signature does not verify.
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrIncorrectIssuer is returned when the token was issued by someone else.
	ErrIncorrectIssuer = errors.New("incorrect issuer")

	// ErrWrongClient is returned when the token belongs to another client.
	ErrWrongClient = errors.New("token issued to another client")

	// ErrBadAudience is returned when the issuer is not an audience.
	ErrBadAudience = errors.New("issuer not in audience")

	// ErrExpired is returned for tokens past their expiry.
	ErrExpired = errors.New("token expired")

	// ErrNotYetValid is returned for tokens before their not-before time.
	ErrNotYetValid = errors.New("token not yet valid")

	// ErrWrongKind is returned when a token of one kind is presented as another.
	ErrWrongKind = errors.New("wrong token kind")

	// ErrRevoked is returned for tokens no longer present or usable in storage.
	ErrRevoked = errors.New("token revoked")

	// ErrRedirectMismatch is returned when an authorization code is redeemed
	// with a redirect URI other than the one it was issued for.
	ErrRedirectMismatch = errors.New("redirect uri mismatch")

	// ErrCodeReplayed is returned when an authorization code is redeemed a
	// second time.
	ErrCodeReplayed = errors.New("authorization code replayed")
)

// ReplayError reports a replayed authorization code and how many tokens
// derived from it were revoked in response.
type ReplayError struct {
	AccessTokensRevoked  int64
	RefreshTokensRevoked int64
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("%s: revoked %d access and %d refresh tokens",
		ErrCodeReplayed, e.AccessTokensRevoked, e.RefreshTokensRevoked)
}

// Unwrap makes errors.Is(err, ErrCodeReplayed) hold.
func (e *ReplayError) Unwrap() error {
	return ErrCodeReplayed
}
