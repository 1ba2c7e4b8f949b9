package security

// Event types for security audit logging.
const (
	// EventTokenIssued is logged when the token endpoint returns tokens
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is rotated
	EventTokenRefreshed = "token_refreshed"

	// EventAuthorizationGranted is logged when the authorization endpoint
	// redirects with a code or token
	EventAuthorizationGranted = "authorization_granted"

	// EventAuthorizationCodeReplay is logged when a redeemed authorization
	// code is presented again and its tokens are revoked
	EventAuthorizationCodeReplay = "authorization_code_replay"

	// EventRefreshTokenReuse is logged when a consumed refresh token is presented again
	EventRefreshTokenReuse = "refresh_token_reuse" //nolint:gosec // event name

	// EventAuthFailure is logged when a password or client secret check fails
	EventAuthFailure = "auth_failure"

	// EventBruteForceDetected is logged when an attempt is rejected because
	// the subject is locked out
	EventBruteForceDetected = "brute_force_detected"

	// EventRateLimitExceeded is logged when the per-IP request limit is hit
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventScopeEscalationAttempt is logged when a request asks for more
	// than the client or token was granted
	EventScopeEscalationAttempt = "scope_escalation_attempt"

	// EventClientRegistered is logged when a client is created
	EventClientRegistered = "client_registered"

	// EventUserRegistered is logged when a user is created
	EventUserRegistered = "user_registered"
)
