package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// EventCounter counts audit events by type. *instrumentation.Metrics
// implements it.
type EventCounter interface {
	RecordAuditEvent(ctx context.Context, eventType string)
}

// Auditor logs security events. Subjects are hashed before logging.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	now     func() time.Time
	counter EventCounter
}

// SetCounter makes the auditor count every event, whether or not audit
// logging is enabled.
func (a *Auditor) SetCounter(c EventCounter) {
	a.counter = c
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// Event is a security audit event
type Event struct {
	Type      string
	Subject   string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with the subject hashed
func (a *Auditor) LogEvent(event Event) {
	if a == nil {
		return
	}
	if a.counter != nil {
		a.counter.RecordAuditEvent(context.Background(), event.Type)
	}
	if !a.enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = a.now()
	}

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs tokens issued by the token endpoint
func (a *Auditor) LogTokenIssued(subject, clientID, ipAddress, grantType, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogTokenRefreshed logs a refresh token rotation
func (a *Auditor) LogTokenRefreshed(subject, clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"scope": scope},
	})
}

// LogScopeEscalation logs a request for scopes beyond what was granted
func (a *Auditor) LogScopeEscalation(subject, clientID, ipAddress, requested, granted string) {
	a.LogEvent(Event{
		Type:      EventScopeEscalationAttempt,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"requested_scope": requested,
			"granted_scope":   granted,
		},
	})
}

// LogAuthorizationGranted logs a code or token handed out by the authorization endpoint
func (a *Auditor) LogAuthorizationGranted(subject, clientID, ipAddress, responseType, scope string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationGranted,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"response_type": responseType,
			"scope":         scope,
		},
	})
}

// LogAuthFailure logs a failed credential check
func (a *Auditor) LogAuthFailure(subject, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogBruteForceDetected logs an attempt rejected by the brute-force guard
func (a *Auditor) LogBruteForceDetected(subject, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventBruteForceDetected,
		Subject:   subject,
		IPAddress: ipAddress,
	})
}

// LogCodeReplay logs a replayed authorization code and the size of the cascade
func (a *Auditor) LogCodeReplay(clientID, ipAddress string, accessRevoked, refreshRevoked int64) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeReplay,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"access_tokens_revoked":  accessRevoked,
			"refresh_tokens_revoked": refreshRevoked,
		},
	})
}

// LogRefreshTokenReuse logs a consumed refresh token presented again
func (a *Auditor) LogRefreshTokenReuse(subject, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventRefreshTokenReuse,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details:   map[string]any{"endpoint": endpoint},
	})
}

// LogClientRegistered logs a client registration
func (a *Auditor) LogClientRegistered(clientID, clientType string) {
	a.LogEvent(Event{
		Type:     EventClientRegistered,
		ClientID: clientID,
		Details: map[string]any{
			"client_type": clientType,
		},
	})
}

// LogUserRegistered logs a user registration
func (a *Auditor) LogUserRegistered(username string) {
	a.LogEvent(Event{
		Type:    EventUserRegistered,
		Subject: username,
	})
}

// hashForLogging creates a truncated SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
