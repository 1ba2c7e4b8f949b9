package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments of the server
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Grant Metrics
	TokensIssued         metric.Int64Counter
	AuthorizationGranted metric.Int64Counter
	ClientRegistered     metric.Int64Counter

	// Security Metrics
	RateLimitExceeded    metric.Int64Counter
	BruteForceBlocked    metric.Int64Counter
	LoginFailures        metric.Int64Counter
	CodeReplayDetected   metric.Int64Counter
	RefreshReuseDetected metric.Int64Counter
	AuditEventsTotal     metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	StorageRowsSwept          metric.Int64Counter
	StorageClientsCount       metric.Int64ObservableGauge
	StorageUsersCount         metric.Int64ObservableGauge
	StorageAuthCodesCount     metric.Int64ObservableGauge
	StorageAccessTokensCount  metric.Int64ObservableGauge
	StorageRefreshTokensCount metric.Int64ObservableGauge
	StorageLoginAttemptsCount metric.Int64ObservableGauge
}

type counterSpec struct {
	dst         *metric.Int64Counter
	meter       metric.Meter
	name        string
	description string
	unit        string
}

type gaugeSpec struct {
	dst         *metric.Int64ObservableGauge
	name        string
	description string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, httpMeter, "oauth.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.TokensIssued, serverMeter, "oauth.tokens.issued", "Number of token responses issued per grant type", "{response}"},
		{&m.AuthorizationGranted, serverMeter, "oauth.authorization.granted", "Number of successful authorization endpoint grants", "{grant}"},
		{&m.ClientRegistered, serverMeter, "oauth.client.registered", "Number of clients registered", "{client}"},
		{&m.RateLimitExceeded, securityMeter, "oauth.rate_limit.exceeded", "Number of rate limit violations", "{violation}"},
		{&m.BruteForceBlocked, securityMeter, "oauth.brute_force.blocked", "Number of attempts rejected by brute-force detection", "{attempt}"},
		{&m.LoginFailures, securityMeter, "oauth.login.failures", "Number of failed user or client secret checks", "{failure}"},
		{&m.CodeReplayDetected, securityMeter, "oauth.code.replay_detected", "Number of authorization code replays detected", "{attempt}"},
		{&m.RefreshReuseDetected, securityMeter, "oauth.refresh_token.reuse_detected", "Number of consumed refresh tokens presented again", "{attempt}"},
		{&m.AuditEventsTotal, securityMeter, "oauth.audit.events.total", "Total number of audit events", "{event}"},
		{&m.StorageOperationTotal, storageMeter, "storage.operation.total", "Total number of storage operations", "{operation}"},
		{&m.StorageRowsSwept, storageMeter, "storage.rows.swept", "Number of expired rows removed by the sweeper", "{row}"},
	}
	for _, c := range counters {
		counter, err := c.meter.Int64Counter(c.name,
			metric.WithDescription(c.description),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	var err error
	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	gauges := []gaugeSpec{
		{&m.StorageClientsCount, "storage.clients.count", "Number of registered clients"},
		{&m.StorageUsersCount, "storage.users.count", "Number of registered users"},
		{&m.StorageAuthCodesCount, "storage.auth_codes.count", "Number of stored authorization code rows"},
		{&m.StorageAccessTokensCount, "storage.access_tokens.count", "Number of stored access token rows"},
		{&m.StorageRefreshTokensCount, "storage.refresh_tokens.count", "Number of stored refresh token rows"},
		{&m.StorageLoginAttemptsCount, "storage.login_attempts.count", "Number of stored failed login attempts"},
	}
	for _, g := range gauges {
		gauge, err := storageMeter.Int64ObservableGauge(g.name,
			metric.WithDescription(g.description),
			metric.WithUnit("{row}"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gauge: %w", g.name, err)
		}
		*g.dst = gauge
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordTokenIssued records a successful token endpoint response
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string, withRefresh bool) {
	if m == nil {
		return
	}
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.Bool("refresh_token", withRefresh),
	))
}

// RecordAuthorizationGranted records a successful authorization endpoint grant
func (m *Metrics) RecordAuthorizationGranted(ctx context.Context, responseType string) {
	if m == nil {
		return
	}
	m.AuthorizationGranted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("response_type", responseType),
	))
}

// RecordClientRegistration records a client registration
func (m *Metrics) RecordClientRegistration(ctx context.Context, clientType string) {
	if m == nil {
		return
	}
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_type", clientType),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordBruteForceBlocked records an attempt rejected because the subject is locked out.
// subjectKind is "user" or "client".
func (m *Metrics) RecordBruteForceBlocked(ctx context.Context, subjectKind string) {
	if m == nil {
		return
	}
	m.BruteForceBlocked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subject_kind", subjectKind),
	))
}

// RecordLoginFailure records a failed credential check
func (m *Metrics) RecordLoginFailure(ctx context.Context, subjectKind string) {
	if m == nil {
		return
	}
	m.LoginFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subject_kind", subjectKind),
	))
}

// RecordCodeReplayDetected records an authorization code redeemed more than once
func (m *Metrics) RecordCodeReplayDetected(ctx context.Context) {
	if m == nil {
		return
	}
	m.CodeReplayDetected.Add(ctx, 1)
}

// RecordRefreshReuseDetected records a consumed refresh token presented again
func (m *Metrics) RecordRefreshReuseDetected(ctx context.Context) {
	if m == nil {
		return
	}
	m.RefreshReuseDetected.Add(ctx, 1)
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordRowsSwept records rows removed by the background sweeper
func (m *Metrics) RecordRowsSwept(ctx context.Context, table string, rows int64) {
	if m == nil {
		return
	}
	m.StorageRowsSwept.Add(ctx, rows, metric.WithAttributes(
		attribute.String("table", table),
	))
}
