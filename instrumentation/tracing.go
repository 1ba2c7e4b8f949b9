package instrumentation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
//
// Only metadata goes into spans. Token values, authorization codes and client
// secrets must never be recorded.
const (
	AttrClientID     = "oauth.client_id"
	AttrClientAlias  = "oauth.client_alias"
	AttrSubject      = "oauth.subject"
	AttrScope        = "oauth.scope"
	AttrGrantType    = "oauth.grant_type"
	AttrResponseType = "oauth.response_type"
	AttrClientType   = "oauth.client_type"
	AttrTokenKind    = "oauth.token.kind" //nolint:gosec // token kind, not a token
	AttrCodeReplay   = "oauth.code.replay"
	AttrTokenReuse   = "oauth.token.reuse" //nolint:gosec // boolean flag
	AttrError        = "oauth.error"

	AttrStorageOperation = "storage.operation"
	AttrStorageType      = "storage.type"

	AttrClientIP     = "security.client_ip"
	AttrBruteForce   = "security.brute_force"
	AttrHTTPEndpoint = "http.endpoint"
	AttrHTTPMethod   = "http.method"
	AttrHTTPStatus   = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddGrantAttributes adds grant dispatch attributes to a span (nil-safe)
func AddGrantAttributes(span trace.Span, grantType, clientAlias, scope string) {
	SetSpanAttributes(span, attribute.String(AttrGrantType, grantType))
	if clientAlias != "" {
		SetSpanAttributes(span, attribute.String(AttrClientAlias, clientAlias))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// TraceStorageOperation records a finished storage operation as a span that
// began at start.
func (i *Instrumentation) TraceStorageOperation(ctx context.Context, storageType, operation string, start time.Time, err error) {
	_, span := i.Tracer("storage").Start(ctx, "storage."+operation, trace.WithTimestamp(start))
	AddStorageAttributes(span, operation, storageType)
	RecordError(span, err)
	span.End()
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatus, statusCode),
	)
}

// AddSecurityAttributes adds the client IP to a span (nil-safe).
// Callers must check ShouldLogClientIPs first.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
