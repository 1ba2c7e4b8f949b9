// Package instrumentation provides OpenTelemetry instrumentation for the
// authorization server.
//
// Metrics cover the HTTP layer, token issuance per grant type, security
// events (authorization code replay, refresh token reuse, brute-force
// lockouts, rate limiting) and storage operations. Tracing spans are created
// by the HTTP handler and the grant dispatcher.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:         true,
//		ServiceName:     "authserver",
//		ServiceVersion:  "1.0.0",
//		MetricsExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", promhttp.Handler())
//
// When Enabled is false, no-op providers are used and recording is free.
//
// # Privacy
//
// Client IP addresses are only attached to spans when LogClientIPs is set.
// Never attach token values, authorization codes or secrets to spans or
// metric attributes; only metadata such as grant type or token kind.
package instrumentation
