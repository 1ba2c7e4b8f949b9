// Package testutil provides test fixtures shared across packages: fixed
// secrets, cheap hashing parameters, a controllable clock, assertions and an
// HTTP request builder.
package testutil
