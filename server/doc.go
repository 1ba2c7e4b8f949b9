// Package server implements the authorization server's protocol logic,
// independent of HTTP.
//
// The Server type implements:
//   - The token endpoint grant dispatcher (authorization_code, password,
//     client_credentials and refresh_token)
//   - The authorization endpoint flow (response types code and token)
//   - Client authentication guarded against brute force
//   - Client and user registration with model validation
//   - A background Sweeper removing expired token rows
//
// Protocol failures are returned as *Error values carrying the OAuth error
// code and HTTP status. Internal failures are logged and reported as
// server_error.
//
// Example usage:
//
//	store := memory.New()
//	secrets := security.NewEnvSecrets(false)
//
//	srv, err := server.New(store, secrets, &server.Config{
//	    Issuer: "https://auth.example.com",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
package server
