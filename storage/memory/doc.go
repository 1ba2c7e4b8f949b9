// Package memory provides an in-memory implementation of every storage
// interface.
//
// All state lives in maps guarded by a single sync.RWMutex, so the atomic
// operations required by the token lifecycle (delete-returning-count on
// authorization codes, revoke-if-unrevoked on refresh tokens) hold trivially.
// It is suitable for development, tests and single-instance deployments;
// use storage/mysql when state must survive a restart or be shared.
//
//	store := memory.New()
//	srv, err := server.New(store, secrets, config, logger)
package memory
