// Package storage defines the persistence boundary of the authorization server.
//
// The server never caches clients, users or token rows in process: every
// request reads and writes through the interfaces declared here. The
// interfaces are:
//   - ClientStore: registered clients, looked up by id or alias
//   - UserStore: resource owners, looked up by username
//   - TokenStore: rows keyed by token id for authorization codes, access
//     tokens and refresh tokens, plus the cascade operations used on replay
//   - TokenSweeper: bulk removal of expired rows
//   - LoginAttemptStore: append-only failed authentication log
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development and testing
//   - storage/mysql: MySQL storage for production deployments
//
// A primary-key collision on insert must be reported as ErrDuplicateID so that
// callers can draw a new id and retry (see InsertWithUniqueID).
package storage
