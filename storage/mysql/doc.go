// Package mysql provides a MySQL implementation of every storage interface.
//
// It is the system of record for production deployments: several server
// instances may share one database. The atomic operations the token
// lifecycle relies on are single statements whose affected-row count
// decides the winner:
//
//	DELETE FROM auth_codes WHERE jti = ?
//	UPDATE refresh_tokens SET revoked_reason = ? WHERE jti = ? AND revoked_reason IS NULL
//
// Ids are stored in their canonical textual form. The schema is embedded and
// applied with Migrate.
//
//	db, err := mysql.Open(ctx, mysql.Options{DSN: dsn})
//	store := mysql.New(db)
//	err = store.Migrate(ctx)
package mysql
