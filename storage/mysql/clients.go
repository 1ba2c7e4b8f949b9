package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/authserver/storage"
)

const selectClient = `
	SELECT id, alias, type, secret_hash, secret_version,
	       allowed_scopes, default_scopes, trusted
	FROM clients
`

// GetClient retrieves a client by id.
func (s *Store) GetClient(ctx context.Context, id uuid.UUID) (*storage.Client, error) {
	start := time.Now()
	c, err := s.getClient(ctx, selectClient+"WHERE id = ?", id)
	s.record(ctx, "get_client", start, err)
	return c, err
}

// GetClientByAlias retrieves a client by alias.
func (s *Store) GetClientByAlias(ctx context.Context, alias string) (*storage.Client, error) {
	start := time.Now()
	c, err := s.getClient(ctx, selectClient+"WHERE alias = ?", alias)
	s.record(ctx, "get_client_by_alias", start, err)
	return c, err
}

func (s *Store) getClient(ctx context.Context, query string, arg any) (*storage.Client, error) {
	var (
		c       storage.Client
		typ     string
		hash    []byte
		version sql.NullInt16
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&c.ID, &c.Alias, &typ, &hash, &version,
		&c.AllowedScopes, &c.DefaultScopes, &c.Trusted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query client: %w", err)
	}
	c.Type = storage.ClientType(typ)
	if version.Valid {
		c.Secret = &storage.PasswordHash{
			Hash:    hash,
			Version: storage.HashVersion(version.Int16),
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT redirect_uri
		FROM client_redirect_uris
		WHERE client_id = ?
		ORDER BY position
	`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query redirect uris: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("failed to scan redirect uri: %w", err)
		}
		c.RedirectURIs = append(c.RedirectURIs, uri)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read redirect uris: %w", err)
	}
	return &c, nil
}

// SaveClient inserts a client and its redirect URIs in one transaction.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	start := time.Now()
	defer func() { s.record(ctx, "save_client", start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var hash []byte
	var version sql.NullInt16
	if client.Secret != nil {
		hash = client.Secret.Hash
		version = sql.NullInt16{Int16: int16(client.Secret.Version), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO clients (
			id, alias, type, secret_hash, secret_version,
			allowed_scopes, default_scopes, trusted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, client.ID, client.Alias, string(client.Type), hash, version,
		client.AllowedScopes, client.DefaultScopes, client.Trusted)
	if err != nil {
		if dupErr := asDuplicate(err, storage.ErrAliasTaken); dupErr != nil {
			return dupErr
		}
		return fmt.Errorf("failed to insert client: %w", err)
	}

	for i, uri := range client.RedirectURIs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO client_redirect_uris (client_id, position, redirect_uri)
			VALUES (?, ?, ?)
		`, client.ID, i, uri)
		if err != nil {
			return fmt.Errorf("failed to insert redirect uri: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit client: %w", err)
	}
	return nil
}

// UpdateClientSecret replaces a client's secret hash.
func (s *Store) UpdateClientSecret(ctx context.Context, id uuid.UUID, secret storage.PasswordHash) error {
	n, err := s.execCount(ctx, "update_client_secret", `
		UPDATE clients SET secret_hash = ?, secret_version = ? WHERE id = ?
	`, secret.Hash, int16(secret.Version), id)
	if err == nil && n == 0 {
		err = storage.ErrClientNotFound
	}
	return err
}

// ClientIDExists reports whether a client id is in use.
func (s *Store) ClientIDExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return exists(ctx, s.db, `SELECT 1 FROM clients WHERE id = ?`, id)
}
