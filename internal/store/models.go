package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Installation records one GitHub App installation: which account
// authorized this app.
type Installation struct {
	ID             int64
	InstallationID string
	AccountLogin   string
	AccountType    string
	CreatedAt      time.Time
}

// IdempotencyRecord is one successfully published check, keyed by the
// delivery's idempotency key.
type IdempotencyRecord struct {
	Key          string
	RepoFullName string
	HeadSHA      string
	CheckName    string
	PublishedAt  time.Time
}

func (s *Store) UpsertInstallation(ctx context.Context, installationID, accountLogin, accountType string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO installations (installation_id, account_login, account_type, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(installation_id) DO UPDATE SET
			account_login=excluded.account_login,
			account_type=excluded.account_type
	`, installationID, accountLogin, accountType, now)
	return err
}

func (s *Store) DeleteInstallation(ctx context.Context, installationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM installations WHERE installation_id = ?`, installationID)
	return err
}

func (s *Store) GetInstallation(ctx context.Context, installationID string) (Installation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, installation_id, account_login, account_type, created_at
		FROM installations WHERE installation_id = ?
	`, installationID)
	var inst Installation
	var created string
	if err := row.Scan(&inst.ID, &inst.InstallationID, &inst.AccountLogin, &inst.AccountType, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Installation{}, sql.ErrNoRows
		}
		return Installation{}, err
	}
	inst.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return inst, nil
}

// HasPublished reports whether idempotencyKey has already been recorded,
// backing the Publisher's local idempotency guard (publisher.Ledger).
func (s *Store) HasPublished(ctx context.Context, idempotencyKey string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM published_checks WHERE idempotency_key = ?`, idempotencyKey)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RecordPublished inserts a publish record; a duplicate key is not an
// error, since idempotent re-publish is the point of this table.
func (s *Store) RecordPublished(ctx context.Context, rec IdempotencyRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO published_checks (idempotency_key, repo_full_name, head_sha, check_name, published_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`, rec.Key, rec.RepoFullName, rec.HeadSHA, rec.CheckName, rec.PublishedAt.Format(time.RFC3339))
	return err
}
