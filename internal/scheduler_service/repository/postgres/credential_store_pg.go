package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/postflow/golang_services/internal/scheduler_service/adapters/platform"
	"github.com/postflow/golang_services/internal/scheduler_service/domain"
)

const credentialSchema = `
CREATE TABLE IF NOT EXISTS platform_accounts (
	owner_id     TEXT NOT NULL,
	platform     TEXT NOT NULL,
	account_id   TEXT NOT NULL,
	access_token TEXT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (owner_id, platform)
);
`

// PgCredentialStore reads linked platform accounts. Linking itself (OAuth) is
// done elsewhere in the application and writes the same table.
type PgCredentialStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgCredentialStore(db *pgxpool.Pool, logger *slog.Logger) *PgCredentialStore {
	return &PgCredentialStore{db: db, logger: logger.With("component", "pg_credential_store")}
}

func (s *PgCredentialStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, credentialSchema); err != nil {
		return fmt.Errorf("failed to initialize credential schema: %w", err)
	}
	return nil
}

func (s *PgCredentialStore) GetCredentials(ctx context.Context, ownerID string, p domain.Platform) (*platform.Credentials, error) {
	query := `SELECT account_id, access_token FROM platform_accounts WHERE owner_id = $1 AND platform = $2`
	creds := &platform.Credentials{OwnerID: ownerID, Platform: p}
	err := s.db.QueryRow(ctx, query, ownerID, p).Scan(&creds.AccountID, &creds.AccessToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCredentialsNotFound
		}
		s.logger.ErrorContext(ctx, "Error loading platform credentials", "error", err, "owner_id", ownerID, "platform", p)
		return nil, err
	}
	return creds, nil
}
