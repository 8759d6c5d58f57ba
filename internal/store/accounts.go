package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/inbox-sync/internal/model"
)

const accountColumns = `id, email, grant_id, access_token, calendar_id, last_synced_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.Email, &a.GrantID, &a.AccessToken, &a.CalendarID,
		&a.LastSyncedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts the account or, when the email is already registered,
// refreshes its credentials. The stored row wins on ID.
func (s *Postgres) CreateAccount(ctx context.Context, a *model.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, grant_id, access_token, calendar_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET
			grant_id = EXCLUDED.grant_id,
			access_token = EXCLUDED.access_token,
			calendar_id = EXCLUDED.calendar_id,
			updated_at = now()
		RETURNING id, created_at, updated_at`,
		a.ID, a.Email, a.GrantID, a.AccessToken, a.CalendarID)
	if err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return eris.Wrap(err, "store: create account")
	}
	return nil
}

func (s *Postgres) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get account")
	}
	return a, nil
}

func (s *Postgres) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get account by email")
	}
	return a, nil
}

// GetAccountByGrant resolves the account a provider notification belongs
// to. Webhook payloads carry only the grant id.
func (s *Postgres) GetAccountByGrant(ctx context.Context, grantID string) (*model.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE grant_id = $1`, grantID)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get account by grant")
	}
	return a, nil
}

func (s *Postgres) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY email`)
	if err != nil {
		return nil, eris.Wrap(err, "store: list accounts")
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan account")
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// AdvanceWatermark moves the account watermark forward. A stale caller with
// an older timestamp leaves the row untouched.
func (s *Postgres) AdvanceWatermark(ctx context.Context, accountID string, to time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET last_synced_at = $2, updated_at = now()
		WHERE id = $1 AND (last_synced_at IS NULL OR last_synced_at < $2)`,
		accountID, to)
	if err != nil {
		return eris.Wrap(err, "store: advance watermark")
	}
	return nil
}
