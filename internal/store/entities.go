package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/inbox-sync/internal/model"
)

const companyColumns = `id, owner_id, domain, name, created_at, updated_at`
const customerColumns = `id, company_id, email, name, created_at, updated_at`

func scanCompany(row pgx.Row) (*model.Company, error) {
	var c model.Company
	err := row.Scan(&c.ID, &c.OwnerID, &c.Domain, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCustomer(row pgx.Row) (*model.Customer, error) {
	var c model.Customer
	err := row.Scan(&c.ID, &c.CompanyID, &c.Email, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Postgres) GetCompanyByDomain(ctx context.Context, ownerID, domain string) (*model.Company, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+companyColumns+` FROM companies WHERE owner_id = $1 AND domain = $2`,
		ownerID, domain)
	c, err := scanCompany(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get company by domain")
	}
	return c, nil
}

// ListCompaniesByDomains prefetches companies for a batch of domains so the
// resolver can work against an in-memory map.
func (s *Postgres) ListCompaniesByDomains(ctx context.Context, ownerID string, domains []string) ([]*model.Company, error) {
	if len(domains) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+companyColumns+` FROM companies WHERE owner_id = $1 AND domain = ANY($2)`,
		ownerID, domains)
	if err != nil {
		return nil, eris.Wrap(err, "store: list companies by domains")
	}
	defer rows.Close()

	var companies []*model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan company")
		}
		companies = append(companies, c)
	}
	return companies, rows.Err()
}

// InsertCompany adds a company unless the (owner, domain) pair exists.
// Returns false on conflict; the caller re-reads the winning row.
func (s *Postgres) InsertCompany(ctx context.Context, c *model.Company) (bool, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO companies (id, owner_id, domain, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id, domain) DO NOTHING`,
		c.ID, c.OwnerID, c.Domain, c.Name)
	if err != nil {
		return false, eris.Wrap(err, "store: insert company")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) GetCustomerByEmail(ctx context.Context, companyID, email string) (*model.Customer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+customerColumns+` FROM customers WHERE company_id = $1 AND email = $2`,
		companyID, email)
	c, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get customer by email")
	}
	return c, nil
}

func (s *Postgres) ListCustomersByEmails(ctx context.Context, emails []string) ([]*model.Customer, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+customerColumns+` FROM customers WHERE email = ANY($1)`, emails)
	if err != nil {
		return nil, eris.Wrap(err, "store: list customers by emails")
	}
	defer rows.Close()

	var customers []*model.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan customer")
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Postgres) InsertCustomer(ctx context.Context, c *model.Customer) (bool, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO customers (id, company_id, email, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (company_id, email) DO NOTHING`,
		c.ID, c.CompanyID, c.Email, c.Name)
	if err != nil {
		return false, eris.Wrap(err, "store: insert customer")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) ListCompanies(ctx context.Context, limit int) ([]*model.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies ORDER BY domain`
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $1`
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list companies")
	}
	defer rows.Close()

	var companies []*model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan company")
		}
		companies = append(companies, c)
	}
	return companies, rows.Err()
}

func (s *Postgres) ListCustomersByCompany(ctx context.Context, companyID string) ([]*model.Customer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+customerColumns+` FROM customers WHERE company_id = $1 ORDER BY email`, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "store: list customers by company")
	}
	defer rows.Close()

	var customers []*model.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan customer")
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}
