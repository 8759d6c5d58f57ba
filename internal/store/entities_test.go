package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inbox-sync/internal/model"
)

func TestPostgres_InsertCompany_LoserReReadsWinner(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectExec(`INSERT INTO companies`).
		WithArgs(pgxmock.AnyArg(), "acc-1", "acme.com", "Acme").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`FROM companies WHERE owner_id = \$1 AND domain = \$2`).
		WithArgs("acc-1", "acme.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "owner_id", "domain", "name", "created_at", "updated_at"}).
			AddRow("comp-9", "acc-1", "acme.com", "Acme", now, now))

	ctx := context.Background()
	c := &model.Company{OwnerID: "acc-1", Domain: "acme.com", Name: "Acme"}
	created, err := s.InsertCompany(ctx, c)
	require.NoError(t, err)
	require.False(t, created)

	winner, err := s.GetCompanyByDomain(ctx, "acc-1", "acme.com")
	require.NoError(t, err)
	require.NotNil(t, winner)
	assert.Equal(t, "comp-9", winner.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListCompaniesByDomains_EmptyInput(t *testing.T) {
	s, mock := newMockStore(t)

	companies, err := s.ListCompaniesByDomains(context.Background(), "acc-1", nil)
	require.NoError(t, err)
	assert.Nil(t, companies)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListCompaniesByDomains(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery(`WHERE owner_id = \$1 AND domain = ANY\(\$2\)`).
		WithArgs("acc-1", []string{"acme.com", "globex.com"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "owner_id", "domain", "name", "created_at", "updated_at"}).
			AddRow("comp-1", "acc-1", "acme.com", "Acme", now, now).
			AddRow("comp-2", "acc-1", "globex.com", "Globex", now, now))

	companies, err := s.ListCompaniesByDomains(context.Background(), "acc-1", []string{"acme.com", "globex.com"})
	require.NoError(t, err)
	require.Len(t, companies, 2)
	assert.Equal(t, "globex.com", companies[1].Domain)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertCustomer_Created(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO customers`).
		WithArgs(pgxmock.AnyArg(), "comp-1", "amy@acme.com", "Amy Liu").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	c := &model.Customer{CompanyID: "comp-1", Email: "amy@acme.com", Name: "Amy Liu"}
	created, err := s.InsertCustomer(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, c.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
