package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inbox-sync/internal/model"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetCompanyByDomain(ctx context.Context, ownerID, domain string) (*model.Company, error) {
	args := m.Called(ctx, ownerID, domain)
	if c := args.Get(0); c != nil {
		return c.(*model.Company), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ListCompaniesByDomains(ctx context.Context, ownerID string, domains []string) ([]*model.Company, error) {
	args := m.Called(ctx, ownerID, domains)
	if c := args.Get(0); c != nil {
		return c.([]*model.Company), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) InsertCompany(ctx context.Context, c *model.Company) (bool, error) {
	args := m.Called(ctx, c)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) GetCustomerByEmail(ctx context.Context, companyID, email string) (*model.Customer, error) {
	args := m.Called(ctx, companyID, email)
	if c := args.Get(0); c != nil {
		return c.(*model.Customer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ListCustomersByEmails(ctx context.Context, emails []string) ([]*model.Customer, error) {
	args := m.Called(ctx, emails)
	if c := args.Get(0); c != nil {
		return c.([]*model.Customer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) InsertCustomer(ctx context.Context, c *model.Customer) (bool, error) {
	args := m.Called(ctx, c)
	return args.Bool(0), args.Error(1)
}

func TestResolver_Resolve_SkipsInternalAndFreeMail(t *testing.T) {
	ms := new(mockStore)
	r := NewResolver(ms, nil)

	ms.On("ListCompaniesByDomains", mock.Anything, "acc-1", []string{"acme.com"}).
		Return(nil, nil)
	ms.On("InsertCompany", mock.Anything, mock.MatchedBy(func(c *model.Company) bool {
		return c.OwnerID == "acc-1" && c.Domain == "acme.com" && c.Name == "Acme"
	})).Return(true, nil)
	ms.On("ListCustomersByEmails", mock.Anything, []string{"amy.liu@acme.com"}).
		Return(nil, nil)
	ms.On("InsertCustomer", mock.Anything, mock.MatchedBy(func(c *model.Customer) bool {
		return c.Email == "amy.liu@acme.com" && c.Name == "Amy Liu"
	})).Return(true, nil)

	res, err := r.Resolve(context.Background(), "acc-1", "rep@sells.group", []model.Participant{
		{Email: "rep@sells.group"},
		{Email: "friend@gmail.com"},
		{Email: "Amy.Liu@Acme.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	require.Contains(t, res.Companies, "acme.com")
	require.Contains(t, res.Customers, "amy.liu@acme.com")
	ms.AssertExpectations(t)
}

func TestResolver_Resolve_ConflictReReadsWinner(t *testing.T) {
	ms := new(mockStore)
	r := NewResolver(ms, nil)

	winner := &model.Company{ID: "comp-9", OwnerID: "acc-1", Domain: "acme.com", Name: "Acme"}
	ms.On("ListCompaniesByDomains", mock.Anything, "acc-1", []string{"acme.com"}).
		Return(nil, nil)
	ms.On("InsertCompany", mock.Anything, mock.Anything).Return(false, nil)
	ms.On("GetCompanyByDomain", mock.Anything, "acc-1", "acme.com").Return(winner, nil)
	ms.On("ListCustomersByEmails", mock.Anything, []string{"amy@acme.com"}).
		Return(nil, nil)
	ms.On("InsertCustomer", mock.Anything, mock.MatchedBy(func(c *model.Customer) bool {
		return c.CompanyID == "comp-9"
	})).Return(true, nil)

	res, err := r.Resolve(context.Background(), "acc-1", "rep@sells.group", []model.Participant{
		{Email: "amy@acme.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "comp-9", res.Companies["acme.com"].ID)
	ms.AssertExpectations(t)
}

func TestResolver_Resolve_ReusesExistingRows(t *testing.T) {
	ms := new(mockStore)
	r := NewResolver(ms, nil)

	company := &model.Company{ID: "comp-1", OwnerID: "acc-1", Domain: "acme.com", Name: "Acme"}
	customer := &model.Customer{ID: "cust-1", CompanyID: "comp-1", Email: "amy@acme.com"}
	ms.On("ListCompaniesByDomains", mock.Anything, "acc-1", []string{"acme.com"}).
		Return([]*model.Company{company}, nil)
	ms.On("ListCustomersByEmails", mock.Anything, []string{"amy@acme.com"}).
		Return([]*model.Customer{customer}, nil)

	res, err := r.Resolve(context.Background(), "acc-1", "rep@sells.group", []model.Participant{
		{Email: "amy@acme.com"},
	})
	require.NoError(t, err)
	assert.Same(t, company, res.Companies["acme.com"])
	assert.Same(t, customer, res.Customers["amy@acme.com"])
	ms.AssertNotCalled(t, "InsertCompany", mock.Anything, mock.Anything)
	ms.AssertNotCalled(t, "InsertCustomer", mock.Anything, mock.Anything)
}

func TestResolver_Resolve_NothingExternal(t *testing.T) {
	ms := new(mockStore)
	r := NewResolver(ms, []string{"partner-freemail.example"})

	res, err := r.Resolve(context.Background(), "acc-1", "rep@sells.group", []model.Participant{
		{Email: "rep@sells.group"},
		{Email: "colleague@sells.group"},
		{Email: "someone@partner-freemail.example"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Skipped)
	assert.Empty(t, res.Companies)
	assert.Empty(t, res.Customers)
	ms.AssertNotCalled(t, "ListCompaniesByDomains", mock.Anything, mock.Anything, mock.Anything)
}

func TestCompanyNameFromDomain(t *testing.T) {
	cases := map[string]string{
		"acme.com":        "Acme",
		"mail.acme.co.uk": "Acme",
		"acme.com.au":     "Acme",
		"globex.io":       "Globex",
		"localhost":       "Localhost",
	}
	for domain, want := range cases {
		assert.Equal(t, want, CompanyNameFromDomain(domain), domain)
	}
}

func TestCustomerName(t *testing.T) {
	assert.Equal(t, "Amy Liu", CustomerName("x@acme.com", "Amy Liu"))
	assert.Equal(t, "Amy Liu", CustomerName("amy.liu@acme.com", ""))
	assert.Equal(t, "Amy Liu X", CustomerName("amy_liu-x@acme.com", ""))
	assert.Equal(t, "", CustomerName("not-an-email", ""))
}
