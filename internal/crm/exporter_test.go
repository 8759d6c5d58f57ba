package crm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inbox-sync/internal/model"
	"github.com/sells-group/inbox-sync/pkg/salesforce"
	sfmocks "github.com/sells-group/inbox-sync/pkg/salesforce/mocks"
)

// mockStore covers the slice of the store the exporter consumes.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) ListCompanies(ctx context.Context, limit int) ([]*model.Company, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Company), args.Error(1)
}

func (m *mockStore) ListCustomersByCompany(ctx context.Context, companyID string) ([]*model.Customer, error) {
	args := m.Called(ctx, companyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Customer), args.Error(1)
}

func testCompany(id, domain, name string) *model.Company {
	return &model.Company{ID: id, OwnerID: "owner-1", Domain: domain, Name: name}
}

func testCustomer(companyID, email, name string) *model.Customer {
	return &model.Customer{ID: "cust-" + email, CompanyID: companyID, Email: email, Name: name}
}

// describeWith builds a describe response carrying the given key field.
func describeWith(object, field string, external bool) *salesforce.SObjectDescription {
	return &salesforce.SObjectDescription{
		Name: object,
		Fields: []salesforce.SObjectField{
			{Name: "Id", Type: "id"},
			{Name: "Name", Type: "string", Updateable: true},
			{Name: field, Type: "string", Updateable: true, ExternalID: external},
		},
	}
}

func expectPreflightOK(sf *sfmocks.MockClient) {
	sf.On("DescribeSObject", mock.Anything, "Account").
		Return(describeWith("Account", "Domain__c", true), nil)
	sf.On("DescribeSObject", mock.Anything, "Contact").
		Return(describeWith("Contact", "Email__c", true), nil)
}

func okCollection(n int) []salesforce.CollectionResult {
	results := make([]salesforce.CollectionResult, n)
	for i := range results {
		results[i] = salesforce.CollectionResult{ID: fmt.Sprintf("001%03d", i), Success: true}
	}
	return results
}

func TestPreflight_OK(t *testing.T) {
	sf := sfmocks.NewMockClient(t)
	expectPreflightOK(sf)

	e := NewExporter(&mockStore{}, sf)
	require.NoError(t, e.Preflight(context.Background()))
}

func TestPreflight_MissingField(t *testing.T) {
	sf := sfmocks.NewMockClient(t)
	sf.On("DescribeSObject", mock.Anything, "Account").
		Return(&salesforce.SObjectDescription{
			Name:   "Account",
			Fields: []salesforce.SObjectField{{Name: "Name", Type: "string"}},
		}, nil)

	e := NewExporter(&mockStore{}, sf)
	err := e.Preflight(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Account has no Domain__c field")
	sf.AssertNotCalled(t, "DescribeSObject", mock.Anything, "Contact")
}

func TestPreflight_NotExternalID(t *testing.T) {
	sf := sfmocks.NewMockClient(t)
	sf.On("DescribeSObject", mock.Anything, "Account").
		Return(describeWith("Account", "Domain__c", true), nil)
	sf.On("DescribeSObject", mock.Anything, "Contact").
		Return(describeWith("Contact", "Email__c", false), nil)

	e := NewExporter(&mockStore{}, sf)
	err := e.Preflight(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Contact.Email__c is not an external id field")
}

func TestPreflight_DescribeError(t *testing.T) {
	sf := sfmocks.NewMockClient(t)
	sf.On("DescribeSObject", mock.Anything, "Account").
		Return(nil, errors.New("invalid session"))

	e := NewExporter(&mockStore{}, sf)
	err := e.Preflight(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "crm: describe Account")
}

func TestExport_Empty(t *testing.T) {
	st := &mockStore{}
	st.On("ListCompanies", mock.Anything, 0).Return([]*model.Company{}, nil)

	sf := sfmocks.NewMockClient(t)
	expectPreflightOK(sf)

	e := NewExporter(st, sf)
	report, err := e.Export(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, report.Companies)
	assert.Equal(t, 0, report.AccountsPushed)
	assert.Equal(t, 0, report.ContactsPushed)
	sf.AssertNotCalled(t, "UpsertCollection", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExport_PushesAccountsAndContacts(t *testing.T) {
	companies := []*model.Company{
		testCompany("co-1", "acme.com", "Acme Manufacturing"),
		testCompany("co-2", "globex.io", ""),
	}
	customers := []*model.Customer{
		testCustomer("co-1", "alice@acme.com", "Alice Hart"),
		testCustomer("co-1", "bob@acme.com", ""),
	}

	st := &mockStore{}
	st.On("ListCompanies", mock.Anything, 0).Return(companies, nil)
	st.On("ListCustomersByCompany", mock.Anything, "co-1").Return(customers, nil)
	st.On("ListCustomersByCompany", mock.Anything, "co-2").Return([]*model.Customer{}, nil)

	sf := sfmocks.NewMockClient(t)
	expectPreflightOK(sf)
	sf.On("UpsertCollection", mock.Anything, "Account", "Domain__c", mock.MatchedBy(func(records []map[string]any) bool {
		return len(records) == 2 &&
			records[0]["Domain__c"] == "acme.com" &&
			records[0]["Name"] == "Acme Manufacturing" &&
			records[0]["Website"] == "https://acme.com" &&
			records[1]["Name"] == "globex.io"
	})).Return(okCollection(2), nil).Once()
	sf.On("UpsertCollection", mock.Anything, "Contact", "Email__c", mock.MatchedBy(func(records []map[string]any) bool {
		if len(records) != 2 {
			return false
		}
		acct, ok := records[0]["Account"].(map[string]any)
		if !ok || acct["Domain__c"] != "acme.com" {
			return false
		}
		_, hasFirst := records[1]["FirstName"]
		return records[0]["FirstName"] == "Alice" &&
			records[0]["LastName"] == "Hart" &&
			records[0]["Email__c"] == "alice@acme.com" &&
			!hasFirst &&
			records[1]["LastName"] == "bob"
	})).Return(okCollection(2), nil).Once()

	e := NewExporter(st, sf)
	report, err := e.Export(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, report.Companies)
	assert.Equal(t, 2, report.AccountsPushed)
	assert.Equal(t, 0, report.AccountsFailed)
	assert.Equal(t, 2, report.ContactsPushed)
	assert.Equal(t, 0, report.ContactsFailed)
	st.AssertExpectations(t)
}

func TestExport_TalliesRejections(t *testing.T) {
	companies := []*model.Company{
		testCompany("co-1", "acme.com", "Acme"),
		testCompany("co-2", "globex.io", "Globex"),
	}

	st := &mockStore{}
	st.On("ListCompanies", mock.Anything, 0).Return(companies, nil)
	st.On("ListCustomersByCompany", mock.Anything, mock.Anything).Return([]*model.Customer{}, nil)

	sf := sfmocks.NewMockClient(t)
	expectPreflightOK(sf)
	sf.On("UpsertCollection", mock.Anything, "Account", "Domain__c", mock.Anything).
		Return([]salesforce.CollectionResult{
			{ID: "001000", Success: true},
			{Success: false, Errors: []string{"Required fields are missing: [Name]"}},
		}, nil).Once()

	e := NewExporter(st, sf)
	report, err := e.Export(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.AccountsPushed)
	assert.Equal(t, 1, report.AccountsFailed)
}

func TestExport_AccountPushAborts(t *testing.T) {
	st := &mockStore{}
	st.On("ListCompanies", mock.Anything, 0).
		Return([]*model.Company{testCompany("co-1", "acme.com", "Acme")}, nil)

	sf := sfmocks.NewMockClient(t)
	expectPreflightOK(sf)
	sf.On("UpsertCollection", mock.Anything, "Account", "Domain__c", mock.Anything).
		Return(nil, errors.New("503 service unavailable")).Once()

	e := NewExporter(st, sf)
	report, err := e.Export(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "crm: push accounts")
	assert.Equal(t, 1, report.Companies)
	st.AssertNotCalled(t, "ListCustomersByCompany", mock.Anything, mock.Anything)
}

func TestExport_ContactPushAborts(t *testing.T) {
	st := &mockStore{}
	st.On("ListCompanies", mock.Anything, 0).
		Return([]*model.Company{testCompany("co-1", "acme.com", "Acme")}, nil)
	st.On("ListCustomersByCompany", mock.Anything, "co-1").
		Return([]*model.Customer{testCustomer("co-1", "alice@acme.com", "Alice Hart")}, nil)

	sf := sfmocks.NewMockClient(t)
	expectPreflightOK(sf)
	sf.On("UpsertCollection", mock.Anything, "Account", "Domain__c", mock.Anything).
		Return(okCollection(1), nil).Once()
	sf.On("UpsertCollection", mock.Anything, "Contact", "Email__c", mock.Anything).
		Return(nil, errors.New("connection reset")).Once()

	e := NewExporter(st, sf)
	report, err := e.Export(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "crm: push contacts for acme.com")
	assert.Equal(t, 1, report.AccountsPushed)
	assert.Equal(t, 0, report.ContactsPushed)
}

func TestExport_ListCompaniesError(t *testing.T) {
	st := &mockStore{}
	st.On("ListCompanies", mock.Anything, 0).Return(nil, errors.New("connection refused"))

	sf := sfmocks.NewMockClient(t)
	expectPreflightOK(sf)

	e := NewExporter(st, sf)
	_, err := e.Export(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "crm: list companies")
}

func TestExport_ListCustomersError(t *testing.T) {
	st := &mockStore{}
	st.On("ListCompanies", mock.Anything, 0).
		Return([]*model.Company{testCompany("co-1", "acme.com", "Acme")}, nil)
	st.On("ListCustomersByCompany", mock.Anything, "co-1").
		Return(nil, errors.New("connection refused"))

	sf := sfmocks.NewMockClient(t)
	expectPreflightOK(sf)
	sf.On("UpsertCollection", mock.Anything, "Account", "Domain__c", mock.Anything).
		Return(okCollection(1), nil).Once()

	e := NewExporter(st, sf)
	report, err := e.Export(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "crm: list customers for acme.com")
	assert.Equal(t, 1, report.AccountsPushed)
}

func TestAccountRecord(t *testing.T) {
	t.Run("named company", func(t *testing.T) {
		rec := accountRecord(testCompany("co-1", "acme.com", "Acme Manufacturing"))
		assert.Equal(t, "acme.com", rec["Domain__c"])
		assert.Equal(t, "Acme Manufacturing", rec["Name"])
		assert.Equal(t, "https://acme.com", rec["Website"])
	})

	t.Run("domain stands in for missing name", func(t *testing.T) {
		rec := accountRecord(testCompany("co-1", "globex.io", ""))
		assert.Equal(t, "globex.io", rec["Name"])
	})
}

func TestContactRecord(t *testing.T) {
	co := testCompany("co-1", "acme.com", "Acme")

	t.Run("full name", func(t *testing.T) {
		rec := contactRecord(co, testCustomer("co-1", "alice@acme.com", "Alice Hart"))
		assert.Equal(t, "alice@acme.com", rec["Email__c"])
		assert.Equal(t, "alice@acme.com", rec["Email"])
		assert.Equal(t, "Alice", rec["FirstName"])
		assert.Equal(t, "Hart", rec["LastName"])
		assert.Equal(t, map[string]any{"Domain__c": "acme.com"}, rec["Account"])
	})

	t.Run("single token omits first name", func(t *testing.T) {
		rec := contactRecord(co, testCustomer("co-1", "cher@acme.com", "Cher"))
		_, hasFirst := rec["FirstName"]
		assert.False(t, hasFirst)
		assert.Equal(t, "Cher", rec["LastName"])
	})
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		email     string
		wantFirst string
		wantLast  string
	}{
		{"empty falls back to email local part", "", "jdoe@acme.com", "", "jdoe"},
		{"single token", "Madonna", "m@acme.com", "", "Madonna"},
		{"two tokens", "Alice Hart", "alice@acme.com", "Alice", "Hart"},
		{"three tokens keep middle in first", "Mary Jane Watson", "mj@acme.com", "Mary Jane", "Watson"},
		{"surrounding whitespace", "  Bob Loblaw  ", "bob@acme.com", "Bob", "Loblaw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last := splitName(tt.input, tt.email)
			assert.Equal(t, tt.wantFirst, first)
			assert.Equal(t, tt.wantLast, last)
		})
	}
}
