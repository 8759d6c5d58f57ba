// Package crm pushes resolved companies and customers into Salesforce as
// Accounts and Contacts. Both objects are keyed by external id fields so
// repeated exports upsert instead of duplicating.
package crm

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-sync/internal/model"
	"github.com/sells-group/inbox-sync/pkg/salesforce"
)

// External id fields that key the upserts. The target org must define
// both and flag them as external ids.
const (
	accountKeyField = "Domain__c"
	contactKeyField = "Email__c"
)

// exportStore is the slice of the store the exporter needs.
type exportStore interface {
	ListCompanies(ctx context.Context, limit int) ([]*model.Company, error)
	ListCustomersByCompany(ctx context.Context, companyID string) ([]*model.Customer, error)
}

// Report summarizes one export run. Failed counts are record-level
// rejections reported by Salesforce, not transport errors.
type Report struct {
	Companies      int           `json:"companies"`
	AccountsPushed int           `json:"accounts_pushed"`
	AccountsFailed int           `json:"accounts_failed"`
	ContactsPushed int           `json:"contacts_pushed"`
	ContactsFailed int           `json:"contacts_failed"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Exporter mirrors the entity tables into a Salesforce org.
type Exporter struct {
	store exportStore
	sf    salesforce.Client
	log   *zap.Logger
}

// NewExporter creates a CRM exporter backed by the given store and
// Salesforce client.
func NewExporter(st exportStore, sf salesforce.Client) *Exporter {
	return &Exporter{
		store: st,
		sf:    sf,
		log:   zap.L().With(zap.String("component", "crm-export")),
	}
}

// Preflight verifies the org carries the external id fields the export
// keys on. A missing or mis-flagged field would reject every record, so
// the run aborts before pushing anything.
func (e *Exporter) Preflight(ctx context.Context) error {
	checks := []struct {
		object string
		field  string
	}{
		{"Account", accountKeyField},
		{"Contact", contactKeyField},
	}
	for _, c := range checks {
		desc, err := e.sf.DescribeSObject(ctx, c.object)
		if err != nil {
			return eris.Wrap(err, "crm: describe "+c.object)
		}
		f := desc.Field(c.field)
		if f == nil {
			return eris.Errorf("crm: %s has no %s field", c.object, c.field)
		}
		if !f.ExternalID {
			return eris.Errorf("crm: %s.%s is not an external id field", c.object, c.field)
		}
	}
	return nil
}

// Export upserts every company as an Account and its customers as
// Contacts. Record-level rejections are tallied and logged; a transport
// failure aborts the run with the partial report.
func (e *Exporter) Export(ctx context.Context) (*Report, error) {
	started := time.Now()

	if err := e.Preflight(ctx); err != nil {
		return nil, err
	}

	companies, err := e.store.ListCompanies(ctx, 0)
	if err != nil {
		return nil, eris.Wrap(err, "crm: list companies")
	}

	report := &Report{Companies: len(companies)}

	accounts := make([]map[string]any, 0, len(companies))
	for _, co := range companies {
		accounts = append(accounts, accountRecord(co))
	}
	results, err := salesforce.BulkUpsert(ctx, e.sf, "Account", accountKeyField, accounts)
	e.tally("Account", results, &report.AccountsPushed, &report.AccountsFailed)
	if err != nil {
		return report, eris.Wrap(err, "crm: push accounts")
	}

	for _, co := range companies {
		customers, err := e.store.ListCustomersByCompany(ctx, co.ID)
		if err != nil {
			return report, eris.Wrap(err, "crm: list customers for "+co.Domain)
		}
		if len(customers) == 0 {
			continue
		}

		contacts := make([]map[string]any, 0, len(customers))
		for _, cu := range customers {
			contacts = append(contacts, contactRecord(co, cu))
		}
		results, err := salesforce.BulkUpsert(ctx, e.sf, "Contact", contactKeyField, contacts)
		e.tally("Contact", results, &report.ContactsPushed, &report.ContactsFailed)
		if err != nil {
			return report, eris.Wrap(err, "crm: push contacts for "+co.Domain)
		}
	}

	report.Elapsed = time.Since(started)
	e.log.Info("crm export complete",
		zap.Int("companies", report.Companies),
		zap.Int("accounts_pushed", report.AccountsPushed),
		zap.Int("accounts_failed", report.AccountsFailed),
		zap.Int("contacts_pushed", report.ContactsPushed),
		zap.Int("contacts_failed", report.ContactsFailed),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// tally counts pushed and rejected records and logs each rejection.
func (e *Exporter) tally(object string, results []salesforce.CollectionResult, pushed, failed *int) {
	rejected := salesforce.Failed(results)
	*pushed += len(results) - len(rejected)
	*failed += len(rejected)
	for _, r := range rejected {
		e.log.Warn("crm record rejected",
			zap.String("object", object),
			zap.Strings("errors", r.Errors),
		)
	}
}

// accountRecord maps a company onto an Account keyed by domain.
func accountRecord(co *model.Company) map[string]any {
	name := co.Name
	if name == "" {
		name = co.Domain
	}
	return map[string]any{
		accountKeyField: co.Domain,
		"Name":          name,
		"Website":       "https://" + co.Domain,
	}
}

// contactRecord maps a customer onto a Contact keyed by email. The
// parent Account is referenced through its domain external id, so the
// export never reads Salesforce ids back.
func contactRecord(co *model.Company, cu *model.Customer) map[string]any {
	first, last := splitName(cu.Name, cu.Email)
	rec := map[string]any{
		contactKeyField: cu.Email,
		"Email":         cu.Email,
		"LastName":      last,
		"Account":       map[string]any{accountKeyField: co.Domain},
	}
	if first != "" {
		rec["FirstName"] = first
	}
	return rec
}

// splitName splits a display name into FirstName and LastName. Salesforce
// requires LastName, so the email local part stands in when the customer
// has no name at all.
func splitName(name, email string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		local, _, _ := strings.Cut(email, "@")
		return "", local
	case 1:
		return "", parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
	}
}
