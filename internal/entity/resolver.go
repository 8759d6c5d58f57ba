// Package entity resolves conversation participants into companies and
// customers. Companies are keyed by email domain per owning account;
// customers by email within a company. Uniqueness lives in database
// constraints, so concurrent resolvers racing on the same domain both end up
// holding the single winning row.
package entity

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-sync/internal/model"
)

// Store is the persistence surface the resolver needs.
type Store interface {
	GetCompanyByDomain(ctx context.Context, ownerID, domain string) (*model.Company, error)
	ListCompaniesByDomains(ctx context.Context, ownerID string, domains []string) ([]*model.Company, error)
	InsertCompany(ctx context.Context, c *model.Company) (bool, error)
	GetCustomerByEmail(ctx context.Context, companyID, email string) (*model.Customer, error)
	ListCustomersByEmails(ctx context.Context, emails []string) ([]*model.Customer, error)
	InsertCustomer(ctx context.Context, c *model.Customer) (bool, error)
}

// defaultFreeMailDomains never become companies; a sender there is a person,
// not an organization.
var defaultFreeMailDomains = []string{
	"aol.com", "gmail.com", "googlemail.com", "hotmail.com", "icloud.com",
	"live.com", "me.com", "msn.com", "outlook.com", "proton.me",
	"protonmail.com", "yahoo.com",
}

// Resolver deduplicates participants into company and customer rows.
type Resolver struct {
	store       Store
	freeDomains map[string]bool
	log         *zap.Logger
}

// NewResolver creates a resolver. extraFreeDomains extends the built-in
// free-mail list.
func NewResolver(store Store, extraFreeDomains []string) *Resolver {
	free := make(map[string]bool, len(defaultFreeMailDomains)+len(extraFreeDomains))
	for _, d := range defaultFreeMailDomains {
		free[d] = true
	}
	for _, d := range extraFreeDomains {
		free[strings.ToLower(strings.TrimSpace(d))] = true
	}
	return &Resolver{
		store:       store,
		freeDomains: free,
		log:         zap.L().With(zap.String("component", "entity")),
	}
}

// Result holds the entities resolved for one conversation.
type Result struct {
	// Companies by domain.
	Companies map[string]*model.Company
	// Customers by lower-cased email.
	Customers map[string]*model.Customer
	// Skipped counts participants excluded as internal, free-mail, or
	// malformed.
	Skipped int
}

// Resolve maps every external participant to a company and customer,
// creating rows as needed. Participants on the account's own domain, on
// free-mail domains, or without a parseable domain are skipped.
func (r *Resolver) Resolve(ctx context.Context, accountID, accountEmail string, participants []model.Participant) (*Result, error) {
	internalDomain := model.Participant{Email: accountEmail}.Domain()

	res := &Result{
		Companies: map[string]*model.Company{},
		Customers: map[string]*model.Customer{},
	}

	type external struct {
		email  string
		name   string
		domain string
	}
	var externals []external
	domainSet := map[string]bool{}
	emailSet := map[string]bool{}
	for _, p := range participants {
		domain := p.Domain()
		if domain == "" || domain == internalDomain || r.freeDomains[domain] {
			res.Skipped++
			continue
		}
		email := strings.ToLower(strings.TrimSpace(p.Email))
		if emailSet[email] {
			continue
		}
		emailSet[email] = true
		domainSet[domain] = true
		externals = append(externals, external{email: email, name: p.Name, domain: domain})
	}
	if len(externals) == 0 {
		return res, nil
	}

	domains := make([]string, 0, len(domainSet))
	for d := range domainSet {
		domains = append(domains, d)
	}
	existing, err := r.store.ListCompaniesByDomains(ctx, accountID, domains)
	if err != nil {
		return nil, eris.Wrap(err, "entity: prefetch companies")
	}
	for _, c := range existing {
		res.Companies[c.Domain] = c
	}

	for _, d := range domains {
		if _, ok := res.Companies[d]; ok {
			continue
		}
		c, err := r.findOrCreateCompany(ctx, accountID, d)
		if err != nil {
			return nil, err
		}
		res.Companies[d] = c
	}

	emails := make([]string, 0, len(externals))
	for _, e := range externals {
		emails = append(emails, e.email)
	}
	existingCustomers, err := r.store.ListCustomersByEmails(ctx, emails)
	if err != nil {
		return nil, eris.Wrap(err, "entity: prefetch customers")
	}
	byCompanyEmail := map[string]*model.Customer{}
	for _, c := range existingCustomers {
		byCompanyEmail[c.CompanyID+"|"+c.Email] = c
	}

	for _, e := range externals {
		company := res.Companies[e.domain]
		if existing, ok := byCompanyEmail[company.ID+"|"+e.email]; ok {
			res.Customers[e.email] = existing
			continue
		}
		cust, err := r.findOrCreateCustomer(ctx, company.ID, e.email, e.name)
		if err != nil {
			return nil, err
		}
		res.Customers[e.email] = cust
	}

	return res, nil
}

// findOrCreateCompany inserts the company and, on a unique conflict,
// re-reads the row the concurrent winner created.
func (r *Resolver) findOrCreateCompany(ctx context.Context, accountID, domain string) (*model.Company, error) {
	c := &model.Company{
		OwnerID: accountID,
		Domain:  domain,
		Name:    CompanyNameFromDomain(domain),
	}
	created, err := r.store.InsertCompany(ctx, c)
	if err != nil {
		return nil, eris.Wrap(err, "entity: insert company")
	}
	if created {
		r.log.Debug("created company",
			zap.String("domain", domain),
			zap.String("company_id", c.ID),
		)
		return c, nil
	}

	winner, err := r.store.GetCompanyByDomain(ctx, accountID, domain)
	if err != nil {
		return nil, eris.Wrap(err, "entity: re-read company")
	}
	if winner == nil {
		return nil, eris.Errorf("entity: company %s conflicted but is missing", domain)
	}
	return winner, nil
}

func (r *Resolver) findOrCreateCustomer(ctx context.Context, companyID, email, name string) (*model.Customer, error) {
	c := &model.Customer{
		CompanyID: companyID,
		Email:     email,
		Name:      CustomerName(email, name),
	}
	created, err := r.store.InsertCustomer(ctx, c)
	if err != nil {
		return nil, eris.Wrap(err, "entity: insert customer")
	}
	if created {
		r.log.Debug("created customer",
			zap.String("email", email),
			zap.String("company_id", companyID),
		)
		return c, nil
	}

	winner, err := r.store.GetCustomerByEmail(ctx, companyID, email)
	if err != nil {
		return nil, eris.Wrap(err, "entity: re-read customer")
	}
	if winner == nil {
		return nil, eris.Errorf("entity: customer %s conflicted but is missing", email)
	}
	return winner, nil
}
