package model

import "time"

// Company is an organization derived from participant email domains,
// unique per (owner, domain). The unique constraint is the concurrency
// mechanism: concurrent resolvers upsert and the loser re-reads the
// winner's row.
type Company struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Domain    string    `json:"domain"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Customer is one external participant, unique per (company, email).
type Customer struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
