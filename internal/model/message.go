package model

import (
	"strings"
	"time"
)

// Participant is one address seen on a conversation, normalized to lower
// case during import.
type Participant struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Domain returns the normalized domain part of the participant address,
// or "" when the address has no domain.
func (p Participant) Domain() string {
	addr := strings.ToLower(strings.TrimSpace(p.Email))
	i := strings.LastIndex(addr, "@")
	if i < 0 || i == len(addr)-1 {
		return ""
	}
	return addr[i+1:]
}

// Message is one email within a conversation. RawBody is kept verbatim
// from the provider; CleanBody is written by the cleaning stage.
type Message struct {
	ID            string        `json:"id"`
	StageRecordID string        `json:"stage_record_id"`
	AccountID     string        `json:"account_id"`
	MessageID     string        `json:"message_id"`
	ThreadID      string        `json:"thread_id"`
	FromEmail     string        `json:"from_email"`
	FromName      string        `json:"from_name,omitempty"`
	To            []Participant `json:"to,omitempty"`
	CC            []Participant `json:"cc,omitempty"`
	SentAt        time.Time     `json:"sent_at"`
	RawBody       string        `json:"-"`
	CleanBody     string        `json:"clean_body,omitempty"`
	CustomerID    *string       `json:"customer_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
