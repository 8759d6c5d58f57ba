package entity

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// secondLevelRegistries are labels that sit between the registrable name and
// a country TLD (acme.co.uk, acme.com.au). When one appears left of the TLD
// the registrable label is one position further in.
var secondLevelRegistries = map[string]bool{
	"ac":  true,
	"co":  true,
	"com": true,
	"edu": true,
	"gov": true,
	"net": true,
	"org": true,
}

// CompanyNameFromDomain derives a display name from the registrable label of
// a domain: "mail.acme.co.uk" -> "Acme".
func CompanyNameFromDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return titleCaser.String(domain)
	}
	idx := len(labels) - 2
	if idx > 0 && secondLevelRegistries[labels[idx]] {
		idx--
	}
	return titleCaser.String(labels[idx])
}

// CustomerName prefers the provider display name and falls back to the
// email local part, split on separators: "amy.liu@acme.com" -> "Amy Liu".
func CustomerName(email, displayName string) string {
	if name := strings.TrimSpace(displayName); name != "" {
		return name
	}
	local, _, found := strings.Cut(strings.TrimSpace(email), "@")
	if !found || local == "" {
		return ""
	}
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	for i, p := range parts {
		parts[i] = titleCaser.String(strings.ToLower(p))
	}
	return strings.Join(parts, " ")
}
