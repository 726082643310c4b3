package domain

import "strings"

// ImportRecord is one normalized subscriber row produced by a record source.
// The submission pipeline treats it as read-only: outcome metadata lives in
// the executor's result, never on the record itself.
type ImportRecord struct {
	// LineNumber is the 1-based position in the source, used purely for
	// diagnostics and resume bookkeeping.
	LineNumber int `json:"line_number"`

	Email      string `json:"email"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country,omitempty"`
	Zip        string `json:"zip,omitempty"`
	ExternalID string `json:"external_id,omitempty"`

	// Extra holds source columns that map to no canonical field.
	Extra map[string]string `json:"extra,omitempty"`
}

// HasValidEmail reports whether the record carries an email-shaped value.
// Deliberately loose: real validation happens at the remote service, this
// only filters rows that cannot possibly be addresses.
func (r *ImportRecord) HasValidEmail() bool {
	email := r.Email
	if len(email) < 5 || len(email) > 254 {
		return false
	}
	at := strings.LastIndex(email, "@")
	if at < 1 || at >= len(email)-1 {
		return false
	}
	domain := email[at+1:]
	return strings.Contains(domain, ".") && len(domain) >= 3
}

// Field returns a canonical field by name, or the Extra value for unmapped
// columns. Used by deduplication key strategies that span all fields.
func (r *ImportRecord) Field(name string) string {
	switch name {
	case "email":
		return r.Email
	case "first_name":
		return r.FirstName
	case "last_name":
		return r.LastName
	case "phone":
		return r.Phone
	case "city":
		return r.City
	case "state":
		return r.State
	case "country":
		return r.Country
	case "zip":
		return r.Zip
	case "external_id":
		return r.ExternalID
	default:
		return r.Extra[name]
	}
}

// CanonicalFieldNames lists the fixed record fields in a stable order.
var CanonicalFieldNames = []string{
	"email", "first_name", "last_name", "phone",
	"city", "state", "country", "zip", "external_id",
}
