package source

import "strings"

// columnAliases maps lowercase header names to canonical fields.
// When multiple raw headers mean the same thing, they all map here.
var columnAliases = map[string]string{
	// Email
	"email":          "email",
	"email_address":  "email",
	"emailaddress":   "email",
	"e-mail":         "email",
	"mail":           "email",
	"plaintextemail": "email",
	"address":        "email",

	// First name
	"first_name": "first_name",
	"firstname":  "first_name",
	"fname":      "first_name",
	"first":      "first_name",
	"first name": "first_name",
	"given_name": "first_name",

	// Last name
	"last_name": "last_name",
	"lastname":  "last_name",
	"lname":     "last_name",
	"last":      "last_name",
	"last name": "last_name",
	"surname":   "last_name",

	// Location
	"city":         "city",
	"town":         "city",
	"state":        "state",
	"province":     "state",
	"country":      "country",
	"country_code": "country",
	"zip":          "zip",
	"zipcode":      "zip",
	"zip_code":     "zip",
	"post code":    "zip",
	"postal_code":  "zip",
	"postcode":     "zip",

	// Phone
	"phone":        "phone",
	"phone_number": "phone",
	"mobile":       "phone",
	"cell":         "phone",

	// External subscriber ID
	"external_id":   "external_id",
	"externalid":    "external_id",
	"subscriberid":  "external_id",
	"subscriber_id": "external_id",
	"contact_id":    "external_id",
	"customer_id":   "external_id",
}

// skipColumns are columns that carry no useful information.
var skipColumns = map[string]bool{
	"eof":        true,
	"format":     true,
	"row":        true,
	"row_number": true,
	"reason":     true,
}

// ColumnMapping holds the resolved mapping from column indices to
// canonical fields.
type ColumnMapping struct {
	EmailIdx int
	FieldMap map[int]string // column index -> canonical field
	RawNames []string       // original header names
}

// MapColumns takes a raw header row and returns a resolved mapping.
// Returns nil if no email column is found.
func MapColumns(header []string) *ColumnMapping {
	m := &ColumnMapping{
		EmailIdx: -1,
		FieldMap: make(map[int]string, len(header)),
		RawNames: header,
	}

	for i, h := range header {
		normalized := strings.ToLower(strings.TrimSpace(h))
		normalized = strings.Trim(normalized, "\"'")

		if field, ok := columnAliases[normalized]; ok {
			m.FieldMap[i] = field
			if field == "email" {
				m.EmailIdx = i
			}
		}
	}

	// Fallback: scan for any header containing "email" if no exact match.
	if m.EmailIdx < 0 {
		for i, h := range header {
			if strings.Contains(strings.ToLower(h), "email") {
				m.FieldMap[i] = "email"
				m.EmailIdx = i
				break
			}
		}
	}

	if m.EmailIdx < 0 {
		return nil
	}
	return m
}

// LooksLikeEmail returns true if the value appears to be an email
// address. Used to detect headerless CSVs where the first row is data,
// not column names.
func LooksLikeEmail(val string) bool {
	v := strings.TrimSpace(val)
	if len(v) < 5 || len(v) > 254 {
		return false
	}
	at := strings.LastIndex(v, "@")
	if at < 1 || at >= len(v)-1 {
		return false
	}
	domain := v[at+1:]
	return strings.Contains(domain, ".") && len(domain) >= 3
}

// MapColumnsHeaderless builds a ColumnMapping for a CSV with no header
// row by scanning the first data row for an email-shaped cell.
// Returns nil if none is found.
func MapColumnsHeaderless(firstRow []string) *ColumnMapping {
	m := &ColumnMapping{
		EmailIdx: -1,
		FieldMap: make(map[int]string),
	}
	for i, val := range firstRow {
		if m.EmailIdx < 0 && LooksLikeEmail(val) {
			m.EmailIdx = i
			m.FieldMap[i] = "email"
		}
	}
	if m.EmailIdx < 0 {
		return nil
	}
	return m
}

func shouldSkipColumn(headerName string) bool {
	return skipColumns[strings.ToLower(strings.TrimSpace(headerName))]
}
