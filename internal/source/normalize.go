package source

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ignite/list-loader/internal/domain"
)

// rowNormalizer converts one raw row into an ImportRecord. Each source
// owns its own instance: cases.Caser is stateful and must not be
// shared across goroutines.
type rowNormalizer struct {
	title cases.Caser
}

func newRowNormalizer() rowNormalizer {
	return rowNormalizer{title: cases.Title(language.English)}
}

func (n *rowNormalizer) record(row []string, mapping *ColumnMapping, line int) *domain.ImportRecord {
	rec := &domain.ImportRecord{LineNumber: line}

	for i, val := range row {
		val = strings.TrimSpace(val)
		if val == "" {
			continue
		}

		field, mapped := mapping.FieldMap[i]
		if !mapped {
			rawHeader := ""
			if i < len(mapping.RawNames) {
				rawHeader = strings.TrimSpace(mapping.RawNames[i])
			}
			if rawHeader != "" && !shouldSkipColumn(rawHeader) {
				if rec.Extra == nil {
					rec.Extra = make(map[string]string)
				}
				rec.Extra[rawHeader] = val
			}
			continue
		}

		switch field {
		case "email":
			rec.Email = normalizeEmail(val)
		case "first_name":
			rec.FirstName = n.name(val)
		case "last_name":
			rec.LastName = n.name(val)
		case "city":
			rec.City = n.name(val)
		case "state":
			rec.State = strings.ToUpper(val)
		case "country":
			rec.Country = normalizeCountry(val)
		case "zip":
			rec.Zip = normalizeZip(val)
		case "phone":
			if rec.Phone == "" {
				rec.Phone = normalizePhone(val)
			}
		case "external_id":
			rec.ExternalID = val
		}
	}

	return rec
}

func (n *rowNormalizer) name(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	return n.title.String(s)
}

func normalizeEmail(raw string) string {
	email := strings.ToLower(strings.TrimSpace(raw))
	email = strings.Trim(email, "\"'<>")
	return email
}

func normalizeCountry(raw string) string {
	v := strings.TrimSpace(raw)
	upper := strings.ToUpper(v)
	if len(upper) == 2 {
		return upper
	}
	switch strings.ToLower(v) {
	case "united states", "usa", "us", "united states of america":
		return "US"
	case "united kingdom", "uk", "gb", "great britain":
		return "GB"
	case "canada", "ca":
		return "CA"
	default:
		return upper
	}
}

func normalizeZip(raw string) string {
	z := strings.TrimSpace(raw)
	// Strip .0 suffix from float-parsed zip codes (e.g. "38824.0").
	if idx := strings.Index(z, "."); idx > 0 {
		z = z[:idx]
	}
	return z
}

func normalizePhone(raw string) string {
	// Keep only digits and leading +
	var b strings.Builder
	for i, r := range raw {
		if r == '+' && i == 0 {
			b.WriteRune(r)
		} else if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
