package dedup

import (
	"sort"
	"strings"

	"github.com/ignite/list-loader/internal/domain"
)

// Strategy selects the fields that make up a record's deduplication
// key. The set is closed; callers pick one at construction time.
type Strategy string

const (
	// StrategyByEmail keys on the normalized email alone.
	StrategyByEmail Strategy = "by_email"

	// StrategyByEmailPhone keys on normalized email plus phone, so the
	// same address with two phone numbers stays two records.
	StrategyByEmailPhone Strategy = "by_email_phone"

	// StrategyAllFields keys on every populated field. Only fully
	// identical rows collapse.
	StrategyAllFields Strategy = "all_fields"
)

// Valid reports whether s is one of the known strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyByEmail, StrategyByEmailPhone, StrategyAllFields:
		return true
	}
	return false
}

// Key derives the deduplication key for a record. An empty return
// means the key is underivable and the record can never be merged.
func (s Strategy) Key(record domain.ImportRecord) string {
	switch s {
	case StrategyByEmailPhone:
		email := normalizeEmail(record.Email)
		if email == "" {
			return ""
		}
		return email + "|" + normalizePhone(record.Phone)

	case StrategyAllFields:
		parts := make([]string, 0, len(domain.CanonicalFieldNames)+len(record.Extra))
		empty := true
		for _, name := range domain.CanonicalFieldNames {
			v := normalizeField(record.Field(name))
			if v != "" {
				empty = false
			}
			parts = append(parts, v)
		}
		if len(record.Extra) > 0 {
			keys := make([]string, 0, len(record.Extra))
			for k := range record.Extra {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				v := normalizeField(record.Extra[k])
				if v != "" {
					empty = false
				}
				parts = append(parts, k+"="+v)
			}
		}
		if empty {
			return ""
		}
		return strings.Join(parts, "|")

	default:
		return normalizeEmail(record.Email)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// normalizePhone keeps digits only so formatting variants of the same
// number compare equal.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeField(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
