package tools

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	crmIDPattern     = regexp.MustCompile(`^[a-zA-Z0-9]{15}$|^[a-zA-Z0-9]{18}$`)
	soqlFieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// SanitizeFieldValue escapes a string destined for a CRM field: backslashes,
// quotes, and control characters.
func SanitizeFieldValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\'':
			b.WriteString(`\'`)
		case r == '"':
			b.WriteString(`\"`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20:
			// Drop other control characters outright.
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SanitizeFields applies SanitizeFieldValue to every string value in a field
// map, returning a new map.
func SanitizeFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok {
			out[k] = SanitizeFieldValue(s)
		} else {
			out[k] = v
		}
	}
	return out
}

// ValidateCRMID checks the 15- or 18-character alphanumeric CRM id format.
func ValidateCRMID(id string) error {
	if !crmIDPattern.MatchString(id) {
		return eris.New("invalid CRM record id: " + id)
	}
	return nil
}

// QueryBuilder constructs simple SELECT queries while refusing field names
// outside the safe identifier alphabet.
type QueryBuilder struct {
	object     string
	fields     []string
	conditions []string
	limit      int
	err        error
}

// NewQuery starts a query against the named object.
func NewQuery(object string) *QueryBuilder {
	qb := &QueryBuilder{object: object}
	if !soqlFieldPattern.MatchString(object) {
		qb.err = eris.New("query: invalid object name " + object)
	}
	return qb
}

// Select adds result fields.
func (qb *QueryBuilder) Select(fields ...string) *QueryBuilder {
	for _, f := range fields {
		if !soqlFieldPattern.MatchString(f) {
			qb.err = eris.New("query: invalid field name " + f)
			return qb
		}
		qb.fields = append(qb.fields, f)
	}
	return qb
}

// WhereEquals adds an equality condition with an escaped string literal.
func (qb *QueryBuilder) WhereEquals(field, value string) *QueryBuilder {
	if !soqlFieldPattern.MatchString(field) {
		qb.err = eris.New("query: invalid field name " + field)
		return qb
	}
	qb.conditions = append(qb.conditions, field+" = '"+SanitizeFieldValue(value)+"'")
	return qb
}

// Limit caps the result count.
func (qb *QueryBuilder) Limit(n int) *QueryBuilder {
	qb.limit = n
	return qb
}

// Build renders the query, or the first construction error.
func (qb *QueryBuilder) Build() (string, error) {
	if qb.err != nil {
		return "", qb.err
	}
	if len(qb.fields) == 0 {
		return "", eris.New("query: no fields selected")
	}
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(qb.fields, ", "))
	b.WriteString(" FROM ")
	b.WriteString(qb.object)
	if len(qb.conditions) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(qb.conditions, " AND "))
	}
	if qb.limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(qb.limit))
	}
	return b.String(), nil
}
