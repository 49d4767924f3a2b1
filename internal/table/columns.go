package table

import (
	"sort"
	"strings"
	"unicode"
)

// Role is the semantic meaning of a column, independent of how a given view
// spells it.
type Role string

const (
	RoleMessageText     Role = "MESSAGE_TEXT"
	RoleResponseType    Role = "RESPONSE_TYPE"
	RoleResponseMessage Role = "RESPONSE_MESSAGE"
	RoleReplaceOriginal Role = "REPLACE_ORIGINAL"
	RoleOptionName      Role = "OPTION_NAME"
	RoleOptionValue     Role = "OPTION_VALUE"
	RoleDetailColumns   Role = "DETAIL_COLUMNS"
	RoleHeader          Role = "HEADER"
)

// Roles lists every role in a fixed order.
var Roles = []Role{
	RoleMessageText,
	RoleResponseType,
	RoleResponseMessage,
	RoleReplaceOriginal,
	RoleOptionName,
	RoleOptionValue,
	RoleDetailColumns,
	RoleHeader,
}

// listRoles are the roles whose cells hold lists.
var listRoles = []Role{RoleOptionName, RoleOptionValue, RoleDetailColumns}

// aliases are compared after normalizeName; earlier aliases win.
var aliases = map[Role][]string{
	RoleMessageText:     {"message_text", "message", "slack_message", "alert_message", "msg"},
	RoleResponseType:    {"response_type", "reply_type"},
	RoleResponseMessage: {"response_message", "response_text", "reply_message"},
	RoleReplaceOriginal: {"replace_original", "replace_message", "replace"},
	RoleOptionName:      {"option_name", "option_names", "option_label", "option_labels", "button_text", "options"},
	RoleOptionValue:     {"option_value", "option_values", "button_value", "values"},
	RoleDetailColumns:   {"detail_columns", "details_columns", "detail_cols"},
	RoleHeader:          {"header", "title", "message_header"},
}

// structural columns never show up in derived detail text.
var structural = map[string]struct{}{
	"name":    {},
	"text":    {},
	"id":      {},
	"channel": {},
}

// ColumnMap maps a role to the actual column present in a row set.
// Roles without a matching column are absent.
type ColumnMap map[Role]string

// Column returns the column mapped to role.
func (m ColumnMap) Column(role Role) (string, bool) {
	c, ok := m[role]
	return c, ok && c != ""
}

// Lookup reads the role's cell from row, reporting false when the role is
// unmapped or the cell is null.
func (m ColumnMap) Lookup(row Row, role Role) (any, bool) {
	c, ok := m.Column(role)
	if !ok {
		return nil, false
	}
	return row.NonNull(c)
}

// ListColumns returns the mapped columns whose cells hold lists (option
// labels, option values, detail column names).
func (m ColumnMap) ListColumns() []string {
	var out []string
	for _, r := range listRoles {
		if c, ok := m.Column(r); ok {
			out = append(out, c)
		}
	}
	return out
}

// Mapped reports whether col is bound to any role.
func (m ColumnMap) Mapped(col string) bool {
	for _, c := range m {
		if c == col {
			return true
		}
	}
	return false
}

// Normalize builds a ColumnMap from the available column names. The result
// depends only on the set of names, never on their order.
func Normalize(columns []string) ColumnMap {
	byKey := map[string]string{}
	for _, c := range columns {
		k := normalizeName(c)
		if k == "" {
			continue
		}
		// Two spellings of the same name: keep the lexically smallest so
		// permutations of the input agree.
		if prev, ok := byKey[k]; !ok || c < prev {
			byKey[k] = c
		}
	}

	out := ColumnMap{}
	for _, role := range Roles {
		for _, a := range aliases[role] {
			if c, ok := byKey[normalizeName(a)]; ok {
				out[role] = c
				break
			}
		}
	}
	return out
}

// DefaultDetailColumns derives detail columns when a view configures none:
// every column except structural and role-mapped ones, in input order.
func DefaultDetailColumns(columns []string, cm ColumnMap) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if _, ok := structural[strings.ToLower(strings.TrimSpace(c))]; ok {
			continue
		}
		if cm.Mapped(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// FindColumn resolves name against columns case- and separator-insensitively.
func FindColumn(columns []string, name string) (string, bool) {
	want := normalizeName(name)
	if want == "" {
		return "", false
	}
	matches := []string{}
	for _, c := range columns {
		if normalizeName(c) == want {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[0], true
}

// normalizeName folds case and drops separators: "Option Name", "option_name"
// and "optionName" all become "optionname".
func normalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			continue
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
