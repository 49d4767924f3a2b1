package view

import (
	"strings"

	"viewbot/internal/table"
)

// Resolve merges cfg with the row's override columns. A non-null override
// that parses wins; otherwise the view value; otherwise the hard default.
func Resolve(row table.Row, cfg Config, cm table.ColumnMap, info Info) Effective {
	eff := Effective{
		ResponseType:    DefaultResponseType,
		ResponseMessage: DefaultResponseMessage,
		ReplaceOriginal: DefaultReplaceOriginal,
		View:            info.View,
		ViewGroup:       info.ViewGroup,
	}

	if rt, ok := ParseResponseType(string(cfg.ResponseType)); ok {
		eff.ResponseType = rt
	}
	if v, ok := cm.Lookup(row, table.RoleResponseType); ok {
		if rt, ok := ParseResponseType(table.FormatValue(v)); ok {
			eff.ResponseType = rt
		}
	}

	if cfg.ResponseMessage != "" {
		eff.ResponseMessage = cfg.ResponseMessage
	}
	if v, ok := cm.Lookup(row, table.RoleResponseMessage); ok {
		if s := table.FormatValue(v); strings.TrimSpace(s) != "" {
			eff.ResponseMessage = s
		}
	}

	if cfg.ReplaceOriginal != nil {
		eff.ReplaceOriginal = *cfg.ReplaceOriginal
	}
	if v, ok := cm.Lookup(row, table.RoleReplaceOriginal); ok {
		if b, ok := table.AsBool(v); ok {
			eff.ReplaceOriginal = b
		}
	}

	if cfg.DetailColumns != nil {
		eff.DetailColumns = append([]string(nil), cfg.DetailColumns...)
	}
	if v, ok := cm.Lookup(row, table.RoleDetailColumns); ok {
		if cols := splitColumns(v); len(cols) > 0 {
			eff.DetailColumns = cols
		}
	}
	return eff
}

// splitColumns accepts a list cell or a comma separated string.
func splitColumns(v any) []string {
	var raw []string
	if s, ok := v.(string); ok && !strings.HasPrefix(strings.TrimSpace(s), "[") {
		raw = strings.Split(s, ",")
	} else {
		raw = table.AsList(v)
	}
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
