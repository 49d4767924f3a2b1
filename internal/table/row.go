package table

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Row is one record produced by a view: column name -> scalar or list value.
// Rows are read-only once produced; nothing in this module mutates them.
type Row map[string]any

// Get returns the raw value of col and whether the column exists.
func (r Row) Get(col string) (any, bool) {
	if r == nil || col == "" {
		return nil, false
	}
	v, ok := r[col]
	return v, ok
}

// NonNull returns the value of col when the column exists and the value is not null.
func (r Row) NonNull(col string) (any, bool) {
	v, ok := r.Get(col)
	if !ok || IsNull(v) {
		return nil, false
	}
	return v, true
}

// Columns returns the column names of r sorted lexically.
func (r Row) Columns() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Columns returns the union of column names over rows, in first-seen order.
// Map iteration is unordered so each row contributes its names sorted.
func Columns(rows []Row) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, r := range rows {
		for _, c := range r.Columns() {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// IsNull reports whether v should be treated as a missing cell.
// NaN floats count as null, matching what warehouse drivers hand back for
// empty numeric cells.
func IsNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	case *string:
		return x == nil
	case []byte:
		return x == nil
	}
	return false
}

// FormatValue renders v with plain string coercion. No locale formatting.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	case []string:
		return strings.Join(x, ", ")
	case []any:
		parts := make([]string, 0, len(x))
		for _, it := range x {
			parts = append(parts, FormatValue(it))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(v)
	}
}

// AsList coerces a cell to a list of strings. Scalars become single element
// lists; JSON array strings ("[\"a\",\"b\"]") are decoded.
func AsList(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), x...)
	case []any:
		out := make([]string, 0, len(x))
		for _, it := range x {
			out = append(out, FormatValue(it))
		}
		return out
	case string:
		s := strings.TrimSpace(x)
		if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
			var arr []any
			if err := json.Unmarshal([]byte(s), &arr); err == nil {
				return AsList(arr)
			}
		}
		if s == "" {
			return nil
		}
		return []string{x}
	default:
		if IsNull(v) {
			return nil
		}
		return []string{FormatValue(v)}
	}
}

// AsBool coerces a cell to a boolean. ok is false when v cannot be read as one.
func AsBool(v any) (val bool, ok bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case int:
		return x != 0, true
	case int64:
		return x != 0, true
	case float64:
		if math.IsNaN(x) {
			return false, false
		}
		return x != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "t", "yes", "y", "1":
			return true, true
		case "false", "f", "no", "n", "0":
			return false, true
		}
	}
	return false, false
}

// FormatForLog renders rows as a JSON array for delivery history. Values that
// cannot be marshaled are coerced to strings first.
func FormatForLog(rows ...Row) string {
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		m := make(map[string]any, len(r))
		for k, v := range r {
			switch v.(type) {
			case nil, string, bool, int, int32, int64, []string, []any:
				m[k] = v
			case float64:
				if IsNull(v) {
					m[k] = nil
				} else {
					m[k] = v
				}
			default:
				m[k] = FormatValue(v)
			}
		}
		out = append(out, m)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprint(out)
	}
	return string(b)
}
