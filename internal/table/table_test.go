package table

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAliases(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		columns []string
		role    Role
		want    string
	}{
		{name: "snake", columns: []string{"option_name"}, role: RoleOptionName, want: "option_name"},
		{name: "spaced title", columns: []string{"Option Name"}, role: RoleOptionName, want: "Option Name"},
		{name: "camel", columns: []string{"optionName"}, role: RoleOptionName, want: "optionName"},
		{name: "upper", columns: []string{"RESPONSE_TYPE"}, role: RoleResponseType, want: "RESPONSE_TYPE"},
		{name: "second alias", columns: []string{"Message"}, role: RoleMessageText, want: "Message"},
		{name: "first alias wins", columns: []string{"message", "MESSAGE_TEXT"}, role: RoleMessageText, want: "MESSAGE_TEXT"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cm := Normalize(tt.columns)
			got, ok := cm.Column(tt.role)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeMissingRoleIsAbsent(t *testing.T) {
	t.Parallel()
	cm := Normalize([]string{"name", "status"})
	_, ok := cm.Column(RoleOptionName)
	assert.False(t, ok)
	assert.Empty(t, cm)
}

func TestNormalizeOrderIndependent(t *testing.T) {
	t.Parallel()
	cols := []string{
		"name", "Option Name", "option_value", "RESPONSE_TYPE", "response message",
		"replaceOriginal", "detail_columns", "status", "option_name", "Title",
	}
	want := Normalize(cols)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		perm := append([]string(nil), cols...)
		rng.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
		assert.Equal(t, want, Normalize(perm))
	}
	// idempotent
	assert.Equal(t, want, Normalize(cols))
	// "Option Name" and "option_name" collide; smallest original wins.
	assert.Equal(t, "Option Name", want[RoleOptionName])
}

func TestListColumns(t *testing.T) {
	t.Parallel()
	cm := Normalize([]string{"Company", "Option Names", "button_value", "Detail Columns", "note"})
	assert.Equal(t, []string{"Option Names", "button_value", "Detail Columns"}, cm.ListColumns())
	assert.Empty(t, Normalize([]string{"note"}).ListColumns())
}

func TestDefaultDetailColumns(t *testing.T) {
	t.Parallel()
	cols := []string{"name", "text", "status", "priority", "option_name", "option_value", "due_date"}
	cm := Normalize(cols)
	assert.Equal(t, []string{"status", "priority", "due_date"}, DefaultDetailColumns(cols, cm))
}

func TestFindColumn(t *testing.T) {
	t.Parallel()
	c, ok := FindColumn([]string{"Due Date", "status"}, "due_date")
	require.True(t, ok)
	assert.Equal(t, "Due Date", c)
	_, ok = FindColumn([]string{"status"}, "owner")
	assert.False(t, ok)
}

func TestFormatValue(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "42", FormatValue(42))
	assert.Equal(t, "1.5", FormatValue(1.5))
	assert.Equal(t, "", FormatValue(math.NaN()))
	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, "2025-06-01", FormatValue(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "a, b", FormatValue([]any{"a", "b"}))
}

func TestAsList(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"Accept", "Decline"}, AsList([]any{"Accept", "Decline"}))
	assert.Equal(t, []string{"accept", "decline"}, AsList(`["accept","decline"]`))
	assert.Equal(t, []string{"solo"}, AsList("solo"))
	assert.Nil(t, AsList(nil))
	assert.Nil(t, AsList(math.NaN()))
}

func TestAsBool(t *testing.T) {
	t.Parallel()
	v, ok := AsBool("Yes")
	assert.True(t, ok)
	assert.True(t, v)
	v, ok = AsBool(0)
	assert.True(t, ok)
	assert.False(t, v)
	_, ok = AsBool("maybe")
	assert.False(t, ok)
}

func TestRowNonNull(t *testing.T) {
	t.Parallel()
	r := Row{"a": nil, "b": math.NaN(), "c": "x"}
	_, ok := r.NonNull("a")
	assert.False(t, ok)
	_, ok = r.NonNull("b")
	assert.False(t, ok)
	v, ok := r.NonNull("c")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestColumnsUnion(t *testing.T) {
	t.Parallel()
	rows := []Row{{"b": 1, "a": 2}, {"c": 3, "a": 4}}
	assert.Equal(t, []string{"a", "b", "c"}, Columns(rows))
}

func TestFormatForLog(t *testing.T) {
	t.Parallel()
	got := FormatForLog(Row{"name": "x", "n": math.NaN()})
	assert.JSONEq(t, `[{"name":"x","n":null}]`, got)
}
