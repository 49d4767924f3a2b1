package compiler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewbot/internal/table"
	"viewbot/internal/transport"
	"viewbot/internal/view"
)

func perRow(t *testing.T, row table.Row, req Request) (transport.Message, error) {
	t.Helper()
	cols := table.Columns([]table.Row{row})
	cm := table.Normalize(cols)
	eff := view.Resolve(row, view.Config{}, cm, view.Info{View: req.View, ViewGroup: req.ViewGroup})
	return PerRow(row, 0, cols, cm, eff, req)
}

func findBlock(msg transport.Message, typ string) (transport.Block, bool) {
	for _, b := range msg.Blocks {
		if b.Type == typ {
			return b, true
		}
	}
	return transport.Block{}, false
}

func TestTitle(t *testing.T) {
	t.Parallel()
	tests := []struct {
		view, group, want string
	}{
		{"SALES_new_leads", "sales", "New Leads"},
		{"example_view", "examples", "Example View"},
		{"ops_disk_usage", "", "Ops Disk Usage"},
		{"sales", "sales", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Title(tt.view, tt.group), "%s/%s", tt.view, tt.group)
	}
}

func TestPerRowOptionsInOrder(t *testing.T) {
	t.Parallel()
	row := table.Row{
		"name":         "Client Y Renewal",
		"OPTION_NAME":  []any{"Accept", "Decline"},
		"OPTION_VALUE": []any{"accept", "decline"},
	}
	msg, err := perRow(t, row, Request{Channel: "C1", MessageText: "Renewals"})
	require.NoError(t, err)

	actions, ok := findBlock(msg, transport.BlockActions)
	require.True(t, ok)
	require.Len(t, actions.Elements, 2)
	assert.Equal(t, "Accept", actions.Elements[0].Text.Text)
	assert.Equal(t, "accept", actions.Elements[0].Value)
	assert.Equal(t, "Decline", actions.Elements[1].Text.Text)
	assert.Equal(t, "decline", actions.Elements[1].Value)

	opts := msg.Options()
	require.Len(t, opts, 2)
	assert.Equal(t, []string{"accept", "decline"}, []string{opts[0].Value, opts[1].Value})
	assert.Equal(t, "C1", msg.Channel)
	assert.Equal(t, "Renewals", msg.Text)
}

func TestPerRowManyOptionsUsesSelect(t *testing.T) {
	t.Parallel()
	names := []any{}
	for i := 0; i < 7; i++ {
		names = append(names, fmt.Sprintf("opt %d", i))
	}
	row := table.Row{"name": "x", "options": names}
	msg, err := perRow(t, row, Request{})
	require.NoError(t, err)

	actions, ok := findBlock(msg, transport.BlockActions)
	require.True(t, ok)
	require.Len(t, actions.Elements, 1)
	assert.Equal(t, transport.ElementStaticSelect, actions.Elements[0].Type)
	assert.Len(t, actions.Elements[0].Options, 7)
	// values default to labels when no value column exists
	assert.Equal(t, "opt 3", actions.Elements[0].Options[3].Value)
}

func TestPerRowMismatchedOptions(t *testing.T) {
	t.Parallel()
	row := table.Row{
		"option_name":  []any{"Accept", "Decline"},
		"option_value": []any{"accept"},
	}
	_, err := perRow(t, row, Request{})
	require.Error(t, err)
	var rowErr *RowError
	require.True(t, errors.As(err, &rowErr))
	assert.Equal(t, 0, rowErr.Index)
	assert.ErrorIs(t, err, ErrOptionMismatch)
}

func TestPerRowNullOptionValues(t *testing.T) {
	t.Parallel()
	row := table.Row{
		"option_name":  []any{"Accept", "Decline"},
		"option_value": nil,
	}
	_, err := perRow(t, row, Request{})
	assert.ErrorIs(t, err, ErrOptionMismatch)

	msg, err := perRow(t, table.Row{"name": "x", "option_name": nil, "option_value": nil}, Request{})
	require.NoError(t, err)
	_, ok := findBlock(msg, transport.BlockActions)
	assert.False(t, ok)
}

func TestPerRowWithoutOptionsIsPlain(t *testing.T) {
	t.Parallel()
	row := table.Row{"name": "Disk full", "host": "db1"}
	msg, err := perRow(t, row, Request{MessageText: "Ops alert"})
	require.NoError(t, err)
	_, ok := findBlock(msg, transport.BlockActions)
	assert.False(t, ok)

	section, ok := findBlock(msg, transport.BlockSection)
	require.True(t, ok)
	assert.Equal(t, "*Disk full*", section.Text.Text)
	require.Len(t, section.Fields, 1)
	assert.Equal(t, "*host*\ndb1", section.Fields[0].Text)
}

func TestPerRowMessageTextOverride(t *testing.T) {
	t.Parallel()
	msg, err := perRow(t, table.Row{"message_text": "custom", "name": "a"}, Request{MessageText: "default"})
	require.NoError(t, err)
	assert.Equal(t, "custom", msg.Text)

	msg, err = perRow(t, table.Row{"message_text": nil, "name": "a"}, Request{MessageText: "default"})
	require.NoError(t, err)
	assert.Equal(t, "default", msg.Text)
}

func TestPerRowHeader(t *testing.T) {
	t.Parallel()
	msg, err := perRow(t, table.Row{"Title": "Heads up", "name": "a"}, Request{})
	require.NoError(t, err)
	require.NotEmpty(t, msg.Blocks)
	assert.Equal(t, transport.BlockHeader, msg.Blocks[0].Type)
	assert.Equal(t, "Heads up", msg.Blocks[0].Text.Text)
}

func TestPerRowBlocksAreNotShared(t *testing.T) {
	t.Parallel()
	rows := []table.Row{
		{"name": "a", "option_name": []any{"Yes"}},
		{"name": "b", "option_name": []any{"Yes"}},
	}
	cols := table.Columns(rows)
	cm := table.Normalize(cols)
	var msgs []transport.Message
	for i, r := range rows {
		m, err := PerRow(r, i, cols, cm, view.Resolve(r, view.Config{}, cm, view.Info{}), Request{})
		require.NoError(t, err)
		msgs = append(msgs, m)
	}
	msgs[0].Blocks[0].Text.Text = "mutated"
	msgs[0].Blocks[1].Elements[0].Text.Text = "mutated"
	assert.Equal(t, "*b*", msgs[1].Blocks[0].Text.Text)
	assert.Equal(t, "Yes", msgs[1].Blocks[1].Elements[0].Text.Text)
}

func TestAggregated(t *testing.T) {
	t.Parallel()
	rows := []table.Row{
		{"name": "Project X", "status": "Pending", "priority": "High"},
		{"name": "Client Y", "status": nil, "priority": "Medium"},
	}
	cols := []string{"name", "status", "priority"}
	msg := Aggregated(rows, cols, nil, Request{View: "ops_open_projects", ViewGroup: "ops", Channel: "C9", MessageText: "Open projects"})

	require.Len(t, msg.Blocks, 3)
	assert.Equal(t, transport.BlockHeader, msg.Blocks[0].Type)
	assert.Equal(t, "Open Projects", msg.Blocks[0].Text.Text)
	require.Len(t, msg.Blocks[1].Fields, 2)
	assert.Equal(t, "*Project X*", msg.Blocks[1].Fields[0].Text)
	assert.Equal(t, "*status*: Pending\n*priority*: High", msg.Blocks[1].Fields[1].Text)
	assert.Equal(t, "*priority*: Medium", msg.Blocks[2].Fields[1].Text)
	assert.Equal(t, "C9", msg.Channel)
	assert.Equal(t, "Open projects", msg.Text)
}

func TestAggregatedConfiguredDetailColumns(t *testing.T) {
	t.Parallel()
	rows := []table.Row{{"name": "a", "Status": "open", "owner": "kim"}}
	msg := Aggregated(rows, []string{"name", "Status", "owner"}, []string{"status"}, Request{View: "v"})
	assert.Equal(t, "*Status*: open", msg.Blocks[1].Fields[1].Text)
}

func TestAggregatedCapsBlocks(t *testing.T) {
	t.Parallel()
	rows := make([]table.Row, 80)
	for i := range rows {
		rows[i] = table.Row{"name": fmt.Sprint(i)}
	}
	msg := Aggregated(rows, []string{"name"}, nil, Request{View: "big"})
	assert.Len(t, msg.Blocks, maxBlocks)
	last := msg.Blocks[len(msg.Blocks)-1]
	assert.Equal(t, "_…and 32 more rows_", last.Text.Text)
}
