// Package compiler turns view rows into outbound message bodies.
//
// Two strategies exist: Aggregated renders a whole row set as one digest
// message; PerRow renders one interactive message per row.
package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"viewbot/internal/table"
	"viewbot/internal/transport"
	"viewbot/internal/view"
)

// Slack Block Kit limits.
const (
	maxBlocks        = 50
	maxHeaderLen     = 150
	maxSectionText   = 3000
	maxFieldText     = 2000
	maxFields        = 10
	maxButtons       = 5
	maxSelectOptions = 100
	maxOptionText    = 75
)

var ErrOptionMismatch = errors.New("option name/value lists differ in length")

// RowError is a row-local compilation failure. It never aborts a batch.
type RowError struct {
	Index int
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Index, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Request carries the caller-level inputs shared by every row.
type Request struct {
	View        string
	ViewGroup   string
	Channel     string
	MessageText string
}

// Title derives a header from the view name: lower-cased, group name
// stripped, underscores to spaces, title-cased.
func Title(viewName, group string) string {
	s := strings.ToLower(viewName)
	if g := strings.ToLower(strings.TrimSpace(group)); g != "" {
		s = strings.ReplaceAll(s, g, "")
	}
	s = strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), " ")
	return cases.Title(language.English).String(s)
}

// Aggregated builds one message with a header and one two-column section per
// row. detailColumns nil means derive them from columns.
func Aggregated(rows []table.Row, columns []string, detailColumns []string, req Request) transport.Message {
	cm := table.Normalize(columns)
	if detailColumns == nil {
		detailColumns = table.DefaultDetailColumns(columns, cm)
	}

	blocks := make([]transport.Block, 0, len(rows)+1)
	if title := Title(req.View, req.ViewGroup); title != "" {
		blocks = append(blocks, headerBlock("header", title))
	}

	room := maxBlocks - len(blocks)
	for i, row := range rows {
		if i == room-1 && len(rows) > room {
			blocks = append(blocks, sectionBlock("more", fmt.Sprintf("_…and %d more rows_", len(rows)-i), nil))
			break
		}
		fields := []transport.Text{
			markdown(clip(orDash(primaryText(row, columns, cm)), maxFieldText)),
			markdown(clip(orDash(detailText(row, columns, detailColumns)), maxFieldText)),
		}
		blocks = append(blocks, sectionBlock("row_"+strconv.Itoa(i), "", fields))
	}

	return transport.Message{
		Channel: req.Channel,
		Text:    req.MessageText,
		Blocks:  blocks,
	}
}

// PerRow builds the interactive message of one row. eff must come from
// view.Resolve for the same row.
func PerRow(row table.Row, index int, columns []string, cm table.ColumnMap, eff view.Effective, req Request) (transport.Message, error) {
	text := req.MessageText
	if v, ok := cm.Lookup(row, table.RoleMessageText); ok {
		text = table.FormatValue(v)
	}

	options, err := rowOptions(row, cm)
	if err != nil {
		return transport.Message{}, &RowError{Index: index, Err: err}
	}

	id := "row_" + strconv.Itoa(index)
	blocks := make([]transport.Block, 0, 3)
	if v, ok := cm.Lookup(row, table.RoleHeader); ok {
		if h := strings.TrimSpace(table.FormatValue(v)); h != "" {
			blocks = append(blocks, headerBlock(id+"_header", h))
		}
	}

	detailColumns := eff.DetailColumns
	if detailColumns == nil {
		detailColumns = table.DefaultDetailColumns(columns, cm)
	}
	body := primaryText(row, columns, cm)
	if body == "" {
		body = text
	}
	blocks = append(blocks, sectionBlock(id+"_body", clip(orDash(body), maxSectionText), detailFields(row, columns, detailColumns)))

	if len(options) > 0 {
		blocks = append(blocks, actionsBlock(id+"_actions", options))
	}

	return transport.Message{
		Channel: req.Channel,
		Text:    text,
		Blocks:  blocks,
	}, nil
}

// rowOptions reads the parallel option lists. When only one of the two
// columns exists in the row set it serves as both label and value. A column
// that exists but is null in this row is an empty list.
func rowOptions(row table.Row, cm table.ColumnMap) ([]transport.Option, error) {
	names, hasNames := optionList(row, cm, table.RoleOptionName)
	values, hasValues := optionList(row, cm, table.RoleOptionValue)
	switch {
	case !hasNames && !hasValues:
		return nil, nil
	case !hasValues:
		values = names
	case !hasNames:
		names = values
	}
	if len(names) != len(values) {
		return nil, fmt.Errorf("%w: %d names, %d values", ErrOptionMismatch, len(names), len(values))
	}
	out := make([]transport.Option, 0, len(names))
	for i := range names {
		out = append(out, transport.Option{
			Text:  transport.Text{Type: transport.TextPlain, Text: clip(names[i], maxOptionText), Emoji: true},
			Value: values[i],
		})
	}
	return out, nil
}

func optionList(row table.Row, cm table.ColumnMap, role table.Role) ([]string, bool) {
	if _, mapped := cm.Column(role); !mapped {
		return nil, false
	}
	v, _ := cm.Lookup(row, role)
	return table.AsList(v), true
}

func actionsBlock(id string, options []transport.Option) transport.Block {
	b := transport.Block{Type: transport.BlockActions, BlockID: id}
	if len(options) <= maxButtons {
		for i, o := range options {
			label := o.Text
			b.Elements = append(b.Elements, transport.Element{
				Type:     transport.ElementButton,
				ActionID: "option_" + strconv.Itoa(i),
				Text:     &label,
				Value:    o.Value,
			})
		}
		return b
	}
	if len(options) > maxSelectOptions {
		options = options[:maxSelectOptions]
	}
	b.Elements = []transport.Element{{
		Type:        transport.ElementStaticSelect,
		ActionID:    "option_select",
		Placeholder: &transport.Text{Type: transport.TextPlain, Text: "Choose an option", Emoji: true},
		Options:     append([]transport.Option(nil), options...),
	}}
	return b
}

func headerBlock(id, text string) transport.Block {
	return transport.Block{
		Type:    transport.BlockHeader,
		BlockID: id,
		Text:    &transport.Text{Type: transport.TextPlain, Text: clip(text, maxHeaderLen), Emoji: true},
	}
}

func sectionBlock(id, text string, fields []transport.Text) transport.Block {
	b := transport.Block{Type: transport.BlockSection, BlockID: id, Fields: fields}
	if text != "" {
		t := markdown(text)
		b.Text = &t
	}
	return b
}

func markdown(s string) transport.Text {
	return transport.Text{Type: transport.TextMarkdown, Text: s}
}

// primaryText is the left-hand text of a row: the name column in bold
// followed by the text column, or the first non-empty column otherwise.
func primaryText(row table.Row, columns []string, cm table.ColumnMap) string {
	var parts []string
	if c, ok := table.FindColumn(columns, "name"); ok {
		if v, ok := row.NonNull(c); ok {
			parts = append(parts, "*"+table.FormatValue(v)+"*")
		}
	}
	if c, ok := table.FindColumn(columns, "text"); ok {
		if v, ok := row.NonNull(c); ok {
			parts = append(parts, table.FormatValue(v))
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}
	for _, c := range columns {
		if cm.Mapped(c) {
			continue
		}
		if v, ok := row.NonNull(c); ok {
			if s := table.FormatValue(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// detailText renders "*col*: value" lines for the right-hand column.
func detailText(row table.Row, columns, detail []string) string {
	var lines []string
	for _, want := range detail {
		c, ok := table.FindColumn(columns, want)
		if !ok {
			continue
		}
		v, ok := row.NonNull(c)
		if !ok {
			continue
		}
		lines = append(lines, "*"+c+"*: "+table.FormatValue(v))
	}
	return strings.Join(lines, "\n")
}

func detailFields(row table.Row, columns, detail []string) []transport.Text {
	var out []transport.Text
	for _, want := range detail {
		if len(out) == maxFields {
			break
		}
		c, ok := table.FindColumn(columns, want)
		if !ok {
			continue
		}
		v, ok := row.NonNull(c)
		if !ok {
			continue
		}
		out = append(out, markdown(clip("*"+c+"*\n"+table.FormatValue(v), maxFieldText)))
	}
	return out
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
