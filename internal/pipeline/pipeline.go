// Package pipeline runs a view's rows through normalization, per-row config
// resolution, compilation, envelope encoding and delivery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"viewbot/internal/compiler"
	"viewbot/internal/delivery"
	"viewbot/internal/metadata"
	"viewbot/internal/table"
	"viewbot/internal/transport"
	"viewbot/internal/view"
	logx "viewbot/pkg/logx"
)

// ErrConfig marks requests rejected before any delivery.
var ErrConfig = errors.New("pipeline config")

type Strategy string

const (
	// Aggregated sends one digest message for the whole row set.
	Aggregated Strategy = "aggregated"
	// PerRow sends one interactive message per row.
	PerRow Strategy = "per_row"
)

// ParseStrategy accepts the canonical names plus "per-row", "individual" and
// "digest".
func ParseStrategy(s string) (Strategy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "per_row", "per-row", "perrow", "individual":
		return PerRow, true
	case "aggregated", "aggregate", "digest":
		return Aggregated, true
	}
	return "", false
}

type Request struct {
	View        string
	ViewGroup   string
	Channel     string
	MessageText string
	Strategy    Strategy
	Config      view.Config
	// Custom is copied into every envelope as custom_<key>.
	Custom map[string]any
	// ViewExtra adds view-identifying keys to the envelope payload.
	ViewExtra map[string]any
	Rows      []table.Row
}

func (r Request) validate() error {
	if strings.TrimSpace(r.View) == "" {
		return fmt.Errorf("%w: view name is required", ErrConfig)
	}
	if strings.TrimSpace(r.Channel) == "" {
		return fmt.Errorf("%w: view %q has no channel", ErrConfig, r.View)
	}
	if _, ok := ParseStrategy(string(r.Strategy)); !ok {
		return fmt.Errorf("%w: view %q: unknown strategy %q", ErrConfig, r.View, r.Strategy)
	}
	if err := r.Config.Validate(); err != nil {
		return fmt.Errorf("%w: view %q: %w", ErrConfig, r.View, err)
	}
	return nil
}

type Pipeline struct {
	coord *delivery.Coordinator
	log   logx.Logger
}

func New(coord *delivery.Coordinator, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{coord: coord, log: log.With(logx.String("comp", "pipeline"))}
}

// Run compiles and delivers req. Only configuration errors are returned;
// item failures are reported in the result.
func (p *Pipeline) Run(ctx context.Context, req Request) (delivery.Result, error) {
	items, err := Compile(req)
	if err != nil {
		return delivery.Result{}, err
	}
	b := delivery.Batch{
		ID:        uuid.NewString(),
		View:      req.View,
		ViewGroup: req.ViewGroup,
		Channel:   req.Channel,
	}
	if len(items) == 0 {
		p.log.Info("view returned no rows", logx.String("batch", b.ID), logx.String("view", req.View))
		return delivery.Result{AllSuccess: true}, nil
	}

	strategy, _ := ParseStrategy(string(req.Strategy))
	p.log.Debug("batch compiled",
		logx.String("batch", b.ID),
		logx.String("view", req.View),
		logx.String("strategy", string(strategy)),
		logx.Int("rows", len(req.Rows)),
		logx.Int("items", len(items)),
	)
	return p.coord.Deliver(ctx, b, items), nil
}

// Compile turns req into delivery items without sending anything. Row-local
// compile errors are carried on the item.
func Compile(req Request) ([]delivery.Item, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if len(req.Rows) == 0 {
		return nil, nil
	}
	strategy, _ := ParseStrategy(string(req.Strategy))
	if strategy == Aggregated {
		return []delivery.Item{compileAggregated(req)}, nil
	}
	return compilePerRow(req), nil
}

func compileAggregated(req Request) delivery.Item {
	columns := table.Columns(req.Rows)
	msg := compiler.Aggregated(req.Rows, columns, req.Config.DetailColumns, compilerRequest(req))
	return delivery.Item{
		Key:           req.View,
		Message:       msg,
		FormattedData: table.FormatForLog(req.Rows...),
	}
}

func compilePerRow(req Request) []delivery.Item {
	columns := table.Columns(req.Rows)
	cm := table.Normalize(columns)
	info := view.Info{View: req.View, ViewGroup: req.ViewGroup}
	creq := compilerRequest(req)

	items := make([]delivery.Item, 0, len(req.Rows))
	for i, row := range req.Rows {
		it := delivery.Item{
			Key:           delivery.ItemKey(req.View, i),
			FormattedData: table.FormatForLog(row),
		}
		eff := view.Resolve(row, req.Config, cm, info)
		msg, err := compiler.PerRow(row, i, columns, cm, eff, creq)
		if err != nil {
			it.Err = err
			it.Message = transport.Message{Channel: req.Channel, Text: req.MessageText}
			items = append(items, it)
			continue
		}

		policy := eff.Policy()
		env := metadata.Encode(
			metadata.EventType(req.View),
			metadata.ViewInfo{View: req.View, ViewGroup: req.ViewGroup, Extra: req.ViewExtra},
			&policy,
			customData(req.Custom, i),
		)
		it.Message = metadata.Attach(msg, env)
		items = append(items, it)
	}
	return items
}

func compilerRequest(req Request) compiler.Request {
	return compiler.Request{
		View:        req.View,
		ViewGroup:   req.ViewGroup,
		Channel:     req.Channel,
		MessageText: req.MessageText,
	}
}

func customData(base map[string]any, rowIndex int) map[string]any {
	out := make(map[string]any, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out["row_index"] = rowIndex
	return out
}
