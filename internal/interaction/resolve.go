// Package interaction resolves a user action on a delivered message back to
// its originating view and response policy, using only the envelope payload.
package interaction

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"viewbot/internal/metadata"
	"viewbot/internal/table"
	"viewbot/internal/view"
)

var ErrNoMetadata = errors.New("message carries no metadata")

// Action is what the user did: who, and which option (label and value).
type Action struct {
	UserID   string
	UserName string
	Text     string
	Value    string
}

// Response is the reply an interaction handler should post.
type Response struct {
	ResponseType    view.ResponseType
	Text            string
	ReplaceOriginal bool
	View            string
	ViewGroup       string
	// RowIndex is -1 when the payload has no custom_row_index.
	RowIndex int
}

// Resolve builds the response for act from an envelope payload. Missing
// policy fields fall back to the hard defaults.
func Resolve(payload map[string]any, act Action) (Response, error) {
	if len(payload) == 0 {
		return Response{}, ErrNoMetadata
	}

	resp := Response{
		ResponseType:    view.DefaultResponseType,
		Text:            view.DefaultResponseMessage,
		ReplaceOriginal: view.DefaultReplaceOriginal,
		RowIndex:        -1,
	}
	if s, ok := payload[metadata.KeyResponseType].(string); ok {
		if rt, ok := view.ParseResponseType(s); ok {
			resp.ResponseType = rt
		}
	}
	if s, ok := payload[metadata.KeyResponseMessage].(string); ok && strings.TrimSpace(s) != "" {
		resp.Text = s
	}
	if v, ok := payload[metadata.KeyReplaceOriginal]; ok {
		if b, ok := table.AsBool(v); ok {
			resp.ReplaceOriginal = b
		}
	}
	resp.View, _ = payload[metadata.KeyView].(string)
	resp.ViewGroup, _ = payload[metadata.KeyViewGroup].(string)
	if v, ok := metadata.Custom(payload, "row_index"); ok {
		if i, ok := asIndex(v); ok {
			resp.RowIndex = i
		}
	}

	resp.Text = Fill(resp.Text, act)
	return resp, nil
}

// Fill substitutes {user}, {text} and {value}. Unknown braces are left alone.
func Fill(tmpl string, act Action) string {
	user := act.UserName
	if user == "" {
		user = act.UserID
	}
	return strings.NewReplacer(
		"{user}", user,
		"{text}", act.Text,
		"{value}", act.Value,
	).Replace(tmpl)
}

// asIndex accepts the numeric shapes a row index takes after a JSON round trip.
func asIndex(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		if math.IsNaN(x) || x != math.Trunc(x) {
			return 0, false
		}
		return int(x), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		return i, err == nil
	}
	return 0, false
}
