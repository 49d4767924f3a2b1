// Package view holds the per-view response configuration and resolves the
// effective configuration of each row.
package view

import (
	"errors"
	"fmt"
	"strings"
)

// ResponseType controls who sees the interaction handler's reply.
type ResponseType string

const (
	Ephemeral ResponseType = "ephemeral"
	InChannel ResponseType = "in_channel"
)

// Hard defaults used when neither the row nor the view configures a field.
const (
	DefaultResponseType    = Ephemeral
	DefaultResponseMessage = "Thank you for your response!"
	DefaultReplaceOriginal = false
)

var ErrInvalidConfig = errors.New("invalid view config")

// ParseResponseType accepts the canonical names plus a few spellings seen in
// view columns ("In Channel", "in-channel").
func ParseResponseType(s string) (ResponseType, bool) {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.NewReplacer(" ", "_", "-", "_").Replace(k)
	switch ResponseType(k) {
	case Ephemeral:
		return Ephemeral, true
	case InChannel:
		return InChannel, true
	}
	return "", false
}

// Config is the view-wide default configuration supplied by the caller.
// Zero fields mean "not configured" and fall through to the hard defaults.
type Config struct {
	ResponseType    ResponseType
	ResponseMessage string
	ReplaceOriginal *bool
	// DetailColumns is nil when the view does not configure any; the compiler
	// then derives them from the row set.
	DetailColumns []string
}

// Validate reports configuration errors that must stop a run before anything
// is delivered.
func (c Config) Validate() error {
	if c.ResponseType != "" {
		if _, ok := ParseResponseType(string(c.ResponseType)); !ok {
			return fmt.Errorf("%w: unknown response_type %q", ErrInvalidConfig, c.ResponseType)
		}
	}
	if c.ResponseMessage != "" && strings.TrimSpace(c.ResponseMessage) == "" {
		return fmt.Errorf("%w: response_message is blank", ErrInvalidConfig)
	}
	for i, col := range c.DetailColumns {
		if strings.TrimSpace(col) == "" {
			return fmt.Errorf("%w: detail_columns[%d] is empty", ErrInvalidConfig, i)
		}
	}
	return nil
}

// Info identifies the view a row came from. It is not overridable per row.
type Info struct {
	View      string
	ViewGroup string
}

// ResponsePolicy tells the interaction handler how to react to an action on a
// specific message. It is embedded verbatim into the message envelope.
type ResponsePolicy struct {
	ResponseType    ResponseType
	ResponseMessage string
	ReplaceOriginal bool
}

// Effective is the per-row configuration: view defaults with row overrides applied.
type Effective struct {
	ResponseType    ResponseType
	ResponseMessage string
	ReplaceOriginal bool
	DetailColumns   []string
	View            string
	ViewGroup       string
}

func (e Effective) Policy() ResponsePolicy {
	return ResponsePolicy{
		ResponseType:    e.ResponseType,
		ResponseMessage: e.ResponseMessage,
		ReplaceOriginal: e.ReplaceOriginal,
	}
}

func (e Effective) Info() Info {
	return Info{View: e.View, ViewGroup: e.ViewGroup}
}

func Bool(v bool) *bool { return &v }
