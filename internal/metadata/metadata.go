// Package metadata encodes the envelope attached to outbound messages and
// reads it back from delivered or echoed messages.
//
// The payload is one flat mapping built in a fixed order:
//
//  1. view info (view, view_group, extra view keys)
//  2. response policy (response_type, response_message, replace_original)
//  3. custom data, each key prefixed with "custom_"
//
// Later writes win, so a view-info key that collides with a response-policy
// key is overwritten by the policy.
package metadata

import (
	"encoding/json"
	"fmt"

	"viewbot/internal/transport"
	"viewbot/internal/view"
)

// Payload keys consumed by interaction handlers.
const (
	KeyView            = "view"
	KeyViewGroup       = "view_group"
	KeyResponseType    = "response_type"
	KeyResponseMessage = "response_message"
	KeyReplaceOriginal = "replace_original"
	CustomPrefix       = "custom_"
)

// ViewInfo identifies the originating view. Extra carries additional
// view-identifying keys and is written before View/ViewGroup.
type ViewInfo struct {
	View      string
	ViewGroup string
	Extra     map[string]any
}

// EventType returns the event type used for a view's notifications.
func EventType(viewName string) string {
	return viewName + "_notification"
}

// Encode builds the envelope. policy may be nil for messages without a
// response policy (e.g. the aggregated digest).
func Encode(eventType string, info ViewInfo, policy *view.ResponsePolicy, custom map[string]any) transport.Envelope {
	payload := map[string]any{}

	for k, v := range info.Extra {
		payload[k] = v
	}
	if info.View != "" {
		payload[KeyView] = info.View
	}
	if info.ViewGroup != "" {
		payload[KeyViewGroup] = info.ViewGroup
	}

	if policy != nil {
		payload[KeyResponseType] = string(policy.ResponseType)
		payload[KeyResponseMessage] = policy.ResponseMessage
		payload[KeyReplaceOriginal] = policy.ReplaceOriginal
	}

	for k, v := range custom {
		payload[CustomPrefix+k] = v
	}

	return transport.Envelope{EventType: eventType, EventPayload: payload}
}

// Attach returns a copy of msg carrying env under the reserved metadata field.
// msg itself is left untouched.
func Attach(msg transport.Message, env transport.Envelope) transport.Message {
	out := msg.Clone()
	e := env.Clone()
	out.Metadata = &e
	return out
}

// Extract returns the envelope of msg, or the empty envelope when none is
// attached. Absence is expected for messages compiled without metadata.
func Extract(msg transport.Message) transport.Envelope {
	if msg.Metadata == nil {
		return transport.Envelope{}
	}
	return msg.Metadata.Clone()
}

// PayloadOf returns the event payload of msg, or an empty map.
func PayloadOf(msg transport.Message) map[string]any {
	p := Extract(msg).EventPayload
	if p == nil {
		return map[string]any{}
	}
	return p
}

// Marshal encodes env for transports that must store it out of band.
func Marshal(env transport.Envelope) ([]byte, error) {
	if env.EventPayload == nil {
		env.EventPayload = map[string]any{}
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("metadata marshal: %w", err)
	}
	return b, nil
}

// Unmarshal is the inverse of Marshal. Numbers decode as float64.
func Unmarshal(b []byte) (transport.Envelope, error) {
	var env transport.Envelope
	if len(b) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return transport.Envelope{}, fmt.Errorf("metadata unmarshal: %w", err)
	}
	if env.EventPayload == nil {
		env.EventPayload = map[string]any{}
	}
	return env, nil
}

// Custom returns the value of a custom_ key.
func Custom(payload map[string]any, key string) (any, bool) {
	v, ok := payload[CustomPrefix+key]
	return v, ok
}
