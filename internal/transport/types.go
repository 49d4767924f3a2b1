package transport

// Block types understood by the transports. The shape follows Slack Block Kit so
// a Message can be posted to chat.postMessage as-is; other transports render it.
const (
	BlockHeader  = "header"
	BlockSection = "section"
	BlockDivider = "divider"
	BlockActions = "actions"
)

// Text object types.
const (
	TextPlain    = "plain_text"
	TextMarkdown = "mrkdwn"
)

// Interactive element types.
const (
	ElementButton       = "button"
	ElementStaticSelect = "static_select"
)

// Message is the outbound wire payload: channel, fallback text, blocks and the
// optional metadata envelope.
type Message struct {
	Channel  string    `json:"channel"`
	Text     string    `json:"text"`
	Blocks   []Block   `json:"blocks,omitempty"`
	Metadata *Envelope `json:"metadata,omitempty"`
}

// Block is one renderable unit of a message.
type Block struct {
	Type     string    `json:"type"`
	BlockID  string    `json:"block_id,omitempty"`
	Text     *Text     `json:"text,omitempty"`
	Fields   []Text    `json:"fields,omitempty"`
	Elements []Element `json:"elements,omitempty"`
}

type Text struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// Element is an interactive element inside an actions block.
type Element struct {
	Type        string   `json:"type"`
	ActionID    string   `json:"action_id,omitempty"`
	Text        *Text    `json:"text,omitempty"`
	Value       string   `json:"value,omitempty"`
	Placeholder *Text    `json:"placeholder,omitempty"`
	Options     []Option `json:"options,omitempty"`
}

type Option struct {
	Text  Text   `json:"text"`
	Value string `json:"value"`
}

// Envelope is the opaque state attached to a message so an interaction handler
// can resolve a user action without re-querying the data source.
type Envelope struct {
	EventType    string         `json:"event_type"`
	EventPayload map[string]any `json:"event_payload"`
}

// IsZero reports whether the envelope carries nothing.
func (e Envelope) IsZero() bool {
	return e.EventType == "" && len(e.EventPayload) == 0
}

// Options returns the options of the first interactive element of the message
// in display order. Buttons contribute one option each.
func (m Message) Options() []Option {
	for _, b := range m.Blocks {
		if b.Type != BlockActions {
			continue
		}
		var out []Option
		for _, el := range b.Elements {
			switch el.Type {
			case ElementButton:
				label := ""
				if el.Text != nil {
					label = el.Text.Text
				}
				out = append(out, Option{Text: Text{Type: TextPlain, Text: label}, Value: el.Value})
			case ElementStaticSelect:
				out = append(out, el.Options...)
			}
		}
		return out
	}
	return nil
}

// Clone returns a deep copy. Compiled messages are exclusively owned by the
// worker sending them, so anything that hands a message on copies it first.
func (m Message) Clone() Message {
	cp := m
	if m.Blocks != nil {
		cp.Blocks = make([]Block, len(m.Blocks))
		for i, b := range m.Blocks {
			cp.Blocks[i] = b.clone()
		}
	}
	if m.Metadata != nil {
		env := m.Metadata.Clone()
		cp.Metadata = &env
	}
	return cp
}

// Clone deep copies the envelope payload (nested maps and slices included).
func (e Envelope) Clone() Envelope {
	cp := Envelope{EventType: e.EventType}
	if e.EventPayload != nil {
		cp.EventPayload = cloneValue(e.EventPayload).(map[string]any)
	}
	return cp
}

func (b Block) clone() Block {
	cp := b
	if b.Text != nil {
		t := *b.Text
		cp.Text = &t
	}
	if b.Fields != nil {
		cp.Fields = append([]Text(nil), b.Fields...)
	}
	if b.Elements != nil {
		cp.Elements = make([]Element, len(b.Elements))
		for i, el := range b.Elements {
			e := el
			if el.Text != nil {
				t := *el.Text
				e.Text = &t
			}
			if el.Placeholder != nil {
				t := *el.Placeholder
				e.Placeholder = &t
			}
			if el.Options != nil {
				e.Options = append([]Option(nil), el.Options...)
			}
			cp.Elements[i] = e
		}
	}
	return cp
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i := range x {
			s[i] = cloneValue(x[i])
		}
		return s
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}
