package delivery

import (
	"context"
	"errors"
	"strconv"
	"time"

	"viewbot/internal/transport"
)

// Transport delivers one compiled message. A returned error marks the item
// failed; it never stops the batch.
type Transport interface {
	Send(ctx context.Context, msg transport.Message, itemKey string) error
}

type TransportFunc func(ctx context.Context, msg transport.Message, itemKey string) error

func (f TransportFunc) Send(ctx context.Context, msg transport.Message, itemKey string) error {
	return f(ctx, msg, itemKey)
}

// Logger records one delivery outcome. Errors are swallowed by the coordinator.
type Logger interface {
	LogDelivery(ctx context.Context, rec Record) error
}

type LoggerFunc func(ctx context.Context, rec Record) error

func (f LoggerFunc) LogDelivery(ctx context.Context, rec Record) error { return f(ctx, rec) }

// Record is the per-item history entry.
type Record struct {
	BatchID       string    `json:"batch_id,omitempty"`
	ItemKey       string    `json:"item_key"`
	View          string    `json:"view"`
	ViewGroup     string    `json:"view_group"`
	ChannelID     string    `json:"channel_id"`
	Success       bool      `json:"success"`
	ErrorDetail   string    `json:"error_detail,omitempty"`
	FormattedData string    `json:"formatted_data"`
	MessageText   string    `json:"message_text"`
	At            time.Time `json:"at"`
}

// Detailer is implemented by transport errors that carry a short machine
// readable code, e.g. "rate_limited".
type Detailer interface {
	Detail() string
}

// Batch identifies the view run a set of items belongs to.
type Batch struct {
	ID        string
	View      string
	ViewGroup string
	Channel   string
}

// Item is one unit of delivery. Err is set when the item failed to compile;
// such items are logged but never sent.
type Item struct {
	Key           string
	Message       transport.Message
	FormattedData string
	Err           error
}

type Outcome struct {
	Index   int
	Key     string
	Success bool
	Detail  string
}

// ItemError is keyed "item_<index>".
type ItemError struct {
	Key    string
	Detail string
}

// Result is the aggregated batch outcome. AllSuccess holds iff Errors is
// empty; Errors is ordered by item index.
type Result struct {
	AllSuccess bool
	Errors     []ItemError
	Outcomes   []Outcome
}

// Failed returns the number of failed items.
func (r Result) Failed() int { return len(r.Errors) }

// ErrorMap returns the errors as key -> detail.
func (r Result) ErrorMap() map[string]string {
	m := make(map[string]string, len(r.Errors))
	for _, e := range r.Errors {
		m[e.Key] = e.Detail
	}
	return m
}

// NotDispatched is the outcome detail of items skipped after cancellation.
const NotDispatched = "not dispatched: context canceled"

var errUnknown = errors.New("unknown error")

// ErrorKey is the key of item i in Result.Errors.
func ErrorKey(i int) string { return "item_" + strconv.Itoa(i) }

// ItemKey is the transport-facing key of item i of view.
func ItemKey(view string, i int) string { return view + "_item_" + strconv.Itoa(i) }

// Detail reduces err to the string recorded for a failed item.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var d Detailer
	if errors.As(err, &d) {
		if s := d.Detail(); s != "" {
			return s
		}
	}
	if s := err.Error(); s != "" {
		return s
	}
	return errUnknown.Error()
}

// fold aggregates outcomes in index order.
func fold(outcomes []Outcome) Result {
	res := Result{AllSuccess: true, Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Success {
			continue
		}
		res.AllSuccess = false
		res.Errors = append(res.Errors, ItemError{Key: ErrorKey(o.Index), Detail: o.Detail})
	}
	return res
}
