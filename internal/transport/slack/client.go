// Package slack posts compiled messages to the Slack Web API and answers
// interaction callbacks.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"

	"viewbot/internal/interaction"
	"viewbot/internal/transport"
	logx "viewbot/pkg/logx"
)

const (
	DefaultAPIURL  = slackapi.APIURL
	defaultTimeout = 10 * time.Second
)

type Config struct {
	Token   string
	APIURL  string
	Timeout time.Duration
	// MaxRetries applies to 429 and 5xx responses only.
	MaxRetries int
}

// APIError is a failed Web API call. Detail returns the Slack error code
// ("channel_not_found", "rate_limited", ...) recorded in delivery history.
type APIError struct {
	Method     string
	Code       string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	if e.Status != 0 && e.Status != http.StatusOK {
		return fmt.Sprintf("slack %s: %s (HTTP %d)", e.Method, e.Code, e.Status)
	}
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) Detail() string { return e.Code }

func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// apiError maps slack-go errors onto *APIError. Transport errors (dial,
// timeout, cancellation) are returned unchanged.
func apiError(method string, err error) error {
	if err == nil {
		return nil
	}
	var rl *slackapi.RateLimitedError
	if errors.As(err, &rl) {
		return &APIError{Method: method, Code: "rate_limited", Status: http.StatusTooManyRequests, RetryAfter: rl.RetryAfter, Err: err}
	}
	var sc slackapi.StatusCodeError
	if errors.As(err, &sc) {
		code := "http_" + strconv.Itoa(sc.Code)
		if sc.Code == http.StatusTooManyRequests {
			code = "rate_limited"
		}
		return &APIError{Method: method, Code: code, Status: sc.Code, Err: err}
	}
	var se slackapi.SlackErrorResponse
	if errors.As(err, &se) {
		code := se.Err
		if code == "" {
			code = "unknown_error"
		}
		return &APIError{Method: method, Code: code, Status: http.StatusOK, Err: err}
	}
	return fmt.Errorf("slack %s: %w", method, err)
}

type Client struct {
	api     *slackapi.Client
	http    *http.Client
	retries int
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("slack token is required")
	}
	api := strings.TrimSpace(cfg.APIURL)
	if api == "" {
		api = DefaultAPIURL
	}
	if !strings.HasSuffix(api, "/") {
		api += "/"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	hc := &http.Client{Timeout: timeout}
	return &Client{
		api:     slackapi.New(cfg.Token, slackapi.OptionAPIURL(api), slackapi.OptionHTTPClient(hc)),
		http:    hc,
		retries: max(0, cfg.MaxRetries),
		log:     log.With(logx.String("comp", "slack")),
	}, nil
}

// Send posts msg with chat.postMessage. The metadata envelope travels in the
// message's metadata field and comes back on interaction payloads.
func (c *Client) Send(ctx context.Context, msg transport.Message, itemKey string) error {
	opts, err := messageOptions(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", itemKey, err)
	}
	if err := c.post(ctx, msg.Channel, opts); err != nil {
		return err
	}
	c.log.Debug("message posted", logx.String("item", itemKey), logx.String("channel", msg.Channel))
	return nil
}

// PostText posts a plain message. It backs the ops log channel.
func (c *Client) PostText(ctx context.Context, channel, text string) error {
	return c.post(ctx, channel, []slackapi.MsgOption{slackapi.MsgOptionText(text, false)})
}

// Respond answers an interaction through its response_url. The URL carries
// its own authorization, so the bot token is never sent there.
func (c *Client) Respond(ctx context.Context, responseURL string, r interaction.Response) error {
	err := slackapi.PostWebhookCustomHTTPContext(ctx, responseURL, c.http, &slackapi.WebhookMessage{
		ResponseType:    string(r.ResponseType),
		Text:            r.Text,
		ReplaceOriginal: r.ReplaceOriginal,
	})
	return apiError("response_url", err)
}

// messageOptions converts the Block Kit shaped message into slack-go options.
func messageOptions(msg transport.Message) ([]slackapi.MsgOption, error) {
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(msg.Text, false)}
	if len(msg.Blocks) > 0 {
		raw, err := json.Marshal(msg.Blocks)
		if err != nil {
			return nil, err
		}
		var blocks slackapi.Blocks
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return nil, err
		}
		opts = append(opts, slackapi.MsgOptionBlocks(blocks.BlockSet...))
	}
	if msg.Metadata != nil && !msg.Metadata.IsZero() {
		opts = append(opts, slackapi.MsgOptionMetadata(slackapi.SlackMetadata{
			EventType:    msg.Metadata.EventType,
			EventPayload: msg.Metadata.EventPayload,
		}))
	}
	return opts, nil
}

func (c *Client) post(ctx context.Context, channel string, opts []slackapi.MsgOption) error {
	const method = "chat.postMessage"
	var last error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * time.Second
			var apiErr *APIError
			if errors.As(last, &apiErr) && apiErr.RetryAfter > 0 {
				delay = apiErr.RetryAfter
			}
			c.log.Debug("slack call retry scheduled", logx.String("method", method), logx.Int("attempt", attempt+1), logx.Duration("delay", delay))
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		_, _, err := c.api.PostMessageContext(ctx, channel, opts...)
		last = apiError(method, err)
		if last == nil {
			return nil
		}
		var apiErr *APIError
		if !errors.As(last, &apiErr) || !apiErr.retryable() {
			return last
		}
	}
	return last
}
