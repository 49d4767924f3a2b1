// Package telegram delivers compiled messages to Telegram chats. Option
// buttons become an inline keyboard; the metadata envelope is kept
// server-side under a short token carried in callback_data.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"viewbot/internal/interaction"
	"viewbot/internal/metadata"
	"viewbot/internal/transport"
	"viewbot/internal/view"
	logx "viewbot/pkg/logx"
)

const (
	callbackTimeout = 5 * time.Second
	expiredNotice   = "This action has expired."
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	StateTTL    time.Duration
}

// api is the part of *tele.Bot the transport calls.
type api interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
	Edit(msg tele.Editable, what any, opts ...any) (*tele.Message, error)
	Respond(c *tele.Callback, resp ...*tele.CallbackResponse) error
}

// Callback is a button press, detached from telebot's context.
type Callback struct {
	ID        string
	ChatID    int64
	ThreadID  int
	MessageID int
	FromID    int64
	FromName  string
	Data      string
}

// callbackState is what a button token points at.
type callbackState struct {
	Envelope json.RawMessage    `json:"envelope"`
	Options  []transport.Option `json:"options"`
}

// SendError carries a short code for delivery history.
type SendError struct {
	Code string
	Err  error
}

func (e *SendError) Error() string  { return "telegram: " + e.Err.Error() }
func (e *SendError) Unwrap() error  { return e.Err }
func (e *SendError) Detail() string { return e.Code }

type Bot struct {
	bot    *tele.Bot
	api    api
	states StateStore
	log    logx.Logger

	// OnAction is called after a button press resolves.
	OnAction func(ctx context.Context, act interaction.Action, r interaction.Response)
}

func New(cfg Config, states StateStore, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if states == nil {
		states = NewMemoryStore(cfg.StateTTL, nil)
	}
	b := newBot(tb, states, log)
	b.bot = tb
	tb.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || cb.Sender == nil {
			return nil
		}
		name := cb.Sender.Username
		if name == "" {
			name = cb.Sender.FirstName
		}
		ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cancel()
		return b.HandleCallback(ctx, Callback{
			ID:        cb.ID,
			ChatID:    m.Chat.ID,
			ThreadID:  m.ThreadID,
			MessageID: m.ID,
			FromID:    cb.Sender.ID,
			FromName:  name,
			Data:      cb.Data,
		})
	})
	return b, nil
}

func newBot(a api, states StateStore, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{api: a, states: states, log: log.With(logx.String("comp", "telegram"))}
}

// Start polls for updates until ctx is done. The poll loop is restarted with
// backoff if it exits on its own.
func (b *Bot) Start(ctx context.Context) error {
	if b.bot == nil {
		return errors.New("telegram bot is not connected")
	}
	go func() {
		<-ctx.Done()
		b.bot.Stop()
	}()

	backoff := 500 * time.Millisecond
	for {
		b.log.Info("polling started")
		b.bot.Start()
		if ctx.Err() != nil {
			b.log.Info("polling stopped")
			return nil
		}
		b.log.Warn("polling exited, restarting", logx.Duration("backoff", backoff))
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff = min(backoff*2, 10*time.Second)
	}
}

// Send delivers msg to the chat named by msg.Channel ("<chat id>" or
// "<chat id>/<thread id>").
func (b *Bot) Send(ctx context.Context, msg transport.Message, itemKey string) error {
	chatID, threadID, err := parseTarget(msg.Channel)
	if err != nil {
		return &SendError{Code: "channel_not_found", Err: err}
	}
	r := Render(msg)

	var markup *tele.ReplyMarkup
	if len(r.Options) > 0 && msg.Metadata != nil {
		markup, err = b.keyboard(ctx, *msg.Metadata, r.Options)
		if err != nil {
			return &SendError{Code: "state_store_failed", Err: err}
		}
	}

	chunks := splitText(r.HTML, textLimit)
	chat := &tele.Chat{ID: chatID}
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		opt := &tele.SendOptions{ParseMode: tele.ModeHTML, ThreadID: threadID, DisableWebPagePreview: true}
		if i == len(chunks)-1 && markup != nil {
			opt.ReplyMarkup = markup
		}
		if _, err := b.api.Send(chat, chunk, opt); err != nil {
			return classify(err)
		}
	}
	b.log.Debug("message sent", logx.String("item", itemKey), logx.Int("chunks", len(chunks)))
	return nil
}

// PostText sends plain text. It backs the ops log channel.
func (b *Bot) PostText(ctx context.Context, channel, text string) error {
	chatID, threadID, err := parseTarget(channel)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = b.api.Send(&tele.Chat{ID: chatID}, truncRunes(text, textLimit), &tele.SendOptions{ThreadID: threadID})
	return err
}

func (b *Bot) keyboard(ctx context.Context, env transport.Envelope, opts []transport.Option) (*tele.ReplyMarkup, error) {
	raw, err := metadata.Marshal(env)
	if err != nil {
		return nil, err
	}
	state, err := json.Marshal(callbackState{Envelope: raw, Options: opts})
	if err != nil {
		return nil, err
	}
	tok, err := b.states.Put(ctx, state)
	if err != nil {
		return nil, err
	}

	rm := &tele.ReplyMarkup{}
	btns := make([]tele.Btn, 0, len(opts))
	for i, o := range opts {
		btns = append(btns, tele.Btn{
			Text: truncRunes(o.Text.Text, maxButtonLabel),
			Data: tok + ":" + strconv.Itoa(i),
		})
	}
	rm.Inline(rm.Split(buttonsPerRow, btns)...)
	return rm, nil
}

// HandleCallback resolves a button press and replies according to the
// response policy stored with the message. Ephemeral replies are shown as a
// callback notice to the presser only.
func (b *Bot) HandleCallback(ctx context.Context, cb Callback) error {
	tgCB := &tele.Callback{ID: cb.ID}

	act, env, ok := b.lookup(ctx, cb)
	if !ok {
		return b.api.Respond(tgCB, &tele.CallbackResponse{Text: expiredNotice})
	}
	resp, err := interaction.Resolve(env.EventPayload, act)
	if err != nil {
		b.log.Debug("callback without metadata", logx.Err(err))
		return b.api.Respond(tgCB, &tele.CallbackResponse{})
	}
	b.log.Info("interaction resolved",
		logx.String("view", resp.View),
		logx.Int("row", resp.RowIndex),
		logx.String("user", act.UserID),
		logx.String("value", act.Value),
	)
	if b.OnAction != nil {
		b.OnAction(ctx, act, resp)
	}

	text := html.EscapeString(resp.Text)
	switch {
	case resp.ReplaceOriginal:
		orig := &tele.Message{ID: cb.MessageID, Chat: &tele.Chat{ID: cb.ChatID}}
		if _, err := b.api.Edit(orig, text, &tele.SendOptions{ParseMode: tele.ModeHTML}); err != nil {
			b.log.Warn("replace original failed", logx.String("view", resp.View), logx.Err(err))
		}
	case resp.ResponseType == view.InChannel:
		opt := &tele.SendOptions{ParseMode: tele.ModeHTML, ThreadID: cb.ThreadID}
		if _, err := b.api.Send(&tele.Chat{ID: cb.ChatID}, text, opt); err != nil {
			b.log.Warn("in-channel reply failed", logx.String("view", resp.View), logx.Err(err))
		}
	}

	notice := ""
	if resp.ResponseType == view.Ephemeral {
		notice = truncRunes(resp.Text, 200)
	}
	return b.api.Respond(tgCB, &tele.CallbackResponse{Text: notice})
}

func (b *Bot) lookup(ctx context.Context, cb Callback) (interaction.Action, transport.Envelope, bool) {
	tok, idxStr, ok := strings.Cut(cb.Data, ":")
	if !ok {
		return interaction.Action{}, transport.Envelope{}, false
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return interaction.Action{}, transport.Envelope{}, false
	}
	raw, found, err := b.states.Get(ctx, tok)
	if err != nil {
		b.log.Warn("callback state lookup failed", logx.Err(err))
		return interaction.Action{}, transport.Envelope{}, false
	}
	if !found {
		return interaction.Action{}, transport.Envelope{}, false
	}
	var st callbackState
	if err := json.Unmarshal(raw, &st); err != nil || idx < 0 || idx >= len(st.Options) {
		return interaction.Action{}, transport.Envelope{}, false
	}
	env, err := metadata.Unmarshal(st.Envelope)
	if err != nil {
		return interaction.Action{}, transport.Envelope{}, false
	}
	opt := st.Options[idx]
	return interaction.Action{
		UserID:   strconv.FormatInt(cb.FromID, 10),
		UserName: cb.FromName,
		Text:     opt.Text.Text,
		Value:    opt.Value,
	}, env, true
}

func parseTarget(channel string) (int64, int, error) {
	chat, thread, hasThread := strings.Cut(strings.TrimSpace(channel), "/")
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid chat id %q", channel)
	}
	if !hasThread {
		return id, 0, nil
	}
	tid, err := strconv.Atoi(thread)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid thread id %q", channel)
	}
	return id, tid, nil
}

func classify(err error) error {
	var terr *tele.Error
	code := "send_failed"
	if errors.As(err, &terr) {
		desc := strings.ToLower(terr.Description)
		switch {
		case terr.Code == 429:
			code = "rate_limited"
		case strings.Contains(desc, "chat not found"):
			code = "channel_not_found"
		case terr.Code == 403:
			code = "not_in_channel"
		default:
			code = "telegram_" + strconv.Itoa(terr.Code)
		}
	} else if strings.Contains(strings.ToLower(err.Error()), "retry after") {
		code = "rate_limited"
	}
	return &SendError{Code: code, Err: err}
}
