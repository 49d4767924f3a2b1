package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"viewbot/internal/delivery"
	"viewbot/internal/interaction"
	"viewbot/internal/metadata"
	"viewbot/internal/transport"
	"viewbot/internal/view"
	logx "viewbot/pkg/logx"
)

type sent struct {
	chat int64
	text string
	opt  *tele.SendOptions
}

type fakeAPI struct {
	mu       sync.Mutex
	sends    []sent
	edits    []sent
	answers  []string
	sendErr  error
	msgCount int
}

func (f *fakeAPI) Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	s := sent{chat: to.(*tele.Chat).ID, text: what.(string)}
	if len(opts) > 0 {
		s.opt, _ = opts[0].(*tele.SendOptions)
	}
	f.sends = append(f.sends, s)
	f.msgCount++
	return &tele.Message{ID: f.msgCount}, nil
}

func (f *fakeAPI) Edit(msg tele.Editable, what any, opts ...any) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := msg.(*tele.Message)
	s := sent{chat: m.Chat.ID, text: what.(string)}
	if len(opts) > 0 {
		s.opt, _ = opts[0].(*tele.SendOptions)
	}
	f.edits = append(f.edits, s)
	return m, nil
}

func (f *fakeAPI) Respond(_ *tele.Callback, resp ...*tele.CallbackResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	text := ""
	if len(resp) > 0 && resp[0] != nil {
		text = resp[0].Text
	}
	f.answers = append(f.answers, text)
	return nil
}

func optionMessage(channel string, policy view.ResponsePolicy) transport.Message {
	msg := transport.Message{
		Channel: channel,
		Text:    "New lead",
		Blocks: []transport.Block{
			{Type: transport.BlockSection, Text: &transport.Text{Type: transport.TextMarkdown, Text: "*Acme Corp*"}},
			{Type: transport.BlockActions, Elements: []transport.Element{
				{Type: transport.ElementButton, ActionID: "option_0", Text: &transport.Text{Type: transport.TextPlain, Text: "Accept"}, Value: "accept"},
				{Type: transport.ElementButton, ActionID: "option_1", Text: &transport.Text{Type: transport.TextPlain, Text: "Decline"}, Value: "decline"},
			}},
		},
	}
	env := metadata.Encode("leads_notification", metadata.ViewInfo{View: "leads", ViewGroup: "sales"}, &policy, map[string]any{"row_index": 3})
	return metadata.Attach(msg, env)
}

func buttonData(t *testing.T, opt *tele.SendOptions) []string {
	t.Helper()
	require.NotNil(t, opt)
	require.NotNil(t, opt.ReplyMarkup)
	var out []string
	for _, row := range opt.ReplyMarkup.InlineKeyboard {
		for _, b := range row {
			out = append(out, b.Data)
		}
	}
	return out
}

func TestSendRendersKeyboard(t *testing.T) {
	t.Parallel()
	fa := &fakeAPI{}
	b := newBot(fa, NewMemoryStore(time.Hour, nil), logx.Nop())

	msg := optionMessage("-100123/7", view.ResponsePolicy{ResponseType: view.Ephemeral})
	require.NoError(t, b.Send(context.Background(), msg, "leads_item_0"))

	require.Len(t, fa.sends, 1)
	s := fa.sends[0]
	assert.Equal(t, int64(-100123), s.chat)
	assert.Equal(t, 7, s.opt.ThreadID)
	assert.Equal(t, tele.ModeHTML, s.opt.ParseMode)
	assert.Contains(t, s.text, "<b>Acme Corp</b>")

	data := buttonData(t, s.opt)
	require.Len(t, data, 2)
	assert.True(t, strings.HasSuffix(data[0], ":0"))
	assert.True(t, strings.HasSuffix(data[1], ":1"))
	for _, d := range data {
		assert.LessOrEqual(t, len(d), 64)
	}
}

func TestSendWithoutMetadataHasNoKeyboard(t *testing.T) {
	t.Parallel()
	fa := &fakeAPI{}
	b := newBot(fa, NewMemoryStore(time.Hour, nil), logx.Nop())

	msg := optionMessage("42", view.ResponsePolicy{})
	msg.Metadata = nil
	require.NoError(t, b.Send(context.Background(), msg, "k"))
	require.Len(t, fa.sends, 1)
	assert.Nil(t, fa.sends[0].opt.ReplyMarkup)
}

func TestSendInvalidChannel(t *testing.T) {
	t.Parallel()
	b := newBot(&fakeAPI{}, NewMemoryStore(time.Hour, nil), logx.Nop())
	err := b.Send(context.Background(), transport.Message{Channel: "#general"}, "k")
	require.Error(t, err)
	assert.Equal(t, "channel_not_found", delivery.Detail(err))
}

func TestSendClassifiesAPIErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want string
	}{
		{&tele.Error{Code: 429, Description: "Too Many Requests: retry after 5"}, "rate_limited"},
		{&tele.Error{Code: 400, Description: "Bad Request: chat not found"}, "channel_not_found"},
		{&tele.Error{Code: 403, Description: "Forbidden: bot was kicked"}, "not_in_channel"},
		{&tele.Error{Code: 400, Description: "Bad Request: message is too long"}, "telegram_400"},
		{errors.New("dial tcp: timeout"), "send_failed"},
	}
	for _, tc := range cases {
		b := newBot(&fakeAPI{sendErr: tc.err}, NewMemoryStore(time.Hour, nil), logx.Nop())
		err := b.Send(context.Background(), transport.Message{Channel: "1", Text: "x"}, "k")
		assert.Equal(t, tc.want, delivery.Detail(err), tc.err.Error())
	}
}

func pressFirst(t *testing.T, fa *fakeAPI, b *Bot, idx int) {
	t.Helper()
	data := buttonData(t, fa.sends[0].opt)
	require.NoError(t, b.HandleCallback(context.Background(), Callback{
		ID:        "cb1",
		ChatID:    -100123,
		MessageID: 1,
		FromID:    555,
		FromName:  "kim",
		Data:      data[idx],
	}))
}

func TestCallbackEphemeral(t *testing.T) {
	t.Parallel()
	fa := &fakeAPI{}
	b := newBot(fa, NewMemoryStore(time.Hour, nil), logx.Nop())
	var got interaction.Response
	var who interaction.Action
	b.OnAction = func(_ context.Context, a interaction.Action, r interaction.Response) { who, got = a, r }

	msg := optionMessage("-100123", view.ResponsePolicy{ResponseType: view.Ephemeral, ResponseMessage: "{user} picked {text}"})
	require.NoError(t, b.Send(context.Background(), msg, "k"))
	pressFirst(t, fa, b, 1)

	assert.Equal(t, []string{"kim picked Decline"}, fa.answers)
	assert.Len(t, fa.sends, 1)
	assert.Empty(t, fa.edits)
	assert.Equal(t, "leads", got.View)
	assert.Equal(t, 3, got.RowIndex)
	assert.Equal(t, "555", who.UserID)
	assert.Equal(t, "decline", who.Value)
}

func TestCallbackInChannel(t *testing.T) {
	t.Parallel()
	fa := &fakeAPI{}
	b := newBot(fa, NewMemoryStore(time.Hour, nil), logx.Nop())

	msg := optionMessage("-100123", view.ResponsePolicy{ResponseType: view.InChannel, ResponseMessage: "{user} <3 {value}"})
	require.NoError(t, b.Send(context.Background(), msg, "k"))
	pressFirst(t, fa, b, 0)

	require.Len(t, fa.sends, 2)
	assert.Equal(t, "kim &lt;3 accept", fa.sends[1].text)
	assert.Equal(t, []string{""}, fa.answers)
}

func TestCallbackReplaceOriginal(t *testing.T) {
	t.Parallel()
	fa := &fakeAPI{}
	b := newBot(fa, NewMemoryStore(time.Hour, nil), logx.Nop())

	msg := optionMessage("-100123", view.ResponsePolicy{ResponseType: view.InChannel, ResponseMessage: "done: {text}", ReplaceOriginal: true})
	require.NoError(t, b.Send(context.Background(), msg, "k"))
	pressFirst(t, fa, b, 0)

	require.Len(t, fa.edits, 1)
	assert.Equal(t, "done: Accept", fa.edits[0].text)
	assert.Nil(t, fa.edits[0].opt.ReplyMarkup)
	assert.Len(t, fa.sends, 1)
}

func TestCallbackExpired(t *testing.T) {
	t.Parallel()
	fa := &fakeAPI{}
	b := newBot(fa, NewMemoryStore(time.Hour, nil), logx.Nop())

	for _, data := range []string{"~missing:0", "garbage", "~x:notanumber"} {
		require.NoError(t, b.HandleCallback(context.Background(), Callback{ID: "c", Data: data}))
	}
	assert.Equal(t, []string{expiredNotice, expiredNotice, expiredNotice}, fa.answers)
}

func TestPostText(t *testing.T) {
	t.Parallel()
	fa := &fakeAPI{}
	b := newBot(fa, NewMemoryStore(time.Hour, nil), logx.Nop())
	require.NoError(t, b.PostText(context.Background(), "99", "[ERROR] boom"))
	require.Len(t, fa.sends, 1)
	assert.Equal(t, "[ERROR] boom", fa.sends[0].text)
	assert.Error(t, b.PostText(context.Background(), "ops", "x"))
}

func TestParseTarget(t *testing.T) {
	t.Parallel()
	id, th, err := parseTarget("-1001/12")
	require.NoError(t, err)
	assert.Equal(t, int64(-1001), id)
	assert.Equal(t, 12, th)

	_, _, err = parseTarget("-1001/x")
	assert.Error(t, err)
}
