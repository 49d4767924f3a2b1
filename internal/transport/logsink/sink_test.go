package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewbot/internal/delivery"
	"viewbot/internal/transport"
	logx "viewbot/pkg/logx"
)

func TestSinkDumpsMessages(t *testing.T) {
	t.Parallel()
	var out, logs bytes.Buffer
	s := New(&out, logx.NewWriter(&logs, "info"))

	coord := delivery.New(delivery.Config{Workers: 1}, s, nil, logx.Nop())
	res := coord.Deliver(context.Background(), delivery.Batch{View: "v"}, []delivery.Item{
		{Key: "v_item_0", Message: transport.Message{Channel: "C1", Text: "one"}},
		{Key: "v_item_1", Message: transport.Message{Channel: "C1", Text: "two"}},
	})
	require.True(t, res.AllSuccess)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var d dump
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &d))
	assert.Equal(t, "v_item_1", d.Item)
	assert.Equal(t, "two", d.Message.Text)
	assert.Contains(t, logs.String(), "message (dry run)")
}

func TestSinkWithoutWriter(t *testing.T) {
	t.Parallel()
	s := New(nil, logx.Nop())
	assert.NoError(t, s.Send(context.Background(), transport.Message{}, "k"))
	assert.NoError(t, s.PostText(context.Background(), "ops", "hi"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, transport.Message{}, "k"), context.Canceled)
}
