package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewbot/internal/delivery"
	"viewbot/internal/transport"
	logx "viewbot/pkg/logx"
)

func openDrivers(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	open := func(driver, name string) func() Store {
		return func() Store {
			st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, name)}, logx.Nop())
			require.NoError(t, err)
			return st
		}
	}
	return map[string]func() Store{
		"file":   open("file", "viewbot.db"),
		"sqlite": open("sqlite", "viewbot.sqlite"),
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		assert.NoError(t, err)
		assert.Nil(t, st)
	}
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestDeliveryHistory(t *testing.T) {
	t.Parallel()
	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()
			ctx := context.Background()
			base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

			for i := 0; i < 5; i++ {
				view := "leads"
				if i%2 == 1 {
					view = "tickets"
				}
				require.NoError(t, st.AppendDelivery(ctx, delivery.Record{
					BatchID:       "b1",
					ItemKey:       fmt.Sprintf("%s_item_%d", view, i),
					View:          view,
					ViewGroup:     "sales",
					ChannelID:     "C1",
					Success:       i != 4,
					ErrorDetail:   map[bool]string{true: "", false: "rate_limited"}[i != 4],
					FormattedData: `{"n":1}`,
					MessageText:   "hello",
					At:            base.Add(time.Duration(i) * time.Minute),
				}))
			}

			all, err := st.RecentDeliveries(ctx, "", 10)
			require.NoError(t, err)
			require.Len(t, all, 5)
			assert.Equal(t, "leads_item_4", all[0].ItemKey)
			assert.False(t, all[0].Success)
			assert.Equal(t, "rate_limited", all[0].ErrorDetail)
			assert.True(t, all[0].At.Equal(base.Add(4*time.Minute)))

			leads, err := st.RecentDeliveries(ctx, "leads", 2)
			require.NoError(t, err)
			require.Len(t, leads, 2)
			assert.Equal(t, "leads_item_4", leads[0].ItemKey)
			assert.Equal(t, "leads_item_2", leads[1].ItemKey)
			assert.Equal(t, "sales", leads[1].ViewGroup)
			assert.Equal(t, `{"n":1}`, leads[1].FormattedData)
			assert.True(t, leads[1].Success)
		})
	}
}

func TestEnvelopes(t *testing.T) {
	t.Parallel()
	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			ctx := context.Background()

			require.NoError(t, st.PutEnvelope(ctx, "~live", []byte(`{"a":1}`), time.Now().Add(time.Hour)))
			require.NoError(t, st.PutEnvelope(ctx, "~old", []byte(`{}`), time.Now().Add(-time.Minute)))

			b, ok, err := st.GetEnvelope(ctx, "~live")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.JSONEq(t, `{"a":1}`, string(b))

			_, ok, err = st.GetEnvelope(ctx, "~old")
			require.NoError(t, err)
			assert.False(t, ok)

			_, ok, err = st.GetEnvelope(ctx, "~missing")
			require.NoError(t, err)
			assert.False(t, ok)
			require.NoError(t, st.Close())

			// survives reopen
			st = open()
			defer st.Close()
			b, ok, err = st.GetEnvelope(ctx, "~live")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.JSONEq(t, `{"a":1}`, string(b))
		})
	}
}

func TestHistoryLoggerWithCoordinator(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "h.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	tr := delivery.TransportFunc(func(context.Context, transport.Message, string) error { return nil })
	coord := delivery.New(delivery.Config{Workers: 2}, tr, HistoryLogger(st), logx.Nop())
	res := coord.Deliver(context.Background(), delivery.Batch{ID: "b", View: "v", Channel: "C"}, []delivery.Item{
		{Key: "v_item_0"}, {Key: "v_item_1"},
	})
	require.True(t, res.AllSuccess)

	recs, err := st.RecentDeliveries(context.Background(), "v", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, "C", r.ChannelID)
		assert.Equal(t, "b", r.BatchID)
	}
}
