package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
delivery:
  workers: 4
  rate_per_sec: 1
  send_timeout: 10s
transport:
  driver: slack
  slack:
    token: ${VIEWBOT_TEST_TOKEN}
    signing_secret: s3cret
storage:
  driver: sqlite
  path: ./viewbot.sqlite
source:
  driver: file
  path: ./rows.yaml
scheduler:
  enabled: true
  timezone: UTC
views:
  - name: new_leads
    group: sales
    channel: C123
    strategy: per_row
    schedule: "*/15 * * * *"
    response_type: in_channel
    response_message: "{user} picked {value}"
    detail_columns: [company, amount]
  - name: weekly
    channel: C999
    strategy: digest
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("VIEWBOT_TEST_TOKEN", "xoxb-from-env")
	m := NewConfigManager(writeFile(t, "viewbot.yaml", sampleYAML))

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())
	assert.Equal(t, "xoxb-from-env", cfg.Transport.Slack.Token)
	assert.Equal(t, 4, cfg.Delivery.Workers)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Len(t, cfg.Views, 2)

	v, ok := cfg.View("new_leads")
	require.True(t, ok)
	assert.Equal(t, "sales", v.Group)
	assert.Equal(t, "new_leads", v.QueryOrName())
	assert.Equal(t, []string{"company", "amount"}, v.ViewDefaults().DetailColumns)
	assert.Equal(t, "in_channel", string(v.ViewDefaults().ResponseType))

	_, ok = cfg.View("missing")
	assert.False(t, ok)
}

func TestLoadJSON(t *testing.T) {
	m := NewConfigManager(writeFile(t, "viewbot.json", `{
		"transport": {"driver": "log"},
		"views": [{"name": "a", "channel": "ops", "query": "SELECT 1"}]
	}`))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", cfg.Views[0].QueryOrName())
	assert.Nil(t, cfg.Storage)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := NewConfigManager(writeFile(t, "viewbot.yaml", "views: []\nplugins: {}\n"))
	_, err := m.Parse()
	assert.ErrorContains(t, err, "plugins")

	m = NewConfigManager(writeFile(t, "viewbot.json", `{"views": []} {"views": []}`))
	_, err = m.Parse()
	assert.ErrorContains(t, err, "trailing data")
}

func TestLoadRejectsInvalid(t *testing.T) {
	m := NewConfigManager(writeFile(t, "viewbot.yaml", "transport:\n  driver: slack\nviews:\n  - name: x\n"))
	_, err := m.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.Nil(t, m.Get())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Transport: TransportConfig{Driver: "log"},
			Views:     []ViewConfig{{Name: "a", Channel: "C1"}},
		}
	}
	require.NoError(t, Validate(valid()))
	slackInteraction := func(c *Config) {
		c.Transport = TransportConfig{Driver: "slack", Slack: SlackConfig{Token: "xoxb-1"}}
		c.Interaction.Enabled = true
	}

	cases := map[string]struct {
		mut  func(c *Config)
		want string
	}{
		"negative workers":   {func(c *Config) { c.Delivery.Workers = -1 }, "delivery.workers"},
		"bad send timeout":   {func(c *Config) { c.Delivery.SendTimeout = "soon" }, "delivery.send_timeout"},
		"unknown transport":  {func(c *Config) { c.Transport.Driver = "fax" }, "transport.driver"},
		"telegram no token":  {func(c *Config) { c.Transport.Driver = "telegram" }, "telegram.token"},
		"storage no path":    {func(c *Config) { c.Storage = &StorageConfig{Driver: "file"} }, "storage.path"},
		"unknown storage":    {func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, "storage.driver"},
		"sql without dsn":    {func(c *Config) { c.Source.Driver = "sql" }, "source.dsn"},
		"ops without target": {func(c *Config) { c.Logging.Ops.Enabled = true }, "logging.ops.channel"},
		"missing name":       {func(c *Config) { c.Views[0].Name = " " }, "views[0].name"},
		"duplicate view":     {func(c *Config) { c.Views = append(c.Views, c.Views[0]) }, "duplicate view"},
		"missing channel":    {func(c *Config) { c.Views[0].Channel = "" }, "channel is required"},
		"bad strategy":       {func(c *Config) { c.Views[0].Strategy = "fanout" }, "unknown strategy"},
		"bad response type":  {func(c *Config) { c.Views[0].ResponseType = "shout" }, "view \"a\""},
		"bad schedule":       {func(c *Config) { c.Views[0].Schedule = "whenever" }, "view \"a\""},
		"bad cron fields":    {func(c *Config) { c.Views[0].Schedule = "* * * bad *" }, "* * * bad *"},
		"slack no secret":    {slackInteraction, "signing_secret"},
		"bad view timeout":   {func(c *Config) { c.Views[0].Timeout = "-1s" }, "views[a].timeout"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			tc.mut(c)
			err := Validate(c)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.ErrorContains(t, err, tc.want)
		})
	}

	signed := valid()
	slackInteraction(signed)
	signed.Transport.Slack.SigningSecret = "s3cret"
	assert.NoError(t, Validate(signed))

	assert.Error(t, Validate(nil))
}

func TestSummarizeConfigChange(t *testing.T) {
	old := &Config{
		Transport: TransportConfig{Driver: "slack", Slack: SlackConfig{Token: "xoxb-old"}},
		Views: []ViewConfig{
			{Name: "a", Channel: "C1"},
			{Name: "b", Channel: "C2"},
		},
	}
	next := &Config{
		Transport: TransportConfig{Driver: "slack", Slack: SlackConfig{Token: "xoxb-new"}},
		Scheduler: SchedulerConfig{Enabled: true},
		Views: []ViewConfig{
			{Name: "a", Channel: "C1"},
			{Name: "b", Channel: "C3"},
			{Name: "c", Channel: "C4"},
		},
	}
	sections, attrs, views := SummarizeConfigChange(old, next)
	assert.Equal(t, []string{"scheduler", "transport", "views"}, sections)
	assert.Equal(t, []string{"b", "c"}, views)
	assert.NotEmpty(t, attrs)

	sections, _, views = SummarizeConfigChange(next, next)
	assert.Empty(t, sections)
	assert.Empty(t, views)

	sections, _, _ = SummarizeConfigChange(nil, &Config{Storage: &StorageConfig{Driver: "file", Path: "x"}})
	assert.Equal(t, []string{"storage"}, sections)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := writeFile(t, "viewbot.yaml", "views:\n  - name: a\n    channel: C1\n")
	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// the watcher may not be registered yet; keep rewriting until it fires
	var got *Config
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("views:\n  - name: a\n    channel: C2\n"), 0o600)
		select {
		case got = <-ch:
			return true
		default:
			return false
		}
	}, 5*time.Second, 300*time.Millisecond)
	assert.Equal(t, "C2", got.Views[0].Channel)
	assert.Same(t, got, m.Get())

	// invalid content is not committed
	require.NoError(t, os.WriteFile(path, []byte("views:\n  - name: a\n"), 0o600))
	time.Sleep(3 * reloadDebounce)
	assert.Equal(t, "C2", m.Get().Views[0].Channel)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestPublishDropsOldest(t *testing.T) {
	m := NewConfigManager("unused.yaml")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)

	m.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestDurationHelpers(t *testing.T) {
	d, err := ParseDurationField("x", " 2s ")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)
	d, err = ParseDurationField("x", "")
	require.NoError(t, err)
	assert.Zero(t, d)
	_, err = ParseDurationField("x", "-1s")
	assert.ErrorContains(t, err, "x: duration must be >= 0")

	d, err = ParseDurationOrDefault("x", "", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
	_, err = ParseDurationOrDefault("x", "soon", 5*time.Second)
	assert.Error(t, err)

	d, err = ViewConfig{Name: "leads", Timeout: "90s"}.RunTimeout()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
	_, err = ViewConfig{Name: "leads", Timeout: "later"}.RunTimeout()
	assert.ErrorContains(t, err, "views[leads].timeout")
}

func TestDecodeYAMLKeys(t *testing.T) {
	cfg, err := Decode("viewbot.yml", []byte(`views:
  - name: a
    channel: C1
    custom:
      2024: q1
`))
	require.NoError(t, err)
	require.Len(t, cfg.Views, 1)
	assert.Equal(t, "q1", cfg.Views[0].Custom["2024"])

	cfg, err = Decode("viewbot.yaml", nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Views)

	_, err = Decode("viewbot.yaml", []byte("views: [\n"))
	assert.ErrorContains(t, err, "config viewbot.yaml: yaml")
}
