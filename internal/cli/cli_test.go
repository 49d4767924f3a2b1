package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	rows := "leads:\n  - company: Acme\n  - company: Globex\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rows.yaml"), []byte(rows), 0o600))
	cfg := `
logging:
  level: error
transport:
  driver: log
storage:
  driver: sqlite
  path: ` + filepath.Join(dir, "viewbot.sqlite") + `
source:
  driver: file
  path: ` + filepath.Join(dir, "rows.yaml") + `
views:
  - name: leads
    channel: C1
    schedule: "@hourly"
  - name: broken
    channel: C2
    query: missing
  - name: old
    channel: C3
    disabled: true
`
	path := filepath.Join(dir, "viewbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestValidate(t *testing.T) {
	cfg := workspace(t)
	out, _, err := execute(t, "validate", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "config ok: 3 view(s)")
	assert.Contains(t, out, "@hourly")
	assert.Contains(t, out, "(disabled)")
	assert.Contains(t, out, "per_row")

	_, _, err = execute(t, "validate", "--config", filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestRunAndHistory(t *testing.T) {
	cfg := workspace(t)
	out, errOut, err := execute(t, "run", "leads", "--config", cfg, "--dry-run", "--dump")
	require.NoError(t, err)
	assert.Contains(t, errOut, "leads: delivered 2 item(s)")
	assert.Equal(t, 2, strings.Count(out, `"item":"leads_item_`))

	out, _, err = execute(t, "history", "--config", cfg, "--view", "leads", "--limit", "1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "STATUS")
	assert.Contains(t, lines[1], "leads_item_1")

	out, _, err = execute(t, "history", "--config", cfg, "--json")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, `"success":true`))
}

func TestRunErrors(t *testing.T) {
	cfg := workspace(t)
	_, _, err := execute(t, "run", "nope", "--config", cfg, "--dry-run")
	assert.ErrorContains(t, err, "unknown view")

	_, _, err = execute(t, "run", "broken", "--config", cfg, "--dry-run")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDeliveryFailed)

	_, _, err = execute(t, "run", "--config", cfg)
	assert.Error(t, err)
}
