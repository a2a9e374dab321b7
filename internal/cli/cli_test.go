package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"offlinesync/internal/database"
	"offlinesync/internal/models"
	"offlinesync/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliEnv struct {
	dir    string
	cfg    string
	dbPath string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "queue.db")
	cfgPath := filepath.Join(dir, "config.yaml")

	content := fmt.Sprintf(`storage:
  backend: sqlite
database:
  path: %s
remote:
  base_url: http://127.0.0.1:1
  modules:
    - name: tickets
    - name: technicians
exports:
  path: %s
`, dbPath, filepath.Join(dir, "exports"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	return &cliEnv{dir: dir, cfg: cfgPath, dbPath: dbPath}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", e.cfg}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *cliEnv) openDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(e.dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestQueueEnqueueAndList(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "queue", "enqueue", "tickets", "create", `{"title":"Broken AC"}`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "enqueued tickets-"))

	_, err = env.run(t, "queue", "enqueue", "technicians", "delete", `{"id":"t-1"}`)
	require.NoError(t, err)

	out, err = env.run(t, "--format", "json", "queue", "list")
	require.NoError(t, err)

	var records []models.QueueRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "tickets", records[0].Module)
	assert.Equal(t, models.ActionCreate, records[0].Action)
	assert.JSONEq(t, `{"title":"Broken AC"}`, string(records[0].Payload))
	assert.Equal(t, "technicians", records[1].Module)

	out, err = env.run(t, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "MODULE")
	assert.Contains(t, out, records[1].ID)
}

func TestQueueEnqueueValidation(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "queue", "enqueue", "billing", "create")
	assert.True(t, errors.Is(err, worker.ErrUnknownModule), "got %v", err)

	_, err = env.run(t, "queue", "enqueue", "tickets", "upsert")
	assert.True(t, errors.Is(err, worker.ErrInvalidAction), "got %v", err)

	_, err = env.run(t, "queue", "enqueue", "tickets", "create", "{not json")
	assert.Error(t, err)

	out, err := env.run(t, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "queue is empty")
}

func TestQueueClearRequiresConfirmation(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "queue", "enqueue", "tickets", "update", `{"id":"1","updates":{"status":"closed"}}`)
	require.NoError(t, err)

	_, err = env.run(t, "queue", "clear")
	require.Error(t, err)

	records, err := env.openDB(t).Queue().Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	out, err := env.run(t, "queue", "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "queue cleared")

	records, err = env.openDB(t).Queue().Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHistoryListClearAndExport(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no sync history")

	db := env.openDB(t)
	ctx := context.Background()
	require.NoError(t, db.History(models.HistoryLimit).Record(ctx, models.HistoryEntry{
		ID:           "h-1",
		Timestamp:    time.Now(),
		Trigger:      models.TriggerManual,
		TotalItems:   2,
		SuccessCount: 1,
		ErrorCount:   1,
		DurationMs:   12,
		Details:      []string{"tickets create a: synced", "tickets create b: failed: boom"},
	}))

	out, err = env.run(t, "history", "list", "--details")
	require.NoError(t, err)
	assert.Contains(t, out, "manual")
	assert.Contains(t, out, "failed: boom")

	exportDir := filepath.Join(env.dir, "reports")
	out, err = env.run(t, "history", "export", "--out", exportDir)
	require.NoError(t, err)
	path := strings.TrimSpace(out)
	assert.Equal(t, exportDir, filepath.Dir(path))
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = env.run(t, "history", "clear")
	require.NoError(t, err)

	out, err = env.run(t, "--format", "json", "history", "list")
	require.NoError(t, err)
	var entries []models.HistoryEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Empty(t, entries)
}

func TestDeadLetterList(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "deadletter", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no dead letters")

	rec, err := worker.NewRecord("technicians", models.ActionUpdate, map[string]string{"id": "t-9"}, time.Now())
	require.NoError(t, err)
	rec.RetryCount = 5
	require.NoError(t, env.openDB(t).Queue().PushDeadLetter(context.Background(), models.DeadLetter{
		Record:         rec,
		Reason:         "remote rejected",
		DeadLetteredAt: time.Now(),
	}))

	out, err = env.run(t, "dlq", "list")
	require.NoError(t, err)
	assert.Contains(t, out, rec.ID)
	assert.Contains(t, out, "remote rejected")
}

func TestInvalidFormat(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "--format", "yaml", "queue", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestMissingConfig(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "queue", "list"})
	assert.Error(t, cmd.Execute())
}
