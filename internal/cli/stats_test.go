package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statlight/statlight/internal/message"
	"github.com/statlight/statlight/internal/store"
)

func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	base := time.Now().UnixMilli() - 10_000

	require.NoError(t, s.InsertSessionStart(ctx, &message.Event{
		ID:        "sess-1",
		Kind:      message.KindSessionStart,
		Timestamp: base,
		SessionID: "sess-1",
		MpID:      7,
	}, nil, nil, "", nil))

	for i := int64(0); i < 2; i++ {
		require.NoError(t, s.InsertMessage(ctx, &message.Event{
			ID:        "ev",
			Kind:      message.KindEvent,
			Timestamp: base + 1 + i,
			SessionID: "sess-1",
			MpID:      7,
			Name:      "screen_view",
		}, "", nil))
	}

	return path
}

func TestStatsCommand(t *testing.T) {
	path := seedDatabase(t)

	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--format", "json", "stats", "--db", path})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), data["messages"])
	assert.Equal(t, float64(3), data["ready"])
	assert.Equal(t, float64(0), data["uploaded"])
	assert.Equal(t, float64(1), data["sessions"])
	assert.Equal(t, float64(1), data["open_sessions"])
}

func TestStatsCommand_TextOutput(t *testing.T) {
	path := seedDatabase(t)

	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"stats", "--db", path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "messages:  3")
	assert.Contains(t, buf.String(), "sessions:  1 (1 open)")
}

func TestStatsCommand_MissingDatabaseFlag(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"stats"})

	require.Error(t, cmd.Execute())
}

func TestBatchCommand(t *testing.T) {
	path := seedDatabase(t)

	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--format", "json", "batch", "--db", path})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestSessionsCommand(t *testing.T) {
	path := seedDatabase(t)

	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"sessions", "--db", path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "sess-1")
}
