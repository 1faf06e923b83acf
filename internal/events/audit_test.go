package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/agentflow/internal/model"
)

func TestAuditLogger_Record(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.jsonl")

	logger, err := NewAuditLogger(logPath, 0)
	require.NoError(t, err)
	defer logger.Close()

	e := Event{
		ID:        "evt_0000000000_deadbeef",
		Kind:      KindTaskCompleted,
		Source:    model.RoleBackend,
		SessionID: "sess_0000000000_deadbeef",
		Payload:   map[string]any{"task_id": "task-1"},
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, logger.Record(e))

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan(), "expected one JSONL line")

	var entry AuditEntry
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
	assert.Equal(t, "task_completed", entry.Kind)
	assert.Equal(t, "evt_0000000000_deadbeef", entry.EventID)
	assert.Equal(t, "task-1", entry.TaskID)
	assert.Equal(t, "backend", entry.Source)
	assert.False(t, scanner.Scan(), "expected exactly one line")
}

func TestAuditLogger_HookOnBus(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.jsonl")

	logger, err := NewAuditLogger(logPath, 0)
	require.NoError(t, err)
	defer logger.Close()

	bus := newTestBus(10)
	unsub := bus.Subscribe("*", logger.Hook())
	defer unsub()

	bus.Publish(Event{Kind: KindTaskStarted, Payload: map[string]any{"task_id": "task-a"}})
	bus.Publish(Event{Kind: KindTaskCompleted, Payload: map[string]any{"task_id": "task-a"}})

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	lines := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestAuditLogger_Rotation(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.jsonl")

	// Tiny threshold so the second entry forces a rotation
	logger, err := NewAuditLogger(logPath, 64)
	require.NoError(t, err)
	defer logger.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, logger.WriteEntry(&AuditEntry{
			Timestamp: time.Now().UTC(),
			Kind:      "system_alert",
			Payload:   map[string]any{"filler": "0123456789012345678901234567890123456789"},
		}))
	}

	archives, err := filepath.Glob(filepath.Join(dir, auditArchiveDir, "audit.*"+auditFileExtension))
	require.NoError(t, err)
	assert.NotEmpty(t, archives, "rotation must move the full log into archive/")

	// Current log still exists and is writable
	_, err = os.Stat(logPath)
	assert.NoError(t, err)
}
