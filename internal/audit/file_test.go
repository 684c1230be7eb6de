package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	// lumberjack keeps a rotation goroutine alive after Close.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)
}

func testEntry(id string) *Entry {
	return &Entry{
		ID:          id,
		Timestamp:   time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		MessageID:   "msg-" + id,
		SenderID:    "1234",
		ContentType: "text",
		Action:      ActionSanitized,
		Reason:      "content sanitized",
		Signatures:  []string{"instruction_override"},
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestFileWriter_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w := NewFileWriter(FileConfig{Path: path}, zap.NewNop())

	w.Write(testEntry("a"))
	w.Write(testEntry("b"))
	w.Write(testEntry("c"))
	w.Close()

	lines := readLines(t, path)
	require.Len(t, lines, 3)

	var e Entry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &e))
	assert.Equal(t, "b", e.ID)
	assert.Equal(t, "msg-b", e.MessageID)
	assert.Equal(t, ActionSanitized, e.Action)
	assert.Equal(t, []string{"instruction_override"}, e.Signatures)
	assert.True(t, e.Timestamp.Equal(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)))
}

func TestFileWriter_OmitsEmptyOptionalFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w := NewFileWriter(FileConfig{Path: path}, zap.NewNop())

	w.Write(&Entry{
		ID:        "a",
		Timestamp: time.Now().UTC(),
		MessageID: "msg-a",
		Action:    ActionProcessed,
	})
	w.Close()

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "signatures")
	assert.NotContains(t, lines[0], "sender_id")
	assert.NotContains(t, lines[0], "reason")
}

func TestFileWriter_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w := NewFileWriter(FileConfig{Path: path}, zap.NewNop())

	const goroutines, perGoroutine = 10, 20
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				w.Write(testEntry(fmt.Sprintf("%d-%d", g, i)))
			}
		}(g)
	}
	wg.Wait()
	w.Close()

	lines := readLines(t, path)
	require.Len(t, lines, goroutines*perGoroutine)
	for _, line := range lines {
		var e Entry
		require.NoError(t, json.Unmarshal([]byte(line), &e), "interleaved write produced a torn line")
	}
}

func TestLogWriter_Write(t *testing.T) {
	w := NewLogWriter(zap.NewNop())
	w.Write(testEntry("a"))
	w.Close()
}
