package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "member.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func TestExtractTimestamp(t *testing.T) {
	want := time.Date(2026, 1, 15, 10, 30, 45, 123000000, time.UTC)

	tests := []struct {
		name string
		line string
		want time.Time
	}{
		{"json", `{"time":"2026-01-15T10:30:45.123Z","level":"INFO","msg":"Client authenticated"}`, want},
		{"leading rfc3339", `2026-01-15T10:30:45.123Z INFO Client authenticated`, want},
		{"none", `INFO Client authenticated`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(extractTimestamp(tt.line)))
		})
	}
}

func TestShowLogs_TailAndSince(t *testing.T) {
	path := writeLog(t,
		`{"time":"2026-01-15T10:00:00Z","msg":"one"}`,
		`{"time":"2026-01-15T11:00:00Z","msg":"two"}`,
		`{"time":"2026-01-15T12:00:00Z","msg":"three"}`,
	)

	var out bytes.Buffer
	require.NoError(t, showLogs(&out, path, 2, time.Time{}))
	assert.NotContains(t, out.String(), "one")
	assert.Contains(t, out.String(), "two")
	assert.Contains(t, out.String(), "three")

	out.Reset()
	since := time.Date(2026, 1, 15, 11, 30, 0, 0, time.UTC)
	require.NoError(t, showLogs(&out, path, 100, since))
	assert.Equal(t, `{"time":"2026-01-15T12:00:00Z","msg":"three"}`+"\n", out.String())
}

func TestFollowLogs(t *testing.T) {
	path := writeLog(t, "first")

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- followLogs(ctx, out, path, 10, time.Time{}) }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "first") }, 2*time.Second, 10*time.Millisecond)

	// Give the watcher time to register before appending.
	time.Sleep(100 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("second\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "second") }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("followLogs did not stop")
	}
}
