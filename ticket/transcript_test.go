package ticket

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenderTranscript(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	out := RenderTranscript([]Message{
		{AuthorName: "bob", Content: "and a file", Timestamp: base.Add(2 * time.Minute),
			Attachments: []string{"https://cdn.example/a.png"}},
		{AuthorName: "alice", Content: "hello", Timestamp: base},
		{AuthorName: "bob", Content: "hi", Timestamp: base.Add(time.Minute)},
	})

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, "=== TICKET TRANSCRIPT ===", lines[0])
	assert.Equal(t, "[2026-08-01 10:00:00] alice: hello", lines[2])
	assert.Equal(t, "[2026-08-01 10:01:00] bob: hi", lines[3])
	assert.Equal(t, "[2026-08-01 10:02:00] bob: and a file", lines[4])
	assert.Equal(t, "  attachment: https://cdn.example/a.png", lines[5])
}

func TestRenderTranscriptEmpty(t *testing.T) {
	out := RenderTranscript(nil)
	assert.Equal(t, "=== TICKET TRANSCRIPT ===\n\n", out)
}
