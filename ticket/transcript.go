package ticket

import (
	"fmt"
	"sort"
	"strings"
)

// RenderTranscript renders channel messages oldest-first as
// "[timestamp] author: content" lines. Attachment URLs are listed under
// the message that carried them.
func RenderTranscript(msgs []Message) string {
	var sb strings.Builder
	sb.WriteString("=== TICKET TRANSCRIPT ===\n\n")

	ordered := make([]Message, len(msgs))
	copy(ordered, msgs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	for _, m := range ordered {
		ts := m.Timestamp.Format("2006-01-02 15:04:05")
		sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", ts, m.AuthorName, m.Content))
		for _, a := range m.Attachments {
			sb.WriteString(fmt.Sprintf("  attachment: %s\n", a))
		}
	}
	return sb.String()
}
