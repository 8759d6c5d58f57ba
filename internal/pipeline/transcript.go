package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/inbox-sync/internal/model"
)

// transcriptBlocks renders the conversation chronologically, one block
// per message, with the subject leading as its own block. Cleaned bodies
// are preferred; a message the cleaner emptied falls back to its raw
// body so quoted-only replies still reach the summarizer.
func transcriptBlocks(subject string, msgs []*model.Message) []string {
	blocks := make([]string, 0, len(msgs)+1)
	if subject != "" {
		blocks = append(blocks, "Subject: "+subject)
	}
	for _, m := range msgs {
		blocks = append(blocks, messageBlock(m))
	}
	return blocks
}

func messageBlock(m *model.Message) string {
	body := strings.TrimSpace(m.CleanBody)
	if body == "" {
		body = strings.TrimSpace(m.RawBody)
	}

	sender := m.FromEmail
	switch {
	case m.FromName != "" && m.FromEmail != "":
		sender = fmt.Sprintf("%s <%s>", m.FromName, m.FromEmail)
	case m.FromName != "":
		sender = m.FromName
	case m.FromEmail == "":
		sender = "unknown"
	}

	return fmt.Sprintf("[%s] %s: %s", m.SentAt.UTC().Format("2006-01-02 15:04"), sender, body)
}
