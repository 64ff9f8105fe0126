package chat

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/freegpt4/webapi/internal/provider"
)

var sourceMarker = regexp.MustCompile(`\[\^[0-9]+\^\]\[[0-9]+\]`)

// RemoveSources strips [^N^][N] citation markers from a reply.
func RemoveSources(text string) string {
	return strings.TrimSpace(sourceMarker.ReplaceAllString(text, ""))
}

// DecodeHistory parses stored history. System entries are dropped because
// the current system prompt is always prepended fresh.
func DecodeHistory(raw string) ([]provider.Message, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var msgs []provider.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, err
	}
	kept := msgs[:0]
	for _, m := range msgs {
		if m.Role == provider.RoleSystem || m.Content == "" {
			continue
		}
		kept = append(kept, m)
	}
	return kept, nil
}

// EncodeHistory serialises msgs in the stored format.
func EncodeHistory(msgs []provider.Message) (string, error) {
	if len(msgs) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// BuildMessages assembles the upstream conversation: the system prompt,
// the previous turns, then the question.
func BuildMessages(systemPrompt string, history []provider.Message, question string) []provider.Message {
	msgs := make([]provider.Message, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, history...)
	return append(msgs, provider.Message{Role: provider.RoleUser, Content: question})
}
