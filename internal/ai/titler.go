package ai

import (
	"context"
	"strings"
)

const titleSystemPrompt = `You will generate a short title based on the first message a user begins a conversation with.
Ensure it is not more than 80 characters long.
The title should be a summary of the user's message.
Do not use quotes or colons.`

// Titler generates a chat title from the first user message.
type Titler struct {
	provider Provider
}

func NewTitler(p Provider) *Titler {
	return &Titler{provider: p}
}

func (t *Titler) Generate(ctx context.Context, firstMessage string) (string, error) {
	raw, err := t.provider.Chat(ctx, []Message{
		{Role: RoleSystem, Content: titleSystemPrompt},
		{Role: RoleUser, Content: firstMessage},
	}, ChatOptions{})
	if err != nil {
		return "", err
	}
	return SanitizeTitle(raw), nil
}

// SanitizeTitle strips leading markdown/quote characters and trailing
// quotes that chatty models tend to add.
func SanitizeTitle(raw string) string {
	title := strings.TrimLeft(raw, "#*\" \t\r\n")
	title = strings.TrimRight(title, "\"")
	return strings.TrimSpace(title)
}
