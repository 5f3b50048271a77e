package ai

import (
	"context"
	"fmt"
	"log"
	"strings"
)

const moderationPromptTemplate = `You are a content safety classifier. Decide whether the following message is safe.
A message is UNSAFE if it contains hate speech, harassment, sexual content involving minors, instructions for serious harm, or credible threats of violence.
Respond with exactly one word: SAFE or UNSAFE.

Message:
%s`

// Moderator is the binary safety classifier applied to inbound and
// outbound chat text. It is one more completion call under the hood.
type Moderator struct {
	provider Provider
}

func NewModerator(p Provider) *Moderator {
	return &Moderator{provider: p}
}

// Check returns true when text is judged unsafe. A classifier transport
// failure is returned as an error: the caller cannot proceed without a
// verdict.
func (m *Moderator) Check(ctx context.Context, text string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, nil
	}

	temp := 0.0
	verdict, err := m.provider.Chat(ctx, []Message{
		{Role: RoleUser, Content: fmt.Sprintf(moderationPromptTemplate, text)},
	}, ChatOptions{Temperature: &temp})
	if err != nil {
		return false, fmt.Errorf("moderation check: %w", err)
	}

	switch strings.ToUpper(strings.TrimSpace(verdict)) {
	case "UNSAFE":
		return true, nil
	case "SAFE":
		return false, nil
	default:
		// Unclear verdicts pass as safe to avoid false positives, but are logged.
		log.Printf("[Moderator] unexpected verdict %q", verdict)
		return false, nil
	}
}
