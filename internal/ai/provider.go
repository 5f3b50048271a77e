package ai

import (
	"context"
	"encoding/json"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is the plain conversation format providers consume.
type Message struct {
	Role    string
	Content string
	Images  []Image
}

// Image is inline image data attached to a message.
type Image struct {
	MediaType string
	Data      string // base64, no data-URL prefix
}

// Tool describes a callable tool advertised to the model. The gateway
// never executes tools itself; calls round-trip through the client.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON schema
}

type ChatOptions struct {
	Tools       []Tool
	Temperature *float64
}

type Provider interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
}
