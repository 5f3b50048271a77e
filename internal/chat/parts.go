package chat

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
)

// PartType discriminates the message part union.
type PartType string

const (
	PartText     PartType = "text"
	PartFile     PartType = "file"
	PartToolCall PartType = "tool-call"
)

// Part is one element of a message body. Exactly the fields of the
// declared type are meaningful; everything else stays zero.
type Part struct {
	Type PartType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// file: URL references external storage, Data carries inline base64
	// once the attachment has been fetched.
	URL       string `json:"url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	// tool-call
	ToolName   string          `json:"tool_name,omitempty"`
	ToolArgs   json.RawMessage `json:"tool_args,omitempty"`
	ToolResult json.RawMessage `json:"tool_result,omitempty"`
	ToolState  string          `json:"tool_state,omitempty"` // pending-approval | approved | done
}

func TextPart(text string) Part { return Part{Type: PartText, Text: text} }

// PartList is stored as a JSON text column.
type PartList []Part

func (p PartList) Value() (driver.Value, error) {
	if p == nil {
		p = PartList{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *PartList) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return errors.New("chat: unsupported part list column type")
	}
}

// PlainText joins the text parts for moderation and title generation.
func (p PartList) PlainText() string {
	var out []string
	for _, part := range p {
		if part.Type == PartText && part.Text != "" {
			out = append(out, part.Text)
		}
	}
	return strings.Join(out, " ")
}

// HasImage reports whether any file part carries an image attachment.
func (p PartList) HasImage() bool {
	for _, part := range p {
		if part.Type == PartFile && strings.HasPrefix(part.MediaType, "image/") {
			return true
		}
	}
	return false
}
