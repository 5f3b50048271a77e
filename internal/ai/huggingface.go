package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HuggingFaceProvider talks to the Hugging Face router, which exposes an
// OpenAI-compatible chat completions API.
type HuggingFaceProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

type hfContentPart struct {
	Type     string      `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL *hfImageURL `json:"image_url,omitempty"`
}

type hfImageURL struct {
	URL string `json:"url"`
}

type hfMsg struct {
	Role string `json:"role"`
	// Content is a string for plain text, or []hfContentPart when the
	// message carries images.
	Content any `json:"content"`
}

type hfTool struct {
	Type     string       `json:"type"`
	Function hfToolParams `json:"function"`
}

type hfToolParams struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type hfChatReq struct {
	Model       string   `json:"model"`
	Messages    []hfMsg  `json:"messages"`
	Stream      bool     `json:"stream"`
	Tools       []hfTool `json:"tools,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type hfChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type hfStreamResp struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewHuggingFaceProvider(baseURL, apiKey, model string) *HuggingFaceProvider {
	if baseURL == "" {
		baseURL = "https://router.huggingface.co/v1"
	}
	return &HuggingFaceProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func hfMessages(messages []Message) []hfMsg {
	out := make([]hfMsg, 0, len(messages))
	for _, m := range messages {
		if len(m.Images) == 0 {
			out = append(out, hfMsg{Role: m.Role, Content: m.Content})
			continue
		}
		parts := make([]hfContentPart, 0, len(m.Images)+1)
		if m.Content != "" {
			parts = append(parts, hfContentPart{Type: "text", Text: m.Content})
		}
		for _, img := range m.Images {
			parts = append(parts, hfContentPart{
				Type: "image_url",
				ImageURL: &hfImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", img.MediaType, img.Data),
				},
			})
		}
		out = append(out, hfMsg{Role: m.Role, Content: parts})
	}
	return out
}

func hfTools(tools []Tool) []hfTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]hfTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, hfTool{
			Type: "function",
			Function: hfToolParams{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func (p *HuggingFaceProvider) newRequest(ctx context.Context, stream bool, messages []Message, opts ChatOptions) (*http.Request, error) {
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("huggingface: api key is required")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return nil, errors.New("huggingface: model is required")
	}

	b, err := json.Marshal(hfChatReq{
		Model:       model,
		Messages:    hfMessages(messages),
		Stream:      stream,
		Tools:       hfTools(opts.Tools),
		Temperature: opts.Temperature,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	return req, nil
}

func hfStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return fmt.Errorf("huggingface: %s", msg)
}

func (p *HuggingFaceProvider) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	if p.Client == nil {
		return "", errors.New("huggingface: http client is nil")
	}

	req, err := p.newRequest(ctx, false, messages, opts)
	if err != nil {
		return "", err
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", hfStatusError(resp)
	}

	var decoded hfChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("huggingface: empty response")
	}
	return decoded.Choices[0].Message.Content, nil
}

// StreamChat streams assistant content chunks via SSE.
func (p *HuggingFaceProvider) StreamChat(ctx context.Context, messages []Message, opts ChatOptions) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if p.Client == nil {
			errs <- errors.New("huggingface: http client is nil")
			return
		}

		req, err := p.newRequest(ctx, true, messages, opts)
		if err != nil {
			errs <- err
			return
		}

		if p.Client.Timeout < 30*time.Second {
			p.Client.Timeout = 0 // ctx controls streaming lifetime
		}

		resp, err := p.Client.Do(req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs <- hfStatusError(resp)
			return
		}

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var decoded hfStreamResp
			if err := json.Unmarshal([]byte(data), &decoded); err != nil {
				errs <- err
				return
			}
			if decoded.Error != nil && decoded.Error.Message != "" {
				errs <- errors.New(decoded.Error.Message)
				return
			}
			if len(decoded.Choices) == 0 {
				continue
			}
			delta := decoded.Choices[0].Delta.Content
			if delta != "" {
				chunks <- delta
			}
		}

		if err := sc.Err(); err != nil {
			errs <- err
			return
		}
	}()

	return chunks, errs
}
