// Package catalog holds the static model catalog and the effective-model
// selection rules. The catalog is built once at startup and never mutated.
package catalog

import "fmt"

// AutoModelID is the pseudo-model clients may request; it never reaches a
// provider call and is always resolved to a concrete descriptor.
const AutoModelID = "auto"

type ModelDescriptor struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Provider       string `json:"provider"`
	SupportsTools  bool   `json:"supports_tools"`
	SupportsVision bool   `json:"supports_vision"`
}

type Catalog struct {
	models []ModelDescriptor
	byID   map[string]ModelDescriptor
}

func New(models []ModelDescriptor) (*Catalog, error) {
	byID := make(map[string]ModelDescriptor, len(models))
	for _, m := range models {
		if m.ID == AutoModelID {
			return nil, fmt.Errorf("catalog: %q is reserved", AutoModelID)
		}
		if _, dup := byID[m.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate model id %q", m.ID)
		}
		byID[m.ID] = m
	}
	return &Catalog{models: append([]ModelDescriptor(nil), models...), byID: byID}, nil
}

// Default is the curated Hugging Face catalog plus a local Ollama model.
func Default() *Catalog {
	c, err := New([]ModelDescriptor{
		{ID: "meta-llama/Llama-3.1-8B-Instruct", Name: "Llama 3.1 8B", Provider: "huggingface"},
		{ID: "meta-llama/Llama-3.1-70B-Instruct", Name: "Llama 3.1 70B", Provider: "huggingface", SupportsTools: true},
		{ID: "NousResearch/Hermes-3-Llama-3.1-8B", Name: "Hermes 3 (Llama 8B)", Provider: "huggingface"},
		{ID: "Qwen/Qwen2.5-7B-Instruct", Name: "Qwen 2.5 7B", Provider: "huggingface"},
		{ID: "Qwen/Qwen2.5-72B-Instruct", Name: "Qwen 2.5 72B", Provider: "huggingface", SupportsTools: true},
		{ID: "Qwen/Qwen2.5-VL-7B-Instruct", Name: "Qwen 2.5 VL 7B", Provider: "huggingface", SupportsVision: true},
		{ID: "llama3:latest", Name: "Llama 3 (local)", Provider: "ollama"},
	})
	if err != nil {
		panic(err) // static declaration, cannot fail at runtime
	}
	return c
}

func (c *Catalog) Get(id string) (ModelDescriptor, bool) {
	m, ok := c.byID[id]
	return m, ok
}

// Models returns descriptors in declaration order.
func (c *Catalog) Models() []ModelDescriptor {
	return append([]ModelDescriptor(nil), c.models...)
}

func (c *Catalog) firstVision() (ModelDescriptor, bool) {
	for _, m := range c.models {
		if m.SupportsVision {
			return m, true
		}
	}
	return ModelDescriptor{}, false
}
