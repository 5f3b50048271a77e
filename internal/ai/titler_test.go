package ai

import (
	"context"
	"testing"
)

func TestTitler_StripsMarkdownAndQuotes(t *testing.T) {
	cases := map[string]string{
		"# \"Planning a trip\"":      "Planning a trip",
		"** Weather question **":     "Weather question",
		"\"Simple greeting\"":        "Simple greeting",
		"  Plain title  ":        "Plain title",
	}

	for raw, want := range cases {
		prov := &scriptedProvider{reply: raw}
		titler := NewTitler(prov)
		got, err := titler.Generate(context.Background(), "hello")
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if got != want {
			t.Fatalf("raw %q: expected %q, got %q", raw, want, got)
		}
	}
}
