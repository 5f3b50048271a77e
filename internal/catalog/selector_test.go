package catalog

import (
	"errors"
	"testing"

	"github.com/valmeras/chat-gateway/internal/common"
)

func testCatalog(t *testing.T, models []ModelDescriptor) *Catalog {
	t.Helper()
	c, err := New(models)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	return c
}

func TestSelect_UnknownModelRejected(t *testing.T) {
	c := Default()
	_, err := c.Select("bogus-id", false)
	if err == nil {
		t.Fatalf("expected error for unknown model")
	}
	if common.KindOf(err) != common.KindBadRequest {
		t.Fatalf("expected bad_request, got %s", common.KindOf(err))
	}
}

func TestSelect_AutoPrefersVisionForImages(t *testing.T) {
	c := Default()

	sel, err := c.Select(AutoModelID, true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !sel.Model.SupportsVision {
		t.Fatalf("auto with images should pick a vision model, got %q", sel.Model.ID)
	}

	sel, err = c.Select(AutoModelID, false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Model.ID != c.models[0].ID {
		t.Fatalf("auto without images should pick the first model, got %q", sel.Model.ID)
	}
}

func TestSelect_VisionFallbackEmitsNotice(t *testing.T) {
	c := Default()
	sel, err := c.Select("meta-llama/Llama-3.1-8B-Instruct", true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !sel.Model.SupportsVision {
		t.Fatalf("expected silent switch to a vision model, got %q", sel.Model.ID)
	}
	if len(sel.Notices) != 1 {
		t.Fatalf("expected one notice about the switch, got %d", len(sel.Notices))
	}
}

func TestSelect_NoVisionModelAvailable(t *testing.T) {
	c := testCatalog(t, []ModelDescriptor{
		{ID: "text-only", Name: "Text Only", Provider: "huggingface"},
	})
	_, err := c.Select("text-only", true)
	if !errors.Is(err, ErrNoVisionModel) {
		t.Fatalf("expected ErrNoVisionModel, got %v", err)
	}
}

func TestSelect_FirstMeansDeclarationOrder(t *testing.T) {
	c := testCatalog(t, []ModelDescriptor{
		{ID: "b-model", Provider: "huggingface", SupportsVision: true},
		{ID: "a-model", Provider: "huggingface", SupportsVision: true},
	})
	sel, err := c.Select(AutoModelID, true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Model.ID != "b-model" {
		t.Fatalf("expected declaration order to win, got %q", sel.Model.ID)
	}
}

func TestNew_RejectsReservedAndDuplicateIDs(t *testing.T) {
	if _, err := New([]ModelDescriptor{{ID: AutoModelID}}); err == nil {
		t.Fatalf("expected reserved id to be rejected")
	}
	if _, err := New([]ModelDescriptor{{ID: "m"}, {ID: "m"}}); err == nil {
		t.Fatalf("expected duplicate id to be rejected")
	}
}
