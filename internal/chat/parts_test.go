package chat

import "testing"

func TestPartListPlainText(t *testing.T) {
	parts := PartList{
		TextPart("hello"),
		{Type: PartFile, URL: "https://blob/x.png", MediaType: "image/png"},
		TextPart("world"),
		{Type: PartToolCall, ToolName: "getWeather"},
	}
	if got := parts.PlainText(); got != "hello world" {
		t.Fatalf("PlainText = %q", got)
	}
	if got := (PartList{}).PlainText(); got != "" {
		t.Fatalf("empty PlainText = %q", got)
	}
}

func TestPartListHasImage(t *testing.T) {
	withImage := PartList{
		TextPart("see attached"),
		{Type: PartFile, URL: "https://blob/x.png", MediaType: "image/png"},
	}
	if !withImage.HasImage() {
		t.Fatal("image attachment not detected")
	}

	pdfOnly := PartList{
		{Type: PartFile, URL: "https://blob/x.pdf", MediaType: "application/pdf"},
	}
	if pdfOnly.HasImage() {
		t.Fatal("pdf misdetected as image")
	}
	if (PartList{TextPart("hi")}).HasImage() {
		t.Fatal("text misdetected as image")
	}
}

func TestPartListScanRoundTrip(t *testing.T) {
	orig := PartList{
		TextPart("answer"),
		{Type: PartToolCall, ToolName: "createDocument", ToolArgs: []byte(`{"title":"x"}`), ToolState: "done"},
	}
	v, err := orig.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var scanned PartList
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(scanned) != 2 || scanned[0].Text != "answer" || scanned[1].ToolName != "createDocument" {
		t.Fatalf("round trip mismatch: %+v", scanned)
	}

	var fromNil PartList
	if err := fromNil.Scan(nil); err != nil || fromNil != nil {
		t.Fatalf("nil scan: %v %+v", err, fromNil)
	}
	if err := scanned.Scan(42); err == nil {
		t.Fatal("unsupported column type accepted")
	}
}
