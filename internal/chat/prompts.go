package chat

import (
	"fmt"
	"strings"
)

const regularPrompt = "You are a friendly assistant. Keep your responses concise and helpful."

const toolsPrompt = `You can call tools when they help answer the user.
Prefer a direct answer when no tool applies. When you call a tool, wait for
its result before responding.`

const toolsDisabledPrompt = "Tools are disabled for this model; respond directly without tool calls."

// systemPrompt assembles the system message for a turn. Tool guidance is
// gated by the effective model's capability; stored custom instructions
// and the location hint are appended when present.
func systemPrompt(supportsTools bool, customInstructions string, loc *Location) string {
	sections := []string{regularPrompt}
	if supportsTools {
		sections = append(sections, toolsPrompt)
	} else {
		sections = append(sections, toolsDisabledPrompt)
	}
	if hint := locationPrompt(loc); hint != "" {
		sections = append(sections, hint)
	}
	if s := strings.TrimSpace(customInstructions); s != "" {
		sections = append(sections, "User instructions:\n"+s)
	}
	return strings.Join(sections, "\n\n")
}

// locationPrompt renders the geo hint. Only reached when the user has
// opted in via UseLocation.
func locationPrompt(loc *Location) string {
	if loc == nil {
		return ""
	}
	var place []string
	if loc.City != "" {
		place = append(place, loc.City)
	}
	if loc.Country != "" {
		place = append(place, loc.Country)
	}
	var out []string
	if len(place) > 0 {
		out = append(out, "The user's approximate location is "+strings.Join(place, ", ")+".")
	}
	if loc.Latitude != "" && loc.Longitude != "" {
		out = append(out, fmt.Sprintf("Coordinates: %s, %s.", loc.Latitude, loc.Longitude))
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, " ") + " Use it when the question depends on where they are."
}
