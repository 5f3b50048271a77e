package chat

import (
	"encoding/json"

	"github.com/valmeras/chat-gateway/internal/ai"
)

// The gateway advertises tools but never executes them; a model's tool
// call is returned to the client as a pending-approval tool-call part and
// resumed through the tool-approval request shape.
var turnTools = []ai.Tool{
	{
		Name:        "getWeather",
		Description: "Get the current weather at a location",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"latitude": {"type": "number"},
				"longitude": {"type": "number"}
			},
			"required": ["latitude", "longitude"]
		}`),
	},
	{
		Name:        "createDocument",
		Description: "Create a document for writing or content creation tasks",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string"},
				"kind": {"type": "string", "enum": ["text", "code"]}
			},
			"required": ["title", "kind"]
		}`),
	},
	{
		Name:        "updateDocument",
		Description: "Update an existing document with the given description of changes",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string"},
				"description": {"type": "string"}
			},
			"required": ["id", "description"]
		}`),
	},
	{
		Name:        "requestSuggestions",
		Description: "Request writing suggestions for a document",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"documentId": {"type": "string"}
			},
			"required": ["documentId"]
		}`),
	},
}
