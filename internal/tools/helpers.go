package tools

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/apperror"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
)

// EntityInput identifies one entity in tool arguments.
type EntityInput struct {
	Type string `json:"type" jsonschema:"Entity type: lead, deal, task, conversation, appointment or payment"`
	ID   string `json:"id" jsonschema:"Entity id"`
}

func (in EntityInput) ref() (models.EntityRef, error) {
	t, err := models.ParseEntityType(in.Type)
	if err != nil {
		return models.EntityRef{}, err
	}
	return models.EntityRef{Type: t, ID: in.ID}, nil
}

func toolText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// toolFailure reports err as a tool error, prefixed by what was being attempted.
func toolFailure(action string, err error) *mcp.CallToolResult {
	switch apperror.KindOf(err) {
	case apperror.KindNotFound:
		return toolError("%s: not found: %v", action, err)
	case apperror.KindInvalidKey:
		return toolError("%s: invalid input: %v", action, err)
	case apperror.KindUnavailable:
		return toolError("%s: store unavailable, try again later: %v", action, err)
	}
	return toolError("%s: %v", action, err)
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal result: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
