// Package agentsession adapts the opaque agent-session collaborator to
// two concrete backends: an MCP tool server exposing
// submit_extraction_results plus the read-only file tools, and a
// genai-backed Session that drives an actual model against the same
// tool contract.
package agentsession

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kgraph/extractor/pkg/capture"
)

// ToolName is the single tool every extraction turn is expected to
// call with its extracted entities.
const ToolName = "submit_extraction_results"

// NewToolServer builds an MCP server exposing ToolName plus the
// read-only file, directory-search, and glob tools the agent explores a
// chunk with: one *server.MCPServer, tools registered with
// mcp.NewTool/mcp.With*, handlers closing over whatever state they need
// -- here, the Capture each chunk's tool call should land in, and root,
// the sandboxed directory the file tools may read from.
func NewToolServer(cap *capture.Capture, root string) *server.MCPServer {
	s := server.NewMCPServer(
		"kgextract",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool(ToolName,
			mcp.WithDescription("Submit the entities extracted from this chunk's files, plus extraction metadata."),
			mcp.WithArray("entities",
				mcp.Required(),
				mcp.Description(`List of extracted entities. Each entity is an object with "@id" (a urn:<Type>:<id> string), "@type", "name", and any domain properties.`),
			),
			mcp.WithObject("metadata",
				mcp.Required(),
				mcp.Description(`Extraction metadata: entity_count, types_discovered, files_processed.`),
			),
		),
		handleSubmit(cap),
	)

	s.AddTool(
		mcp.NewTool(ToolReadFile,
			mcp.WithDescription("Read the contents of a file in the chunk's data directory. Paths are relative to that directory."),
			mcp.WithString("path", mcp.Required(), mcp.Description("File path relative to the data directory, e.g. 'services/payment-api.yaml'")),
		),
		handleReadFile(root),
	)

	s.AddTool(
		mcp.NewTool(ToolSearchFiles,
			mcp.WithDescription("Search file contents under the data directory for a substring, returning matching path:line: text lines."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Substring to search for")),
			mcp.WithString("path", mcp.Description("Optional subdirectory to scope the search to")),
		),
		handleSearchFiles(root),
	)

	s.AddTool(
		mcp.NewTool(ToolGlobFiles,
			mcp.WithDescription("List files under the data directory whose relative path matches a glob pattern, e.g. '**/*.yaml'."),
			mcp.WithString("pattern", mcp.Required(), mcp.Description("Glob pattern; '**' matches any number of path segments")),
		),
		handleGlobFiles(root),
	)

	return s
}

func handleSubmit(cap *capture.Capture) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		rawEntities, ok := args["entities"]
		if !ok {
			return mcp.NewToolResultError("entities parameter is required"), nil
		}
		entitiesJSON, err := json.Marshal(rawEntities)
		if err != nil {
			return mcp.NewToolResultError("entities parameter is not valid JSON"), nil
		}
		var entities []json.RawMessage
		if err := json.Unmarshal(entitiesJSON, &entities); err != nil {
			return mcp.NewToolResultError("entities parameter must be a JSON array"), nil
		}

		metadata, _ := args["metadata"].(map[string]any)

		cap.Submit(&capture.Submission{Entities: entities, Metadata: metadata})

		return mcp.NewToolResultText("extraction results recorded"), nil
	}
}

func handleReadFile(root string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path := req.GetString("path", "")
		if path == "" {
			return mcp.NewToolResultError("path parameter is required"), nil
		}
		content, err := readFile(root, path)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(content), nil
	}
}

func handleSearchFiles(root string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if query == "" {
			return mcp.NewToolResultError("query parameter is required"), nil
		}
		scope := req.GetString("path", "")
		result, err := searchFiles(root, query, scope)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(result), nil
	}
}

func handleGlobFiles(root string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pattern := req.GetString("pattern", "")
		if pattern == "" {
			return mcp.NewToolResultError("pattern parameter is required"), nil
		}
		matches, err := globFiles(root, pattern)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(matches) == 0 {
			return mcp.NewToolResultText("no matches"), nil
		}
		return mcp.NewToolResultText(strings.Join(matches, "\n")), nil
	}
}
