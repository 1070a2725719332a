package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *MCPServer) registerItemTools() {
	s.server.AddTool(
		mcp.NewTool("items_import",
			mcp.WithDescription("Import work items from a JSON or CSV document. Provide either a file path or inline content."),
			mcp.WithString("path",
				mcp.Description("Path of a .json or .csv file readable by the server"),
			),
			mcp.WithString("content",
				mcp.Description("Inline document content"),
			),
			mcp.WithString("format",
				mcp.Description("Format of inline content: json (default) or csv"),
				mcp.Enum("json", "csv"),
			),
		),
		s.handleItemsImport,
	)

	s.server.AddTool(
		mcp.NewTool("items_export",
			mcp.WithDescription("Export all work items with their current status as a JSON document"),
			mcp.WithString("path",
				mcp.Description("Write the document to this path instead of returning it"),
			),
		),
		s.handleItemsExport,
	)

	s.server.AddTool(
		mcp.NewTool("items_list",
			mcp.WithDescription("List work items, optionally filtered by status"),
			mcp.WithString("status",
				mcp.Description("pending, success, already_done, failed, skipped or error"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of items to list (default: 50)"),
			),
		),
		s.handleItemsList,
	)
}

func (s *MCPServer) handleItemsImport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)

	var name string
	var data []byte
	switch {
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		name, data = filepath.Base(path), b
	case content != "":
		format, _ := args["format"].(string)
		name = "inline.json"
		if format == "csv" {
			name = "inline.csv"
		}
		data = []byte(content)
	default:
		return nil, fmt.Errorf("path or content is required")
	}

	added, skipped, err := s.app.ImportItems(name, data)
	if err != nil {
		return nil, fmt.Errorf("import rejected: %w", err)
	}
	return textResult(fmt.Sprintf("Imported %s: %d added, %d already known", name, added, skipped)), nil
}

func (s *MCPServer) handleItemsExport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := s.app.ExportItems()
	if err != nil {
		return nil, fmt.Errorf("failed to export items: %w", err)
	}

	args := request.GetArguments()
	if path, _ := args["path"].(string); path != "" {
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		return textResult(fmt.Sprintf("Exported items to %s (%d bytes)", path, len(data))), nil
	}
	return textResult(string(data)), nil
}

func (s *MCPServer) handleItemsList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	status, _ := args["status"].(string)
	limit := 50
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	items, err := s.app.ListItems(status)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	if len(items) == 0 {
		return textResult("No items found"), nil
	}

	total := len(items)
	if len(items) > limit {
		items = items[:limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Showing %d of %d item(s):\n\n", len(items), total)
	for _, it := range items {
		fmt.Fprintf(&b, "- %s %s/%s priority=%d status=%s retries=%d", it.ID, it.Platform, it.Username, it.Priority, it.Status, it.RetryCount)
		if it.LastError != "" {
			fmt.Fprintf(&b, " error=%q", it.LastError)
		}
		b.WriteString("\n")
	}

	stats, _ := json.MarshalIndent(s.app.ItemStatistics(), "", "  ")
	return textResult(b.String(), fmt.Sprintf("\nStatistics:\n```json\n%s\n```", string(stats))), nil
}
