package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *MCPServer) registerDeviceTools() {
	s.server.AddTool(
		mcp.NewTool("device_scan",
			mcp.WithDescription("Rescan ADB for attached devices and refresh their properties"),
		),
		s.handleDeviceScan,
	)

	s.server.AddTool(
		mcp.NewTool("device_list",
			mcp.WithDescription("List registered devices with their health status"),
			mcp.WithBoolean("available_only",
				mcp.Description("Only list devices that can accept work"),
			),
		),
		s.handleDeviceList,
	)
}

func formatDevices(devices []Device) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d device(s):\n\n", len(devices))
	for i, d := range devices {
		battery := "unknown"
		if d.Battery >= 0 {
			battery = fmt.Sprintf("%d%%", d.Battery)
		}
		fmt.Fprintf(&b, "%d. %s [%s]\n   Model: %s, Android: %s, Battery: %s\n",
			i+1, d.ID, d.Status, d.Model, d.AndroidVersion, battery)
	}
	return b.String()
}

func devicesResult(devices []Device) *mcp.CallToolResult {
	if len(devices) == 0 {
		return textResult("No devices found")
	}
	jsonData, _ := json.MarshalIndent(devices, "", "  ")
	return textResult(
		formatDevices(devices),
		fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData)),
	)
}

func (s *MCPServer) handleDeviceScan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	devices, err := s.app.ScanDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan devices: %w", err)
	}
	return devicesResult(devices), nil
}

func (s *MCPServer) handleDeviceList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	availableOnly, _ := args["available_only"].(bool)

	devices := s.app.ListDevices()
	if availableOnly {
		kept := devices[:0:0]
		for _, d := range devices {
			if d.Status.Available() {
				kept = append(kept, d)
			}
		}
		devices = kept
	}

	result := devicesResult(devices)
	sum := s.app.DeviceSummary()
	result.Content = append(result.Content, mcp.NewTextContent(fmt.Sprintf(
		"\nSummary: %d total, %d connected, %d working, %d offline, %d error",
		sum.Total, sum.Connected, sum.Working, sum.Offline, sum.Error)))
	return result, nil
}
