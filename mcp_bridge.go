package main

import (
	"context"

	"flowfarm/mcp"
)

// MCPBridge bridges the App to the MCP server
type MCPBridge struct {
	app *App
}

func NewMCPBridge(app *App) *MCPBridge {
	return &MCPBridge{app: app}
}

func (b *MCPBridge) GetAppVersion() string { return b.app.GetAppVersion() }

func (b *MCPBridge) ScanDevices(ctx context.Context) ([]mcp.Device, error) {
	return b.app.ScanDevices(ctx)
}

func (b *MCPBridge) ListDevices() []mcp.Device { return b.app.ListDevices() }

func (b *MCPBridge) DeviceSummary() mcp.DeviceSummary { return b.app.DeviceSummary() }

func (b *MCPBridge) ImportItems(name string, data []byte) (int, int, error) {
	return b.app.ImportItems(name, data)
}

func (b *MCPBridge) ExportItems() ([]byte, error) { return b.app.ExportItems() }

func (b *MCPBridge) ListItems(status string) ([]mcp.WorkItem, error) {
	return b.app.ListItems(status)
}

func (b *MCPBridge) ItemStatistics() mcp.Statistics { return b.app.ItemStatistics() }

func (b *MCPBridge) PlanBatch(platform string) (mcp.AssignmentPlan, error) {
	return b.app.PlanBatch(platform)
}

// StartBatch runs detached from the request context so the batch outlives the tool call.
func (b *MCPBridge) StartBatch(platform string) (mcp.AssignmentPlan, error) {
	return b.app.StartBatch(platform)
}

func (b *MCPBridge) StopBatch() bool { return b.app.StopBatch() }

func (b *MCPBridge) IsBatchRunning() bool { return b.app.IsBatchRunning() }

func (b *MCPBridge) GetStats() mcp.ExecutionStats { return b.app.GetStats() }

func (b *MCPBridge) ListBatches(limit int) ([]mcp.ExecutionStats, error) {
	return b.app.ListBatches(limit)
}

func (b *MCPBridge) SubscribeEvents(buffer int) (<-chan mcp.Event, func()) {
	return b.app.SubscribeEvents(buffer)
}
