// Package mcp exposes the orchestrator over the Model Context Protocol so that external
// clients can scan devices, manage work items and drive batches.
package mcp

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"flowfarm/pkg/logger"
	"flowfarm/pkg/scheduler"
	"flowfarm/pkg/types"
	"flowfarm/pkg/workitem"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type (
	Device         = types.Device
	DeviceSummary  = types.DeviceSummary
	WorkItem       = types.WorkItem
	AssignmentPlan = types.AssignmentPlan
	ExecutionStats = types.ExecutionStats
	Statistics     = workitem.Statistics
	Event          = scheduler.Event
)

// FarmApp is the application surface the MCP tools drive.
type FarmApp interface {
	GetAppVersion() string

	// Devices
	ScanDevices(ctx context.Context) ([]Device, error)
	ListDevices() []Device
	DeviceSummary() DeviceSummary

	// Work items
	ImportItems(name string, data []byte) (added, skipped int, err error)
	ExportItems() ([]byte, error)
	ListItems(status string) ([]WorkItem, error)
	ItemStatistics() Statistics

	// Batches
	PlanBatch(platform string) (AssignmentPlan, error)
	StartBatch(platform string) (AssignmentPlan, error)
	StopBatch() bool
	IsBatchRunning() bool
	GetStats() ExecutionStats
	ListBatches(limit int) ([]ExecutionStats, error)
	// SubscribeEvents streams batch progress until the returned cancel is called.
	SubscribeEvents(buffer int) (<-chan Event, func())
}

// MCPServer wraps the MCP server and routes tool calls to a FarmApp
type MCPServer struct {
	app       FarmApp
	server    *server.MCPServer
	stdio     *server.StdioServer
	mu        sync.Mutex
	isRunning bool
}

func NewMCPServer(app FarmApp) *MCPServer {
	mcpServer := server.NewMCPServer(
		"flowfarm",
		app.GetAppVersion(),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithLogging(),
	)

	s := &MCPServer{
		app:    app,
		server: mcpServer,
	}
	s.registerTools()
	s.registerResources()
	return s
}

func (s *MCPServer) registerTools() {
	s.registerDeviceTools()
	s.registerItemTools()
	s.registerBatchTools()
}

func (s *MCPServer) registerResources() {
	s.server.AddResource(
		mcp.NewResource(
			"flowfarm://devices",
			"Registered Android devices",
			mcp.WithMIMEType("application/json"),
		),
		s.handleDevicesResource,
	)

	s.server.AddResource(
		mcp.NewResource(
			"flowfarm://stats",
			"Statistics of the current or last batch",
			mcp.WithMIMEType("application/json"),
		),
		s.handleStatsResource,
	)

	s.server.AddResource(
		mcp.NewResource(
			"flowfarm://items",
			"Work item statistics",
			mcp.WithMIMEType("application/json"),
		),
		s.handleItemsResource,
	)
}

// Start serves over stdio and blocks until stdin closes or an interrupt arrives.
func (s *MCPServer) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("MCP server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	return s.run()
}

func (s *MCPServer) run() error {
	s.stdio = server.NewStdioServer(s.server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	go s.forwardEvents(ctx)

	logger.Info("mcp").Msg("MCP server started on stdio")
	err := s.stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && ctx.Err() == nil {
		logger.Error("mcp").Err(err).Msg("MCP server error")
	}

	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()

	return err
}

// Stop marks the server stopped; the stdio loop ends when stdin closes.
func (s *MCPServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isRunning = false
}

func (s *MCPServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func textResult(parts ...string) *mcp.CallToolResult {
	content := make([]mcp.Content, 0, len(parts))
	for _, p := range parts {
		content = append(content, mcp.NewTextContent(p))
	}
	return &mcp.CallToolResult{Content: content}
}
