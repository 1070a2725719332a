package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *MCPServer) registerBatchTools() {
	s.server.AddTool(
		mcp.NewTool("batch_plan",
			mcp.WithDescription("Preview how pending items would be distributed across available devices"),
			mcp.WithString("platform",
				mcp.Description("Platform to plan for (default: configured platform)"),
			),
		),
		s.handleBatchPlan,
	)

	s.server.AddTool(
		mcp.NewTool("batch_start",
			mcp.WithDescription("Start a batch over all pending items in the background"),
			mcp.WithString("platform",
				mcp.Description("Platform to run (default: configured platform)"),
			),
		),
		s.handleBatchStart,
	)

	s.server.AddTool(
		mcp.NewTool("batch_stop",
			mcp.WithDescription("Request the running batch to stop after the items currently in flight"),
		),
		s.handleBatchStop,
	)

	s.server.AddTool(
		mcp.NewTool("stats_get",
			mcp.WithDescription("Get statistics of the running or most recent batch"),
			mcp.WithNumber("history",
				mcp.Description("Also list this many past batches"),
			),
		),
		s.handleStatsGet,
	)
}

func formatPlan(plan AssignmentPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d item(s) across %d device(s):\n", plan.Size(), len(plan.Devices))
	for _, d := range plan.Devices {
		ids := plan.Items[d]
		fmt.Fprintf(&b, "- %s: %d item(s)", d, len(ids))
		if len(ids) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(ids, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (s *MCPServer) handleBatchPlan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	platform, _ := request.GetArguments()["platform"].(string)
	plan, err := s.app.PlanBatch(platform)
	if err != nil {
		return nil, fmt.Errorf("failed to plan batch: %w", err)
	}
	return textResult(formatPlan(plan)), nil
}

func (s *MCPServer) handleBatchStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.app.IsBatchRunning() {
		return nil, fmt.Errorf("a batch is already running")
	}
	platform, _ := request.GetArguments()["platform"].(string)
	plan, err := s.app.StartBatch(platform)
	if err != nil {
		return nil, fmt.Errorf("failed to start batch: %w", err)
	}
	if plan.Size() == 0 {
		return textResult("Nothing to do: no pending items or no available devices"), nil
	}
	return textResult("Batch started\n\n" + formatPlan(plan)), nil
}

func (s *MCPServer) handleBatchStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.app.StopBatch() {
		return textResult("No batch is running"), nil
	}
	return textResult("Stop requested"), nil
}

func formatStats(st ExecutionStats) string {
	var b strings.Builder
	state := "finished"
	if st.FinishedAt.IsZero() {
		state = "running"
	} else if st.Stopped {
		state = "stopped"
	}
	fmt.Fprintf(&b, "Batch %s (%s)\n", st.BatchID, state)
	t := st.Totals
	fmt.Fprintf(&b, "Processed %d: %d success, %d already done, %d failed, %d skipped, %d error, %d unprocessed\n",
		t.Processed, t.Success, t.AlreadyDone, t.Failed, t.Skipped, t.Error, t.Unprocessed)
	fmt.Fprintf(&b, "Success rate: %.1f%%\n", st.SuccessRate*100)
	return b.String()
}

func (s *MCPServer) handleStatsGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.app.GetStats()
	var parts []string
	if st.BatchID == "" {
		parts = append(parts, "No batch has run yet")
	} else {
		jsonData, _ := json.MarshalIndent(st, "", "  ")
		parts = append(parts, formatStats(st), fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData)))
	}

	if n, ok := request.GetArguments()["history"].(float64); ok && n > 0 {
		history, err := s.app.ListBatches(int(n))
		if err != nil {
			return nil, fmt.Errorf("failed to list batches: %w", err)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "\nLast %d batch(es):\n", len(history))
		for _, h := range history {
			fmt.Fprintf(&b, "- %s %s processed=%d rate=%.1f%%\n",
				h.BatchID, h.StartedAt.Format("2006-01-02 15:04:05"), h.Totals.Processed, h.SuccessRate*100)
		}
		parts = append(parts, b.String())
	}
	return textResult(parts...), nil
}
