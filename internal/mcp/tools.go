package mcp

import (
	"context"
	"fmt"
	"net/url"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/txdriver/pkg/types"
)

// RegisterTools registers all driver tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerStatus(s, client)
	registerHealth(s, client)
	registerStart(s, client)
	registerStop(s, client)
	registerRuns(s, client)
	registerRun(s, client)
	registerSubmissions(s, client)
	registerDeleteRun(s, client)
}

func registerStatus(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txdriver_status",
		gomcp.WithDescription("Get the current run state: iterations, submitted and failed transactions by kind, retries, TPS and submit latency."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var m types.RunMetrics
		if err := client.Get(ctx, "/v1/status", &m); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Driver unreachable: %v\n\nIs `txdriver serve` running?", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(m)), nil
	})
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txdriver_health",
		gomcp.WithDescription("Check that the driver is up and its RPC endpoint answers."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var r readiness
		if err := client.Get(ctx, "/ready", &r); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Driver not ready: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(r)), nil
	})
}

func registerStart(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txdriver_start",
		gomcp.WithDescription("Start a run. This is a MUTATING operation that submits signed transactions. Pacing: unpaced, constant, ramp, spike."),
		gomcp.WithNumber("duration_sec",
			gomcp.Required(),
			gomcp.Description("Run duration in seconds"),
		),
		gomcp.WithString("transaction_type",
			gomcp.Description("native-transfer (default), erc20-mint, erc20-burn, erc1155-safe-transfer"),
		),
		gomcp.WithNumber("workers",
			gomcp.Description("Number of workers (default: one per loaded account)"),
		),
		gomcp.WithString("pacing",
			gomcp.Description("Pacing profile: unpaced (default), constant, ramp, spike"),
		),
		gomcp.WithNumber("target_tps",
			gomcp.Description("Aggregate TPS for constant pacing, baseline TPS for spike pacing"),
		),
		gomcp.WithNumber("ramp_start_tps",
			gomcp.Description("Start TPS for ramp pacing"),
		),
		gomcp.WithNumber("peak_tps",
			gomcp.Description("End TPS for ramp pacing, spike TPS for spike pacing"),
		),
		gomcp.WithNumber("spike_duration_sec",
			gomcp.Description("Spike duration in seconds"),
		),
		gomcp.WithNumber("spike_interval_sec",
			gomcp.Description("Interval between spike starts in seconds"),
		),
		gomcp.WithNumber("per_worker_rate",
			gomcp.Description("Per-worker iteration cap in iterations per second"),
		),
		gomcp.WithNumber("max_attempts",
			gomcp.Description("Attempts per iteration including the first (default: 3)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		start, err := startRequest(req)
		if err != nil {
			return gomcp.NewToolResultError(err.Error()), nil
		}

		var resp struct {
			RunID string `json:"runId"`
		}
		if err := client.Post(ctx, "/v1/start", start, &resp); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Start run failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatStarted(resp.RunID)), nil
	})
}

// startRequest maps tool arguments onto the API request.
func startRequest(req gomcp.CallToolRequest) (types.StartRunRequest, error) {
	durationSec := req.GetInt("duration_sec", 0)
	if durationSec <= 0 {
		return types.StartRunRequest{}, fmt.Errorf("duration_sec must be positive")
	}
	return types.StartRunRequest{
		TransactionType:  types.TransactionType(req.GetString("transaction_type", "")),
		DurationSec:      durationSec,
		Workers:          req.GetInt("workers", 0),
		Pacing:           req.GetString("pacing", ""),
		TargetTPS:        req.GetInt("target_tps", 0),
		RampStartTPS:     req.GetInt("ramp_start_tps", 0),
		PeakTPS:          req.GetInt("peak_tps", 0),
		SpikeDurationSec: req.GetInt("spike_duration_sec", 0),
		SpikeIntervalSec: req.GetInt("spike_interval_sec", 0),
		PerWorkerRate:    req.GetFloat("per_worker_rate", 0),
		MaxAttempts:      req.GetInt("max_attempts", 0),
	}, nil
}

func registerStop(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txdriver_stop",
		gomcp.WithDescription("Stop the active run. This is a MUTATING operation."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if err := client.Post(ctx, "/v1/stop", nil, nil); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Stop failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Run Stopped"),
			"Workers have been cancelled. The result will be available in history.",
		)), nil
	})
}

func registerRuns(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txdriver_runs",
		gomcp.WithDescription("List finished runs with summary metrics, newest first (paginated)."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		path := fmt.Sprintf("/v1/runs?limit=%d&offset=%d", req.GetInt("limit", 10), req.GetInt("offset", 0))
		var page runPage
		if err := client.Get(ctx, path, &page); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("History failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRuns(page)), nil
	})
}

func registerRun(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txdriver_run",
		gomcp.WithDescription("Get detailed results for a run by ID."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		var run types.RunResult
		if err := client.Get(ctx, "/v1/runs/"+url.PathEscape(id), &run); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run detail failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRun(run)), nil
	})
}

func registerSubmissions(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txdriver_submissions",
		gomcp.WithDescription("Get the submission journal of a run: hash or failure kind, nonce and attempts per iteration (paginated)."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
		gomcp.WithNumber("limit",
			gomcp.Description("Max submissions to return (default: 50, max: 1000)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		path := fmt.Sprintf("/v1/runs/%s/submissions?limit=%d&offset=%d",
			url.PathEscape(id), req.GetInt("limit", 50), req.GetInt("offset", 0))
		var page submissionPage
		if err := client.Get(ctx, path, &page); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Submissions failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatSubmissions(page)), nil
	})
}

func registerDeleteRun(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txdriver_delete_run",
		gomcp.WithDescription("Delete a finished run with its time series and submissions. This is a MUTATING operation."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID to delete"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		if err := client.Delete(ctx, "/v1/runs/"+url.PathEscape(id)); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Delete failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Run Deleted"),
			kv("ID", id),
		)), nil
	})
}
