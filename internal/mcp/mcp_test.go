package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gomcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/gateway-fm/txdriver/pkg/types"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{123456, "123,456"},
		{1234567, "1,234,567"},
		{-4500, "-4,500"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStartRequest(t *testing.T) {
	var req gomcp.CallToolRequest
	req.Params.Arguments = map[string]any{
		"duration_sec":     float64(30),
		"transaction_type": "erc20-burn",
		"pacing":           "ramp",
		"ramp_start_tps":   float64(5),
		"peak_tps":         float64(50),
		"per_worker_rate":  2.5,
	}
	got, err := startRequest(req)
	if err != nil {
		t.Fatalf("startRequest() error = %v", err)
	}
	want := types.StartRunRequest{
		TransactionType: types.TxTypeERC20Burn,
		DurationSec:     30,
		Pacing:          "ramp",
		RampStartTPS:    5,
		PeakTPS:         50,
		PerWorkerRate:   2.5,
	}
	if got != want {
		t.Errorf("startRequest() = %+v, want %+v", got, want)
	}

	req.Params.Arguments = map[string]any{}
	if _, err := startRequest(req); err == nil {
		t.Error("startRequest() without duration should fail")
	}
}

func TestClientErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/status":
			w.Write([]byte(`{"status":"running","runId":"r1","txSubmitted":1500}`))
		case "/v1/start":
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"a run is already active"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL + "/")
	ctx := context.Background()

	var m types.RunMetrics
	if err := client.Get(ctx, "/v1/status", &m); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !strings.Contains(formatStatus(m), "1,500") {
		t.Errorf("formatStatus() missing submitted count:\n%s", formatStatus(m))
	}

	err := client.Post(ctx, "/v1/start", types.StartRunRequest{DurationSec: 1}, nil)
	if err == nil || err.Error() != "HTTP 409: a run is already active" {
		t.Errorf("Post() error = %v", err)
	}

	if err := client.Delete(ctx, "/v1/runs/x"); err == nil || !strings.HasPrefix(err.Error(), "HTTP 404") {
		t.Errorf("Delete() error = %v", err)
	}
}

func TestFormatSubmissions(t *testing.T) {
	page := submissionPage{Total: 2, Submissions: []types.Submission{
		{WorkerIndex: 0, TxHash: "0x1234567890abcdef1234567890abcdef", Status: "submitted", Nonce: 7, Attempts: 1},
		{WorkerIndex: 1, Status: "submission_failed", Error: "nonce too low", Nonce: 3, Attempts: 3},
	}}
	out := formatSubmissions(page)
	for _, want := range []string{"[w0] 0x1234567890abcdef...", "submission_failed", "nonce too low", "attempts=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatSubmissions() missing %q:\n%s", want, out)
		}
	}
	if got := formatSubmissions(submissionPage{}); !strings.Contains(got, "No submissions found.") {
		t.Errorf("empty page = %q", got)
	}
}
