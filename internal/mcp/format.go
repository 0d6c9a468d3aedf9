package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/gateway-fm/txdriver/pkg/types"
)

// Response shapes of the paginated and readiness endpoints.
type runPage struct {
	Runs  []types.RunResult `json:"runs"`
	Total int               `json:"total"`
}

type submissionPage struct {
	Submissions []types.Submission `json:"submissions"`
	Total       int                `json:"total"`
}

type readiness struct {
	Ready  bool `json:"ready"`
	Checks []struct {
		Name      string `json:"name"`
		Status    string `json:"status"`
		LatencyMs int64  `json:"latency_ms"`
		Error     string `json:"error"`
	} `json:"checks"`
}

// maxListedSubmissions caps how many submissions one tool call prints.
const maxListedSubmissions = 20

// formatNumber adds comma separators to integers.
func formatNumber[T int | int64 | uint64](n T) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}

	var result strings.Builder
	if neg {
		result.WriteByte('-')
	}
	start := len(s) % 3
	if start > 0 {
		result.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if i > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// kv formats a key-value pair with aligned values (20 char key width).
func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", key+":", value)
}

func section(title string) string {
	return "## " + title
}

// joinLines joins non-empty lines with newlines.
func joinLines(lines ...string) string {
	var result []string
	for _, l := range lines {
		if l != "" {
			result = append(result, l)
		}
	}
	return strings.Join(result, "\n")
}

func formatMs(v float64) string {
	return fmt.Sprintf("%.1fms", v)
}

func formatLatency(title string, lat *types.LatencyStats) string {
	if lat == nil || lat.Count == 0 {
		return ""
	}
	return "\n\n" + joinLines(
		section(title),
		kv("Samples", formatNumber(lat.Count)),
		kv("Min", formatMs(lat.Min)),
		kv("P50", formatMs(lat.P50)),
		kv("P95", formatMs(lat.P95)),
		kv("P99", formatMs(lat.P99)),
		kv("Max", formatMs(lat.Max)),
	)
}

// formatFailures lists the non-zero failure counters.
func formatFailures(f types.FailureCounts) string {
	rows := []struct {
		label string
		n     uint64
	}{
		{"Account Not Found", f.AccountNotFound},
		{"Client Setup", f.ClientConstructionFailed},
		{"Nonce Fetch", f.NonceFetchFailed},
		{"Fee Fetch", f.FeeFetchFailed},
		{"Build/Validation", f.BuildValidationFailed},
		{"Submission", f.SubmissionFailed},
	}
	var lines []string
	for _, r := range rows {
		if r.n > 0 {
			lines = append(lines, kv(r.label, formatNumber(r.n)))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "\n\n" + joinLines(append([]string{section("Failures")}, lines...)...)
}

func formatStatus(m types.RunMetrics) string {
	out := joinLines(
		section("Driver Status"),
		kv("Status", m.Status),
		kv("Run ID", m.RunID),
		kv("TX Type", m.TransactionType),
		kv("Workers", m.Workers),
		kv("Iterations", formatNumber(m.Iterations)),
		kv("TXs Submitted", formatNumber(m.TxSubmitted)),
		kv("TXs Failed", formatNumber(m.TxFailed)),
		kv("Retries", formatNumber(m.RetryAttempts)),
		kv("Current TPS", fmt.Sprintf("%.1f", m.CurrentTPS)),
		kv("Average TPS", fmt.Sprintf("%.1f", m.AverageTPS)),
		kv("Elapsed", fmt.Sprintf("%.1fs / %.1fs", float64(m.ElapsedMs)/1000, float64(m.DurationMs)/1000)),
	)
	if m.TargetTPS > 0 {
		out += "\n" + kv("Target TPS", fmt.Sprintf("%.0f", m.TargetTPS))
	}
	if m.Error != "" {
		out += "\n" + kv("Error", m.Error)
	}
	return out + formatFailures(m.Failures) + formatLatency("Submit Latency", m.Latency)
}

func formatHealth(r readiness) string {
	state := "READY"
	if !r.Ready {
		state = "NOT READY"
	}
	lines := section("Driver Health: " + state)
	for _, c := range r.Checks {
		line := fmt.Sprintf("  %-15s %s (%dms)", c.Name, c.Status, c.LatencyMs)
		if c.Error != "" {
			line += " - " + c.Error
		}
		lines += "\n" + line
	}
	return lines
}

func formatStarted(id string) string {
	return joinLines(
		section("Run Started"),
		kv("Run ID", id),
		"Use txdriver_status to follow progress.",
	)
}

func formatRuns(p runPage) string {
	lines := joinLines(
		section("Run History"),
		kv("Total Runs", formatNumber(p.Total)),
	) + "\n\n"

	if len(p.Runs) == 0 {
		return lines + "No runs found."
	}

	for _, run := range p.Runs {
		lines += fmt.Sprintf("### %s\n", run.ID)
		lines += joinLines(
			kv("Status", run.Status),
			kv("TX Type", run.TransactionType),
			kv("Workers", run.Workers),
			kv("TXs Submitted", formatNumber(run.TxSubmitted)),
			kv("TXs Failed", formatNumber(run.TxFailed)),
			kv("Avg TPS", fmt.Sprintf("%.1f", run.AverageTPS)),
			kv("Started", run.StartedAt.Format(time.DateTime)),
		)
		lines += "\n\n"
	}
	return strings.TrimRight(lines, "\n")
}

func formatRun(run types.RunResult) string {
	out := joinLines(
		section("Run: "+run.ID),
		kv("Status", run.Status),
		kv("TX Type", run.TransactionType),
		kv("Workers", run.Workers),
		kv("Duration", fmt.Sprintf("%.1fs", float64(run.DurationMs)/1000)),
		kv("Iterations", formatNumber(run.Iterations)),
		kv("TXs Submitted", formatNumber(run.TxSubmitted)),
		kv("TXs Failed", formatNumber(run.TxFailed)),
		kv("Avg TPS", fmt.Sprintf("%.1f", run.AverageTPS)),
		kv("Peak TPS", fmt.Sprintf("%.1f", run.PeakTPS)),
	)
	if run.Error != "" {
		out += "\n" + kv("Error", run.Error)
	}
	out += formatFailures(run.Failures) + formatLatency("Submit Latency", run.Latency)

	cfg := run.Config
	out += "\n\n" + joinLines(
		section("Request"),
		kv("Duration", fmt.Sprintf("%ds", cfg.DurationSec)),
		optional("Pacing", cfg.Pacing),
		optionalInt("Target TPS", cfg.TargetTPS),
		optionalInt("Ramp Start TPS", cfg.RampStartTPS),
		optionalInt("Peak TPS", cfg.PeakTPS),
		optionalInt("Max Attempts", cfg.MaxAttempts),
	)
	return out
}

func optional(key, v string) string {
	if v == "" {
		return ""
	}
	return kv(key, v)
}

func optionalInt(key string, v int) string {
	if v == 0 {
		return ""
	}
	return kv(key, formatNumber(v))
}

func formatSubmissions(p submissionPage) string {
	lines := joinLines(
		section("Submissions"),
		kv("Total", formatNumber(p.Total)),
	) + "\n\n"

	if len(p.Submissions) == 0 {
		return lines + "No submissions found."
	}

	for i, s := range p.Submissions {
		if i >= maxListedSubmissions {
			lines += fmt.Sprintf("... and %d more\n", len(p.Submissions)-maxListedSubmissions)
			break
		}
		ref := s.TxHash
		if ref == "" {
			ref = "-"
		} else if len(ref) > 18 {
			ref = ref[:18] + "..."
		}
		lines += fmt.Sprintf("  [w%d] %s  %s  nonce=%d attempts=%d\n", s.WorkerIndex, ref, s.Status, s.Nonce, s.Attempts)
		if s.Error != "" {
			lines += "        " + s.Error + "\n"
		}
	}
	return strings.TrimRight(lines, "\n")
}
