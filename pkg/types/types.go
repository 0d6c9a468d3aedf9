// Package types contains public API types for the transaction driver.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// TransactionType represents the kind of transaction a worker submits.
type TransactionType string

const (
	TxTypeNativeTransfer      TransactionType = "native-transfer"
	TxTypeERC20Mint           TransactionType = "erc20-mint"
	TxTypeERC20Burn           TransactionType = "erc20-burn"
	TxTypeERC1155SafeTransfer TransactionType = "erc1155-safe-transfer"
)

// AllTransactionTypes lists every supported transaction type in display order.
var AllTransactionTypes = []TransactionType{
	TxTypeNativeTransfer,
	TxTypeERC20Mint,
	TxTypeERC20Burn,
	TxTypeERC1155SafeTransfer,
}

// IsValid reports whether t names a supported transaction type.
func (t TransactionType) IsValid() bool {
	for _, known := range AllTransactionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// RunStatus represents the current run state.
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusStopping  RunStatus = "stopping"
	StatusCompleted RunStatus = "completed"
	StatusError     RunStatus = "error"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int             `json:"count"`
	Min     float64         `json:"min"` // ms
	Max     float64         `json:"max"` // ms
	Avg     float64         `json:"avg"` // ms
	P50     float64         `json:"p50"` // ms
	P75     float64         `json:"p75"` // ms
	P90     float64         `json:"p90"` // ms
	P95     float64         `json:"p95"` // ms
	P99     float64         `json:"p99"` // ms
	Buckets []LatencyBucket `json:"buckets"`
}

// FailureCounts breaks aborted iterations down by the stage that failed.
type FailureCounts struct {
	AccountNotFound          uint64 `json:"accountNotFound,omitempty"`
	ClientConstructionFailed uint64 `json:"clientConstructionFailed,omitempty"`
	NonceFetchFailed         uint64 `json:"nonceFetchFailed,omitempty"`
	FeeFetchFailed           uint64 `json:"feeFetchFailed,omitempty"`
	BuildValidationFailed    uint64 `json:"buildValidationFailed,omitempty"`
	SubmissionFailed         uint64 `json:"submissionFailed,omitempty"`
}

// Total returns the sum of all failure counters.
func (f FailureCounts) Total() uint64 {
	return f.AccountNotFound + f.ClientConstructionFailed + f.NonceFetchFailed +
		f.FeeFetchFailed + f.BuildValidationFailed + f.SubmissionFailed
}

// RunMetrics holds real-time run metrics.
type RunMetrics struct {
	RunID           string          `json:"runId,omitempty"`
	Status          RunStatus       `json:"status"`
	TransactionType TransactionType `json:"transactionType"`
	Workers         int             `json:"workers"`
	Iterations      uint64          `json:"iterations"`
	TxSubmitted     uint64          `json:"txSubmitted"`
	TxFailed        uint64          `json:"txFailed"`
	Failures        FailureCounts   `json:"failures"`
	RetryAttempts   uint64          `json:"retryAttempts"`
	CurrentTPS      float64         `json:"currentTps"`
	PeakTPS         float64         `json:"peakTps"`
	AverageTPS      float64         `json:"averageTps"`
	TargetTPS       float64         `json:"targetTps,omitempty"`
	ElapsedMs       int64           `json:"elapsedMs"`
	DurationMs      int64           `json:"durationMs"`
	Error           string          `json:"error,omitempty"`

	// Submission latency (send call start to tx hash returned)
	Latency *LatencyStats `json:"latency,omitempty"`
}

// RunResult stores the final results of a completed run.
type RunResult struct {
	ID              string          `json:"id"`
	StartedAt       time.Time       `json:"startedAt"`
	CompletedAt     time.Time       `json:"completedAt"`
	Status          RunStatus       `json:"status"`
	TransactionType TransactionType `json:"transactionType"`
	Workers         int             `json:"workers"`
	DurationMs      int64           `json:"durationMs"`
	Iterations      uint64          `json:"iterations"`
	TxSubmitted     uint64          `json:"txSubmitted"`
	TxFailed        uint64          `json:"txFailed"`
	Failures        FailureCounts   `json:"failures"`
	AverageTPS      float64         `json:"averageTps"`
	PeakTPS         float64         `json:"peakTps"`
	Latency         *LatencyStats   `json:"latency,omitempty"`
	Error           string          `json:"error,omitempty"`
	Config          StartRunRequest `json:"config"`
}

// StartRunRequest is the API request to start a run.
type StartRunRequest struct {
	TransactionType TransactionType `json:"transactionType,omitempty"` // default: native-transfer
	DurationSec     int             `json:"durationSec"`
	Workers         int             `json:"workers,omitempty"` // default: all loaded accounts

	// Optional pacing. Zero TargetTPS with no Pacing means unpaced: each
	// worker iterates back to back.
	Pacing           string  `json:"pacing,omitempty"` // unpaced, constant, ramp or spike
	TargetTPS        int     `json:"targetTps,omitempty"`
	RampStartTPS     int     `json:"rampStartTps,omitempty"`
	PeakTPS          int     `json:"peakTps,omitempty"` // ramp end or spike rate
	SpikeDurationSec int     `json:"spikeDurationSec,omitempty"`
	SpikeIntervalSec int     `json:"spikeIntervalSec,omitempty"`
	PerWorkerRate    float64 `json:"perWorkerRate,omitempty"`
	MaxAttempts      int     `json:"maxAttempts,omitempty"`
	StartingTokenID  int64   `json:"startingTokenId,omitempty"`
}

// Submission is one journaled submission attempt sequence for a worker iteration.
type Submission struct {
	RunID       string          `json:"runId"`
	WorkerIndex int             `json:"workerIndex"`
	Address     string          `json:"address"`
	TxHash      string          `json:"txHash,omitempty"`
	Nonce       uint64          `json:"nonce"`
	Type        TransactionType `json:"type"`
	Attempts    int             `json:"attempts"`
	Status      string          `json:"status"` // submitted or the failure kind
	Error       string          `json:"error,omitempty"`
	LatencyMs   float64         `json:"latencyMs"`
	CreatedAt   time.Time       `json:"createdAt"`
}
