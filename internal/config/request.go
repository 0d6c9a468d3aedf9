package config

import (
	"fmt"
	"time"

	"github.com/gateway-fm/txdriver/internal/pacing"
	"github.com/gateway-fm/txdriver/pkg/types"
)

// Request limits for runs started through the API.
const (
	MaxDurationSec = 24 * 3600
	MaxTPS         = 100000
)

// WithRequest returns a copy of c with the fields set in req applied, validated.
// Zero-valued request fields keep the configured values.
func (c *Config) WithRequest(req types.StartRunRequest) (*Config, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}

	out := *c
	if req.TransactionType != "" {
		out.Scenario = req.TransactionType
	}
	if req.DurationSec > 0 {
		out.Duration = time.Duration(req.DurationSec) * time.Second
	}
	if req.Workers > 0 {
		out.Workers = req.Workers
	}
	if req.PerWorkerRate > 0 {
		out.PerWorkerRate = req.PerWorkerRate
	}
	if req.MaxAttempts > 0 {
		out.MaxAttempts = req.MaxAttempts
	}
	if req.StartingTokenID > 0 {
		out.StartTokenID = req.StartingTokenID
	}
	if p, ok := requestPacing(req); ok {
		out.Pacing = p
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func checkRequest(req types.StartRunRequest) error {
	if req.TransactionType != "" && !req.TransactionType.IsValid() {
		return fmt.Errorf("invalid transactionType: %s", req.TransactionType)
	}
	if req.DurationSec < 0 || req.DurationSec > MaxDurationSec {
		return fmt.Errorf("durationSec must be between 0 and %d, got %d", MaxDurationSec, req.DurationSec)
	}
	if req.Workers < 0 || req.Workers > maxWorkers {
		return fmt.Errorf("workers must be between 0 and %d, got %d", maxWorkers, req.Workers)
	}
	for name, v := range map[string]int{
		"targetTps":    req.TargetTPS,
		"rampStartTps": req.RampStartTPS,
		"peakTps":      req.PeakTPS,
	} {
		if v < 0 || v > MaxTPS {
			return fmt.Errorf("%s must be between 0 and %d, got %d", name, MaxTPS, v)
		}
	}
	if req.SpikeDurationSec < 0 || req.SpikeIntervalSec < 0 {
		return fmt.Errorf("spike timings cannot be negative")
	}
	if req.PerWorkerRate < 0 {
		return fmt.Errorf("perWorkerRate cannot be negative, got %v", req.PerWorkerRate)
	}
	if req.MaxAttempts < 0 {
		return fmt.Errorf("maxAttempts cannot be negative, got %d", req.MaxAttempts)
	}
	if req.StartingTokenID < 0 {
		return fmt.Errorf("startingTokenId cannot be negative, got %d", req.StartingTokenID)
	}
	return nil
}

// requestPacing maps the request's pacing fields to a profile. It reports
// false when the request leaves pacing to the configuration.
func requestPacing(req types.StartRunRequest) (pacing.ProfileConfig, bool) {
	kind := req.Pacing
	if kind == "" {
		if req.TargetTPS <= 0 {
			return pacing.ProfileConfig{}, false
		}
		kind = pacing.ProfileConstant
	}

	p := pacing.ProfileConfig{Kind: kind, Rate: float64(req.TargetTPS)}
	switch kind {
	case pacing.ProfileRamp:
		p.RampStart = float64(req.RampStartTPS)
		p.RampEnd = float64(req.PeakTPS)
	case pacing.ProfileSpike:
		p.SpikeRate = float64(req.PeakTPS)
		p.SpikeDuration = time.Duration(req.SpikeDurationSec) * time.Second
		p.SpikeInterval = time.Duration(req.SpikeIntervalSec) * time.Second
	}
	return p, true
}
