package config

import (
	"testing"
	"time"

	"github.com/gateway-fm/txdriver/internal/pacing"
	"github.com/gateway-fm/txdriver/pkg/types"
)

func TestWithRequest(t *testing.T) {
	base := Default()
	base.Workers = 4

	tests := []struct {
		name    string
		req     types.StartRunRequest
		check   func(t *testing.T, c *Config)
		wantErr bool
	}{
		{
			name: "empty request keeps configuration",
			req:  types.StartRunRequest{},
			check: func(t *testing.T, c *Config) {
				if c.Scenario != DefaultScenario || c.Workers != 4 || c.Duration != DefaultDuration {
					t.Errorf("config changed: %s/%d/%s", c.Scenario, c.Workers, c.Duration)
				}
				if c.Pacing.Kind != "" {
					t.Errorf("Pacing = %+v, want unpaced", c.Pacing)
				}
			},
		},
		{
			name: "overrides",
			req: types.StartRunRequest{
				TransactionType: types.TxTypeERC1155SafeTransfer,
				DurationSec:     30,
				Workers:         2,
				MaxAttempts:     5,
				StartingTokenID: 9,
				PerWorkerRate:   2.5,
			},
			check: func(t *testing.T, c *Config) {
				if c.Scenario != types.TxTypeERC1155SafeTransfer || c.Duration != 30*time.Second || c.Workers != 2 {
					t.Errorf("overrides = %s/%s/%d", c.Scenario, c.Duration, c.Workers)
				}
				if c.MaxAttempts != 5 || c.StartTokenID != 9 || c.PerWorkerRate != 2.5 {
					t.Errorf("overrides = %d/%d/%v", c.MaxAttempts, c.StartTokenID, c.PerWorkerRate)
				}
			},
		},
		{
			name: "target TPS implies constant pacing",
			req:  types.StartRunRequest{TargetTPS: 40},
			check: func(t *testing.T, c *Config) {
				if c.Pacing.Kind != pacing.ProfileConstant || c.Pacing.Rate != 40 {
					t.Errorf("Pacing = %+v", c.Pacing)
				}
			},
		},
		{
			name: "ramp",
			req:  types.StartRunRequest{Pacing: "ramp", RampStartTPS: 10, PeakTPS: 100},
			check: func(t *testing.T, c *Config) {
				if c.Pacing.RampStart != 10 || c.Pacing.RampEnd != 100 {
					t.Errorf("Pacing = %+v", c.Pacing)
				}
			},
		},
		{
			name: "spike",
			req:  types.StartRunRequest{Pacing: "spike", TargetTPS: 10, PeakTPS: 80, SpikeDurationSec: 5, SpikeIntervalSec: 20},
			check: func(t *testing.T, c *Config) {
				if c.Pacing.SpikeRate != 80 || c.Pacing.SpikeDuration != 5*time.Second || c.Pacing.SpikeInterval != 20*time.Second {
					t.Errorf("Pacing = %+v", c.Pacing)
				}
			},
		},
		{name: "unknown type", req: types.StartRunRequest{TransactionType: "uniswap-swap"}, wantErr: true},
		{name: "negative duration", req: types.StartRunRequest{DurationSec: -1}, wantErr: true},
		{name: "too long", req: types.StartRunRequest{DurationSec: MaxDurationSec + 1}, wantErr: true},
		{name: "TPS above max", req: types.StartRunRequest{TargetTPS: MaxTPS + 1}, wantErr: true},
		{name: "unknown pacing", req: types.StartRunRequest{Pacing: "adaptive"}, wantErr: true},
		{name: "spike without timings", req: types.StartRunRequest{Pacing: "spike", TargetTPS: 10, PeakTPS: 80}, wantErr: true},
		{name: "negative token", req: types.StartRunRequest{StartingTokenID: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := base.WithRequest(tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("WithRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, got)
			}
		})
	}

	if base.Workers != 4 || base.Scenario != DefaultScenario {
		t.Error("WithRequest modified the receiver")
	}
}
