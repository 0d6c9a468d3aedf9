package pacing

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Profile names accepted in ProfileConfig.Kind.
const (
	ProfileUnpaced  = "unpaced"
	ProfileConstant = "constant"
	ProfileRamp     = "ramp"
	ProfileSpike    = "spike"
)

// Profile gives the target aggregate iteration rate at a point in the run.
// A rate of zero means iterations are not paced.
type Profile interface {
	Name() string
	Rate(elapsed time.Duration) float64
}

// ProfileConfig selects and parameterises a profile.
type ProfileConfig struct {
	Kind string  `yaml:"kind" json:"kind"`
	Rate float64 `yaml:"rate" json:"rate,omitempty"`

	RampStart float64 `yaml:"ramp_start" json:"rampStart,omitempty"`
	RampEnd   float64 `yaml:"ramp_end" json:"rampEnd,omitempty"`

	SpikeRate     float64       `yaml:"spike_rate" json:"spikeRate,omitempty"`
	SpikeDuration time.Duration `yaml:"spike_duration" json:"spikeDuration,omitempty"`
	SpikeInterval time.Duration `yaml:"spike_interval" json:"spikeInterval,omitempty"`
}

// NewProfile builds the profile described by cfg. runDuration is the length
// of the run, over which a ramp is spread.
func NewProfile(cfg ProfileConfig, runDuration time.Duration) (Profile, error) {
	switch cfg.Kind {
	case "", ProfileUnpaced:
		if cfg.Rate > 0 {
			return Constant{PerSec: cfg.Rate}, nil
		}
		return Constant{}, nil
	case ProfileConstant:
		if cfg.Rate <= 0 {
			return nil, fmt.Errorf("constant profile needs a positive rate, got %v", cfg.Rate)
		}
		return Constant{PerSec: cfg.Rate}, nil
	case ProfileRamp:
		if cfg.RampStart < 0 || cfg.RampEnd <= 0 {
			return nil, fmt.Errorf("ramp profile needs ramp_start >= 0 and ramp_end > 0")
		}
		if runDuration <= 0 {
			return nil, fmt.Errorf("ramp profile needs a run duration")
		}
		return Ramp{Start: cfg.RampStart, End: cfg.RampEnd, Over: runDuration}, nil
	case ProfileSpike:
		if cfg.Rate <= 0 || cfg.SpikeRate <= 0 {
			return nil, fmt.Errorf("spike profile needs positive rate and spike_rate")
		}
		if cfg.SpikeInterval <= 0 || cfg.SpikeDuration <= 0 || cfg.SpikeDuration > cfg.SpikeInterval {
			return nil, fmt.Errorf("spike profile needs 0 < spike_duration <= spike_interval")
		}
		return Spike{Baseline: cfg.Rate, Peak: cfg.SpikeRate, Length: cfg.SpikeDuration, Every: cfg.SpikeInterval}, nil
	default:
		return nil, fmt.Errorf("unknown pacing profile: %s", cfg.Kind)
	}
}

// Constant paces at a fixed rate. The zero value is unpaced.
type Constant struct {
	PerSec float64
}

func (c Constant) Name() string {
	if c.PerSec <= 0 {
		return ProfileUnpaced
	}
	return ProfileConstant
}

func (c Constant) Rate(time.Duration) float64 { return c.PerSec }

// Ramp moves linearly from Start to End over Over, then holds End.
type Ramp struct {
	Start float64
	End   float64
	Over  time.Duration
}

func (r Ramp) Name() string { return ProfileRamp }

func (r Ramp) Rate(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return r.Start
	}
	if elapsed >= r.Over {
		return r.End
	}
	progress := float64(elapsed) / float64(r.Over)
	return r.Start + progress*(r.End-r.Start)
}

// Spike runs at Baseline and jumps to Peak for the last Length of every Every.
type Spike struct {
	Baseline float64
	Peak     float64
	Length   time.Duration
	Every    time.Duration
}

func (s Spike) Name() string { return ProfileSpike }

func (s Spike) Rate(elapsed time.Duration) float64 {
	if s.Every <= 0 {
		return s.Baseline
	}
	if elapsed%s.Every >= s.Every-s.Length {
		return s.Peak
	}
	return s.Baseline
}

const pacerStep = 100 * time.Millisecond

// Pacer is a Limiter that follows a Profile. It is safe for concurrent use
// by all workers of a run.
type Pacer struct {
	profile Profile
	limiter *Limiter
	start   time.Time
	current atomic.Int64 // rate * 1000, for reporting
}

// NewPacer starts pacing at the profile's initial rate.
func NewPacer(p Profile) *Pacer {
	pc := &Pacer{
		profile: p,
		start:   time.Now(),
	}
	initial := p.Rate(0)
	pc.limiter = NewLimiter(initial)
	pc.current.Store(int64(initial * 1000))
	return pc
}

// Wait blocks until the caller may start an iteration. When the profile's
// current rate is zero it only reports whether ctx is done. A permit further
// out than pacerStep is not taken; the profile is read again after pacerStep
// so a rising rate is picked up while waiting.
func (p *Pacer) Wait(ctx context.Context) error {
	for {
		r := p.profile.Rate(time.Since(p.start))
		milli := int64(r * 1000)
		if p.current.Swap(milli) != milli && r > 0 {
			p.limiter.SetRate(r)
		}
		if r <= 0 {
			return ctx.Err()
		}
		taken, err := p.limiter.waitWithin(ctx, pacerStep)
		if taken || err != nil {
			return err
		}
	}
}

// CurrentRate returns the rate applied at the last Wait.
func (p *Pacer) CurrentRate() float64 {
	return float64(p.current.Load()) / 1000
}

// Profile returns the profile being followed.
func (p *Pacer) Profile() Profile {
	return p.profile
}
