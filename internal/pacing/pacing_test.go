package pacing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiterRate(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		set  float64
		want float64
	}{
		{"positive", 100, 0, 100},
		{"zero raised to minimum", 0, 0, 1},
		{"negative raised to minimum", -5, 0, 1},
		{"set rate", 100, 500, 500},
		{"set zero", 100, -1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLimiter(tt.in)
			if tt.set != 0 {
				l.SetRate(tt.set)
			}
			if got := l.Rate(); got != tt.want {
				t.Errorf("Rate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLimiterWaitImmediate(t *testing.T) {
	l := NewLimiter(10000)
	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("first Wait() took %v, want near-instant", elapsed)
	}
}

func TestLimiterSpacing(t *testing.T) {
	l := NewLimiter(100) // 10ms interval
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 11; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	elapsed := time.Since(start)
	if elapsed < 90*time.Millisecond {
		t.Errorf("11 permits at 100/s took %v, want >= 90ms", elapsed)
	}
}

func TestLimiterNoBurstAfterIdle(t *testing.T) {
	l := NewLimiter(20) // 50ms interval
	ctx := context.Background()
	_ = l.Wait(ctx)
	time.Sleep(200 * time.Millisecond)

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("permit after idle gap came %v after the previous one, want >= 40ms", elapsed)
	}
}

func TestLimiterSetRateReschedules(t *testing.T) {
	l := NewLimiter(0.5) // 2s interval
	ctx := context.Background()
	_ = l.Wait(ctx)

	l.SetRate(100)
	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Wait() after raising the rate took %v, want about 10ms", elapsed)
	}

	l.SetRate(2) // 500ms interval
	start = time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Errorf("Wait() after lowering the rate took %v, want about 500ms", elapsed)
	}
}

func TestLimiterWaitCancelled(t *testing.T) {
	l := NewLimiter(1)
	ctx, cancel := context.WithCancel(context.Background())
	_ = l.Wait(ctx) // consumes the immediate permit

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestLimiterConcurrent(t *testing.T) {
	l := NewLimiter(1000)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var permits atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for l.Wait(ctx) == nil {
				permits.Add(1)
			}
		}()
	}
	wg.Wait()

	// 100ms at 1000/s, with slack for scheduling.
	if n := permits.Load(); n > 150 {
		t.Errorf("issued %d permits in 100ms at 1000/s", n)
	}
}

func TestNewWorkerLimiter(t *testing.T) {
	if NewWorkerLimiter(0) != nil {
		t.Error("NewWorkerLimiter(0) should be nil")
	}
	l := NewWorkerLimiter(50)
	if l == nil {
		t.Fatal("NewWorkerLimiter(50) = nil")
	}
	if float64(l.Limit()) != 50 || l.Burst() != 1 {
		t.Errorf("limit = %v burst = %d, want 50 and 1", l.Limit(), l.Burst())
	}
	var _ Waiter = l
	var _ Waiter = NewLimiter(1)
	var _ Waiter = NewPacer(Constant{})
}

func TestNewProfile(t *testing.T) {
	tests := []struct {
		name     string
		cfg      ProfileConfig
		wantName string
		wantErr  bool
	}{
		{"empty kind is unpaced", ProfileConfig{}, ProfileUnpaced, false},
		{"unpaced with rate is constant", ProfileConfig{Kind: ProfileUnpaced, Rate: 5}, ProfileConstant, false},
		{"constant", ProfileConfig{Kind: ProfileConstant, Rate: 10}, ProfileConstant, false},
		{"constant without rate", ProfileConfig{Kind: ProfileConstant}, "", true},
		{"ramp", ProfileConfig{Kind: ProfileRamp, RampStart: 1, RampEnd: 10}, ProfileRamp, false},
		{"ramp without end", ProfileConfig{Kind: ProfileRamp}, "", true},
		{"spike", ProfileConfig{Kind: ProfileSpike, Rate: 5, SpikeRate: 50, SpikeDuration: time.Second, SpikeInterval: 10 * time.Second}, ProfileSpike, false},
		{"spike longer than interval", ProfileConfig{Kind: ProfileSpike, Rate: 5, SpikeRate: 50, SpikeDuration: time.Minute, SpikeInterval: time.Second}, "", true},
		{"unknown", ProfileConfig{Kind: "sawtooth"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProfile(tt.cfg, time.Minute)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProfile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.wantName)
			}
		})
	}
}

func TestRamp(t *testing.T) {
	r := Ramp{Start: 100, End: 1000, Over: time.Minute}
	tests := []struct {
		elapsed time.Duration
		want    float64
	}{
		{0, 100},
		{30 * time.Second, 550},
		{time.Minute, 1000},
		{2 * time.Minute, 1000},
	}
	for _, tt := range tests {
		if got := r.Rate(tt.elapsed); got != tt.want {
			t.Errorf("Rate(%v) = %v, want %v", tt.elapsed, got, tt.want)
		}
	}
}

func TestSpike(t *testing.T) {
	s := Spike{Baseline: 10, Peak: 100, Length: 2 * time.Second, Every: 10 * time.Second}
	tests := []struct {
		elapsed time.Duration
		want    float64
	}{
		{0, 10},
		{7 * time.Second, 10},
		{8 * time.Second, 100},
		{9 * time.Second, 100},
		{10 * time.Second, 10},
		{19 * time.Second, 100},
	}
	for _, tt := range tests {
		if got := s.Rate(tt.elapsed); got != tt.want {
			t.Errorf("Rate(%v) = %v, want %v", tt.elapsed, got, tt.want)
		}
	}
}

// stepProfile switches rate after the first call.
type stepProfile struct {
	calls atomic.Int64
	rates []float64
}

func (s *stepProfile) Name() string { return "step" }

func (s *stepProfile) Rate(time.Duration) float64 {
	i := int(s.calls.Add(1)) - 1
	if i >= len(s.rates) {
		i = len(s.rates) - 1
	}
	return s.rates[i]
}

func TestPacer(t *testing.T) {
	t.Run("unpaced does not block", func(t *testing.T) {
		p := NewPacer(Constant{})
		start := time.Now()
		for i := 0; i < 1000; i++ {
			if err := p.Wait(context.Background()); err != nil {
				t.Fatalf("Wait() error = %v", err)
			}
		}
		if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
			t.Errorf("unpaced waits took %v", elapsed)
		}
	})

	t.Run("unpaced reports cancellation", func(t *testing.T) {
		p := NewPacer(Constant{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Wait() error = %v, want context.Canceled", err)
		}
	})

	t.Run("ramp from zero", func(t *testing.T) {
		p := NewPacer(Ramp{Start: 0, End: 100, Over: time.Minute})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var permits int
		for p.Wait(ctx) == nil {
			permits++
		}
		// About 3.3 permits are due over the first 2s of the ramp.
		if permits < 3 || permits > 10 {
			t.Errorf("ramp issued %d permits in 2s, want 3 to 10", permits)
		}
	})

	t.Run("follows profile changes", func(t *testing.T) {
		prof := &stepProfile{rates: []float64{0, 0, 200}}
		p := NewPacer(prof)
		_ = p.Wait(context.Background())
		if p.CurrentRate() != 0 {
			t.Errorf("CurrentRate() = %v, want 0", p.CurrentRate())
		}
		_ = p.Wait(context.Background())
		if p.CurrentRate() != 200 {
			t.Errorf("CurrentRate() = %v, want 200", p.CurrentRate())
		}
		if p.limiter.Rate() != 200 {
			t.Errorf("limiter rate = %v, want 200", p.limiter.Rate())
		}
	})
}
