package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonwraymond/hashops/cache"
	"github.com/jonwraymond/hashops/provider"
)

type staticErr struct{ err error }

func (s staticErr) Err() error { return s.err }

func TestHealthStatus_String(t *testing.T) {
	tests := []struct {
		status HealthStatus
		want   string
	}{
		{HealthHealthy, "healthy"},
		{HealthDegraded, "degraded"},
		{HealthUnhealthy, "unhealthy"},
		{HealthStatus(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("HealthStatus(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestCheckCache(t *testing.T) {
	corrupt := &cache.CorruptionError{Key: "k", Reason: "index out of sync"}
	tests := []struct {
		name string
		err  error
		want HealthStatus
	}{
		{"intact", nil, HealthHealthy},
		{"corrupted", corrupt, HealthUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := checkCache(staticErr{tt.err})
			if got.Status != tt.want {
				t.Errorf("Status = %v, want %v", got.Status, tt.want)
			}
			if tt.err != nil && !errors.Is(got.Err, cache.ErrCorrupted) {
				t.Errorf("Err = %v, want ErrCorrupted", got.Err)
			}
		})
	}
}

func TestCheckBreaker(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	failing := provider.NewFunc("f", 1, func([]byte) ([]byte, error) { return nil, errors.New("down") })

	b := provider.NewBreaker(failing, provider.BreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute, Now: clock})
	if got := checkBreaker(b).Status; got != HealthHealthy {
		t.Errorf("closed breaker status = %v, want healthy", got)
	}

	_, _ = provider.Compute(b, []byte("x"))
	got := checkBreaker(b)
	if got.Status != HealthUnhealthy || !errors.Is(got.Err, provider.ErrCircuitOpen) {
		t.Errorf("open breaker check = %+v", got)
	}

	if got := checkBreaker(nil).Status; got != HealthHealthy {
		t.Errorf("nil breaker status = %v, want healthy", got)
	}
}

func TestPipeline_Health(t *testing.T) {
	sp := &scriptedProvider{fail: map[string]bool{"bad": true}}
	cfg := testConfig()
	cfg.Breaker = BreakerConfig{Enabled: true, MaxFailures: 1, ResetTimeout: time.Hour}
	p := newTestPipeline(t, cfg, WithProvider(sp.provider()))
	ctx := context.Background()

	if h := p.Health(ctx); h.Status != HealthHealthy || h.Err() != nil {
		t.Fatalf("fresh pipeline health = %+v", h)
	}

	if _, err := p.Hash(ctx, []byte("bad")); err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	h := p.Health(ctx)
	if h.Status != HealthUnhealthy {
		t.Errorf("Status = %v, want unhealthy with the breaker open", h.Status)
	}
	if !errors.Is(h.Err(), provider.ErrCircuitOpen) {
		t.Errorf("Err() = %v, want ErrCircuitOpen", h.Err())
	}

	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !errors.Is(p.Health(ctx).Err(), ErrClosed) {
		t.Error("closed pipeline should report ErrClosed")
	}
}
