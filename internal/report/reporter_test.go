package report

import (
	"context"
	"testing"
	"time"

	"candlebot/internal/logq"
	"candlebot/internal/model"
	"candlebot/internal/prices"
	"candlebot/internal/strategy"
)

func TestFormatPrice(t *testing.T) {
	cases := []struct {
		v      float64
		places int32
		want   string
	}{
		{100.456, 2, "100.46"},
		{100.0, 2, "100.00"},
		{0.00012345, 8, "0.00012345"},
		{42, 0, "42"},
	}
	for _, c := range cases {
		if got := formatPrice(c.v, c.places); got != c.want {
			t.Errorf("formatPrice(%v, %d) = %q, want %q", c.v, c.places, got, c.want)
		}
	}
}

func TestReporter_DrainsActivityLog(t *testing.T) {
	logs := logq.New(8)
	logs.Push("signal fired")

	r := New(prices.NewBoard(), strategy.NewRegistry(), logs,
		map[string]model.Asset{}, time.Millisecond)
	r.report()

	if entries := logs.Drain(); len(entries) != 0 {
		t.Fatalf("activity log not drained, %d entries left", len(entries))
	}
}

func TestReporter_StopsOnCancel(t *testing.T) {
	r := New(prices.NewBoard(), strategy.NewRegistry(), logq.New(8),
		map[string]model.Asset{}, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { r.Run(ctx); close(done) }()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reporter did not stop on cancel")
	}
}
