package main

import (
	"strings"
	"testing"
	"time"

	"github.com/framepilot/framepilot/internal/controller"
	"github.com/framepilot/framepilot/internal/journal"
	"github.com/framepilot/framepilot/internal/vision/cache"
)

func TestRenderStatus(t *testing.T) {
	report := &dispatchReport{
		Status: controller.Status{
			LinkState: "idle",
			Templates: 3,
			Ticks:     42,
			Cache:     cache.Stats{Len: 5, Capacity: 256, Hits: 30, Misses: 12},
			LastEvent: &controller.Event{Outcome: "success", TemplateID: "accept-button"},
		},
		Recent: []journal.Entry{
			{
				At:         time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC),
				TemplateID: "accept-button",
				Confidence: 0.93,
				Outcome:    "success",
				Attempts:   1,
			},
		},
	}

	out := renderStatus(report)
	for _, want := range []string{"idle", "42", "5/256", "accept-button", "0.93", "success"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderStatusWithoutHistory(t *testing.T) {
	report := &dispatchReport{Status: controller.Status{LinkState: "failed", LinkBroken: true}}
	out := renderStatus(report)
	if !strings.Contains(out, "failed") || !strings.Contains(out, "true") {
		t.Errorf("output = %s", out)
	}
	if strings.Contains(out, "Confidence") {
		t.Error("no history table expected without entries")
	}
}

func TestNormalizeAddr(t *testing.T) {
	tests := []struct{ in, want string }{
		{":8710", "localhost:8710"},
		{"127.0.0.1:8710", "127.0.0.1:8710"},
		{"daemon.local:80", "daemon.local:80"},
	}
	for _, tt := range tests {
		if got := normalizeAddr(tt.in); got != tt.want {
			t.Errorf("normalizeAddr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
