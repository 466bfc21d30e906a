package metrics

import (
	"math"
	"strings"
	"testing"
)

func TestCounter_SameSeriesShared(t *testing.T) {
	c := NewCollector()
	c.ToolCall("local", "success").Inc()
	c.ToolCall("local", "success").Add(2)
	c.ToolCall("remote", "failure").Inc()

	if got := c.ToolCall("local", "success").Value(); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := c.ToolCall("remote", "failure").Value(); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}

func TestHistogram_Buckets(t *testing.T) {
	c := NewCollector()
	h := c.Histogram("x_seconds", "x", "", []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(100)

	if h.Count() != 3 {
		t.Fatalf("expected 3 observations, got %d", h.Count())
	}
	want := []int64{1, 2, 3} // le 0.1, le 1, +Inf
	if len(h.buckets) != 3 || !math.IsInf(h.buckets[2].le, 1) {
		t.Fatalf("unexpected buckets: %+v", h.buckets)
	}
	for i, b := range h.buckets {
		if b.count != want[i] {
			t.Fatalf("bucket %d: expected %d, got %d", i, want[i], b.count)
		}
	}
}

func TestWriteText_Exposition(t *testing.T) {
	c := NewCollector()
	c.ToolCall("local", "success").Inc()
	c.ToolLatency("local").Observe(0.2)
	c.ServersConnected().Set(2)

	var sb strings.Builder
	if err := c.WriteText(&sb); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := sb.String()
	for _, want := range []string{
		"# TYPE cmdloop_tool_calls_total counter",
		`cmdloop_tool_calls_total{source="local",outcome="success"} 1`,
		"cmdloop_mcp_servers_connected 2",
		`cmdloop_tool_latency_seconds_bucket{source="local",le="0.5"} 1`,
		`cmdloop_tool_latency_seconds_bucket{source="local",le="+Inf"} 1`,
		`cmdloop_tool_latency_seconds_count{source="local"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestLabels_Escapes(t *testing.T) {
	got := Labels("tool", `a"b`)
	if got != `tool="a\"b"` {
		t.Fatalf("unexpected labels: %s", got)
	}
}
