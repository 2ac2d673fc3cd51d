package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRecorderFlush(t *testing.T) {
	var buf bytes.Buffer
	New().WithOutput(&buf).
		Dimension("Endpoint", "/api/health").
		Duration("RequestLatencyMs", 42*time.Millisecond).
		Count("RequestCount").
		Property("statusCode", 200).
		Flush()

	line := strings.TrimSpace(buf.String())
	if strings.Contains(line, "\n") {
		t.Fatal("EMF output must be a single line")
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if _, ok := doc["_aws"]; !ok {
		t.Error("missing _aws directive")
	}
	if doc["Endpoint"] != "/api/health" {
		t.Errorf("Endpoint = %v", doc["Endpoint"])
	}
	if doc["RequestLatencyMs"] != float64(42) {
		t.Errorf("RequestLatencyMs = %v, want 42", doc["RequestLatencyMs"])
	}
	if doc["RequestCount"] != float64(1) {
		t.Errorf("RequestCount = %v, want 1", doc["RequestCount"])
	}
	if doc["statusCode"] != float64(200) {
		t.Errorf("statusCode = %v", doc["statusCode"])
	}
}

func TestRecorderFlushWithoutMetricsIsSilent(t *testing.T) {
	var buf bytes.Buffer
	New().WithOutput(&buf).
		Dimension("Endpoint", "/api/health").
		Property("statusCode", 200).
		Flush()

	if buf.Len() != 0 {
		t.Errorf("properties-only recorder emitted %q", buf.String())
	}
}
