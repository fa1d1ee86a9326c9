package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sensormon/internal/ingest"
	"sensormon/internal/signalbuf"
	"sensormon/internal/telemetry"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("scrape status %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestCollectorCountsEvents(t *testing.T) {
	buffers := signalbuf.NewSet()
	c := New(buffers, "test-instance")

	s := telemetry.Sample{Signal: telemetry.Secondary, Value: 40, ObservedAt: time.Now()}
	buffers.Route(s)
	c.SampleIngested(s)
	c.SampleIngested(s)
	c.LineDropped(ingest.DropMalformed)
	c.TransientError(errors.New("eio"))
	c.SelectionDone("1", nil)
	c.SelectionDone("0", errors.New("denied"))
	c.PhaseChanged(ingest.Running)

	out := scrape(t, c)
	for _, want := range []string{
		`sensormon_samples_total{signal="secondary"} 2`,
		`sensormon_samples_total{signal="primary"} 0`,
		`sensormon_lines_dropped_total{reason="malformed"} 1`,
		`sensormon_transient_errors_total 1`,
		`sensormon_selections_total{result="ok"} 1`,
		`sensormon_selections_total{result="error"} 1`,
		`sensormon_ingestor_running 1`,
		`sensormon_buffer_length{signal="secondary"} 1`,
		`sensormon_buffer_length{signal="primary"} 0`,
		`sensormon_info{instance_id="test-instance"} 1`,
		`sensormon_process_memory_inuse_bytes`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("scrape missing %q", want)
		}
	}

	c.PhaseChanged(ingest.Stopping)
	if out := scrape(t, c); !strings.Contains(out, "sensormon_ingestor_running 0") {
		t.Error("running gauge not cleared after stop")
	}
}

func TestCollectorWithoutBuffers(t *testing.T) {
	c := New(nil, "")
	out := scrape(t, c)
	if strings.Contains(out, "sensormon_buffer_length") {
		t.Error("buffer gauges registered without buffers")
	}
	if strings.Contains(out, "sensormon_info") {
		t.Error("info gauge registered without instance id")
	}
}
