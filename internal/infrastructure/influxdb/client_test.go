package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	*httptest.Server

	mu        sync.Mutex
	lines     []string
	pingCode  int
	writeCode int
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{pingCode: http.StatusNoContent, writeCode: http.StatusNoContent}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(f.pingCode)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			if f.writeCode == http.StatusNoContent {
				for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
					if line != "" {
						f.lines = append(f.lines, line)
					}
				}
			}
			w.WriteHeader(f.writeCode)
			if f.writeCode != http.StatusNoContent {
				w.Header().Set("Content-Type", "application/json")
				io.WriteString(w, `{"code":"invalid","message":"rejected"}`)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) waitLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		got := append([]string(nil), f.lines...)
		f.mu.Unlock()
		if len(got) >= n {
			return got
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected %d lines written", n)
	return nil
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "graylogic",
		Bucket:        "cybro",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func connect(t *testing.T, f *fakeInflux) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(context.Background(), testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	f := newFakeInflux(t)
	url := f.URL
	f.Close()

	_, err := influxdb.Connect(context.Background(), testConfig(url))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_Unhealthy(t *testing.T) {
	f := newFakeInflux(t)
	f.pingCode = http.StatusServiceUnavailable

	_, err := influxdb.Connect(context.Background(), testConfig(f.URL))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	f := newFakeInflux(t)
	cfg := testConfig(f.URL)
	cfg.BatchSize = -1
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()
}

func TestClose(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	// Writes and flushes after close are no-ops.
	client.WriteSamples(1000, []influxdb.Sample{{EntityID: "c1000.scan_time", Value: 1}}, time.Now())
	client.Flush()
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() on nil = true")
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteSamples(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	at := time.Unix(1700000000, 0)
	client.WriteSamples(1000, []influxdb.Sample{
		{EntityID: "c1000.th00_temperature", DeviceID: "1000.temperatures", DeviceClass: "temperature", Unit: "C", Value: 21.5},
		{EntityID: "c1000.scan_time", DeviceID: "c1000.", Value: 12},
	}, at)
	client.Flush()

	lines := f.waitLines(t, 2)
	want := []string{
		"cybro_entity,device_class=temperature,device_id=1000.temperatures,entity_id=c1000.th00_temperature,nad=1000,unit=C value=21.5 1700000000000000000",
		"cybro_entity,device_id=c1000.,entity_id=c1000.scan_time,nad=1000 value=12 1700000000000000000",
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}
}

func TestWriteSamples_Empty(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	client.WriteSamples(1000, nil, time.Now())
	client.Flush()

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.lines) != 0 {
		t.Errorf("lines = %v, want none", f.lines)
	}
}

func TestWritePoll(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	client.WritePoll(1000, true, false, 15*time.Millisecond, 42)
	client.Flush()

	line := f.waitLines(t, 1)[0]
	for _, part := range []string{"cybro_poll,full=false,nad=1000 ", "duration_ms=15", "success=true", "vars=42i"} {
		if !strings.Contains(line, part) {
			t.Errorf("line %q missing %q", line, part)
		}
	}
}

func TestWritePoint(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	client.WritePoint("custom", map[string]string{"host": "bridge"}, map[string]interface{}{"n": 1.5}, time.Unix(10, 0))
	client.Flush()

	if got := f.waitLines(t, 1)[0]; got != "custom,host=bridge n=1.5 10000000000" {
		t.Errorf("line = %q", got)
	}
}

func TestSetOnError(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	errCh := make(chan error, 4)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	f.mu.Lock()
	f.writeCode = http.StatusBadRequest
	f.mu.Unlock()

	client.WritePoint("custom", nil, map[string]interface{}{"n": 1}, time.Now())
	client.Flush()

	select {
	case err := <-errCh:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write error not reported")
	}
}
