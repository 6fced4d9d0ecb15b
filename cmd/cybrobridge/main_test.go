package main

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cybro/internal/scgi"
)

// writeTestConfig writes a config file and points GRAYLOGIC_CONFIG at it.
func writeTestConfig(t *testing.T, content string) {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "test-config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("GRAYLOGIC_CONFIG", configPath)
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want a config loading error", err)
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	writeTestConfig(t, `
site:
  id: test-site

database:
  path: ""
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-client"

cybro:
  host: "127.0.0.1"
  port: 4000
  address: 1000

logging:
  level: info
  format: text
  output: stdout
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_MQTTUnavailable verifies run fails when the broker refuses the
// connection and still closes the database it opened.
func TestRun_MQTTUnavailable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	writeTestConfig(t, `
site:
  id: test-site

database:
  path: "`+dbPath+`"
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1
    client_id: "test-client"
  reconnect:
    initial_delay: 1
    max_delay: 5

cybro:
  host: "127.0.0.1"
  port: 4000
  address: 1000

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout
`)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail without an MQTT broker")
	}
	if !strings.Contains(err.Error(), "connecting to MQTT") {
		t.Errorf("run() error = %v, want an MQTT connection error", err)
	}
	if _, statErr := os.Stat(dbPath); statErr != nil {
		t.Errorf("database file not created: %v", statErr)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("GRAYLOGIC_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestConnectInflux_Disabled(t *testing.T) {
	client, err := connectInflux(context.Background(), config.InfluxDBConfig{Enabled: false}, logging.Default())
	if err != nil {
		t.Fatalf("connectInflux() error = %v", err)
	}
	if client != nil {
		t.Error("connectInflux() returned a client while disabled")
	}
}

func TestShutdownStack_ReverseOrder(t *testing.T) {
	var stack shutdownStack
	var order []string

	for _, name := range []string{"database", "mqtt", "bridge"} {
		stack.push(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	if err := stack.run(logging.Default()); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if want := []string{"bridge", "mqtt", "database"}; !reflect.DeepEqual(order, want) {
		t.Errorf("stop order = %v, want %v", order, want)
	}

	// A second run has nothing left to stop.
	order = nil
	if err := stack.run(logging.Default()); err != nil || len(order) != 0 {
		t.Errorf("second run() = %v, stopped %v", err, order)
	}
}

func TestShutdownStack_CollectsErrors(t *testing.T) {
	errDB := errors.New("db busy")
	errMQTT := errors.New("broker gone")

	var stack shutdownStack
	stopped := 0
	stack.push("database", func() error { stopped++; return errDB })
	stack.push("influxdb", func() error { stopped++; return nil })
	stack.push("mqtt", func() error { stopped++; return errMQTT })

	err := stack.run(logging.Default())
	if err == nil {
		t.Fatal("run() = nil, want error")
	}
	if stopped != 3 {
		t.Errorf("stopped %d components, want 3", stopped)
	}
	if !errors.Is(err, errDB) || !errors.Is(err, errMQTT) {
		t.Errorf("run() error = %v, want both failures", err)
	}
	if !strings.Contains(err.Error(), "database: db busy") {
		t.Errorf("run() error = %v, want component name", err)
	}
}

// fakePurger counts purge calls.
type fakePurger struct {
	calls     atomic.Int32
	olderThan atomic.Int64
	called    chan struct{}
}

func newFakePurger() *fakePurger {
	return &fakePurger{called: make(chan struct{})}
}

func (f *fakePurger) purge(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan.Store(int64(olderThan))
	if f.calls.Add(1) == 1 {
		close(f.called)
	}
	return 0, nil
}

func TestPurgeLoop_ZeroRetention(t *testing.T) {
	p := newFakePurger()

	// Returns at once without a cancelled context.
	purgeLoop(context.Background(), 0, logging.Default(), p.purge)

	if p.calls.Load() != 0 {
		t.Errorf("purge called %d times, want 0", p.calls.Load())
	}
}

func TestPurgeLoop_PurgesUntilCancelled(t *testing.T) {
	history := newFakePurger()
	auditLog := newFakePurger()
	failing := func(context.Context, time.Duration) (int64, error) { return 0, errors.New("locked") }
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		purgeLoop(ctx, 30*24*time.Hour, logging.Default(), failing, history.purge, auditLog.purge)
		close(done)
	}()

	for name, p := range map[string]*fakePurger{"history": history, "audit": auditLog} {
		select {
		case <-p.called:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s purge not called on start", name)
		}
		if got := time.Duration(p.olderThan.Load()); got != 30*24*time.Hour {
			t.Errorf("%s olderThan = %v, want 720h", name, got)
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("purgeLoop did not return after cancel")
	}
}

// TestPollFunc_WrapsServerError verifies poll failures name the SCGI server
// and keep the underlying cause.
func TestPollFunc_WrapsServerError(t *testing.T) {
	srv := httptest.NewServer(nil)
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort() error = %v", err)
	}
	srv.Close()
	port, _ := strconv.Atoi(portStr)

	client, err := scgi.NewClient(scgi.Config{Host: host, Port: port, NAD: 1000, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	dev, err := pollFunc(client, nil)(context.Background(), true)
	if dev != nil {
		t.Errorf("pollFunc() device = %v, want nil", dev)
	}
	if !errors.Is(err, scgi.ErrConnectionFailed) {
		t.Errorf("pollFunc() error = %v, want ErrConnectionFailed", err)
	}
	if err == nil || !strings.Contains(err.Error(), "invalid response from Cybro scgi server") {
		t.Errorf("pollFunc() error = %v, want Cybro server wording", err)
	}
}
