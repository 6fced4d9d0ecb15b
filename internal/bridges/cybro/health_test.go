package cybro

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-cybro/internal/coordinator"
	"github.com/nerrad567/gray-logic-cybro/internal/scgi"
)

type fakePoll struct {
	dev   *scgi.Device
	stats coordinator.Stats
}

func (f *fakePoll) Data() (*scgi.Device, bool) { return f.dev, f.dev != nil }
func (f *fakePoll) Stats() coordinator.Stats   { return f.stats }

func TestHealthReporter_DetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		poll       PollSource
		wantStatus HealthStatus
		wantReason string
	}{
		{"mqtt down", false, &fakePoll{}, HealthDegraded, "MQTT disconnected"},
		{"no poll source", true, nil, HealthDegraded, "no poll source"},
		{"not polled", true, &fakePoll{}, HealthDegraded, "PLC not polled yet"},
		{"poll failing", true, &fakePoll{stats: coordinator.Stats{LastError: "timeout"}}, HealthDegraded, "PLC poll failing: timeout"},
		{"healthy", true, &fakePoll{stats: coordinator.Stats{LastUpdateSuccess: true}}, HealthHealthy, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockMQTTClient()
			mock.SetConnected(tt.connected)
			h := NewHealthReporter(HealthReporterConfig{Publisher: mock, Poll: tt.poll})

			status, reason := h.determineStatus()
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("determineStatus() = %q, %q; want %q, %q", status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthReporter_BuildMessage(t *testing.T) {
	last := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	poll := &fakePoll{
		dev: &scgi.Device{
			ServerInfo: scgi.ServerInfo{ServerVersion: "3.1.2"},
			PLCInfo:    scgi.PLCInfo{IPPort: "192.168.1.10:8442"},
		},
		stats: coordinator.Stats{
			SuccessfulPolls:   7,
			FailedPolls:       1,
			LastUpdateSuccess: true,
			LastSuccessTime:   last,
		},
	}
	h := NewHealthReporter(HealthReporterConfig{
		Version:   "1.2.3",
		Address:   "localhost:4000",
		NAD:       1000,
		Publisher: NewMockMQTTClient(),
		Poll:      poll,
	})
	h.SetEntityCount(6)

	msg := h.buildMessage(HealthHealthy, "")
	if msg.Bridge != Protocol || msg.Version != "1.2.3" || msg.EntitiesManaged != 6 {
		t.Errorf("msg = %+v", msg)
	}
	c := msg.Connection
	if c.Status != "connected" || c.Address != "localhost:4000" || c.NAD != 1000 {
		t.Errorf("Connection = %+v", c)
	}
	if c.IPPort != "192.168.1.10:8442" || c.ServerVersion != "3.1.2" {
		t.Errorf("Connection = %+v", c)
	}
	if c.LastSuccess == nil || !c.LastSuccess.Equal(last) {
		t.Errorf("LastSuccess = %v, want %v", c.LastSuccess, last)
	}
	if msg.Statistics.SuccessfulPolls != 7 || msg.Statistics.FailedPolls != 1 {
		t.Errorf("Statistics = %+v", msg.Statistics)
	}
}

func TestHealthReporter_StartStop(t *testing.T) {
	mock := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		Interval:  10 * time.Millisecond,
		Publisher: mock,
		Poll:      &fakePoll{stats: coordinator.Stats{LastUpdateSuccess: true}},
	})

	h.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	h.Stop()
	h.Stop()

	pubs := mock.OnTopic(HealthTopic())
	if len(pubs) < 2 {
		t.Fatalf("published %d health messages, want at least 2", len(pubs))
	}

	var first, last HealthMessage
	if err := json.Unmarshal(pubs[0].Payload, &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal(pubs[len(pubs)-1].Payload, &last); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Status != HealthHealthy {
		t.Errorf("first status = %q, want healthy", first.Status)
	}
	if last.Status != HealthStopping || last.Reason != "bridge stopping" {
		t.Errorf("last = %q (%q), want stopping", last.Status, last.Reason)
	}
	for _, p := range pubs {
		if !p.Retained || p.QoS != 1 {
			t.Errorf("health qos=%d retained=%v", p.QoS, p.Retained)
		}
	}
}

func TestHealthReporter_PublishStarting(t *testing.T) {
	mock := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{Publisher: mock})

	if err := h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}

	var msg HealthMessage
	if err := json.Unmarshal(mock.OnTopic(HealthTopic())[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != HealthStarting || msg.Statistics != nil {
		t.Errorf("msg = %+v", msg)
	}
}
