package cybro

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-cybro/internal/entity"
	"github.com/nerrad567/gray-logic-cybro/internal/scgi"
)

// staticSource is an entity.DataSource over a fixed snapshot.
type staticSource struct {
	dev *scgi.Device
}

func (s staticSource) Data() (*scgi.Device, bool) { return s.dev, s.dev != nil }
func (s staticSource) LastUpdateSuccess() bool    { return s.dev != nil }

func testEntities(t *testing.T, names ...string) map[string]entity.Entity {
	t.Helper()
	dev := &scgi.Device{
		ServerInfo: scgi.ServerInfo{ServerVersion: "3.1.2"},
		Vars:       map[string]scgi.Var{"c1000.power_meter_energy": {Name: "c1000.power_meter_energy", Value: "42"}},
	}
	descs := entity.Classify(entity.ClassifierOptions{NAD: 1000}, names)
	out := make(map[string]entity.Entity)
	for _, e := range entity.NewEntities(descs, staticSource{dev: dev}, &fakeTracker{}) {
		out[e.UniqueID()] = e
	}
	return out
}

func TestNewDiscoveryConfig_Sensor(t *testing.T) {
	e := testEntities(t, "c1000.power_meter_energy")["c1000.power_meter_energy"]
	cfg := NewDiscoveryConfig(e)

	if cfg.UniqueID != "c1000.power_meter_energy" || cfg.ObjectID != "c1000_power_meter_energy" {
		t.Errorf("ids = %q / %q", cfg.UniqueID, cfg.ObjectID)
	}
	if cfg.StateTopic != "graylogic/state/cybro/c1000.power_meter_energy" {
		t.Errorf("StateTopic = %q", cfg.StateTopic)
	}
	if cfg.ValueTemplate != sensorValueTemplate {
		t.Errorf("ValueTemplate = %q", cfg.ValueTemplate)
	}
	if cfg.UnitOfMeasurement != entity.UnitKilowattHour || cfg.DeviceClass != "energy" || cfg.StateClass != "total_increasing" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.PayloadOn != "" || cfg.EntityCategory != "" {
		t.Errorf("sensor carries binary or category fields: %+v", cfg)
	}
	if len(cfg.Availability) != 2 || cfg.AvailabilityMode != "all" {
		t.Fatalf("Availability = %+v", cfg.Availability)
	}
	if cfg.Availability[0].Topic != AvailabilityTopic() || cfg.Availability[1].Topic != cfg.StateTopic {
		t.Errorf("Availability topics = %+v", cfg.Availability)
	}

	dev := cfg.Device
	if len(dev.Identifiers) != 1 || dev.Identifiers[0] != "cybro_c1000.power_meter" {
		t.Errorf("Identifiers = %v", dev.Identifiers)
	}
	if dev.Name != "c1000 power meter" || dev.Manufacturer != entity.Manufacturer || dev.SWVersion != "3.1.2" {
		t.Errorf("Device = %+v", dev)
	}
}

func TestNewDiscoveryConfig_BinarySensor(t *testing.T) {
	e := testEntities(t)["c1000.general_error"]
	cfg := NewDiscoveryConfig(e)

	if cfg.ValueTemplate != binaryValueTemplate {
		t.Errorf("ValueTemplate = %q", cfg.ValueTemplate)
	}
	if cfg.PayloadOn != PayloadOn || cfg.PayloadOff != PayloadOff {
		t.Errorf("payloads = %q / %q", cfg.PayloadOn, cfg.PayloadOff)
	}
	if cfg.DeviceClass != "problem" || cfg.EntityCategory != "diagnostic" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.UnitOfMeasurement != "" || cfg.StateClass != "" {
		t.Errorf("binary sensor carries sensor fields: %+v", cfg)
	}
}

func TestDiscoveryTopic(t *testing.T) {
	entities := testEntities(t)

	tests := []struct {
		prefix string
		id     string
		want   string
	}{
		{"", "c1000.general_error", "homeassistant/binary_sensor/c1000_general_error/config"},
		{"ha/", "c1000.sys.ip_port", "ha/sensor/c1000_sys_ip_port/config"},
	}
	for _, tt := range tests {
		if got := DiscoveryTopic(tt.prefix, entities[tt.id]); got != tt.want {
			t.Errorf("DiscoveryTopic(%q, %s) = %q, want %q", tt.prefix, tt.id, got, tt.want)
		}
	}
}

func TestPublishDiscovery(t *testing.T) {
	mock := NewMockMQTTClient()
	entities := testEntities(t)
	list := make([]entity.Entity, 0, len(entities))
	for _, e := range entities {
		list = append(list, e)
	}

	if err := publishDiscovery(mock, "", list); err != nil {
		t.Fatalf("publishDiscovery() error = %v", err)
	}

	pubs := mock.GetPublished()
	if len(pubs) != len(list) {
		t.Fatalf("published %d configs, want %d", len(pubs), len(list))
	}
	for _, p := range pubs {
		if !p.Retained || p.QoS != 1 {
			t.Errorf("%s: qos=%d retained=%v", p.Topic, p.QoS, p.Retained)
		}
		var cfg DiscoveryConfig
		if err := json.Unmarshal(p.Payload, &cfg); err != nil {
			t.Errorf("%s: invalid JSON: %v", p.Topic, err)
		}
	}
}

func TestPublishDiscovery_AggregatesFailures(t *testing.T) {
	mock := NewMockMQTTClient()
	mock.failOn = "/binary_sensor/"
	entities := testEntities(t)
	list := make([]entity.Entity, 0, len(entities))
	for _, e := range entities {
		list = append(list, e)
	}

	err := publishDiscovery(mock, "", list)
	if !errors.Is(err, ErrDiscoveryFailed) {
		t.Fatalf("publishDiscovery() error = %v, want ErrDiscoveryFailed", err)
	}

	// The sensors are still published.
	if got := len(mock.GetPublished()); got != 1 {
		t.Errorf("published %d configs, want 1", got)
	}
}
