package cybro

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/nerrad567/gray-logic-cybro/internal/entity"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/mqtt"
)

// Value templates rendered by Home Assistant against StateMessage.
const (
	sensorValueTemplate        = "{{ value_json.value }}"
	binaryValueTemplate        = "{{ 'ON' if value_json.value else 'OFF' }}"
	attributesTemplate         = "{{ value_json.attributes | tojson }}"
	entityAvailabilityTemplate = "{{ 'online' if value_json.available else 'offline' }}"
)

// DiscoveryConfig is the Home Assistant MQTT discovery payload of one entity.
// Topic: {prefix}/{platform}/{object_id}/config
// QoS: 1, Retained: Yes
type DiscoveryConfig struct {
	Name                   string                  `json:"name"`
	UniqueID               string                  `json:"unique_id"`
	ObjectID               string                  `json:"object_id"`
	StateTopic             string                  `json:"state_topic"`
	ValueTemplate          string                  `json:"value_template"`
	JSONAttributesTopic    string                  `json:"json_attributes_topic"`
	JSONAttributesTemplate string                  `json:"json_attributes_template"`
	Availability           []DiscoveryAvailability `json:"availability"`
	AvailabilityMode       string                  `json:"availability_mode"`
	DeviceClass            string                  `json:"device_class,omitempty"`
	UnitOfMeasurement      string                  `json:"unit_of_measurement,omitempty"`
	StateClass             string                  `json:"state_class,omitempty"`
	EntityCategory         string                  `json:"entity_category,omitempty"`
	PayloadOn              string                  `json:"payload_on,omitempty"`
	PayloadOff             string                  `json:"payload_off,omitempty"`
	Device                 DiscoveryDevice         `json:"device"`
}

// DiscoveryAvailability is one entry of the availability list.
type DiscoveryAvailability struct {
	Topic               string `json:"topic"`
	ValueTemplate       string `json:"value_template,omitempty"`
	PayloadAvailable    string `json:"payload_available,omitempty"`
	PayloadNotAvailable string `json:"payload_not_available,omitempty"`
}

// DiscoveryDevice is the device block shared by all entities of a group.
type DiscoveryDevice struct {
	Identifiers      []string `json:"identifiers"`
	Name             string   `json:"name"`
	Manufacturer     string   `json:"manufacturer"`
	Model            string   `json:"model"`
	SuggestedArea    string   `json:"suggested_area,omitempty"`
	ConfigurationURL string   `json:"configuration_url,omitempty"`
	SWVersion        string   `json:"sw_version,omitempty"`
}

// NewDiscoveryConfig builds the discovery payload of an entity.
//
// Availability requires both the bridge (online/offline on the bridge
// availability topic) and the entity itself (the available flag of its
// state message).
func NewDiscoveryConfig(e entity.Entity) DiscoveryConfig {
	d := e.Descriptor()
	info := e.DeviceInfo()
	stateTopic := StateTopic(d.UniqueID)

	cfg := DiscoveryConfig{
		Name:                   d.Name,
		UniqueID:               d.UniqueID,
		ObjectID:               mqtt.ObjectID(d.UniqueID),
		StateTopic:             stateTopic,
		ValueTemplate:          sensorValueTemplate,
		JSONAttributesTopic:    stateTopic,
		JSONAttributesTemplate: attributesTemplate,
		Availability: []DiscoveryAvailability{
			{
				Topic:               AvailabilityTopic(),
				PayloadAvailable:    PayloadOnline,
				PayloadNotAvailable: PayloadOffline,
			},
			{
				Topic:               stateTopic,
				ValueTemplate:       entityAvailabilityTemplate,
				PayloadAvailable:    PayloadOnline,
				PayloadNotAvailable: PayloadOffline,
			},
		},
		AvailabilityMode: "all",
		DeviceClass:      string(d.DeviceClass),
		EntityCategory:   string(d.Category),
		Device:           discoveryDevice(info),
	}

	switch d.Platform {
	case entity.PlatformBinarySensor:
		cfg.ValueTemplate = binaryValueTemplate
		cfg.PayloadOn = PayloadOn
		cfg.PayloadOff = PayloadOff
	default:
		cfg.UnitOfMeasurement = d.Unit
		cfg.StateClass = string(d.StateClass)
	}

	return cfg
}

func discoveryDevice(info entity.DeviceInfo) DiscoveryDevice {
	ids := make([]string, 0, len(info.Identifiers))
	for _, id := range info.Identifiers {
		ids = append(ids, fmt.Sprintf("%s_%s", id.Domain, id.ID))
	}
	return DiscoveryDevice{
		Identifiers:      ids,
		Name:             info.Name,
		Manufacturer:     info.Manufacturer,
		Model:            info.Model,
		SuggestedArea:    info.SuggestedArea,
		ConfigurationURL: info.ConfigurationURL,
		SWVersion:        info.SWVersion,
	}
}

// DiscoveryTopic returns the discovery config topic of an entity.
func DiscoveryTopic(prefix string, e entity.Entity) string {
	return mqtt.Topics{}.Discovery(prefix, string(e.Platform()), mqtt.ObjectID(e.UniqueID()))
}

// publishDiscovery publishes the discovery config of every entity.
// Every entity is attempted; failures are aggregated.
func publishDiscovery(pub Publisher, prefix string, entities []entity.Entity) error {
	var result *multierror.Error

	for _, e := range entities {
		payload, err := json.Marshal(NewDiscoveryConfig(e))
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", e.UniqueID(), err))
			continue
		}
		if err := pub.Publish(DiscoveryTopic(prefix, e), payload, 1, true); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", e.UniqueID(), err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}
	return nil
}
