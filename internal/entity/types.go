package entity

import (
	"fmt"

	"github.com/nerrad567/gray-logic-cybro/internal/scgi"
)

// Integration constants shared by every entity.
const (
	Domain            = "cybro"
	Manufacturer      = "Cybrotech"
	ManufacturerURL   = "https://www.cybrotech.com"
	DeviceDescription = "CyBro PLC"

	AreaSystem  = "System"
	AreaWeather = "Weather"
	AreaEnergy  = "Energy"

	// AttrDescription is the extra attribute carrying the variable description.
	AttrDescription = "description"
)

// Platform is the kind of entity exposed to the home-automation side.
type Platform string

// Supported platforms.
const (
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
)

// Category marks an entity as secondary/technical. Empty means primary.
type Category string

// CategoryDiagnostic marks diagnostic entities.
const CategoryDiagnostic Category = "diagnostic"

// DeviceClass is the semantic class of an entity value.
type DeviceClass string

// Device classes used by the classifier.
const (
	DeviceClassTemperature DeviceClass = "temperature"
	DeviceClassHumidity    DeviceClass = "humidity"
	DeviceClassPower       DeviceClass = "power"
	DeviceClassVoltage     DeviceClass = "voltage"
	DeviceClassCurrent     DeviceClass = "current"
	DeviceClassEnergy      DeviceClass = "energy"
	DeviceClassProblem     DeviceClass = "problem"
)

// StateClass describes how a numeric sensor value evolves over time.
type StateClass string

// StateClassTotalIncreasing is a monotonically increasing total (meters).
const StateClassTotalIncreasing StateClass = "total_increasing"

// Units of measurement.
const (
	UnitMilliseconds      = "ms"
	UnitMinutes           = "min"
	UnitHertz             = "Hz"
	UnitVolt              = "V"
	UnitCelsius           = "°C"
	UnitPercent           = "%"
	UnitWatt              = "W"
	UnitMilliampere       = "mA"
	UnitKilowattHour      = "kWh"
	UnitWattHour          = "Wh"
	UnitKilometersPerHour = "km/h"
)

// DeviceGroup is the device an entity is grouped under.
type DeviceGroup struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Area  string `json:"area,omitempty"`
	Model string `json:"model"`
}

// Identifier is one (domain, id) pair identifying a device.
type Identifier struct {
	Domain string `json:"domain"`
	ID     string `json:"id"`
}

// DeviceInfo is the device metadata attached to an entity.
type DeviceInfo struct {
	Identifiers      []Identifier `json:"identifiers"`
	Name             string       `json:"name"`
	Manufacturer     string       `json:"manufacturer"`
	Model            string       `json:"model"`
	SuggestedArea    string       `json:"suggested_area,omitempty"`
	ConfigurationURL string       `json:"configuration_url"`
	SWVersion        string       `json:"sw_version,omitempty"`
}

// Descriptor is the classification result for one variable: everything
// needed to construct and present its entity.
type Descriptor struct {
	// UniqueID equals the fully qualified variable name.
	UniqueID string `json:"unique_id"`

	// Name is the display name.
	Name string `json:"name"`

	Platform    Platform     `json:"platform"`
	VarType     scgi.VarType `json:"var_type"`
	Unit        string       `json:"unit,omitempty"`
	Factor      float64      `json:"factor"`
	DeviceClass DeviceClass  `json:"device_class,omitempty"`
	StateClass  StateClass   `json:"state_class,omitempty"`
	Category    Category     `json:"entity_category,omitempty"`
	Group       DeviceGroup  `json:"device"`
}

// systemGroup holds the controller diagnostics.
func systemGroup(nad int) DeviceGroup {
	return DeviceGroup{
		ID:    scgi.Prefix(nad),
		Name:  fmt.Sprintf("c%d diagnostics", nad),
		Area:  AreaSystem,
		Model: DeviceDescription,
	}
}

func temperatureGroup(nad int) DeviceGroup {
	return DeviceGroup{
		ID:    fmt.Sprintf("%d.temperatures", nad),
		Name:  fmt.Sprintf("c%d temperatures", nad),
		Area:  AreaWeather,
		Model: DeviceDescription,
	}
}

func weatherGroup(nad int) DeviceGroup {
	return DeviceGroup{
		ID:    scgi.Prefix(nad) + "weather_",
		Name:  fmt.Sprintf("c%d weather", nad),
		Area:  AreaEnergy,
		Model: DeviceDescription + " controller",
	}
}

func powerMeterGroup(nad int) DeviceGroup {
	return DeviceGroup{
		ID:    scgi.Prefix(nad) + "power_meter",
		Name:  fmt.Sprintf("c%d power meter", nad),
		Area:  AreaEnergy,
		Model: DeviceDescription,
	}
}

func plcGroup(nad int) DeviceGroup {
	return DeviceGroup{
		ID:    fmt.Sprintf("plc-%d", nad),
		Name:  fmt.Sprintf("PLC %d", nad),
		Model: DeviceDescription + " controller",
	}
}
