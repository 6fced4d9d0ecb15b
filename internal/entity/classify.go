package entity

import (
	"sort"
	"strings"

	"github.com/nerrad567/gray-logic-cybro/internal/scgi"
)

// ClassifierOptions controls which category passes run.
type ClassifierOptions struct {
	// NAD is the PLC network address.
	NAD int

	// Weather enables the weather station pass.
	Weather bool

	// ExtraBinarySensors are fully qualified names exposed as plain binary
	// sensors regardless of naming conventions.
	ExtraBinarySensors []string
}

// rule maps a matching variable name to a descriptor.
type rule struct {
	match func(name string) bool
	build func(name string) Descriptor
}

// pass is one independent category scan over the known names.
type pass struct {
	name   string
	fixed  []Descriptor
	filter func(name string) bool
	rules  []rule
}

// Classify applies the naming-convention rules to the known variable names of
// one PLC and returns the descriptors of the entities to create.
//
// Passes run independently in a fixed order (system, diagnostic binary,
// temperatures, weather, power meter, configured extras). Within a pass the
// first matching rule wins. When more than one pass produces the same unique
// id the first one is kept. Names are visited in sorted order, so the result
// is deterministic for a given input set.
//
// Parameters:
//   - opts: PLC address and optional passes
//   - names: known variable names (any order, duplicates allowed)
//
// Returns:
//   - []Descriptor: classification result, never nil
func Classify(opts ClassifierOptions, names []string) []Descriptor {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	seen := make(map[string]struct{})
	out := make([]Descriptor, 0)
	add := func(d Descriptor) {
		if _, ok := seen[d.UniqueID]; ok {
			return
		}
		seen[d.UniqueID] = struct{}{}
		out = append(out, d)
	}

	for _, p := range passes(opts) {
		for _, d := range p.fixed {
			add(d)
		}
		if p.filter == nil {
			continue
		}
		for _, name := range sorted {
			if !p.filter(name) {
				continue
			}
			for _, r := range p.rules {
				if r.match(name) {
					add(r.build(name))
					break
				}
			}
		}
	}

	return out
}

// passes builds the ordered category passes for one PLC.
func passes(opts ClassifierOptions) []pass {
	nad := opts.NAD
	prefix := scgi.Prefix(nad)

	out := []pass{
		systemPass(nad, prefix),
		diagnosticBinaryPass(nad, prefix),
		temperaturePass(nad),
	}
	if opts.Weather {
		out = append(out, weatherPass(nad, prefix))
	}
	out = append(out, powerMeterPass(nad, prefix), extrasPass(nad, opts.ExtraBinarySensors))
	return out
}

func systemPass(nad int, prefix string) pass {
	group := systemGroup(nad)
	diag := func(unit string, factor float64) func(string) Descriptor {
		return func(name string) Descriptor {
			return Descriptor{
				UniqueID: name,
				Name:     name,
				Platform: PlatformSensor,
				VarType:  scgi.VarTypeInt,
				Unit:     unit,
				Factor:   factor,
				Category: CategoryDiagnostic,
				Group:    group,
			}
		}
	}

	ipPort := prefix + "sys.ip_port"

	return pass{
		name: "system",
		fixed: []Descriptor{{
			UniqueID: ipPort,
			Name:     ipPort,
			Platform: PlatformSensor,
			VarType:  scgi.VarTypeString,
			Factor:   1.0,
			Category: CategoryDiagnostic,
			Group:    group,
		}},
		filter: func(name string) bool { return strings.Contains(name, prefix) },
		rules: []rule{
			{match: exact(prefix+"scan_time", prefix+"scan_time_max"), build: diag(UnitMilliseconds, 1.0)},
			{match: exact(prefix+"cybro_uptime", prefix+"operating_hours"), build: diag(UnitMinutes, 1.0)},
			{match: exact(prefix + "scan_frequency"), build: diag(UnitHertz, 1.0)},
			{match: contains("_power_supply"), build: diag(UnitVolt, 0.1)},
		},
	}
}

func diagnosticBinaryPass(nad int, prefix string) pass {
	group := systemGroup(nad)
	problem := func(name string) Descriptor {
		return Descriptor{
			UniqueID:    name,
			Name:        name,
			Platform:    PlatformBinarySensor,
			VarType:     scgi.VarTypeBool,
			Factor:      1.0,
			DeviceClass: DeviceClassProblem,
			Category:    CategoryDiagnostic,
			Group:       group,
		}
	}

	return pass{
		name: "diagnostic binary",
		fixed: []Descriptor{
			problem(prefix + "scan_overrun"),
			problem(prefix + "retentive_fail"),
			problem(prefix + "general_error"),
		},
		filter: func(string) bool { return true },
		rules: []rule{
			{match: contains("general_error"), build: problem},
		},
	}
}

func temperaturePass(nad int) pass {
	group := temperatureGroup(nad)

	return pass{
		name: "temperatures",
		filter: func(name string) bool {
			return strings.Contains(name, ".th") ||
				strings.Contains(name, ".op") ||
				strings.Contains(name, ".ts") ||
				strings.Contains(name, ".fc")
		},
		rules: []rule{
			{match: contains("_temperature"), build: measurement(group, UnitCelsius, 0.1, DeviceClassTemperature)},
			{match: contains("_humidity"), build: measurement(group, UnitPercent, 1.0, DeviceClassHumidity)},
		},
	}
}

func weatherPass(nad int, prefix string) pass {
	group := weatherGroup(nad)
	stem := prefix + "weather_"

	return pass{
		name:   "weather",
		filter: func(name string) bool { return strings.Contains(name, stem) },
		rules: []rule{
			{match: contains("_temperature"), build: measurement(group, UnitCelsius, 0.1, DeviceClassTemperature)},
			{match: contains("_humidity"), build: measurement(group, UnitPercent, 1.0, DeviceClassHumidity)},
			{match: contains("_wind_speed"), build: measurement(group, UnitKilometersPerHour, 0.1, "")},
		},
	}
}

func powerMeterPass(nad int, prefix string) pass {
	group := powerMeterGroup(nad)
	stem := prefix + "power_meter"

	return pass{
		name:   "power meter",
		filter: func(name string) bool { return strings.Contains(name, stem) },
		rules: []rule{
			{match: contains("_power"), build: measurement(group, UnitWatt, 1.0, DeviceClassPower)},
			{match: contains("_voltage"), build: measurement(group, UnitVolt, 0.1, DeviceClassVoltage)},
			{match: contains("_current"), build: measurement(group, UnitMilliampere, 1.0, DeviceClassCurrent)},
			{match: exact(stem+"_energy", stem+"_energy_real"), build: measurement(group, UnitKilowattHour, 1.0, DeviceClassEnergy)},
			{match: contains("_energy_watthours"), build: measurement(group, UnitWattHour, 1.0, DeviceClassEnergy)},
		},
	}
}

func extrasPass(nad int, names []string) pass {
	group := plcGroup(nad)
	fixed := make([]Descriptor, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		fixed = append(fixed, Descriptor{
			UniqueID: name,
			Name:     name,
			Platform: PlatformBinarySensor,
			VarType:  scgi.VarTypeBool,
			Factor:   1.0,
			Group:    group,
		})
	}
	return pass{name: "configured extras", fixed: fixed}
}

// measurement builds float sensor descriptors. Energy sensors are totals.
func measurement(group DeviceGroup, unit string, factor float64, class DeviceClass) func(string) Descriptor {
	return func(name string) Descriptor {
		d := Descriptor{
			UniqueID:    name,
			Name:        name,
			Platform:    PlatformSensor,
			VarType:     scgi.VarTypeFloat,
			Unit:        unit,
			Factor:      factor,
			DeviceClass: class,
			Group:       group,
		}
		if class == DeviceClassEnergy {
			d.StateClass = StateClassTotalIncreasing
		}
		return d
	}
}

func exact(names ...string) func(string) bool {
	return func(name string) bool {
		for _, n := range names {
			if name == n {
				return true
			}
		}
		return false
	}
}

func contains(sub string) func(string) bool {
	return func(name string) bool { return strings.Contains(name, sub) }
}
