package entity

import (
	"github.com/nerrad567/gray-logic-cybro/internal/scgi"
)

// DataSource provides the latest PLC snapshot.
// coordinator.Coordinator[*scgi.Device] satisfies this interface.
type DataSource interface {
	// Data returns the latest successful snapshot; ok is false before the first one.
	Data() (dev *scgi.Device, ok bool)

	// LastUpdateSuccess reports whether the most recent poll succeeded.
	LastUpdateSuccess() bool
}

// Tracker registers variables for polling.
// scgi.Client satisfies this interface.
type Tracker interface {
	AddVar(name string, t scgi.VarType)
}

// State is the presented state of an entity at one point in time.
type State struct {
	// Available is false when the last poll failed or the variable is absent.
	Available bool `json:"available"`

	// Value is the coerced value, or nil when unknown.
	Value any `json:"value"`

	// Attributes are the extra state attributes.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Entity is the capability set shared by every entity.
type Entity interface {
	UniqueID() string
	Name() string
	Platform() Platform
	Descriptor() Descriptor
	DeviceInfo() DeviceInfo
	EntityCategory() Category
	DeviceClass() DeviceClass

	// Available reports whether the entity currently has a backing value.
	Available() bool

	// ExtraAttributes returns the description attribute.
	ExtraAttributes() map[string]any

	// State reads the current state from the latest snapshot.
	State() State
}

// base implements the shared part of Entity.
type base struct {
	desc   Descriptor
	source DataSource
}

func (b *base) UniqueID() string         { return b.desc.UniqueID }
func (b *base) Name() string             { return b.desc.Name }
func (b *base) Platform() Platform       { return b.desc.Platform }
func (b *base) Descriptor() Descriptor   { return b.desc }
func (b *base) EntityCategory() Category { return b.desc.Category }
func (b *base) DeviceClass() DeviceClass { return b.desc.DeviceClass }

// variable looks up the backing variable. It is absent while the last poll
// is failing.
func (b *base) variable() (scgi.Var, bool) {
	if !b.source.LastUpdateSuccess() {
		return scgi.Var{}, false
	}
	dev, ok := b.source.Data()
	if !ok {
		return scgi.Var{}, false
	}
	return dev.Var(b.desc.UniqueID)
}

func (b *base) Available() bool {
	_, ok := b.variable()
	return ok
}

func (b *base) ExtraAttributes() map[string]any {
	desc := b.desc.Name
	if v, ok := b.variable(); ok && v.Description != "" {
		desc = v.Description
	}
	return map[string]any{AttrDescription: desc}
}

func (b *base) DeviceInfo() DeviceInfo {
	g := b.desc.Group
	info := DeviceInfo{
		Identifiers:      []Identifier{{Domain: Domain, ID: g.ID}},
		Name:             g.Name,
		Manufacturer:     Manufacturer,
		Model:            g.Model,
		SuggestedArea:    g.Area,
		ConfigurationURL: ManufacturerURL,
	}
	if dev, ok := b.source.Data(); ok {
		info.SWVersion = dev.ServerInfo.ServerVersion
	}
	return info
}

// Sensor exposes a numeric or string variable.
type Sensor struct {
	base
}

// NewSensor creates a sensor and registers its variable with the tracker.
func NewSensor(d Descriptor, source DataSource, tracker Tracker) *Sensor {
	tracker.AddVar(d.UniqueID, d.VarType)
	return &Sensor{base: base{desc: d, source: source}}
}

// NativeValue returns the coerced, scaled value.
// ok is false when the entity is unavailable or the raw value does not parse.
func (s *Sensor) NativeValue() (any, bool) {
	v, ok := s.variable()
	if !ok {
		return nil, false
	}
	return Coerce(s.desc.VarType, v.Value, s.desc.Factor)
}

// Unit returns the unit of measurement.
func (s *Sensor) Unit() string { return s.desc.Unit }

// StateClass returns the state class.
func (s *Sensor) StateClass() StateClass { return s.desc.StateClass }

// State implements Entity.
func (s *Sensor) State() State {
	st := State{Available: s.Available(), Attributes: s.ExtraAttributes()}
	if v, ok := s.NativeValue(); ok {
		st.Value = v
	}
	return st
}

// BinarySensor exposes a bit variable.
type BinarySensor struct {
	base
}

// NewBinarySensor creates a binary sensor and registers its variable with
// the tracker as a raw bit.
func NewBinarySensor(d Descriptor, source DataSource, tracker Tracker) *BinarySensor {
	d.VarType = scgi.VarTypeBool
	tracker.AddVar(d.UniqueID, scgi.VarTypeBool)
	return &BinarySensor{base: base{desc: d, source: source}}
}

// IsOn reports whether the raw value is "1".
// ok is false when the entity is unavailable.
func (b *BinarySensor) IsOn() (on bool, ok bool) {
	v, ok := b.variable()
	if !ok {
		return false, false
	}
	return v.Value == "1", true
}

// State implements Entity.
func (b *BinarySensor) State() State {
	st := State{Available: b.Available(), Attributes: b.ExtraAttributes()}
	if on, ok := b.IsOn(); ok {
		st.Value = on
	}
	return st
}

// NewEntities builds an entity for every descriptor, registering each
// variable with the tracker.
func NewEntities(descs []Descriptor, source DataSource, tracker Tracker) []Entity {
	out := make([]Entity, 0, len(descs))
	for _, d := range descs {
		switch d.Platform {
		case PlatformBinarySensor:
			out = append(out, NewBinarySensor(d, source, tracker))
		default:
			out = append(out, NewSensor(d, source, tracker))
		}
	}
	return out
}
