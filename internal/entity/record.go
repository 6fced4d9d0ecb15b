package entity

import (
	"time"

	"github.com/nerrad567/gray-logic-cybro/internal/scgi"
)

// Record is the persisted registry entry for one entity.
type Record struct {
	ID          string      `json:"id"`
	Platform    Platform    `json:"platform"`
	Name        string      `json:"name"`
	NAD         int         `json:"nad"`
	DeviceID    string      `json:"device_id"`
	DeviceName  string      `json:"device_name"`
	Unit        string      `json:"unit,omitempty"`
	DeviceClass DeviceClass `json:"device_class,omitempty"`
	StateClass  StateClass  `json:"state_class,omitempty"`
	Category    Category    `json:"entity_category,omitempty"`
	VarType     string      `json:"var_type"`
	Factor      float64     `json:"factor"`

	// State is the last recorded state (nil if never recorded).
	State          *State     `json:"state,omitempty"`
	StateUpdatedAt *time.Time `json:"state_updated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryEntry is a single recorded state change.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	EntityID  string    `json:"entity_id"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordFor builds the registry record describing an entity.
func RecordFor(nad int, e Entity) *Record {
	d := e.Descriptor()
	return &Record{
		ID:          d.UniqueID,
		Platform:    d.Platform,
		Name:        d.Name,
		NAD:         nad,
		DeviceID:    d.Group.ID,
		DeviceName:  d.Group.Name,
		Unit:        d.Unit,
		DeviceClass: d.DeviceClass,
		StateClass:  d.StateClass,
		Category:    d.Category,
		VarType:     d.VarType.String(),
		Factor:      d.Factor,
	}
}

// DeepCopy returns an independent copy of the record.
func (r *Record) DeepCopy() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.State != nil {
		st := r.State.DeepCopy()
		cp.State = &st
	}
	if r.StateUpdatedAt != nil {
		t := *r.StateUpdatedAt
		cp.StateUpdatedAt = &t
	}
	return &cp
}

// DeepCopy returns an independent copy of the state.
func (s State) DeepCopy() State {
	cp := s
	if s.Attributes != nil {
		cp.Attributes = make(map[string]any, len(s.Attributes))
		for k, v := range s.Attributes {
			cp.Attributes[k] = v
		}
	}
	return cp
}

// ParseVarType converts a persisted var type name back to scgi.VarType.
func ParseVarType(s string) (scgi.VarType, bool) {
	for _, t := range []scgi.VarType{scgi.VarTypeBool, scgi.VarTypeInt, scgi.VarTypeFloat, scgi.VarTypeString} {
		if t.String() == s {
			return t, true
		}
	}
	return scgi.VarTypeBool, false
}
