package scgi

import (
	"fmt"
	"sort"
	"time"
)

// VarType is the declared type of a PLC variable.
type VarType int

// Declared variable types. VarTypeBool is the zero value, matching the raw
// bit variables of the PLC.
const (
	VarTypeBool VarType = iota
	VarTypeInt
	VarTypeFloat
	VarTypeString
)

// String returns the lower-case type name.
func (t VarType) String() string {
	switch t {
	case VarTypeBool:
		return "bool"
	case VarTypeInt:
		return "int"
	case VarTypeFloat:
		return "float"
	case VarTypeString:
		return "string"
	default:
		return fmt.Sprintf("VarType(%d)", int(t))
	}
}

// unknownValue is what the SCGI server returns for variables it cannot resolve.
const unknownValue = "?"

// Var is one PLC variable as read in a single poll.
type Var struct {
	// Name is the fully qualified name, e.g. "c1000.scan_time".
	Name string `json:"name"`

	// Value is the raw textual value reported by the server.
	Value string `json:"value"`

	// Description is the server-side description (may be empty).
	Description string `json:"description"`

	// Type is the declared type the variable was tracked with.
	Type VarType `json:"type"`
}

// VarInfo describes a variable listed in the PLC allocation file.
type VarInfo struct {
	Type        VarType `json:"type"`
	Description string  `json:"description,omitempty"`
}

// ServerInfo holds the sys.* variables of the SCGI server itself.
type ServerInfo struct {
	ServerVersion string `json:"server_version"`
	ServerUptime  string `json:"server_uptime"`
	RequestCount  string `json:"request_count"`
}

// PLCInfo holds the c{nad}.sys.* variables and the known variable set.
type PLCInfo struct {
	NAD           int    `json:"nad"`
	IPPort        string `json:"ip_port"`
	Timestamp     string `json:"timestamp"`
	ProgramStatus string `json:"program_status"`
	ResponseTime  string `json:"response_time"`

	// PLCVars lists every variable name known to exist on the PLC.
	// Shared between snapshots and never mutated after construction.
	PLCVars map[string]VarInfo `json:"plc_vars"`
}

// Device is the snapshot produced by one poll.
// A Device is never modified after Update returns it.
type Device struct {
	ServerInfo ServerInfo     `json:"server_info"`
	PLCInfo    PLCInfo        `json:"plc_info"`
	Vars       map[string]Var `json:"vars"`

	// UpdatedAt is when the snapshot was assembled.
	UpdatedAt time.Time `json:"updated_at"`

	// Full reports whether server and PLC info were refreshed in this poll.
	Full bool `json:"full"`
}

// Var looks up a variable by fully qualified name.
// Safe to call on a nil Device.
func (d *Device) Var(name string) (Var, bool) {
	if d == nil {
		return Var{}, false
	}
	v, ok := d.Vars[name]
	return v, ok
}

// KnownVarNames returns the names of all variables known to the PLC, sorted.
func (d *Device) KnownVarNames() []string {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.PLCInfo.PLCVars))
	for name := range d.PLCInfo.PLCVars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prefix returns the variable prefix of a PLC address, e.g. "c1000.".
func Prefix(nad int) string {
	return fmt.Sprintf("c%d.", nad)
}
