package scgi

import (
	"strings"
)

// alcTypes maps allocation file type tokens to declared variable types.
var alcTypes = map[string]VarType{
	"bit":    VarTypeBool,
	"int":    VarTypeInt,
	"long":   VarTypeInt,
	"word":   VarTypeInt,
	"byte":   VarTypeInt,
	"real":   VarTypeFloat,
	"float":  VarTypeFloat,
	"string": VarTypeString,
}

// builtinVars are system variables every CyBro controller exposes whether or
// not the allocation file lists them. A full update probes them and adds the
// ones the server resolves to the known variable set.
var builtinVars = map[string]VarType{
	"scan_time":          VarTypeInt,
	"scan_time_max":      VarTypeInt,
	"scan_frequency":     VarTypeInt,
	"scan_overrun":       VarTypeBool,
	"retentive_fail":     VarTypeBool,
	"general_error":      VarTypeBool,
	"cybro_uptime":       VarTypeInt,
	"operating_hours":    VarTypeInt,
	"cybro_power_supply": VarTypeInt,
	"iex_power_supply":   VarTypeInt,
}

// ParseALC parses the contents of a PLC allocation file into the set of
// known variables, keyed by fully qualified name.
//
// Lines starting with ';' are comments. A data line is a list of
// whitespace-separated columns; the first column that is a type token is
// followed by the variable name and an optional free-text description.
// Lines without a type token are ignored.
//
// Parameters:
//   - nad: PLC network address used to qualify bare names
//   - content: raw allocation file text
//
// Returns:
//   - map[string]VarInfo: known variables (never nil)
func ParseALC(nad int, content string) map[string]VarInfo {
	prefix := Prefix(nad)
	vars := make(map[string]VarInfo)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}

		fields := strings.Fields(line)
		for i, field := range fields {
			vt, ok := alcTypes[strings.ToLower(field)]
			if !ok || i+1 >= len(fields) {
				continue
			}

			name := fields[i+1]
			if !strings.HasPrefix(name, prefix) {
				name = prefix + name
			}
			desc := strings.Trim(strings.Join(fields[i+2:], " "), `"`)
			vars[name] = VarInfo{Type: vt, Description: desc}
			break
		}
	}

	return vars
}
