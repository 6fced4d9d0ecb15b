package entity

import (
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-cybro/internal/scgi"
)

// Coerce converts a raw variable value to its typed representation.
//
// Integers are parsed, multiplied by factor and truncated toward zero.
// Floats have thousands separators stripped before parsing and are then
// multiplied by factor. Strings pass through unchanged. Booleans are true
// exactly when raw is "1".
//
// Parameters:
//   - t: declared variable type
//   - raw: value as reported by the SCGI server
//   - factor: scaling factor (ignored for strings and booleans)
//
// Returns:
//   - any: int, float64, string or bool
//   - bool: false when raw cannot be parsed as t (reads as unknown)
func Coerce(t scgi.VarType, raw string, factor float64) (any, bool) {
	switch t {
	case scgi.VarTypeInt:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, false
		}
		return int(float64(n) * factor), true

	case scgi.VarTypeFloat:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(raw), ",", ""), 64)
		if err != nil {
			return nil, false
		}
		return f * factor, true

	case scgi.VarTypeString:
		return raw, true

	case scgi.VarTypeBool:
		return raw == "1", true

	default:
		return nil, false
	}
}
