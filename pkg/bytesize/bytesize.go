// Package bytesize provides human-friendly byte size parsing.
package bytesize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// unitMultipliers maps human-friendly unit suffixes to their byte values.
// The 1024-based prefixes are used throughout.
var unitMultipliers = map[string]int64{
	"B":  1,
	"KB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
	"TB": 1 << 40,
}

// Parse parses a human-friendly byte size string such as "4MB" or "5GB".
//
// Supported units: B, KB, MB, GB, TB (case-insensitive). Returns int64 to
// integrate with standard library functions like http.MaxBytesReader.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	s = strings.ToUpper(s)

	// Longest suffix first so "KB" is not matched as "B".
	units := []string{"TB", "GB", "MB", "KB", "B"}
	var unit string
	var valueStr string
	for _, u := range units {
		if strings.HasSuffix(s, u) {
			unit = u
			valueStr = strings.TrimSuffix(s, u)
			break
		}
	}

	if unit == "" {
		// A bare number is taken as bytes.
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q: missing unit (supported: B, KB, MB, GB, TB)", s)
		}
		if n < 0 {
			return 0, fmt.Errorf("invalid size %q: negative value not allowed", s)
		}
		return n, nil
	}

	valueStr = strings.TrimSpace(valueStr)
	if valueStr == "" {
		return 0, fmt.Errorf("invalid size %q: missing numeric value", s)
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value %q in %q: %w", valueStr, s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid size %q: negative value not allowed", s)
	}

	result := value * float64(unitMultipliers[unit])
	if result > math.MaxInt64 {
		return 0, fmt.Errorf("size %q exceeds maximum allowed value", s)
	}

	return int64(result), nil
}

// Format renders a byte count with the largest fitting unit, e.g. 1536 -> "1.5KB".
func Format(n int64) string {
	switch {
	case n >= 1<<40:
		return trimZero(float64(n)/float64(1<<40)) + "TB"
	case n >= 1<<30:
		return trimZero(float64(n)/float64(1<<30)) + "GB"
	case n >= 1<<20:
		return trimZero(float64(n)/float64(1<<20)) + "MB"
	case n >= 1<<10:
		return trimZero(float64(n)/float64(1<<10)) + "KB"
	}
	return fmt.Sprintf("%dB", n)
}

func trimZero(f float64) string {
	s := strconv.FormatFloat(f, 'f', 1, 64)
	return strings.TrimSuffix(s, ".0")
}
