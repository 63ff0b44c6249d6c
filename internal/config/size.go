package config

import (
	"fmt"
	"strconv"
	"strings"
)

var sizeUnits = map[byte]int64{
	'K': 1 << 10,
	'M': 1 << 20,
	'G': 1 << 30,
	'T': 1 << 40,
}

// ParseSize converts a byte size such as "512M", "2g" or "1048576" to bytes.
func ParseSize(value string) (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(value))
	s = strings.TrimSuffix(s, "B")
	if s == "" {
		return 0, fmt.Errorf("invalid size %q", value)
	}

	multiplier := int64(1)
	if unit, ok := sizeUnits[s[len(s)-1]]; ok {
		multiplier = unit
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", value)
	}
	return n * multiplier, nil
}
