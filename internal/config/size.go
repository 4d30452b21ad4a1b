package config

import (
	"fmt"
	"strconv"
	"strings"
)

var sizeUnits = map[string]int64{
	"k": 1 << 10,
	"m": 1 << 20,
	"g": 1 << 30,
}

// ParseSize 解析 "512"、"1M"、"2mb"、"1GiB" 这类大小字符串，单位按 1024 进制。
func ParseSize(raw string) (int64, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return 0, fmt.Errorf("empty size")
	}

	value = strings.TrimSuffix(value, "ib")
	value = strings.TrimSuffix(value, "b")

	multiplier := int64(1)
	if n := len(value); n > 0 {
		if unit, ok := sizeUnits[value[n-1:]]; ok {
			multiplier = unit
			value = strings.TrimSpace(value[:n-1])
		}
	}

	number, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	if number <= 0 {
		return 0, fmt.Errorf("size must be positive: %q", raw)
	}
	if number > (1<<62)/multiplier {
		return 0, fmt.Errorf("size overflows: %q", raw)
	}
	return number * multiplier, nil
}
