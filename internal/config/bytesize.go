package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a byte count that supports human-readable parsing.
//
// Examples:
//   - "5MB" = 5 * 1024 * 1024 bytes
//   - "1.5 GB" = 1.5 * 1024^3 bytes
//   - "256KB" = 256 * 1024 bytes
//   - "5242880" = 5242880 bytes (raw number still works)
//
// Units are case-insensitive and binary based; KB and KiB both mean 1024.
// The type implements encoding.TextUnmarshaler for Viper/YAML support and
// json.Unmarshaler for JSON bodies.
type ByteSize int64

// byteUnits maps a lowercased unit suffix to its multiplier.
var byteUnits = map[string]ByteSize{
	"":    1,
	"b":   1,
	"k":   1 << 10,
	"kb":  1 << 10,
	"kib": 1 << 10,
	"m":   1 << 20,
	"mb":  1 << 20,
	"mib": 1 << 20,
	"g":   1 << 30,
	"gb":  1 << 30,
	"gib": 1 << 30,
	"t":   1 << 40,
	"tb":  1 << 40,
	"tib": 1 << 40,
}

// ParseByteSize parses a human-readable byte size string.
func ParseByteSize(s string) (ByteSize, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("byte size: empty string")
	}

	cut := len(raw)
	for i, r := range raw {
		if (r < '0' || r > '9') && r != '.' {
			cut = i
			break
		}
	}

	value, err := strconv.ParseFloat(raw[:cut], 64)
	if err != nil {
		return 0, fmt.Errorf("byte size: invalid number in %q", s)
	}

	unit := strings.ToLower(strings.TrimSpace(raw[cut:]))
	mult, ok := byteUnits[unit]
	if !ok {
		return 0, fmt.Errorf("byte size: unknown unit %q", raw[cut:])
	}

	return ByteSize(value * float64(mult)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. Accepts either a string with
// units or a raw byte count.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	return b.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// MarshalJSON implements json.Marshaler.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// Bytes returns the size in bytes as int64.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// String returns the size with the largest unit that keeps the value at or
// above one.
func (b ByteSize) String() string {
	v := b
	if v == 0 {
		return "0B"
	}

	prefix := ""
	if v < 0 {
		prefix = "-"
		v = -v
	}

	steps := []struct {
		div    ByteSize
		suffix string
	}{
		{1 << 40, "TB"},
		{1 << 30, "GB"},
		{1 << 20, "MB"},
		{1 << 10, "KB"},
	}
	for _, step := range steps {
		if v < step.div {
			continue
		}
		scaled := float64(v) / float64(step.div)
		if scaled == float64(int64(scaled)) {
			return fmt.Sprintf("%s%d%s", prefix, int64(scaled), step.suffix)
		}
		out := strconv.FormatFloat(scaled, 'f', 2, 64)
		out = strings.TrimRight(out, "0")
		out = strings.TrimRight(out, ".")
		return prefix + out + step.suffix
	}
	return fmt.Sprintf("%s%dB", prefix, int64(v))
}
