package conversion

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

func registerDefaults(m *Manager) {
	Register(m, func(raw string) (string, error) { return raw, nil })
	Register(m, func(raw string) (bool, error) { return strconv.ParseBool(strings.TrimSpace(raw)) })

	Register(m, signed[int](strconv.IntSize))
	Register(m, signed[int8](8))
	Register(m, signed[int16](16))
	Register(m, signed[int32](32))
	Register(m, signed[int64](64))
	Register(m, unsigned[uint](strconv.IntSize))
	Register(m, unsigned[uint8](8))
	Register(m, unsigned[uint16](16))
	Register(m, unsigned[uint32](32))
	Register(m, unsigned[uint64](64))

	Register(m, func(raw string) (float32, error) {
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
		return float32(f), err
	})
	Register(m, func(raw string) (float64, error) {
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	})

	Register(m, func(raw string) (time.Duration, error) {
		return time.ParseDuration(strings.TrimSpace(raw))
	})
	Register(m, func(raw string) (time.Time, error) {
		return time.Parse(time.RFC3339, strings.TrimSpace(raw))
	})
	Register(m, func(raw string) (*url.URL, error) {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" {
			return nil, fmt.Errorf("missing scheme")
		}
		return u, nil
	})

	Register(m, stringList)
	RegisterYAML[[]int](m)
	RegisterYAML[map[string]string](m)
	RegisterYAML[map[string]any](m)
}

func signed[T ~int | ~int8 | ~int16 | ~int32 | ~int64](bits int) func(string) (T, error) {
	return func(raw string) (T, error) {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 0, bits)
		return T(n), err
	}
}

func unsigned[T ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64](bits int) func(string) (T, error) {
	return func(raw string) (T, error) {
		n, err := strconv.ParseUint(strings.TrimSpace(raw), 0, bits)
		return T(n), err
	}
}

// stringList accepts a YAML flow or block list, or a plain comma-separated
// string.
func stringList(raw string) ([]string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return []string{}, nil
	}
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "- ") {
		return decodeYAML[[]string](trimmed)
	}
	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
