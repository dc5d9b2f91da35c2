package messages

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

func asString(raw any) string {
	if raw == nil {
		return ""
	}
	switch val := raw.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

func asMap(raw any) map[string]any {
	val, _ := raw.(map[string]any)
	return val
}

func asSlice(raw any) []any {
	val, _ := raw.([]any)
	return val
}

func asBool(raw any) bool {
	val, _ := raw.(bool)
	return val
}

// asTime accepts the timestamp encodings seen across server builds: RFC3339
// strings and unix seconds or milliseconds as numbers.
func asTime(raw any) time.Time {
	switch value := raw.(type) {
	case string:
		trimmed := strings.TrimSpace(value)
		if parsed, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
			return parsed.UTC()
		}
		if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
			return parsed.UTC()
		}
	case float64:
		return unixTime(int64(value))
	case int64:
		return unixTime(value)
	case int:
		return unixTime(int64(value))
	case json.Number:
		if parsed, err := strconv.ParseInt(value.String(), 10, 64); err == nil {
			return unixTime(parsed)
		}
	}
	return time.Time{}
}

func unixTime(value int64) time.Time {
	// Millisecond timestamps are unambiguous above this threshold.
	if value > 1e12 {
		return time.UnixMilli(value).UTC()
	}
	return time.Unix(value, 0).UTC()
}

// firstString returns the first non-empty string found under any of the keys.
func firstString(payload map[string]any, keys ...string) string {
	if payload == nil {
		return ""
	}
	for _, key := range keys {
		if value := strings.TrimSpace(asString(payload[key])); value != "" {
			return value
		}
	}
	return ""
}
