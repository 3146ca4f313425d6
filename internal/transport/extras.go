package transport

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// ParsePostData parses extra request fields given either as a JSON object
// or as "key1=value1&key2=value2". Non-string JSON values are kept in their
// JSON text form. Malformed input yields an empty map and an error the
// caller is expected to log, never to abort on.
func ParsePostData(raw string) (map[string]string, error) {
	fields := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fields, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		for k, v := range obj {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				fields[k] = s
				continue
			}
			fields[k] = string(v)
		}
		return fields, nil
	}

	values, err := url.ParseQuery(raw)
	if err != nil {
		return make(map[string]string), fmt.Errorf("parse post data: %w", err)
	}
	for k, v := range values {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}

	return fields, nil
}

// ParseHeaders parses extra headers given either as a JSON object or as
// "Key: Value" pairs separated by semicolons or newlines. Pairs without a
// colon are skipped.
func ParseHeaders(raw string) (map[string]string, error) {
	headers := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return headers, nil
	}

	if strings.HasPrefix(raw, "{") {
		var obj map[string]string
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return headers, fmt.Errorf("parse headers: %w", err)
		}
		return obj, nil
	}

	pairs := strings.Split(strings.ReplaceAll(raw, "\n", ";"), ";")
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}

	return headers, nil
}
