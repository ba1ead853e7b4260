package cache

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Key joins a prefix and its parts with ':'.
func Key(prefix string, parts ...any) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

func Serialize(data any) ([]byte, error) {
	res, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("cache.Serialize: marshal: %w", err)
	}
	return res, nil
}

func Deserialize[T any](data []byte) (T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("cache.Deserialize: unmarshal: %w", err)
	}
	return out, nil
}
