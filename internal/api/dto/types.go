package dto

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// FlexID 兼容数字与字符串两种形式的 ID
type FlexID string

func (s *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexID(str)
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("invalid id %s: %w", string(data), err)
	}
	*s = FlexID(data)
	return nil
}

func (s FlexID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseUint(string(s), 10, 64); err == nil {
		return []byte(s), nil
	}
	return json.Marshal(string(s))
}

func (s FlexID) String() string { return string(s) }

// timestampLayouts 后端返回的时间可能不带时区
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp 宽松解析的时间，无时区时按 UTC 处理
type Timestamp struct {
	time.Time
}

func (s *Timestamp) UnmarshalJSON(data []byte) error {
	var str string
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		s.Time = time.Time{}
		return nil
	}
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	t, err := ParseTimestamp(str)
	if err != nil {
		return err
	}
	s.Time = t
	return nil
}

func (s Timestamp) MarshalJSON() ([]byte, error) {
	if s.Time.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(s.Time.UTC().Format(time.RFC3339Nano))
}

// ParseTimestamp 依次尝试已知格式
func ParseTimestamp(str string) (time.Time, error) {
	str = strings.TrimSpace(str)
	if str == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, str, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", str)
}
