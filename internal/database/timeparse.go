package database

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FlexTime accepts an instant from the wire as either an RFC 3339 string or a
// Unix-seconds number and normalizes it to UTC. Older clients sent Unix
// numbers; the canonical wire form is RFC 3339 with explicit zone.
type FlexTime struct {
	time.Time
}

// UnmarshalJSON decodes an RFC 3339 string or a Unix timestamp number.
func (ft *FlexTime) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: want RFC 3339 or Unix seconds: %w", s, err)
		}
		ft.Time = t.UTC()
		return nil
	}

	secs, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: want RFC 3339 or Unix seconds: %w", data, err)
	}
	sec := int64(secs)
	nsec := int64((secs - float64(sec)) * 1e9)
	ft.Time = time.Unix(sec, nsec).UTC()
	return nil
}

// MarshalJSON always emits RFC 3339 in UTC.
func (ft FlexTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(ft.UTC().Format(time.RFC3339))
}
