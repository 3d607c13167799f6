package persistence

import (
	"fmt"
	"time"
)

// timeLayouts are the formats sqlite timestamps come back in, STRFTIME('%Y-%m-%d %H:%M:%f') first
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
}

// dbTime scans DATETIME columns stored as UTC text. The driver may hand them over
// already parsed, or as text if the value doesn't match its layouts.
type dbTime struct {
	time.Time
}

// Scan implements the sql.Scanner interface
func (t *dbTime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", value)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time = ts.UTC()
			return nil
		}
	}
	return fmt.Errorf("can't parse timestamp %q", s)
}
