package common

import (
	"fmt"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
)

// timestampLayout is the blackboard __timestamp__ format (YYYYMMDDHHMMSS)
const timestampLayout = "20060102150405"

// MakeTimestamp generates a flow timestamp in the given timezone
func MakeTimestamp(loc *time.Location) string {
	return time.Now().In(loc).Format(timestampLayout)
}

// ToISO converts an epoch-seconds value to an ISO-8601 string in the given
// timezone. Returns empty for a nil input.
func ToISO(epoch *float64, loc *time.Location) string {
	if epoch == nil {
		return ""
	}
	sec := int64(*epoch)
	nsec := int64((*epoch - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).In(loc).Format(time.RFC3339)
}

// ParseTimeParam parses a job time filter: either a numeric epoch-seconds
// value or any parseable date string. Strings without timezone info are
// interpreted in the given timezone. Returns epoch seconds (UTC).
func ParseTimeParam(param string, loc *time.Location) (float64, error) {
	if param == "" {
		return 0, fmt.Errorf("empty time parameter")
	}
	if v, err := strconv.ParseFloat(param, 64); err == nil {
		return v, nil
	}
	t, err := dateparse.ParseIn(param, loc)
	if err != nil {
		return 0, fmt.Errorf("failed to parse time parameter %q: %w", param, err)
	}
	return float64(t.UnixNano()) / float64(time.Second), nil
}
