package flows

import (
	"errors"
	"fmt"
	"strings"
)

// Reserved blackboard keys. All other keys are step result keys.
const (
	KeyErrors    = "__errors__"
	KeyInput     = "__input__"
	KeyLoopIndex = "__loop_index__"
	KeyJobID     = "__job_id__"
	KeyTimestamp = "__timestamp__"
	KeyFlowPath  = "__flow_path__"
)

// Goto sentinels
const (
	GotoExit  = "__exit"
	GotoEnd   = "__end__"
	GotoStart = "__start__"
)

// Blackboard is the per-run key/value store. It is owned exclusively by a
// single flow invocation; child flows get their own.
type Blackboard map[string]interface{}

// Get returns the value stored under key
func (b Blackboard) Get(key string) (interface{}, bool) {
	value, ok := b[key]
	return value, ok
}

// Set stores a value under key
func (b Blackboard) Set(key string, value interface{}) {
	b[key] = value
}

// Lookup resolves a data_key reference: "." means the whole blackboard, a
// missing key is an error.
func (b Blackboard) Lookup(key string) (interface{}, error) {
	if key == "." {
		return b.Snapshot(), nil
	}
	value, ok := b[key]
	if !ok {
		return nil, fmt.Errorf("data %s not found", key)
	}
	return value, nil
}

// Snapshot returns a shallow copy of the board. Whole-board reads hand out
// the copy so a step result key can never alias the live board into itself.
func (b Blackboard) Snapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(b))
	for key, value := range b {
		out[key] = value
	}
	return out
}

// AppendError appends an error record to __errors__. Records only ever
// accumulate during a run.
func (b Blackboard) AppendError(record map[string]interface{}) {
	b[KeyErrors] = append(b.Errors(), record)
}

// Errors returns the accumulated error records
func (b Blackboard) Errors() []interface{} {
	records, _ := b[KeyErrors].([]interface{})
	return records
}

// ErrorRecord builds the structured record stored on __errors__. Typed step
// errors keep their fields instead of collapsing into one string.
func ErrorRecord(stepName string, err error) map[string]interface{} {
	record := map[string]interface{}{
		"step": stepName,
	}

	var restErr *RestStepError
	if errors.As(err, &restErr) {
		record["error"] = map[string]interface{}{
			"status_code": restErr.StatusCode,
			"body":        restErr.Body,
		}
		return record
	}

	record["error"] = err.Error()
	return record
}

// oneLine flattens an error string for ignore_errors regex matching
func oneLine(err error) string {
	s := strings.ReplaceAll(err.Error(), "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}
