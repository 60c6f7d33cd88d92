package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/flowd/internal/models"
	"github.com/ternarybob/flowd/internal/transform"
)

// StepResult is what a step hands back to the interpreter: either a value to
// store under the step's result key, or a redirect to another step.
type StepResult struct {
	Value interface{}
	Goto  string
}

// stepRunner is the contract every step kind implements. Construction
// validates the definition and captures its inputs; run does the work.
type stepRunner interface {
	run(ctx context.Context) (*StepResult, error)
}

// newStep constructs the step for a definition. The set of kinds is closed;
// an unknown type or a missing required field fails construction.
func newStep(f *Flow, def *models.StepDefinition) (stepRunner, error) {
	switch def.Type {
	case "file":
		return newFileStep(f, def)
	case "rest":
		return newRestStep(f, def)
	case "jq":
		return newJqStep(f, def)
	case "jinja":
		return newJinjaStep(f, def)
	case "flow":
		return newFlowStep(f, def)
	case "flow_loop":
		return newFlowLoopStep(f, def)
	case "jira_names_merge":
		return newJiraNamesMergeStep(f, def)
	case "debug":
		return newDebugStep(f, def)
	case "sleep":
		return newSleepStep(f, def)
	case "exit":
		return newExitStep(f, def)
	case "goto":
		return newGotoStep(f, def)
	case "switch":
		return newSwitchStep(f, def)
	case "set_fact":
		return newSetFactStep(f, def)
	default:
		return nil, fmt.Errorf("unsupported step type: %s", def.Type)
	}
}

// runStep executes one step through the shared machinery: when gating, the
// step body, the optional jq post-filter, and the blackboard patch. A skipped
// step and a redirecting step both leave the blackboard untouched.
func (f *Flow) runStep(ctx context.Context, def *models.StepDefinition, runner stepRunner) (*StepResult, error) {
	for _, condition := range def.When {
		ok, err := f.evalCondition(condition)
		if err != nil {
			return nil, err
		}
		if !ok {
			f.env.logger().Debug().
				Str("flow", f.def.Name).
				Str("step", def.Name).
				Str("condition", condition).
				Msg("Step skipped")
			return nil, nil
		}
	}

	result, err := runner.run(ctx)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	if result.Goto != "" {
		return result, nil
	}

	value := result.Value
	if def.JqExpression != "" {
		value, err = transform.ApplyJqFilter(value, def.JqExpression)
		if err != nil {
			return nil, err
		}
	}
	f.data.Set(def.EffectiveResultKey(), value)
	return &StepResult{Value: value}, nil
}

// evalCondition renders a when expression against the blackboard. Only
// "true", "1" and "yes" count as true.
func (f *Flow) evalCondition(condition string) (bool, error) {
	rendered, err := transform.RenderString("{{ "+condition+" }}", f.data)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(rendered)) {
	case "true", "1", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// requiredSection returns the type-named configuration block of a step
func requiredSection(def *models.StepDefinition, key string) (map[string]interface{}, error) {
	section, ok := def.ConfigSection(key)
	if !ok {
		return nil, fmt.Errorf("step %s: %s configuration is required", def.Name, key)
	}
	return section, nil
}

// requiredString pulls a mandatory string field out of a configuration block
func requiredString(def *models.StepDefinition, section map[string]interface{}, key string) (string, error) {
	value, ok := section[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("step %s: %s is required", def.Name, key)
	}
	return value, nil
}

// optionalString pulls an optional string field, with a fallback
func optionalString(section map[string]interface{}, key, fallback string) string {
	if value, ok := section[key].(string); ok && value != "" {
		return value
	}
	return fallback
}

// numberField converts a YAML scalar to float64
func numberField(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	default:
		return 0, false
	}
}
