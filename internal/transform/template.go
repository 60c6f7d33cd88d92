package transform

import (
	"fmt"
	"os"
	"regexp"

	"github.com/flosch/pongo2/v6"
)

// pongo2 rejects context keys that are not valid identifiers; blackboard
// keys are step names, so anything else is silently not exposed to templates.
var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func templateContext(data map[string]interface{}) pongo2.Context {
	ctx := make(pongo2.Context, len(data))
	for key, value := range data {
		if identifierRe.MatchString(key) {
			ctx[key] = value
		}
	}
	return ctx
}

// RenderString renders a template string against the blackboard
func RenderString(template string, data map[string]interface{}) (string, error) {
	tpl, err := pongo2.FromString(template)
	if err != nil {
		return "", fmt.Errorf("error processing template: %w", err)
	}
	out, err := tpl.Execute(templateContext(data))
	if err != nil {
		return "", fmt.Errorf("error processing template: %w", err)
	}
	return out, nil
}

// RenderFile renders a template file against the blackboard
func RenderFile(path string, data map[string]interface{}) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("template file not found: %w", err)
	}
	return RenderString(string(raw), data)
}

// RenderValue recursively renders every string inside a value. Maps and
// slices are walked; non-string scalars pass through unchanged.
func RenderValue(value interface{}, data map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return RenderString(v, data)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, err
			}
			out[key] = rendered
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return value, nil
	}
}
