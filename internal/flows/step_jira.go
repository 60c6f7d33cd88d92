package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/flowd/internal/models"
)

// jiraNamesMergeStep rewrites a JIRA search result so customfield_* keys are
// replaced by their human-readable names and null or empty-list fields are
// dropped. Requires the payload to carry the "names" map, which JIRA returns
// when the query adds expand=names.
type jiraNamesMergeStep struct {
	flow    *Flow
	def     *models.StepDefinition
	dataKey string
	listKey string
}

func newJiraNamesMergeStep(f *Flow, def *models.StepDefinition) (stepRunner, error) {
	section, err := requiredSection(def, "jira_names_merge")
	if err != nil {
		return nil, err
	}
	dataKey, err := requiredString(def, section, "data_key")
	if err != nil {
		return nil, err
	}
	return &jiraNamesMergeStep{
		flow:    f,
		def:     def,
		dataKey: dataKey,
		listKey: optionalString(section, "list_key", "issues"),
	}, nil
}

func (s *jiraNamesMergeStep) run(ctx context.Context) (*StepResult, error) {
	s.flow.env.logger().Info().
		Str("flow", s.flow.def.Name).
		Str("step", s.def.Name).
		Msg("Merging JIRA custom field names")

	raw, _ := s.flow.data.Get(s.dataKey)
	payload, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("step %s: data key %s must produce a mapping", s.def.Name, s.dataKey)
	}

	names, ok := payload["names"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("field names not found in %s list, add expand=names to the query", s.listKey)
	}

	rawIssues, _ := payload[s.listKey].([]interface{})
	issues := make([]interface{}, 0, len(rawIssues))
	for _, rawIssue := range rawIssues {
		issue, ok := rawIssue.(map[string]interface{})
		if !ok {
			issues = append(issues, rawIssue)
			continue
		}
		issues = append(issues, mergeIssue(issue, names))
	}
	return &StepResult{Value: issues}, nil
}

func mergeIssue(issue map[string]interface{}, names map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(issue))
	for key, value := range issue {
		out[key] = value
	}

	rawFields, ok := issue["fields"].(map[string]interface{})
	if !ok {
		return out
	}

	fields := make(map[string]interface{}, len(rawFields))
	for key, value := range rawFields {
		if value == nil {
			continue
		}
		if list, isList := value.([]interface{}); isList && len(list) == 0 {
			continue
		}
		if strings.HasPrefix(key, "customfield_") {
			if name, found := names[key].(string); found && name != "" {
				fields[normalizeFieldName(name)] = value
				continue
			}
		}
		fields[key] = value
	}
	out["fields"] = fields
	return out
}

// normalizeFieldName turns a display name into a safe key
func normalizeFieldName(name string) string {
	replacer := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return strings.ToLower(replacer.Replace(name))
}
