package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/flowd/internal/models"
	"github.com/ternarybob/flowd/internal/transform"
)

// jinjaStep renders a template file against blackboard data and optionally
// parses the result back into a structure.
type jinjaStep struct {
	flow  *Flow
	def   *models.StepDefinition
	path  string
	parse string
	data  interface{}
}

func newJinjaStep(f *Flow, def *models.StepDefinition) (stepRunner, error) {
	section, err := requiredSection(def, "jinja")
	if err != nil {
		return nil, err
	}
	path, err := requiredString(def, section, "path")
	if err != nil {
		return nil, err
	}

	var data interface{}
	if dataKey := optionalString(section, "data_key", ""); dataKey != "" {
		data, _ = f.data.Get(dataKey)
	}

	return &jinjaStep{
		flow:  f,
		def:   def,
		path:  path,
		parse: optionalString(section, "parse", ""),
		data:  data,
	}, nil
}

func (s *jinjaStep) run(ctx context.Context) (*StepResult, error) {
	s.flow.env.logger().Info().
		Str("flow", s.flow.def.Name).
		Str("step", s.def.Name).
		Str("path", s.path).
		Msg("Rendering template")

	scope := map[string]interface{}{}
	if s.data != nil {
		mapped, ok := s.data.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("step %s: template data must be a mapping", s.def.Name)
		}
		scope = mapped
	}

	rendered, err := transform.RenderFile(filepath.Join(s.flow.env.TemplatesPath, s.path), scope)
	if err != nil {
		return nil, err
	}

	var value interface{} = rendered
	switch s.parse {
	case "json":
		if err := json.Unmarshal([]byte(rendered), &value); err != nil {
			return nil, err
		}
	case "yaml":
		if err := yaml.Unmarshal([]byte(rendered), &value); err != nil {
			return nil, err
		}
	}
	return &StepResult{Value: value}, nil
}
