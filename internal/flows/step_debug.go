package flows

import (
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/flowd/internal/models"
	"github.com/ternarybob/flowd/internal/transform"
)

// debugStep dumps a slice of the blackboard to the log
type debugStep struct {
	flow    *Flow
	def     *models.StepDefinition
	format  string
	dataKey string
	data    interface{}
}

func newDebugStep(f *Flow, def *models.StepDefinition) (stepRunner, error) {
	section, err := requiredSection(def, "debug")
	if err != nil {
		return nil, err
	}
	dataKey := optionalString(section, "data_key", "")

	var data interface{}
	if dataKey == "" {
		data = f.data.Snapshot()
	} else {
		data, _ = f.data.Get(dataKey)
	}

	return &debugStep{
		flow:    f,
		def:     def,
		format:  optionalString(section, "type", "yaml"),
		dataKey: dataKey,
		data:    data,
	}, nil
}

func (s *debugStep) run(ctx context.Context) (*StepResult, error) {
	var dump string
	switch s.format {
	case "yaml":
		raw, err := yaml.Marshal(transform.JSONSafe(s.data))
		if err != nil {
			return nil, err
		}
		dump = string(raw)
	case "json":
		raw, err := json.MarshalIndent(transform.JSONSafe(s.data), "", "    ")
		if err != nil {
			return nil, err
		}
		dump = string(raw)
	case "text":
		dump = fmt.Sprintf("%v", s.data)
	default:
		return nil, fmt.Errorf("unsupported debug type: %s", s.format)
	}

	s.flow.env.logger().Info().
		Str("flow", s.flow.def.Name).
		Str("step", s.def.Name).
		Str("data_key", s.dataKey).
		Msg(dump)
	return &StepResult{Value: s.data}, nil
}
